package store

import (
	"context"
	"embed"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/routinesense/internal/version"
)

//go:embed migration
var migrationFS embed.FS

const migrationHistoryTable = `CREATE TABLE IF NOT EXISTS migration_history (
  version TEXT NOT NULL PRIMARY KEY,
  created_ts BIGINT NOT NULL
)`

// Migrate applies every embedded schema file of the driver's dialect that has not been
// recorded in migration_history, in semver order.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.driver.GetDB()
	if _, err := db.ExecContext(ctx, migrationHistoryTable); err != nil {
		return errors.Wrap(err, "failed to create migration_history")
	}

	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return err
	}

	versions, err := schemaVersions(s.driver.Type())
	if err != nil {
		return err
	}

	insert := "INSERT INTO migration_history (version, created_ts) VALUES (?, ?)"
	if s.driver.Type() == "postgres" {
		insert = "INSERT INTO migration_history (version, created_ts) VALUES ($1, $2)"
	}

	for _, v := range versions {
		if applied[v] {
			continue
		}
		body, err := fs.ReadFile(migrationFS, path.Join("migration", s.driver.Type(), v+".sql"))
		if err != nil {
			return errors.Wrapf(err, "failed to read schema %s", v)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "failed to start migration transaction")
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "failed to apply schema %s", v)
		}
		if _, err := tx.ExecContext(ctx, insert, v, time.Now().Unix()); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "failed to record schema %s", v)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "failed to commit schema %s", v)
		}
		slog.Info("applied schema", "driver", s.driver.Type(), "version", v)
	}
	return nil
}

func (s *Store) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := s.driver.GetDB().QueryContext(ctx, "SELECT version FROM migration_history")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list applied schema versions")
	}
	defer rows.Close()

	applied := map[string]bool{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "failed to scan schema version")
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func schemaVersions(driver string) ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, path.Join("migration", driver))
	if err != nil {
		return nil, errors.Wrapf(err, "no schema for driver %s", driver)
	}
	var versions []string
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".sql")
		if e.IsDir() || name == e.Name() || !version.IsValid(name) {
			continue
		}
		versions = append(versions, name)
	}
	if len(versions) == 0 {
		return nil, errors.Errorf("no schema files for driver %s", driver)
	}
	return version.Sorted(versions), nil
}
