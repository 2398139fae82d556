package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/routinesense/store"
)

func (d *DB) CreateActivity(ctx context.Context, create *store.ActivityRecord) (*store.ActivityRecord, error) {
	createdTs := create.CreatedTs
	if createdTs == 0 {
		createdTs = time.Now().Unix()
	}
	stmt := `
		INSERT INTO activity (user_id, source_id, title, type, occurred_at, created_ts)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id, created_ts
	`
	record := *create
	if err := d.db.QueryRowContext(ctx, stmt,
		create.UserID,
		create.SourceID,
		create.Title,
		create.Type,
		create.OccurredAt,
		createdTs,
	).Scan(&record.ID, &record.CreatedTs); err != nil {
		return nil, errors.Wrap(err, "failed to create activity")
	}
	return &record, nil
}

func (d *DB) ListActivities(ctx context.Context, find *store.FindActivity) ([]*store.ActivityRecord, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}
	if find.CreatedTsAfter != nil {
		where, args = append(where, "created_ts >= ?"), append(args, *find.CreatedTsAfter)
	}

	query := `SELECT id, user_id, source_id, title, type, occurred_at, created_ts
		FROM activity
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id ASC`
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list activities")
	}
	defer rows.Close()

	var list []*store.ActivityRecord
	for rows.Next() {
		var record store.ActivityRecord
		if err := rows.Scan(
			&record.ID,
			&record.UserID,
			&record.SourceID,
			&record.Title,
			&record.Type,
			&record.OccurredAt,
			&record.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan activity")
		}
		list = append(list, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) ListActiveUserIDs(ctx context.Context, sinceTs int64) ([]int32, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM activity WHERE created_ts >= ? ORDER BY user_id`, sinceTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active users")
	}
	defer rows.Close()

	var ids []int32
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan user id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
