package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hrygo/routinesense/store"
)

func (d *DB) CreateActivity(ctx context.Context, create *store.ActivityRecord) (*store.ActivityRecord, error) {
	createdTs := create.CreatedTs
	if createdTs == 0 {
		createdTs = time.Now().Unix()
	}
	args := []any{create.UserID, create.SourceID, create.Title, create.Type, create.OccurredAt, createdTs}
	stmt := `
		INSERT INTO activity (user_id, source_id, title, type, occurred_at, created_ts)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id, created_ts
	`
	record := *create
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&record.ID, &record.CreatedTs); err != nil {
		return nil, fmt.Errorf("failed to create activity: %w", err)
	}
	return &record, nil
}

func (d *DB) ListActivities(ctx context.Context, find *store.FindActivity) ([]*store.ActivityRecord, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.CreatedTsAfter != nil {
		where, args = append(where, "created_ts >= "+placeholder(len(args)+1)), append(args, *find.CreatedTsAfter)
	}

	query := `SELECT id, user_id, source_id, title, type, occurred_at, created_ts
		FROM activity
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id ASC`
	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
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
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		list = append(list, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) ListActiveUserIDs(ctx context.Context, sinceTs int64) ([]int32, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM activity WHERE created_ts >= $1 ORDER BY user_id`, sinceTs)
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	defer rows.Close()

	var ids []int32
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
