package sqlite

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/routinesense/store"
)

func (d *DB) CreateNotification(ctx context.Context, create *store.Notification) (*store.Notification, error) {
	payload := create.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode notification payload")
	}
	createdTs := create.CreatedTs
	if createdTs == 0 {
		createdTs = time.Now().Unix()
	}

	stmt := `
		INSERT INTO notification (user_id, kind, title, body, payload, priority, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id, created_ts
	`
	notification := *create
	if err := d.db.QueryRowContext(ctx, stmt,
		create.UserID,
		create.Kind,
		create.Title,
		create.Body,
		string(raw),
		create.Priority,
		createdTs,
	).Scan(&notification.ID, &notification.CreatedTs); err != nil {
		return nil, errors.Wrap(err, "failed to create notification")
	}
	return &notification, nil
}

func (d *DB) ListNotifications(ctx context.Context, find *store.FindNotification) ([]*store.Notification, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}
	if find.Kind != nil {
		where, args = append(where, "kind = ?"), append(args, *find.Kind)
	}

	query := `SELECT id, user_id, kind, title, body, payload, priority, created_ts
		FROM notification
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC`
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list notifications")
	}
	defer rows.Close()

	var list []*store.Notification
	for rows.Next() {
		var (
			n   store.Notification
			raw string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Body, &raw, &n.Priority, &n.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan notification")
		}
		if err := json.Unmarshal([]byte(raw), &n.Payload); err != nil {
			return nil, errors.Wrapf(err, "failed to decode payload of notification %d", n.ID)
		}
		list = append(list, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
