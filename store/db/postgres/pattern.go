package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hrygo/routinesense/store"
)

const patternColumns = `id, uid, user_id, title, normalized_title, type, frequency, timing,
	occurrences, consistency, priority, auto_created, user_response,
	last_occurrence_ts, first_detected_ts, original_record_ids, missed_count,
	automation_offered_ts, declined_ts, paused_ts, last_reminded_ts, deleted_ts, created_ts, updated_ts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(row rowScanner) (*store.Pattern, error) {
	var (
		p                   store.Pattern
		timing, recordIDs   []byte
		offeredTs, deniedTs sql.NullInt64
		pausedTs, remindTs  sql.NullInt64
		deletedTs           sql.NullInt64
	)
	if err := row.Scan(
		&p.ID,
		&p.UID,
		&p.UserID,
		&p.Title,
		&p.NormalizedTitle,
		&p.Type,
		&p.Frequency,
		&timing,
		&p.Occurrences,
		&p.Consistency,
		&p.Priority,
		&p.AutoCreated,
		&p.UserResponse,
		&p.LastOccurrenceTs,
		&p.FirstDetectedTs,
		&recordIDs,
		&p.Metadata.MissedCount,
		&offeredTs,
		&deniedTs,
		&pausedTs,
		&remindTs,
		&deletedTs,
		&p.CreatedTs,
		&p.UpdatedTs,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(timing, &p.Timing); err != nil {
		return nil, fmt.Errorf("failed to decode timing of pattern %d: %w", p.ID, err)
	}
	if err := json.Unmarshal(recordIDs, &p.Metadata.OriginalRecordIDs); err != nil {
		return nil, fmt.Errorf("failed to decode record ids of pattern %d: %w", p.ID, err)
	}
	for dst, src := range map[**int64]sql.NullInt64{
		&p.Metadata.AutomationOfferedTs: offeredTs,
		&p.Metadata.DeclinedTs:          deniedTs,
		&p.Metadata.PausedTs:            pausedTs,
		&p.Metadata.LastRemindedTs:      remindTs,
		&p.DeletedTs:                    deletedTs,
	} {
		if src.Valid {
			ts := src.Int64
			*dst = &ts
		}
	}
	return &p, nil
}

func (d *DB) UpsertPattern(ctx context.Context, upsert *store.Pattern) (*store.Pattern, error) {
	timing, err := json.Marshal(upsert.Timing)
	if err != nil {
		return nil, fmt.Errorf("failed to encode timing: %w", err)
	}
	ids := upsert.Metadata.OriginalRecordIDs
	if ids == nil {
		ids = []string{}
	}
	recordIDs, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record ids: %w", err)
	}
	now := time.Now().Unix()

	args := []any{
		upsert.UID,
		upsert.UserID,
		upsert.Title,
		upsert.NormalizedTitle,
		upsert.Type,
		upsert.Frequency,
		string(timing),
		upsert.Occurrences,
		upsert.Consistency,
		upsert.Priority,
		upsert.AutoCreated,
		upsert.UserResponse,
		upsert.LastOccurrenceTs,
		upsert.FirstDetectedTs,
		string(recordIDs),
		upsert.Metadata.MissedCount,
		now,
		now,
	}
	query := `
		INSERT INTO pattern (uid, user_id, title, normalized_title, type, frequency, timing,
			occurrences, consistency, priority, auto_created, user_response,
			last_occurrence_ts, first_detected_ts, original_record_ids, missed_count, created_ts, updated_ts)
		VALUES (` + placeholders(len(args)) + `)
		ON CONFLICT (user_id, normalized_title, frequency) DO UPDATE SET
			title = EXCLUDED.title,
			type = EXCLUDED.type,
			timing = EXCLUDED.timing,
			occurrences = EXCLUDED.occurrences,
			consistency = EXCLUDED.consistency,
			last_occurrence_ts = EXCLUDED.last_occurrence_ts,
			original_record_ids = EXCLUDED.original_record_ids,
			updated_ts = EXCLUDED.updated_ts
		RETURNING ` + patternColumns
	pattern, err := scanPattern(d.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert pattern: %w", err)
	}
	return pattern, nil
}

func (d *DB) ListPatterns(ctx context.Context, find *store.FindPattern) ([]*store.Pattern, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.NormalizedTitle != nil {
		where, args = append(where, "normalized_title = "+placeholder(len(args)+1)), append(args, *find.NormalizedTitle)
	}
	if find.Frequency != nil {
		where, args = append(where, "frequency = "+placeholder(len(args)+1)), append(args, *find.Frequency)
	}
	if find.AutoCreated != nil {
		where, args = append(where, "auto_created = "+placeholder(len(args)+1)), append(args, *find.AutoCreated)
	}
	if find.UserResponse != nil {
		where, args = append(where, "user_response = "+placeholder(len(args)+1)), append(args, *find.UserResponse)
	}
	if find.LastOccurrenceBefore != nil {
		where, args = append(where, "last_occurrence_ts < "+placeholder(len(args)+1)), append(args, *find.LastOccurrenceBefore)
	}
	if !find.IncludeDeleted {
		where = append(where, "deleted_ts IS NULL")
	}

	query := `SELECT ` + patternColumns + `
		FROM pattern
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY user_id ASC, id ASC`
	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
		if find.Offset != nil {
			query += " OFFSET " + placeholder(len(args)+1)
			args = append(args, *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	defer rows.Close()

	var list []*store.Pattern
	for rows.Next() {
		pattern, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		list = append(list, pattern)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) UpdatePatternResponse(ctx context.Context, update *store.UpdatePatternResponse) (*store.Pattern, error) {
	set, args := []string{"updated_ts = $1"}, []any{time.Now().Unix()}
	if update.UserResponse != nil {
		set, args = append(set, "user_response = "+placeholder(len(args)+1)), append(args, *update.UserResponse)
	}
	if update.AutoCreated != nil {
		set, args = append(set, "auto_created = "+placeholder(len(args)+1)), append(args, *update.AutoCreated)
	}
	if update.DeclinedTs != nil {
		set, args = append(set, "declined_ts = "+placeholder(len(args)+1)), append(args, *update.DeclinedTs)
	}
	if update.PausedTs != nil {
		set, args = append(set, "paused_ts = "+placeholder(len(args)+1)), append(args, *update.PausedTs)
	} else if update.ClearPaused {
		set = append(set, "paused_ts = NULL")
	}
	args = append(args, update.ID)

	query := `UPDATE pattern SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)) + ` RETURNING ` + patternColumns
	pattern, err := scanPattern(d.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to update response of pattern %d: %w", update.ID, err)
	}
	return pattern, nil
}

func (d *DB) ClaimAutomationOffer(ctx context.Context, id int64, offeredTs int64) (bool, error) {
	query := `
		UPDATE pattern SET automation_offered_ts = $1, updated_ts = $1
		WHERE id = $2 AND automation_offered_ts IS NULL AND user_response = $3 AND deleted_ts IS NULL
	`
	result, err := d.db.ExecContext(ctx, query, offeredTs, id, store.PatternResponsePending)
	if err != nil {
		return false, fmt.Errorf("failed to claim automation offer of pattern %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected == 1, nil
}

func (d *DB) ClaimForgottenReminder(ctx context.Context, id int64, remindedTs, dayStartTs int64) (bool, error) {
	query := `
		UPDATE pattern SET last_reminded_ts = $1, missed_count = missed_count + 1, updated_ts = $1
		WHERE id = $2 AND auto_created AND deleted_ts IS NULL AND (last_reminded_ts IS NULL OR last_reminded_ts < $3)
	`
	result, err := d.db.ExecContext(ctx, query, remindedTs, id, dayStartTs)
	if err != nil {
		return false, fmt.Errorf("failed to claim reminder of pattern %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected == 1, nil
}

func (d *DB) DeletePattern(ctx context.Context, id int64, deletedTs int64) error {
	query := `
		UPDATE pattern SET deleted_ts = $1, auto_created = FALSE, updated_ts = $1
		WHERE id = $2 AND deleted_ts IS NULL
	`
	result, err := d.db.ExecContext(ctx, query, deletedTs, id)
	if err != nil {
		return fmt.Errorf("failed to delete pattern %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("pattern %d not found", id)
	}
	return nil
}

func (d *DB) RestorePattern(ctx context.Context, restore *store.Pattern) (*store.Pattern, error) {
	timing, err := json.Marshal(restore.Timing)
	if err != nil {
		return nil, fmt.Errorf("failed to encode timing: %w", err)
	}
	ids := restore.Metadata.OriginalRecordIDs
	if ids == nil {
		ids = []string{}
	}
	recordIDs, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record ids: %w", err)
	}

	query := `
		UPDATE pattern SET uid = $1, title = $2, type = $3, timing = $4, occurrences = $5, consistency = $6,
			priority = $7, auto_created = FALSE, user_response = $8, last_occurrence_ts = $9, first_detected_ts = $10,
			original_record_ids = $11, missed_count = 0, automation_offered_ts = NULL, declined_ts = $12,
			paused_ts = NULL, last_reminded_ts = NULL, deleted_ts = NULL, updated_ts = $13
		WHERE id = $14 AND deleted_ts IS NOT NULL
		RETURNING ` + patternColumns
	pattern, err := scanPattern(d.db.QueryRowContext(ctx, query,
		restore.UID,
		restore.Title,
		restore.Type,
		string(timing),
		restore.Occurrences,
		restore.Consistency,
		restore.Priority,
		restore.UserResponse,
		restore.LastOccurrenceTs,
		restore.FirstDetectedTs,
		string(recordIDs),
		nullTs(restore.Metadata.DeclinedTs),
		time.Now().Unix(),
		restore.ID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to restore pattern %d: %w", restore.ID, err)
	}
	return pattern, nil
}

func nullTs(ts *int64) sql.NullInt64 {
	if ts == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ts, Valid: true}
}
