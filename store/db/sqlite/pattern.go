package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

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
		timing, recordIDs   string
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
	if err := json.Unmarshal([]byte(timing), &p.Timing); err != nil {
		return nil, errors.Wrapf(err, "failed to decode timing of pattern %d", p.ID)
	}
	if err := json.Unmarshal([]byte(recordIDs), &p.Metadata.OriginalRecordIDs); err != nil {
		return nil, errors.Wrapf(err, "failed to decode record ids of pattern %d", p.ID)
	}
	p.Metadata.AutomationOfferedTs = nullableTs(offeredTs)
	p.Metadata.DeclinedTs = nullableTs(deniedTs)
	p.Metadata.PausedTs = nullableTs(pausedTs)
	p.Metadata.LastRemindedTs = nullableTs(remindTs)
	p.DeletedTs = nullableTs(deletedTs)
	return &p, nil
}

func nullableTs(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	ts := v.Int64
	return &ts
}

// UpsertPattern inserts a pattern, or on a (user_id, normalized_title, frequency)
// conflict merges the evidence columns. Gate and response columns are never touched here.
func (d *DB) UpsertPattern(ctx context.Context, upsert *store.Pattern) (*store.Pattern, error) {
	timing, err := json.Marshal(upsert.Timing)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode timing")
	}
	recordIDs, err := json.Marshal(nonNilStrings(upsert.Metadata.OriginalRecordIDs))
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode record ids")
	}
	now := time.Now().Unix()

	stmt := `
		INSERT INTO pattern (uid, user_id, title, normalized_title, type, frequency, timing,
			occurrences, consistency, priority, auto_created, user_response,
			last_occurrence_ts, first_detected_ts, original_record_ids, missed_count, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, normalized_title, frequency) DO UPDATE SET
			title = excluded.title,
			type = excluded.type,
			timing = excluded.timing,
			occurrences = excluded.occurrences,
			consistency = excluded.consistency,
			last_occurrence_ts = excluded.last_occurrence_ts,
			original_record_ids = excluded.original_record_ids,
			updated_ts = excluded.updated_ts
		RETURNING ` + patternColumns
	pattern, err := scanPattern(d.db.QueryRowContext(ctx, stmt,
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
	))
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert pattern")
	}
	return pattern, nil
}

func (d *DB) ListPatterns(ctx context.Context, find *store.FindPattern) ([]*store.Pattern, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = ?"), append(args, *find.UID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}
	if find.NormalizedTitle != nil {
		where, args = append(where, "normalized_title = ?"), append(args, *find.NormalizedTitle)
	}
	if find.Frequency != nil {
		where, args = append(where, "frequency = ?"), append(args, *find.Frequency)
	}
	if find.AutoCreated != nil {
		where, args = append(where, "auto_created = ?"), append(args, *find.AutoCreated)
	}
	if find.UserResponse != nil {
		where, args = append(where, "user_response = ?"), append(args, *find.UserResponse)
	}
	if find.LastOccurrenceBefore != nil {
		where, args = append(where, "last_occurrence_ts < ?"), append(args, *find.LastOccurrenceBefore)
	}
	if !find.IncludeDeleted {
		where = append(where, "deleted_ts IS NULL")
	}

	query := `SELECT ` + patternColumns + `
		FROM pattern
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY user_id ASC, id ASC`
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
		if find.Offset != nil {
			query += " OFFSET ?"
			args = append(args, *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list patterns")
	}
	defer rows.Close()

	var list []*store.Pattern
	for rows.Next() {
		pattern, err := scanPattern(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan pattern")
		}
		list = append(list, pattern)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) UpdatePatternResponse(ctx context.Context, update *store.UpdatePatternResponse) (*store.Pattern, error) {
	set, args := []string{"updated_ts = ?"}, []any{time.Now().Unix()}
	if update.UserResponse != nil {
		set, args = append(set, "user_response = ?"), append(args, *update.UserResponse)
	}
	if update.AutoCreated != nil {
		set, args = append(set, "auto_created = ?"), append(args, *update.AutoCreated)
	}
	if update.DeclinedTs != nil {
		set, args = append(set, "declined_ts = ?"), append(args, *update.DeclinedTs)
	}
	if update.PausedTs != nil {
		set, args = append(set, "paused_ts = ?"), append(args, *update.PausedTs)
	} else if update.ClearPaused {
		set = append(set, "paused_ts = NULL")
	}
	args = append(args, update.ID)

	stmt := `UPDATE pattern SET ` + strings.Join(set, ", ") + ` WHERE id = ? RETURNING ` + patternColumns
	pattern, err := scanPattern(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to update response of pattern %d", update.ID)
	}
	return pattern, nil
}

func (d *DB) ClaimAutomationOffer(ctx context.Context, id int64, offeredTs int64) (bool, error) {
	stmt := `
		UPDATE pattern SET automation_offered_ts = ?, updated_ts = ?
		WHERE id = ? AND automation_offered_ts IS NULL AND user_response = ? AND deleted_ts IS NULL
	`
	result, err := d.db.ExecContext(ctx, stmt, offeredTs, offeredTs, id, store.PatternResponsePending)
	if err != nil {
		return false, errors.Wrapf(err, "failed to claim automation offer of pattern %d", id)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	return affected == 1, nil
}

func (d *DB) ClaimForgottenReminder(ctx context.Context, id int64, remindedTs, dayStartTs int64) (bool, error) {
	stmt := `
		UPDATE pattern SET last_reminded_ts = ?, missed_count = missed_count + 1, updated_ts = ?
		WHERE id = ? AND auto_created = 1 AND deleted_ts IS NULL AND (last_reminded_ts IS NULL OR last_reminded_ts < ?)
	`
	result, err := d.db.ExecContext(ctx, stmt, remindedTs, remindedTs, id, dayStartTs)
	if err != nil {
		return false, errors.Wrapf(err, "failed to claim reminder of pattern %d", id)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	return affected == 1, nil
}

func (d *DB) DeletePattern(ctx context.Context, id int64, deletedTs int64) error {
	stmt := `
		UPDATE pattern SET deleted_ts = ?, auto_created = 0, updated_ts = ?
		WHERE id = ? AND deleted_ts IS NULL
	`
	result, err := d.db.ExecContext(ctx, stmt, deletedTs, deletedTs, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete pattern %d", id)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if affected == 0 {
		return errors.Errorf("pattern %d not found", id)
	}
	return nil
}

// RestorePattern rewrites a tombstone in place with a fresh pattern.
func (d *DB) RestorePattern(ctx context.Context, restore *store.Pattern) (*store.Pattern, error) {
	timing, err := json.Marshal(restore.Timing)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode timing")
	}
	recordIDs, err := json.Marshal(nonNilStrings(restore.Metadata.OriginalRecordIDs))
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode record ids")
	}

	stmt := `
		UPDATE pattern SET uid = ?, title = ?, type = ?, timing = ?, occurrences = ?, consistency = ?,
			priority = ?, auto_created = 0, user_response = ?, last_occurrence_ts = ?, first_detected_ts = ?,
			original_record_ids = ?, missed_count = 0, automation_offered_ts = NULL, declined_ts = ?,
			paused_ts = NULL, last_reminded_ts = NULL, deleted_ts = NULL, updated_ts = ?
		WHERE id = ? AND deleted_ts IS NOT NULL
		RETURNING ` + patternColumns
	pattern, err := scanPattern(d.db.QueryRowContext(ctx, stmt,
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
		return nil, errors.Wrapf(err, "failed to restore pattern %d", restore.ID)
	}
	return pattern, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullTs(ts *int64) sql.NullInt64 {
	if ts == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ts, Valid: true}
}
