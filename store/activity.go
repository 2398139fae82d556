package store

import (
	"context"
	"time"
)

// ActivityType is the kind of record an activity came from.
type ActivityType string

const (
	ActivityTypeReminder ActivityType = "reminder"
	ActivityTypeTask     ActivityType = "task"
)

// Valid reports whether t is a known activity type.
func (t ActivityType) Valid() bool {
	return t == ActivityTypeReminder || t == ActivityTypeTask
}

// ActivityRecord is a reminder or task entry written by the task/reminder subsystems.
// OccurredAt is kept as the raw timestamp text; records whose timestamp cannot be
// parsed are dropped at grouping time.
type ActivityRecord struct {
	ID         int64
	UserID     int32
	SourceID   string
	Title      string
	Type       ActivityType
	OccurredAt string
	CreatedTs  int64
}

// FindActivity is the find condition for activity records.
type FindActivity struct {
	UserID *int32
	// CreatedTsAfter bounds the scan to records written at or after this unix timestamp.
	CreatedTsAfter *int64
	Limit          *int
}

// CreateActivity records a new activity.
func (s *Store) CreateActivity(ctx context.Context, create *ActivityRecord) (*ActivityRecord, error) {
	return s.driver.CreateActivity(ctx, create)
}

// ListActivities returns the user's activity records written since the given time.
func (s *Store) ListActivities(ctx context.Context, userID int32, since time.Time) ([]*ActivityRecord, error) {
	sinceTs := since.Unix()
	return s.driver.ListActivities(ctx, &FindActivity{
		UserID:         &userID,
		CreatedTsAfter: &sinceTs,
	})
}

// ListActiveUserIDs returns the users that recorded any activity since cutoff.
func (s *Store) ListActiveUserIDs(ctx context.Context, cutoff time.Time) ([]int32, error) {
	return s.driver.ListActiveUserIDs(ctx, cutoff.Unix())
}
