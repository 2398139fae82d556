package store

import (
	"context"
	"time"
)

// PatternFrequency is the inferred cadence of a pattern.
type PatternFrequency string

const (
	PatternFrequencyDaily   PatternFrequency = "daily"
	PatternFrequencyWeekly  PatternFrequency = "weekly"
	PatternFrequencyMonthly PatternFrequency = "monthly"
	PatternFrequencyCustom  PatternFrequency = "custom"
)

// PatternPriority grades how urgent a forgotten occurrence is.
type PatternPriority string

const (
	PatternPriorityCritical PatternPriority = "critical"
	PatternPriorityHigh     PatternPriority = "high"
	PatternPriorityMedium   PatternPriority = "medium"
	PatternPriorityLow      PatternPriority = "low"
)

// PatternResponse is the user's answer to the automation offer.
type PatternResponse string

const (
	PatternResponsePending  PatternResponse = "pending"
	PatternResponseAccepted PatternResponse = "accepted"
	PatternResponseDeclined PatternResponse = "declined"
)

// PatternTiming is the time of day (and day selector) a pattern usually happens at.
type PatternTiming struct {
	Hour       int   `json:"hour"`
	Minute     int   `json:"minute"`
	DayOfWeek  *int  `json:"dayOfWeek,omitempty"`
	DayOfMonth *int  `json:"dayOfMonth,omitempty"`
	CustomDays []int `json:"customDays,omitempty"`
}

// PatternMetadata holds evidence bookkeeping and the one-shot gate timestamps.
type PatternMetadata struct {
	OriginalRecordIDs   []string
	MissedCount         int
	AutomationOfferedTs *int64
	DeclinedTs          *int64
	PausedTs            *int64
	LastRemindedTs      *int64
}

// Pattern is a persisted inference that a user repeats an activity on a regular cadence.
// (UserID, NormalizedTitle, Frequency) is unique.
type Pattern struct {
	ID              int64
	UID             string
	UserID          int32
	Title           string
	NormalizedTitle string
	Type            ActivityType
	Frequency       PatternFrequency
	Timing          PatternTiming
	Occurrences     int
	Consistency     float64
	// Priority is fixed at creation.
	Priority         PatternPriority
	AutoCreated      bool
	UserResponse     PatternResponse
	LastOccurrenceTs int64
	FirstDetectedTs  int64
	Metadata         PatternMetadata
	// DeletedTs is set once the user deletes the pattern. The row stays behind
	// as a tombstone for its key and is hidden from listings.
	DeletedTs *int64
	CreatedTs int64
	UpdatedTs int64
}

// Deleted reports whether p is a tombstone.
func (p *Pattern) Deleted() bool {
	return p.DeletedTs != nil
}

// LastOccurrence returns the last evidence time.
func (p *Pattern) LastOccurrence() time.Time {
	return time.Unix(p.LastOccurrenceTs, 0)
}

// FindPattern is the find condition for patterns.
type FindPattern struct {
	ID              *int64
	UID             *string
	UserID          *int32
	NormalizedTitle *string
	Frequency       *PatternFrequency
	AutoCreated     *bool
	UserResponse    *PatternResponse
	// LastOccurrenceBefore selects patterns whose evidence is older than this unix timestamp.
	LastOccurrenceBefore *int64
	// IncludeDeleted also returns tombstones.
	IncludeDeleted bool
	Limit          *int
	Offset         *int
}

// UpdatePatternResponse records the user's answer to a pattern.
// Nil fields are left untouched.
type UpdatePatternResponse struct {
	ID           int64
	UserResponse *PatternResponse
	AutoCreated  *bool
	DeclinedTs   *int64
	PausedTs     *int64
	// ClearPaused resets paused_ts to NULL.
	ClearPaused bool
}

// FindPatternByKey returns the pattern for (userID, normalizedTitle, frequency), or nil.
// A tombstone is returned too; check Deleted.
func (s *Store) FindPatternByKey(ctx context.Context, userID int32, normalizedTitle string, frequency PatternFrequency) (*Pattern, error) {
	list, err := s.driver.ListPatterns(ctx, &FindPattern{
		UserID:          &userID,
		NormalizedTitle: &normalizedTitle,
		Frequency:       &frequency,
		IncludeDeleted:  true,
	})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// GetPattern returns the first pattern matching find, or nil.
func (s *Store) GetPattern(ctx context.Context, find *FindPattern) (*Pattern, error) {
	list, err := s.driver.ListPatterns(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// UpsertPattern inserts a pattern or merges its evidence columns into the existing row.
func (s *Store) UpsertPattern(ctx context.Context, upsert *Pattern) (*Pattern, error) {
	return s.driver.UpsertPattern(ctx, upsert)
}

// ListPatterns lists patterns.
func (s *Store) ListPatterns(ctx context.Context, find *FindPattern) ([]*Pattern, error) {
	return s.driver.ListPatterns(ctx, find)
}

// UpdatePatternResponse applies a user response to a pattern.
func (s *Store) UpdatePatternResponse(ctx context.Context, update *UpdatePatternResponse) (*Pattern, error) {
	return s.driver.UpdatePatternResponse(ctx, update)
}

// ClaimAutomationOffer atomically stamps automation_offered_ts on a pending pattern.
// It reports false when the offer was already made or the pattern is no longer pending.
func (s *Store) ClaimAutomationOffer(ctx context.Context, id int64, at time.Time) (bool, error) {
	return s.driver.ClaimAutomationOffer(ctx, id, at.Unix())
}

// ClaimForgottenReminder atomically records a reminder for the day starting at dayStart
// and increments missed_count. It reports false if a reminder was already sent that day.
func (s *Store) ClaimForgottenReminder(ctx context.Context, id int64, at, dayStart time.Time) (bool, error) {
	return s.driver.ClaimForgottenReminder(ctx, id, at.Unix(), dayStart.Unix())
}

// DeletePattern turns a live pattern into a tombstone stamped at, and stops its reminders.
func (s *Store) DeletePattern(ctx context.Context, id int64, at time.Time) error {
	return s.driver.DeletePattern(ctx, id, at.Unix())
}

// RestorePattern overwrites the tombstone with restore.ID with the fresh pattern restore,
// resetting its gates. It returns nil when the row is no longer a tombstone.
func (s *Store) RestorePattern(ctx context.Context, restore *Pattern) (*Pattern, error) {
	return s.driver.RestorePattern(ctx, restore)
}
