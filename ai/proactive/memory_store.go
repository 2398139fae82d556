package proactive

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/routinesense/store"
)

// MemoryStore is an in-memory ActivitySource, UserLister and PatternStore for
// tests and dry runs. Claims have the same at-most-once semantics as the SQL
// drivers. Returned patterns are copies.
type MemoryStore struct {
	mu         sync.Mutex
	activities []*store.ActivityRecord
	patterns   map[int64]*store.Pattern
	nextID     int64
	failures   map[string]error
}

// Operation names accepted by FailOn.
const (
	OpListActivities = "ListActivities"
	OpListUsers      = "ListActiveUserIDs"
	OpFindPattern    = "FindPatternByKey"
	OpUpsertPattern  = "UpsertPattern"
	OpListPatterns   = "ListPatterns"
	OpUpdateResponse = "UpdatePatternResponse"
	OpClaimOffer     = "ClaimAutomationOffer"
	OpClaimReminder  = "ClaimForgottenReminder"
	OpDeletePattern  = "DeletePattern"
	OpRestorePattern = "RestorePattern"
)

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		patterns: make(map[int64]*store.Pattern),
		failures: make(map[string]error),
	}
}

// FailOn makes op return err until cleared with a nil err.
func (m *MemoryStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

func (m *MemoryStore) failure(op string) error {
	return m.failures[op]
}

// AddActivity appends a record, assigning ID and SourceID when unset.
func (m *MemoryStore) AddActivity(record *store.ActivityRecord) *store.ActivityRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r := *record
	if r.ID == 0 {
		r.ID = m.nextID
	}
	if r.SourceID == "" {
		r.SourceID = strconv.FormatInt(r.ID, 10)
	}
	if r.CreatedTs == 0 {
		r.CreatedTs = time.Now().Unix()
	}
	m.activities = append(m.activities, &r)
	return &r
}

// ListActivities returns every record of userID; grouping applies the window.
func (m *MemoryStore) ListActivities(_ context.Context, userID int32, _ time.Time) ([]*store.ActivityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpListActivities); err != nil {
		return nil, err
	}
	var list []*store.ActivityRecord
	for _, r := range m.activities {
		if r.UserID == userID {
			c := *r
			list = append(list, &c)
		}
	}
	return list, nil
}

func (m *MemoryStore) ListActiveUserIDs(_ context.Context, _ time.Time) ([]int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpListUsers); err != nil {
		return nil, err
	}
	seen := map[int32]bool{}
	var ids []int32
	for _, r := range m.activities {
		if !seen[r.UserID] {
			seen[r.UserID] = true
			ids = append(ids, r.UserID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *MemoryStore) FindPatternByKey(_ context.Context, userID int32, normalizedTitle string, frequency store.PatternFrequency) (*store.Pattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpFindPattern); err != nil {
		return nil, err
	}
	if p := m.byKey(userID, normalizedTitle, frequency); p != nil {
		return clonePattern(p), nil
	}
	return nil, nil
}

func (m *MemoryStore) byKey(userID int32, normalizedTitle string, frequency store.PatternFrequency) *store.Pattern {
	for _, p := range m.patterns {
		if p.UserID == userID && p.NormalizedTitle == normalizedTitle && p.Frequency == frequency {
			return p
		}
	}
	return nil
}

// UpsertPattern inserts upsert or, on a key conflict, overwrites only the
// evidence fields of the existing pattern.
func (m *MemoryStore) UpsertPattern(_ context.Context, upsert *store.Pattern) (*store.Pattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpUpsertPattern); err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	if existing := m.byKey(upsert.UserID, upsert.NormalizedTitle, upsert.Frequency); existing != nil {
		existing.Title = upsert.Title
		existing.Type = upsert.Type
		existing.Timing = upsert.Timing
		existing.Occurrences = upsert.Occurrences
		existing.Consistency = upsert.Consistency
		existing.LastOccurrenceTs = upsert.LastOccurrenceTs
		existing.Metadata.OriginalRecordIDs = append([]string(nil), upsert.Metadata.OriginalRecordIDs...)
		existing.UpdatedTs = now
		return clonePattern(existing), nil
	}
	m.nextID++
	p := clonePattern(upsert)
	p.ID = m.nextID
	p.CreatedTs, p.UpdatedTs = now, now
	m.patterns[p.ID] = p
	return clonePattern(p), nil
}

func (m *MemoryStore) ListPatterns(_ context.Context, find *store.FindPattern) ([]*store.Pattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpListPatterns); err != nil {
		return nil, err
	}
	var list []*store.Pattern
	for _, p := range m.patterns {
		if matchPattern(p, find) {
			list = append(list, clonePattern(p))
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].UserID != list[j].UserID {
			return list[i].UserID < list[j].UserID
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

func matchPattern(p *store.Pattern, find *store.FindPattern) bool {
	if find == nil {
		find = &store.FindPattern{}
	}
	switch {
	case find.ID != nil && p.ID != *find.ID:
		return false
	case find.UID != nil && p.UID != *find.UID:
		return false
	case find.UserID != nil && p.UserID != *find.UserID:
		return false
	case find.NormalizedTitle != nil && p.NormalizedTitle != *find.NormalizedTitle:
		return false
	case find.Frequency != nil && p.Frequency != *find.Frequency:
		return false
	case find.AutoCreated != nil && p.AutoCreated != *find.AutoCreated:
		return false
	case find.UserResponse != nil && p.UserResponse != *find.UserResponse:
		return false
	case find.LastOccurrenceBefore != nil && p.LastOccurrenceTs >= *find.LastOccurrenceBefore:
		return false
	case !find.IncludeDeleted && p.Deleted():
		return false
	}
	return true
}

func (m *MemoryStore) UpdatePatternResponse(_ context.Context, update *store.UpdatePatternResponse) (*store.Pattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpUpdateResponse); err != nil {
		return nil, err
	}
	p, ok := m.patterns[update.ID]
	if !ok {
		return nil, errors.Errorf("pattern %d not found", update.ID)
	}
	if update.UserResponse != nil {
		p.UserResponse = *update.UserResponse
	}
	if update.AutoCreated != nil {
		p.AutoCreated = *update.AutoCreated
	}
	if update.DeclinedTs != nil {
		p.Metadata.DeclinedTs = int64Ptr(*update.DeclinedTs)
	}
	if update.PausedTs != nil {
		p.Metadata.PausedTs = int64Ptr(*update.PausedTs)
	} else if update.ClearPaused {
		p.Metadata.PausedTs = nil
	}
	p.UpdatedTs = time.Now().Unix()
	return clonePattern(p), nil
}

func (m *MemoryStore) ClaimAutomationOffer(_ context.Context, id int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpClaimOffer); err != nil {
		return false, err
	}
	p, ok := m.patterns[id]
	if !ok || p.Deleted() || p.Metadata.AutomationOfferedTs != nil || p.UserResponse != store.PatternResponsePending {
		return false, nil
	}
	p.Metadata.AutomationOfferedTs = int64Ptr(at.Unix())
	return true, nil
}

func (m *MemoryStore) ClaimForgottenReminder(_ context.Context, id int64, at, dayStart time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpClaimReminder); err != nil {
		return false, err
	}
	p, ok := m.patterns[id]
	if !ok || p.Deleted() || !p.AutoCreated {
		return false, nil
	}
	if last := p.Metadata.LastRemindedTs; last != nil && *last >= dayStart.Unix() {
		return false, nil
	}
	p.Metadata.LastRemindedTs = int64Ptr(at.Unix())
	p.Metadata.MissedCount++
	return true, nil
}

func (m *MemoryStore) DeletePattern(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpDeletePattern); err != nil {
		return err
	}
	p, ok := m.patterns[id]
	if !ok || p.Deleted() {
		return errors.Errorf("pattern %d not found", id)
	}
	p.DeletedTs = int64Ptr(at.Unix())
	p.AutoCreated = false
	p.UpdatedTs = at.Unix()
	return nil
}

func (m *MemoryStore) RestorePattern(_ context.Context, restore *store.Pattern) (*store.Pattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpRestorePattern); err != nil {
		return nil, err
	}
	p, ok := m.patterns[restore.ID]
	if !ok || !p.Deleted() {
		return nil, nil
	}
	fresh := clonePattern(restore)
	fresh.UserID, fresh.NormalizedTitle, fresh.Frequency = p.UserID, p.NormalizedTitle, p.Frequency
	fresh.AutoCreated = false
	fresh.DeletedTs = nil
	fresh.Metadata.MissedCount = 0
	fresh.Metadata.AutomationOfferedTs = nil
	fresh.Metadata.PausedTs = nil
	fresh.Metadata.LastRemindedTs = nil
	fresh.CreatedTs = p.CreatedTs
	fresh.UpdatedTs = time.Now().Unix()
	m.patterns[p.ID] = fresh
	return clonePattern(fresh), nil
}

func clonePattern(p *store.Pattern) *store.Pattern {
	c := *p
	c.Timing.CustomDays = append([]int(nil), p.Timing.CustomDays...)
	if p.Timing.DayOfWeek != nil {
		c.Timing.DayOfWeek = intPtr(*p.Timing.DayOfWeek)
	}
	if p.Timing.DayOfMonth != nil {
		c.Timing.DayOfMonth = intPtr(*p.Timing.DayOfMonth)
	}
	c.Metadata.OriginalRecordIDs = append([]string(nil), p.Metadata.OriginalRecordIDs...)
	for _, ts := range []**int64{
		&c.Metadata.AutomationOfferedTs,
		&c.Metadata.DeclinedTs,
		&c.Metadata.PausedTs,
		&c.Metadata.LastRemindedTs,
		&c.DeletedTs,
	} {
		if *ts != nil {
			*ts = int64Ptr(**ts)
		}
	}
	return &c
}

func int64Ptr(v int64) *int64 { return &v }

func intPtr(v int) *int { return &v }
