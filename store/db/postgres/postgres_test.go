package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/routinesense/internal/profile"
	"github.com/hrygo/routinesense/store"
)

// testDSNEnv names a throwaway database the driver tests may write to.
const testDSNEnv = "ROUTINESENSE_TEST_POSTGRES_DSN"

var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := os.Getenv(testDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", testDSNEnv)
	}
	p := &profile.Profile{Driver: "postgres", DSN: dsn}
	driver, err := NewDB(p)
	require.NoError(t, err)

	s := store.New(driver, p)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// testUserID keeps runs against a shared database apart.
func testUserID() int32 {
	return int32(time.Now().UnixNano()%1_000_000_000) + 1
}

func testPattern(userID int32, title string) *store.Pattern {
	return &store.Pattern{
		UID:              fmt.Sprintf("uid-%d-%s", userID, title),
		UserID:           userID,
		Title:            title,
		NormalizedTitle:  title,
		Type:             store.ActivityTypeReminder,
		Frequency:        store.PatternFrequencyDaily,
		Timing:           store.PatternTiming{Hour: 7},
		Occurrences:      7,
		Consistency:      0.7,
		Priority:         store.PatternPriorityMedium,
		UserResponse:     store.PatternResponsePending,
		LastOccurrenceTs: monday.AddDate(0, 0, 9).Unix(),
		FirstDetectedTs:  monday.Unix(),
		Metadata:         store.PatternMetadata{OriginalRecordIDs: []string{"1", "2"}},
	}
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "$1", placeholder(1))
	assert.Equal(t, "$1, $2, $3", placeholders(3))
	assert.Equal(t, "", placeholders(0))
}

func TestNewDB_RequiresDSN(t *testing.T) {
	_, err := NewDB(&profile.Profile{Driver: "postgres"})
	assert.Error(t, err)
}

func TestUpsertPattern_MergesEvidenceOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	userID := testUserID()

	created, err := s.UpsertPattern(ctx, testPattern(userID, "journal"))
	require.NoError(t, err)
	claimed, err := s.ClaimAutomationOffer(ctx, created.ID, monday)
	require.NoError(t, err)
	require.True(t, claimed)

	again := testPattern(userID, "journal")
	again.UID = "ignored"
	again.Title = "Journal!"
	again.Occurrences = 8
	again.Consistency = 0.8
	again.Priority = store.PatternPriorityCritical
	again.UserResponse = store.PatternResponseAccepted
	again.Metadata.OriginalRecordIDs = []string{"1", "2", "3"}
	updated, err := s.UpsertPattern(ctx, again)
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, created.UID, updated.UID)
	assert.Equal(t, "Journal!", updated.Title)
	assert.Equal(t, 8, updated.Occurrences)
	assert.InDelta(t, 0.8, updated.Consistency, 1e-9)
	assert.Equal(t, store.PatternPriorityMedium, updated.Priority)
	assert.Equal(t, store.PatternResponsePending, updated.UserResponse)
	assert.Equal(t, []string{"1", "2", "3"}, updated.Metadata.OriginalRecordIDs)
	require.NotNil(t, updated.Metadata.AutomationOfferedTs)
	assert.Equal(t, monday.Unix(), *updated.Metadata.AutomationOfferedTs)

	weekly := testPattern(userID, "journal")
	weekly.UID = fmt.Sprintf("uid-%d-journal-weekly", userID)
	weekly.Frequency = store.PatternFrequencyWeekly
	_, err = s.UpsertPattern(ctx, weekly)
	require.NoError(t, err)

	list, err := s.ListPatterns(ctx, &store.FindPattern{UserID: &userID})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestClaimAutomationOffer_OnceUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p, err := s.UpsertPattern(ctx, testPattern(testUserID(), "stretch"))
	require.NoError(t, err)

	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := s.ClaimAutomationOffer(ctx, p.ID, monday)
			assert.NoError(t, err)
			if claimed {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), won.Load())
}

func TestClaimForgottenReminder_OncePerDay(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p, err := s.UpsertPattern(ctx, testPattern(testUserID(), "vitamins"))
	require.NoError(t, err)

	day := monday.AddDate(0, 0, 10)
	claimed, err := s.ClaimForgottenReminder(ctx, p.ID, day.Add(8*time.Hour), day)
	require.NoError(t, err)
	assert.False(t, claimed, "only automated patterns are reminded")

	on := true
	_, err = s.UpdatePatternResponse(ctx, &store.UpdatePatternResponse{ID: p.ID, AutoCreated: &on})
	require.NoError(t, err)

	claimed, err = s.ClaimForgottenReminder(ctx, p.ID, day.Add(8*time.Hour), day)
	require.NoError(t, err)
	assert.True(t, claimed)
	claimed, err = s.ClaimForgottenReminder(ctx, p.ID, day.Add(9*time.Hour), day)
	require.NoError(t, err)
	assert.False(t, claimed)

	next := day.AddDate(0, 0, 1)
	claimed, err = s.ClaimForgottenReminder(ctx, p.ID, next.Add(8*time.Hour), next)
	require.NoError(t, err)
	assert.True(t, claimed)

	got, err := s.GetPattern(ctx, &store.FindPattern{ID: &p.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, got.Metadata.MissedCount)
}

func TestDeleteAndRestorePattern(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	userID := testUserID()
	p, err := s.UpsertPattern(ctx, testPattern(userID, "journal"))
	require.NoError(t, err)

	deletedAt := monday.AddDate(0, 0, 10)
	require.NoError(t, s.DeletePattern(ctx, p.ID, deletedAt))
	assert.Error(t, s.DeletePattern(ctx, p.ID, deletedAt))

	list, err := s.ListPatterns(ctx, &store.FindPattern{UserID: &userID})
	require.NoError(t, err)
	assert.Empty(t, list)

	tombstone, err := s.FindPatternByKey(ctx, userID, "journal", store.PatternFrequencyDaily)
	require.NoError(t, err)
	require.NotNil(t, tombstone)
	assert.Equal(t, deletedAt.Unix(), *tombstone.DeletedTs)

	claimed, err := s.ClaimAutomationOffer(ctx, p.ID, deletedAt)
	require.NoError(t, err)
	assert.False(t, claimed)

	fresh := testPattern(userID, "journal")
	fresh.ID = p.ID
	fresh.UID = fmt.Sprintf("uid-%d-fresh", userID)
	restored, err := s.RestorePattern(ctx, fresh)
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.False(t, restored.Deleted())
	assert.Equal(t, fresh.UID, restored.UID)

	restored, err = s.RestorePattern(ctx, fresh)
	require.NoError(t, err)
	assert.Nil(t, restored)
}
