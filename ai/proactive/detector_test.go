package proactive

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/routinesense/store"
)

var drinkWaterDays = []int{0, 1, 2, 4, 6, 7, 9}

func TestDetectUser_CreatesAndOffersPattern(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	addActivities(ms, 1, "Drink water", drinkWaterDays, 7, 0)
	clock := newTestClock(at(9, 8, 0))
	sink := &recordingSink{}
	d := NewDetector(ms, ms, sink, testConfig(), WithClock(clock.Now))

	res, err := d.DetectUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Groups)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Offered)

	list, err := ms.ListPatterns(ctx, &store.FindPattern{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	p := list[0]
	assert.Equal(t, "drink water", p.NormalizedTitle)
	assert.Equal(t, "Drink water", p.Title)
	assert.Equal(t, store.PatternFrequencyDaily, p.Frequency)
	assert.Equal(t, 7, p.Occurrences)
	assert.InDelta(t, 0.7, p.Consistency, 1e-9)
	assert.Equal(t, 7, p.Timing.Hour)
	assert.Equal(t, 0, p.Timing.Minute)
	assert.Equal(t, store.PatternPriorityMedium, p.Priority)
	assert.Equal(t, store.PatternResponsePending, p.UserResponse)
	assert.False(t, p.AutoCreated)
	assert.Equal(t, at(9, 7, 0).Unix(), p.LastOccurrenceTs)
	assert.Equal(t, at(9, 8, 0).Unix(), p.FirstDetectedTs)
	assert.Len(t, p.Metadata.OriginalRecordIDs, 7)
	require.NotNil(t, p.Metadata.AutomationOfferedTs)
	assert.NotEmpty(t, p.UID)

	sent := sink.all()
	require.Len(t, sent, 1)
	assert.Equal(t, store.NotificationKindPatternDetected, sent[0].Kind)
	assert.Equal(t, int32(1), sent[0].UserID)
	assert.Equal(t, p.UID, sent[0].Payload["patternUid"])
	assert.Contains(t, sent[0].Body, "every day at 07:00")
}

func TestDetectUser_RepeatPassIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	addActivities(ms, 1, "Drink water", drinkWaterDays, 7, 0)
	clock := newTestClock(at(9, 8, 0))
	sink := &recordingSink{}
	d := NewDetector(ms, ms, sink, testConfig(), WithClock(clock.Now))

	_, err := d.DetectUser(ctx, 1)
	require.NoError(t, err)

	res, err := d.DetectUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Unchanged)
	assert.Equal(t, 0, res.Offered)
	assert.Len(t, sink.all(), 1)

	list, err := ms.ListPatterns(ctx, nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 7, list[0].Occurrences)
}

func TestDetectUser_MergesNewEvidence(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	addActivities(ms, 1, "Drink water", drinkWaterDays, 7, 0)
	clock := newTestClock(at(9, 8, 0))
	sink := &recordingSink{}
	d := NewDetector(ms, ms, sink, testConfig(), WithClock(clock.Now))

	_, err := d.DetectUser(ctx, 1)
	require.NoError(t, err)
	before, err := ms.FindPatternByKey(ctx, 1, "drink water", store.PatternFrequencyDaily)
	require.NoError(t, err)

	addActivities(ms, 1, "drink  Water!", []int{10}, 7, 10)
	clock.Set(at(10, 9, 0))

	res, err := d.DetectUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Merged)
	assert.Equal(t, 0, res.Offered)

	after, err := ms.FindPatternByKey(ctx, 1, "drink water", store.PatternFrequencyDaily)
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.UID, after.UID)
	assert.Equal(t, 8, after.Occurrences)
	assert.InDelta(t, 8.0/11.0, after.Consistency, 1e-9)
	assert.Equal(t, at(10, 7, 10).Unix(), after.LastOccurrenceTs)
	assert.Equal(t, before.FirstDetectedTs, after.FirstDetectedTs)
	assert.Equal(t, before.Metadata.AutomationOfferedTs, after.Metadata.AutomationOfferedTs)
	assert.Len(t, sink.all(), 1)
}

func TestDetectUser_InsufficientEvidence(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	addActivities(ms, 1, "Stretch", []int{0, 1, 2, 3}, 6, 30)
	sink := &recordingSink{}
	d := NewDetector(ms, ms, sink, testConfig(), WithClock(newTestClock(at(4, 8, 0)).Now))

	res, err := d.DetectUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Groups)
	assert.Equal(t, 1, res.Insufficient)

	list, err := ms.ListPatterns(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, sink.all())
}

func TestDetectUser_BelowCreateThreshold(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	// Every fourth day lands on five distinct weekdays: custom, 5 of ~12.1 expected.
	addActivities(ms, 1, "Water plants", []int{0, 4, 8, 12, 16}, 18, 0)
	d := NewDetector(ms, ms, nil, testConfig(), WithClock(newTestClock(at(16, 20, 0)).Now))

	res, err := d.DetectUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.BelowThreshold)
	assert.Equal(t, 0, res.Created)

	list, err := ms.ListPatterns(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDetectUser_AperiodicGroup(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	addActivities(ms, 1, "Dentist", []int{0, 11, 20, 40, 52}, 9, 0)
	d := NewDetector(ms, ms, nil, testConfig(), WithClock(newTestClock(at(53, 8, 0)).Now))

	res, err := d.DetectUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Aperiodic)
	assert.Equal(t, 0, res.Created)
}

func TestDetectUser_MalformedRecordsAreSkipped(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	addActivities(ms, 1, "Drink water", drinkWaterDays, 7, 0)
	ms.AddActivity(&store.ActivityRecord{UserID: 1, Title: "Drink water", OccurredAt: "yesterday-ish"})
	d := NewDetector(ms, ms, nil, testConfig(), WithClock(newTestClock(at(9, 8, 0)).Now))

	res, err := d.DetectUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Malformed)
	assert.Equal(t, 1, res.Created)
}

func TestDetectUser_DeclinedPatternIsNeverReoffered(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	addActivities(ms, 1, "Drink water", drinkWaterDays, 7, 0)
	clock := newTestClock(at(9, 8, 0))
	sink := &recordingSink{}
	cfg := testConfig()
	d := NewDetector(ms, ms, sink, cfg, WithClock(clock.Now))
	r := NewResponder(ms, cfg, WithClock(clock.Now))

	_, err := d.DetectUser(ctx, 1)
	require.NoError(t, err)
	p, err := ms.FindPatternByKey(ctx, 1, "drink water", store.PatternFrequencyDaily)
	require.NoError(t, err)
	_, err = r.DeclineAutomation(ctx, 1, p.UID)
	require.NoError(t, err)
	sink.reset()

	for day := 10; day < 20; day++ {
		addActivities(ms, 1, "Drink water", []int{day}, 7, 0)
		clock.Set(at(day, 8, 0))
		res, err := d.DetectUser(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Offered)
	}
	assert.Empty(t, sink.all())

	p, err = ms.FindPatternByKey(ctx, 1, "drink water", store.PatternFrequencyDaily)
	require.NoError(t, err)
	assert.Equal(t, store.PatternResponseDeclined, p.UserResponse)
	assert.False(t, p.AutoCreated)
	assert.Equal(t, 17, p.Occurrences)
}

func TestDetectUser_DeletedPatternIsNotRecreated(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	addActivities(ms, 1, "Drink water", drinkWaterDays, 7, 0)
	clock := newTestClock(at(9, 8, 0))
	sink := &recordingSink{}
	cfg := testConfig()
	d := NewDetector(ms, ms, sink, cfg, WithClock(clock.Now))
	r := NewResponder(ms, cfg, WithClock(clock.Now))

	_, err := d.DetectUser(ctx, 1)
	require.NoError(t, err)
	list, err := r.ListPatterns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	deleted := list[0]
	require.NoError(t, r.DeletePattern(ctx, 1, deleted.UID))

	clock.Set(at(9, 9, 0))
	res, err := d.DetectUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 0, res.Offered)
	assert.Equal(t, 1, res.Suppressed)
	assert.Len(t, sink.all(), 1)

	list, err = r.ListPatterns(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, list)

	// Evidence after the delete counts on its own.
	addActivities(ms, 1, "Drink water", []int{10, 11, 12, 13}, 7, 0)
	clock.Set(at(13, 8, 0))
	res, err = d.DetectUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Suppressed)

	addActivities(ms, 1, "Drink water", []int{14}, 7, 0)
	clock.Set(at(14, 8, 0))
	res, err = d.DetectUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Offered)

	list, err = r.ListPatterns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, deleted.ID, list[0].ID)
	assert.NotEqual(t, deleted.UID, list[0].UID)
	assert.Equal(t, 5, list[0].Occurrences)
	assert.Equal(t, at(14, 8, 0).Unix(), list[0].FirstDetectedTs)
	assert.Len(t, sink.all(), 2)
}

func TestDetectUser_DeletedDeclineCarriesOver(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	addActivities(ms, 1, "Drink water", drinkWaterDays, 7, 0)
	clock := newTestClock(at(9, 8, 0))
	sink := &recordingSink{}
	cfg := testConfig()
	d := NewDetector(ms, ms, sink, cfg, WithClock(clock.Now))
	r := NewResponder(ms, cfg, WithClock(clock.Now))

	_, err := d.DetectUser(ctx, 1)
	require.NoError(t, err)
	p, err := ms.FindPatternByKey(ctx, 1, "drink water", store.PatternFrequencyDaily)
	require.NoError(t, err)
	_, err = r.DeclineAutomation(ctx, 1, p.UID)
	require.NoError(t, err)
	require.NoError(t, r.DeletePattern(ctx, 1, p.UID))
	sink.reset()

	addActivities(ms, 1, "Drink water", []int{10, 11, 12, 13, 14}, 7, 0)
	clock.Set(at(14, 8, 0))
	res, err := d.DetectUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 0, res.Offered)
	assert.Empty(t, sink.all())

	p, err = ms.FindPatternByKey(ctx, 1, "drink water", store.PatternFrequencyDaily)
	require.NoError(t, err)
	assert.False(t, p.Deleted())
	assert.Equal(t, store.PatternResponseDeclined, p.UserResponse)
}

func TestDetectUser_ConcurrentPassesOfferOnce(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	addActivities(ms, 1, "Drink water", drinkWaterDays, 7, 0)
	clock := newTestClock(at(9, 8, 0))
	sink := &recordingSink{}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Separate detectors share no in-process lock; only the store gates.
			d := NewDetector(ms, ms, sink, testConfig(), WithClock(clock.Now))
			_, err := d.DetectUser(ctx, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	list, err := ms.ListPatterns(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Len(t, sink.all(), 1)
}

func TestDetectUser_StoreErrorIsReported(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	addActivities(ms, 1, "Drink water", drinkWaterDays, 7, 0)
	diskFull := errors.New("disk full")
	ms.FailOn(OpUpsertPattern, diskFull)
	sink := &recordingSink{}
	d := NewDetector(ms, ms, sink, testConfig(), WithClock(newTestClock(at(9, 8, 0)).Now))

	_, err := d.DetectUser(ctx, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, diskFull)
	assert.Empty(t, sink.all())

	ms.FailOn(OpUpsertPattern, nil)
	res, err := d.DetectUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
}

func TestDetectUser_SourceErrorIsReported(t *testing.T) {
	ms := NewMemoryStore()
	ms.FailOn(OpListActivities, errors.New("timeout"))
	d := NewDetector(ms, ms, nil, testConfig())

	_, err := d.DetectUser(context.Background(), 1)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestDetectUser_SinkFailureDoesNotFailPass(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	addActivities(ms, 1, "Drink water", drinkWaterDays, 7, 0)
	sink := &recordingSink{err: errors.New("webhook down")}
	d := NewDetector(ms, ms, sink, testConfig(), WithClock(newTestClock(at(9, 8, 0)).Now))

	res, err := d.DetectUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Offered)

	// The offer gate is spent even though delivery failed.
	res, err = d.DetectUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Offered)
	assert.Len(t, sink.all(), 1)
}

func TestDetectUser_PriorityFromTitle(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	addActivities(ms, 1, "Take medication", drinkWaterDays, 21, 0)
	d := NewDetector(ms, ms, nil, testConfig(), WithClock(newTestClock(at(9, 22, 0)).Now))

	_, err := d.DetectUser(ctx, 1)
	require.NoError(t, err)

	p, err := ms.FindPatternByKey(ctx, 1, "take medication", store.PatternFrequencyDaily)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, store.PatternPriorityCritical, p.Priority)
}

func TestDetectUser_UsersAreIsolated(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	addActivities(ms, 1, "Drink water", drinkWaterDays, 7, 0)
	addActivities(ms, 2, "Drink water", []int{0, 1}, 7, 0)
	d := NewDetector(ms, ms, nil, testConfig(), WithClock(newTestClock(at(9, 8, 0)).Now))

	res, err := d.DetectUser(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)

	res, err = d.DetectUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
}
