package proactive

import (
	"context"
	"time"

	"github.com/hrygo/routinesense/ai/habit"
	"github.com/hrygo/routinesense/store"
)

// Upsert actions reported to metrics.
const (
	actionCreated = "created"
	actionMerged  = "merged"
)

// DetectionResult summarizes one user's detection pass.
type DetectionResult struct {
	UserID int32
	// Groups is the number of groups with enough evidence.
	Groups int
	// Malformed counts records skipped for an unparseable timestamp.
	Malformed int
	// Insufficient counts groups below the evidence minimum.
	Insufficient int
	// Aperiodic counts groups matching no cadence.
	Aperiodic int
	// BelowThreshold counts new candidates too inconsistent to persist.
	BelowThreshold int
	// Suppressed counts candidates of deleted patterns lacking enough evidence
	// since the delete.
	Suppressed int
	Created    int
	Merged     int
	Unchanged  int
	Offered    int
}

// Detector runs the detection pipeline: group, classify, score, synchronize
// with the pattern store, and offer automation.
type Detector struct {
	source   ActivitySource
	patterns PatternStore
	sink     NotificationSink
	config   Config
	locks    *keyLocker
	options
}

// NewDetector creates a detector. A nil sink discards notifications.
func NewDetector(source ActivitySource, patterns PatternStore, sink NotificationSink, cfg Config, opts ...Option) *Detector {
	if sink == nil {
		sink = discardSink{}
	}
	return &Detector{
		source:   source,
		patterns: patterns,
		sink:     sink,
		config:   cfg.withDefaults(),
		locks:    newKeyLocker(),
		options:  newOptions(opts),
	}
}

// Config returns the effective configuration.
func (d *Detector) Config() Config {
	return d.config
}

// DetectUser runs one detection pass for userID. Patterns written before a
// store failure stay written; the failure aborts the rest of this user's pass
// and is returned wrapping ErrStoreUnavailable.
func (d *Detector) DetectUser(ctx context.Context, userID int32) (*DetectionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d.config.UserTimeout)
	defer cancel()

	now := d.now()
	since := now.Add(-d.config.Analysis.Lookback())
	result := &DetectionResult{UserID: userID}

	records, err := d.source.ListActivities(ctx, userID, since)
	if err != nil {
		return result, storeUnavailable(err, "failed to list activities")
	}

	grouped := habit.GroupActivities(records, since, now, d.config.Analysis)
	result.Groups = len(grouped.Groups)
	result.Malformed = grouped.Malformed
	result.Insufficient = grouped.Insufficient
	d.metrics.RecordMalformedEvidence(grouped.Malformed)
	if grouped.Malformed > 0 {
		d.log(ctx).Debug("skipped malformed activity records", "user_id", userID, "count", grouped.Malformed)
	}

	for _, g := range grouped.Groups {
		candidate, ok := NewCandidate(userID, g, d.config.location())
		if !ok {
			result.Aperiodic++
			continue
		}
		if err := d.synchronize(ctx, candidate, now, result); err != nil {
			return result, err
		}
	}

	d.log(ctx).Debug("detection pass finished",
		"user_id", userID,
		"groups", result.Groups,
		"created", result.Created,
		"merged", result.Merged,
		"offered", result.Offered,
	)
	return result, nil
}

// synchronize creates or merges the pattern for candidate and makes the
// automation offer when it becomes eligible. Work on one key is serialized.
func (d *Detector) synchronize(ctx context.Context, candidate *Candidate, now time.Time, result *DetectionResult) error {
	unlock := d.locks.Lock(candidate.Key())
	defer unlock()

	existing, err := d.patterns.FindPatternByKey(ctx, candidate.UserID, candidate.Group.NormalizedTitle, candidate.Classification.Frequency)
	if err != nil {
		return storeUnavailable(err, "failed to find pattern")
	}

	var saved *store.Pattern
	if existing == nil || existing.Deleted() {
		saved, err = d.create(ctx, candidate, existing, now, result)
		if err != nil || saved == nil {
			return err
		}
	} else {
		merged, changed := MergeEvidence(existing, candidate)
		if !changed {
			result.Unchanged++
			saved = existing
		} else {
			saved, err = d.patterns.UpsertPattern(ctx, merged)
			if err != nil {
				return storeUnavailable(err, "failed to merge pattern")
			}
			result.Merged++
			d.metrics.RecordPatternUpsert(actionMerged)
		}
	}

	offered, err := d.offer(ctx, saved, now)
	if err != nil {
		return err
	}
	if offered {
		result.Offered++
	}
	return nil
}

// create persists a new pattern for candidate. When the user deleted a pattern
// with the same title, only evidence after the latest delete counts, a decline
// carries over, and a tombstone on the same key is rewritten in place. It
// returns nil when nothing was written.
func (d *Detector) create(ctx context.Context, candidate *Candidate, tombstone *store.Pattern, now time.Time, result *DetectionResult) (*store.Pattern, error) {
	latest, err := d.latestTombstone(ctx, candidate)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		fresh, ok := candidate.After(*latest.DeletedTs, d.config.Analysis.MinOccurrences, d.config.location())
		if !ok || fresh.Classification.Frequency != candidate.Classification.Frequency {
			result.Suppressed++
			return nil, nil
		}
		candidate = fresh
	}
	if candidate.Consistency < d.config.CreateThreshold {
		result.BelowThreshold++
		return nil, nil
	}

	p := NewPattern(candidate, d.config.Priorities, now)
	if latest != nil && latest.UserResponse == store.PatternResponseDeclined {
		p.UserResponse = store.PatternResponseDeclined
		p.Metadata.DeclinedTs = latest.Metadata.DeclinedTs
	}

	var saved *store.Pattern
	if tombstone != nil {
		p.ID = tombstone.ID
		saved, err = d.patterns.RestorePattern(ctx, p)
		if err != nil {
			return nil, storeUnavailable(err, "failed to restore pattern")
		}
		if saved == nil {
			result.Unchanged++
			return nil, nil
		}
	} else {
		saved, err = d.patterns.UpsertPattern(ctx, p)
		if err != nil {
			return nil, storeUnavailable(err, "failed to create pattern")
		}
	}
	result.Created++
	d.metrics.RecordPatternUpsert(actionCreated)
	d.log(ctx).Info("pattern detected",
		"user_id", saved.UserID,
		"pattern_uid", saved.UID,
		"title", saved.NormalizedTitle,
		"frequency", saved.Frequency,
		"consistency", saved.Consistency,
		"restored", tombstone != nil,
	)
	return saved, nil
}

// latestTombstone returns the most recently deleted pattern sharing the
// candidate's user and title under any frequency, or nil.
func (d *Detector) latestTombstone(ctx context.Context, candidate *Candidate) (*store.Pattern, error) {
	list, err := d.patterns.ListPatterns(ctx, &store.FindPattern{
		UserID:          &candidate.UserID,
		NormalizedTitle: &candidate.Group.NormalizedTitle,
		IncludeDeleted:  true,
	})
	if err != nil {
		return nil, storeUnavailable(err, "failed to find deleted patterns")
	}
	var latest *store.Pattern
	for _, p := range list {
		if p.Deleted() && (latest == nil || *p.DeletedTs > *latest.DeletedTs) {
			latest = p
		}
	}
	return latest, nil
}

// offer claims the one-shot automation offer for p and emits it. Only the
// caller that wins the claim emits.
func (d *Detector) offer(ctx context.Context, p *store.Pattern, now time.Time) (bool, error) {
	if OfferStateOf(p, d.config.OfferThreshold) != OfferEligible {
		return false, nil
	}
	claimed, err := d.patterns.ClaimAutomationOffer(ctx, p.ID, now)
	if err != nil {
		return false, storeUnavailable(err, "failed to claim automation offer")
	}
	if !claimed {
		return false, nil
	}
	offeredTs := now.Unix()
	p.Metadata.AutomationOfferedTs = &offeredTs
	d.emit(ctx, d.sink, automationOfferNotification(p, now))
	return true, nil
}

type discardSink struct{}

func (discardSink) Emit(context.Context, *store.Notification) error { return nil }
