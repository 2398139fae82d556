package proactive

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/hrygo/routinesense/store"
)

// Responder applies user responses to patterns. Every operation checks that
// the pattern belongs to the given user.
type Responder struct {
	patterns PatternStore
	config   Config
	options
}

// NewResponder creates a responder.
func NewResponder(patterns PatternStore, cfg Config, opts ...Option) *Responder {
	return &Responder{
		patterns: patterns,
		config:   cfg.withDefaults(),
		options:  newOptions(opts),
	}
}

func (r *Responder) lookup(ctx context.Context, userID int32, uid string) (*store.Pattern, error) {
	list, err := r.patterns.ListPatterns(ctx, &store.FindPattern{UID: &uid})
	if err != nil {
		return nil, storeUnavailable(err, "failed to find pattern")
	}
	if len(list) == 0 || list[0].UserID != userID {
		return nil, errors.Wrapf(ErrPatternNotFound, "pattern %s", uid)
	}
	return list[0], nil
}

func (r *Responder) update(ctx context.Context, update *store.UpdatePatternResponse) (*store.Pattern, error) {
	p, err := r.patterns.UpdatePatternResponse(ctx, update)
	if err != nil {
		return nil, storeUnavailable(err, "failed to update pattern")
	}
	return p, nil
}

// AcceptAutomation marks the pattern accepted and turns on forgotten-activity
// monitoring. It also resumes a paused pattern.
func (r *Responder) AcceptAutomation(ctx context.Context, userID int32, uid string) (*store.Pattern, error) {
	p, err := r.lookup(ctx, userID, uid)
	if err != nil {
		return nil, err
	}
	accepted, on := store.PatternResponseAccepted, true
	p, err = r.update(ctx, &store.UpdatePatternResponse{
		ID:           p.ID,
		UserResponse: &accepted,
		AutoCreated:  &on,
		ClearPaused:  true,
	})
	if err != nil {
		return nil, err
	}
	r.log(ctx).Info("automation accepted", "user_id", userID, "pattern_uid", uid)
	return p, nil
}

// DeclineAutomation marks the pattern declined. It is never offered again and
// stops being monitored.
func (r *Responder) DeclineAutomation(ctx context.Context, userID int32, uid string) (*store.Pattern, error) {
	p, err := r.lookup(ctx, userID, uid)
	if err != nil {
		return nil, err
	}
	declined, off := store.PatternResponseDeclined, false
	declinedTs := r.now().Unix()
	p, err = r.update(ctx, &store.UpdatePatternResponse{
		ID:           p.ID,
		UserResponse: &declined,
		AutoCreated:  &off,
		DeclinedTs:   &declinedTs,
	})
	if err != nil {
		return nil, err
	}
	r.log(ctx).Info("automation declined", "user_id", userID, "pattern_uid", uid)
	return p, nil
}

// PausePattern stops forgotten-activity reminders for an accepted pattern
// while keeping the acceptance. AcceptAutomation resumes it.
func (r *Responder) PausePattern(ctx context.Context, userID int32, uid string) (*store.Pattern, error) {
	p, err := r.lookup(ctx, userID, uid)
	if err != nil {
		return nil, err
	}
	if p.UserResponse != store.PatternResponseAccepted {
		return nil, errors.Wrapf(ErrInvalidResponse, "pattern %s is %s", uid, p.UserResponse)
	}
	off := false
	pausedTs := r.now().Unix()
	return r.update(ctx, &store.UpdatePatternResponse{
		ID:          p.ID,
		AutoCreated: &off,
		PausedTs:    &pausedTs,
	})
}

// DeletePattern removes the pattern from the user's view and stops its reminders.
// Evidence up to now no longer counts for its key; only later evidence may
// detect it again.
func (r *Responder) DeletePattern(ctx context.Context, userID int32, uid string) error {
	p, err := r.lookup(ctx, userID, uid)
	if err != nil {
		return err
	}
	if err := r.patterns.DeletePattern(ctx, p.ID, r.now()); err != nil {
		return storeUnavailable(err, "failed to delete pattern")
	}
	r.log(ctx).Info("pattern deleted", "user_id", userID, "pattern_uid", uid)
	return nil
}

// ListPatterns returns the user's patterns, most consistent first.
func (r *Responder) ListPatterns(ctx context.Context, userID int32) ([]*store.Pattern, error) {
	list, err := r.patterns.ListPatterns(ctx, &store.FindPattern{UserID: &userID})
	if err != nil {
		return nil, storeUnavailable(err, "failed to list patterns")
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Consistency > list[j].Consistency
	})
	return list, nil
}

// StalePatterns returns the user's patterns with no evidence for longer than
// the configured StaleAfter, oldest evidence first.
func (r *Responder) StalePatterns(ctx context.Context, userID int32) ([]*store.Pattern, error) {
	before := r.now().Add(-r.config.StaleAfter).Unix()
	list, err := r.patterns.ListPatterns(ctx, &store.FindPattern{UserID: &userID, LastOccurrenceBefore: &before})
	if err != nil {
		return nil, storeUnavailable(err, "failed to list stale patterns")
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastOccurrenceTs < list[j].LastOccurrenceTs
	})
	return list, nil
}
