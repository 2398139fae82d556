package proactive

import (
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/routinesense/ai/habit"
	"github.com/hrygo/routinesense/store"
)

// maxTrackedRecordIDs caps the evidence IDs kept on a pattern; the oldest are dropped.
const maxTrackedRecordIDs = 500

// Candidate is a classified and scored group, ready to be synchronized.
type Candidate struct {
	UserID         int32
	Group          *habit.Group
	Classification *habit.Classification
	Consistency    float64
	Timing         store.PatternTiming
}

// Key returns the pattern identity key of c.
func (c *Candidate) Key() string {
	return patternKey(c.UserID, c.Group.NormalizedTitle, c.Classification.Frequency)
}

// NewCandidate classifies g and scores it. It reports false when the group has
// no supported periodicity.
func NewCandidate(userID int32, g *habit.Group, loc *time.Location) (*Candidate, bool) {
	cls, ok := habit.Classify(g.Occurrences, loc)
	if !ok {
		return nil, false
	}
	return &Candidate{
		UserID:         userID,
		Group:          g,
		Classification: cls,
		Consistency:    habit.Consistency(g.Occurrences, cls, loc),
		Timing:         habit.InferTiming(g.Occurrences, cls, loc),
	}, true
}

// After rebuilds c from the occurrences strictly later than the unix time ts.
// It reports false when fewer than minOccurrences remain or they match no cadence.
func (c *Candidate) After(ts int64, minOccurrences int, loc *time.Location) (*Candidate, bool) {
	var kept []habit.Occurrence
	for _, o := range c.Group.Occurrences {
		if o.At.Unix() > ts {
			kept = append(kept, o)
		}
	}
	if len(kept) == 0 || len(kept) < minOccurrences {
		return nil, false
	}
	return NewCandidate(c.UserID, &habit.Group{NormalizedTitle: c.Group.NormalizedTitle, Occurrences: kept}, loc)
}

// NewPattern builds a fresh pending pattern from c.
func NewPattern(c *Candidate, priorities habit.PriorityTable, now time.Time) *store.Pattern {
	latest := c.Group.Latest()
	return &store.Pattern{
		UID:              shortuuid.New(),
		UserID:           c.UserID,
		Title:            latest.Title,
		NormalizedTitle:  c.Group.NormalizedTitle,
		Type:             latest.Type,
		Frequency:        c.Classification.Frequency,
		Timing:           c.Timing,
		Occurrences:      len(c.Group.Occurrences),
		Consistency:      c.Consistency,
		Priority:         priorities.Priority(latest.Title),
		AutoCreated:      false,
		UserResponse:     store.PatternResponsePending,
		LastOccurrenceTs: latest.At.Unix(),
		FirstDetectedTs:  now.Unix(),
		Metadata: store.PatternMetadata{
			OriginalRecordIDs: capRecordIDs(c.Group.SourceIDs()),
		},
	}
}

// MergeEvidence folds the evidence of c that existing has not seen yet. An
// occurrence is new when its record ID is not tracked, or, lacking an ID, when
// it is later than the last known occurrence. It reports false and returns
// existing unchanged when there is nothing new. Response, priority and gate
// fields are never touched.
func MergeEvidence(existing *store.Pattern, c *Candidate) (*store.Pattern, bool) {
	known := make(map[string]bool, len(existing.Metadata.OriginalRecordIDs))
	for _, id := range existing.Metadata.OriginalRecordIDs {
		known[id] = true
	}

	var added []habit.Occurrence
	for _, o := range c.Group.Occurrences {
		if o.SourceID != "" {
			if known[o.SourceID] {
				continue
			}
			known[o.SourceID] = true
			added = append(added, o)
			continue
		}
		if o.At.Unix() > existing.LastOccurrenceTs {
			added = append(added, o)
		}
	}
	if len(added) == 0 {
		return existing, false
	}

	merged := *existing
	merged.Metadata.OriginalRecordIDs = append([]string(nil), existing.Metadata.OriginalRecordIDs...)
	for _, o := range added {
		if o.SourceID != "" {
			merged.Metadata.OriginalRecordIDs = append(merged.Metadata.OriginalRecordIDs, o.SourceID)
		}
	}
	merged.Metadata.OriginalRecordIDs = capRecordIDs(merged.Metadata.OriginalRecordIDs)
	merged.Occurrences += len(added)
	merged.Consistency = c.Consistency
	merged.Timing = c.Timing

	latest := c.Group.Latest()
	if ts := latest.At.Unix(); ts > merged.LastOccurrenceTs {
		merged.LastOccurrenceTs = ts
		merged.Title = latest.Title
		merged.Type = latest.Type
	}
	return &merged, true
}

func capRecordIDs(ids []string) []string {
	if len(ids) > maxTrackedRecordIDs {
		ids = ids[len(ids)-maxTrackedRecordIDs:]
	}
	if ids == nil {
		return []string{}
	}
	return ids
}
