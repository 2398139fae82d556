package habit

import (
	"sort"
	"time"

	"github.com/hrygo/routinesense/store"
)

// Occurrence is one piece of evidence for a routine.
type Occurrence struct {
	At       time.Time
	SourceID string
	Type     store.ActivityType
	Title    string
}

// Group is the evidence sharing one normalized title, sorted ascending by time.
type Group struct {
	NormalizedTitle string
	Occurrences     []Occurrence
}

// Latest returns the most recent occurrence.
func (g *Group) Latest() Occurrence {
	return g.Occurrences[len(g.Occurrences)-1]
}

// SourceIDs returns the record IDs in occurrence order.
func (g *Group) SourceIDs() []string {
	ids := make([]string, 0, len(g.Occurrences))
	for _, o := range g.Occurrences {
		if o.SourceID != "" {
			ids = append(ids, o.SourceID)
		}
	}
	return ids
}

// GroupResult is the outcome of partitioning one user's records.
type GroupResult struct {
	Groups []*Group
	// Malformed counts records dropped for an unparseable timestamp.
	Malformed int
	// Insufficient counts groups discarded below the evidence minimum.
	Insufficient int
}

// GroupActivities partitions records by normalized title. Records outside
// [since, until] or with an unparseable timestamp are dropped, a record seen twice
// under the same source ID counts once, and groups smaller than cfg.MinOccurrences
// are discarded. Groups are returned ordered by normalized title.
func GroupActivities(records []*store.ActivityRecord, since, until time.Time, cfg *AnalysisConfig) *GroupResult {
	if cfg == nil {
		cfg = DefaultAnalysisConfig()
	}
	loc := cfg.location()
	result := &GroupResult{}
	byTitle := map[string]*Group{}
	seen := map[string]bool{}

	for _, record := range records {
		at, err := ParseTimestamp(record.OccurredAt, loc)
		if err != nil {
			result.Malformed++
			continue
		}
		if at.Before(since) || at.After(until) {
			continue
		}
		key := Normalize(record.Title)
		if key == "" {
			continue
		}
		if record.SourceID != "" {
			dedupe := key + "\x00" + record.SourceID
			if seen[dedupe] {
				continue
			}
			seen[dedupe] = true
		}

		group, ok := byTitle[key]
		if !ok {
			group = &Group{NormalizedTitle: key}
			byTitle[key] = group
		}
		group.Occurrences = append(group.Occurrences, Occurrence{
			At:       at,
			SourceID: record.SourceID,
			Type:     record.Type,
			Title:    record.Title,
		})
	}

	for _, group := range byTitle {
		if len(group.Occurrences) < cfg.MinOccurrences {
			result.Insufficient++
			continue
		}
		sort.SliceStable(group.Occurrences, func(i, j int) bool {
			return group.Occurrences[i].At.Before(group.Occurrences[j].At)
		})
		result.Groups = append(result.Groups, group)
	}
	sort.Slice(result.Groups, func(i, j int) bool {
		return result.Groups[i].NormalizedTitle < result.Groups[j].NormalizedTitle
	})
	return result
}
