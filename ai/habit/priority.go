package habit

import (
	"strings"

	"github.com/hrygo/routinesense/store"
)

// PriorityTable maps title keywords to a priority. Titles matching none get medium.
// Precedence is critical, then high, then low.
type PriorityTable struct {
	Critical []string `mapstructure:"critical" json:"critical"`
	High     []string `mapstructure:"high" json:"high"`
	Low      []string `mapstructure:"low" json:"low"`
}

// DefaultPriorityTable returns the built-in keyword lists.
func DefaultPriorityTable() PriorityTable {
	return PriorityTable{
		Critical: []string{"medication", "medicine", "pill", "bill", "payment", "rent"},
		High:     []string{"call mom", "call dad", "call family", "family", "exercise", "workout", "meeting", "deadline"},
		Low:      []string{"coffee", "tea", "break"},
	}
}

// Priority derives the priority of a title. A keyword matches a run of whole
// title words, each equal to the keyword word or to its plural or gerund.
func (t PriorityTable) Priority(title string) store.PatternPriority {
	words := foldWords(title)
	for _, tier := range []struct {
		keywords []string
		priority store.PatternPriority
	}{
		{t.Critical, store.PatternPriorityCritical},
		{t.High, store.PatternPriorityHigh},
		{t.Low, store.PatternPriorityLow},
	} {
		for _, keyword := range tier.keywords {
			if containsPhrase(words, foldWords(keyword)) {
				return tier.priority
			}
		}
	}
	return store.PatternPriorityMedium
}

func containsPhrase(words, phrase []string) bool {
	if len(phrase) == 0 {
		return false
	}
	for i := 0; i+len(phrase) <= len(words); i++ {
		matched := true
		for j, k := range phrase {
			if !inflectionOf(words[i+j], k) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

// inflectionOf reports whether w is k, its plural, or its gerund ("exercise" gives
// "exercising").
func inflectionOf(w, k string) bool {
	switch w {
	case k, k + "s", k + "es", k + "ing", strings.TrimSuffix(k, "e") + "ing":
		return true
	}
	return false
}
