// Package proactive turns detected routines into persisted patterns, offers to
// automate them, and nudges the user when an automated routine is skipped.
package proactive

import (
	"time"

	"github.com/hrygo/routinesense/ai/habit"
	"github.com/hrygo/routinesense/store"
)

// Config configures detection, offers and the forgotten-activity sweep.
type Config struct {
	Analysis *habit.AnalysisConfig

	// CreateThreshold is the minimum consistency for a new pattern to be persisted.
	CreateThreshold float64
	// OfferThreshold is the minimum consistency for the automation offer.
	OfferThreshold float64
	// StaleAfter is how long a pattern may go without evidence before it is surfaced for cleanup.
	StaleAfter time.Duration

	DetectInterval time.Duration
	SweepInterval  time.Duration
	// Concurrency bounds how many users are processed at once.
	Concurrency int
	// UserTimeout bounds one user's pass, store and source calls included.
	UserTimeout time.Duration

	GracePeriods map[store.PatternPriority]time.Duration
	Priorities   habit.PriorityTable
}

// DefaultGracePeriods returns the delay after the scheduled time before a routine counts as forgotten.
func DefaultGracePeriods() map[store.PatternPriority]time.Duration {
	return map[store.PatternPriority]time.Duration{
		store.PatternPriorityCritical: 15 * time.Minute,
		store.PatternPriorityHigh:     20 * time.Minute,
		store.PatternPriorityMedium:   30 * time.Minute,
		store.PatternPriorityLow:      60 * time.Minute,
	}
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Analysis:        habit.DefaultAnalysisConfig(),
		CreateThreshold: 0.6,
		OfferThreshold:  0.7,
		StaleAfter:      7 * 24 * time.Hour,
		DetectInterval:  time.Hour,
		SweepInterval:   10 * time.Minute,
		Concurrency:     4,
		UserTimeout:     30 * time.Second,
		GracePeriods:    DefaultGracePeriods(),
		Priorities:      habit.DefaultPriorityTable(),
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Analysis == nil {
		c.Analysis = d.Analysis
	}
	if c.Analysis.Location == nil {
		analysis := *c.Analysis
		analysis.Location = time.Local
		c.Analysis = &analysis
	}
	if c.CreateThreshold <= 0 {
		c.CreateThreshold = d.CreateThreshold
	}
	if c.OfferThreshold <= 0 {
		c.OfferThreshold = d.OfferThreshold
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	if c.DetectInterval <= 0 {
		c.DetectInterval = d.DetectInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.UserTimeout <= 0 {
		c.UserTimeout = d.UserTimeout
	}
	if len(c.GracePeriods) == 0 {
		c.GracePeriods = d.GracePeriods
	}
	if len(c.Priorities.Critical)+len(c.Priorities.High)+len(c.Priorities.Low) == 0 {
		c.Priorities = d.Priorities
	}
	return c
}

// GracePeriod returns the grace period for a priority, defaulting to the medium one.
func (c Config) GracePeriod(priority store.PatternPriority) time.Duration {
	if grace, ok := c.GracePeriods[priority]; ok {
		return grace
	}
	return DefaultGracePeriods()[store.PatternPriorityMedium]
}

func (c Config) location() *time.Location {
	return c.Analysis.Location
}
