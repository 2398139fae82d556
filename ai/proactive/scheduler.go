package proactive

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/hrygo/routinesense/ai/observability/logging"
	"github.com/hrygo/routinesense/store"
)

// Job names.
const (
	JobDetect = "detect"
	JobSweep  = "sweep"
)

// RunReport summarizes one scheduled run across users.
type RunReport struct {
	Job      string
	RunID    string
	Users    int
	Failed   int
	Skipped  bool
	Duration time.Duration
}

// Scheduler runs detection and forgotten-activity sweeps on their intervals,
// processing users concurrently up to Config.Concurrency. A run that is still
// in progress when its next tick fires makes that tick a no-op.
type Scheduler struct {
	detector *Detector
	monitor  *Monitor
	users    UserLister
	patterns PatternStore
	config   Config

	stopCh    chan struct{}
	wg        sync.WaitGroup
	running   atomic.Bool
	detecting atomic.Bool
	sweeping  atomic.Bool
	stats     *schedulerStats
	options
}

// NewScheduler creates a scheduler.
func NewScheduler(detector *Detector, monitor *Monitor, users UserLister, patterns PatternStore, cfg Config, opts ...Option) *Scheduler {
	return &Scheduler{
		detector: detector,
		monitor:  monitor,
		users:    users,
		patterns: patterns,
		config:   cfg.withDefaults(),
		stopCh:   make(chan struct{}),
		stats:    &schedulerStats{},
		options:  newOptions(opts),
	}
}

// Start starts both loops. Each runs once immediately, then on its interval.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return // Already running
	}

	s.wg.Add(2)
	go s.loop(ctx, s.config.DetectInterval, s.RunDetection)
	go s.loop(ctx, s.config.SweepInterval, s.RunSweep)

	s.logger.Info("routine scheduler started",
		"detect_interval", s.config.DetectInterval,
		"sweep_interval", s.config.SweepInterval,
		"concurrency", s.config.Concurrency,
	)
}

// Stop stops the loops and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return // Not running
	}
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("routine scheduler stopped")
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, run func(context.Context) (*RunReport, error)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.tick(ctx, run)
	for {
		select {
		case <-ticker.C:
			s.tick(ctx, run)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, run func(context.Context) (*RunReport, error)) {
	if _, err := run(ctx); err != nil {
		s.logger.Error("scheduled run failed", "error", err)
	}
}

// RunDetection runs one detection pass over every user active within the lookback.
func (s *Scheduler) RunDetection(ctx context.Context) (*RunReport, error) {
	if !s.detecting.CompareAndSwap(false, true) {
		return &RunReport{Job: JobDetect, Skipped: true}, nil
	}
	defer s.detecting.Store(false)

	ctx, report := s.begin(ctx, JobDetect)
	listCtx, cancel := context.WithTimeout(ctx, s.config.UserTimeout)
	defer cancel()
	users, err := s.users.ListActiveUserIDs(listCtx, s.now().Add(-s.config.Analysis.Lookback()))
	if err != nil {
		return report, storeUnavailable(err, "failed to list active users")
	}
	s.forEachUser(ctx, report, users, func(ctx context.Context, userID int32) error {
		_, err := s.detector.DetectUser(ctx, userID)
		return err
	})
	atomic.AddInt64(&s.stats.detectRuns, 1)
	s.stats.lastDetect.Store(s.now().Unix())
	return report, nil
}

// RunSweep runs one forgotten-activity sweep over every automated pattern.
func (s *Scheduler) RunSweep(ctx context.Context) (*RunReport, error) {
	if !s.sweeping.CompareAndSwap(false, true) {
		return &RunReport{Job: JobSweep, Skipped: true}, nil
	}
	defer s.sweeping.Store(false)

	ctx, report := s.begin(ctx, JobSweep)
	listCtx, cancel := context.WithTimeout(ctx, s.config.UserTimeout)
	defer cancel()
	autoCreated := true
	list, err := s.patterns.ListPatterns(listCtx, &store.FindPattern{AutoCreated: &autoCreated})
	if err != nil {
		return report, storeUnavailable(err, "failed to list automated patterns")
	}

	byUser := map[int32][]*store.Pattern{}
	for _, p := range list {
		byUser[p.UserID] = append(byUser[p.UserID], p)
	}
	users := make([]int32, 0, len(byUser))
	for userID := range byUser {
		users = append(users, userID)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	s.forEachUser(ctx, report, users, func(ctx context.Context, userID int32) error {
		_, err := s.monitor.SweepPatterns(ctx, userID, byUser[userID])
		return err
	})
	atomic.AddInt64(&s.stats.sweepRuns, 1)
	s.stats.lastSweep.Store(s.now().Unix())
	return report, nil
}

func (s *Scheduler) begin(ctx context.Context, job string) (context.Context, *RunReport) {
	report := &RunReport{Job: job, RunID: uuid.NewString()}
	logger := logging.FromContextOr(ctx, s.logger).With("job", job, "run_id", report.RunID)
	return logging.ToContext(ctx, logger), report
}

// forEachUser runs fn per user with bounded concurrency. A failing user is
// logged and counted; the others are unaffected.
func (s *Scheduler) forEachUser(ctx context.Context, report *RunReport, users []int32, fn func(context.Context, int32) error) {
	start := time.Now()
	sem := semaphore.NewWeighted(int64(s.config.Concurrency))
	var (
		wg     sync.WaitGroup
		failed atomic.Int64
	)

	for _, userID := range users {
		if err := sem.Acquire(ctx, 1); err != nil {
			break // Context done
		}
		wg.Add(1)
		go func(userID int32) {
			defer wg.Done()
			defer sem.Release(1)

			userCtx := logging.With(ctx, "user_id", userID)
			userStart := time.Now()
			err := fn(userCtx, userID)
			status := "success"
			if err != nil {
				status = "error"
				failed.Add(1)
				atomic.AddInt64(&s.stats.userFailures, 1)
				logging.FromContext(userCtx).Warn("user pass failed", "error", err)
			}
			s.metrics.RecordPass(report.Job, status, time.Since(userStart))
		}(userID)
	}
	wg.Wait()

	report.Users = len(users)
	report.Failed = int(failed.Load())
	report.Duration = time.Since(start)
	logging.FromContext(ctx).Info("run finished",
		"users", report.Users,
		"failed", report.Failed,
		"duration", report.Duration,
	)
}

// SchedulerStats contains scheduler statistics.
type SchedulerStats struct {
	Running      bool  `json:"running"`
	DetectRuns   int64 `json:"detectRuns"`
	SweepRuns    int64 `json:"sweepRuns"`
	UserFailures int64 `json:"userFailures"`
	LastDetectTs int64 `json:"lastDetectTs"`
	LastSweepTs  int64 `json:"lastSweepTs"`
}

type schedulerStats struct {
	detectRuns   int64
	sweepRuns    int64
	userFailures int64
	lastDetect   atomic.Int64
	lastSweep    atomic.Int64
}

// GetStats returns scheduler statistics.
func (s *Scheduler) GetStats() *SchedulerStats {
	return &SchedulerStats{
		Running:      s.running.Load(),
		DetectRuns:   atomic.LoadInt64(&s.stats.detectRuns),
		SweepRuns:    atomic.LoadInt64(&s.stats.sweepRuns),
		UserFailures: atomic.LoadInt64(&s.stats.userFailures),
		LastDetectTs: s.stats.lastDetect.Load(),
		LastSweepTs:  s.stats.lastSweep.Load(),
	}
}
