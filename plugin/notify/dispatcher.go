package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/hrygo/routinesense/store"
)

const (
	// deliverTimeout bounds one downstream delivery.
	deliverTimeout = 5 * time.Second
	// dedupeWindow is how long a delivered key is remembered.
	dedupeWindow = 24 * time.Hour
)

var (
	// ErrQueueFull is returned by Emit when the queue is at capacity.
	ErrQueueFull = errors.New("notification queue full")
	// ErrDuplicate is returned by Emit for a notification already sent today.
	ErrDuplicate = errors.New("duplicate notification")
	// ErrClosed is returned by Emit after Close.
	ErrClosed = errors.New("dispatcher closed")
)

// QueueObserver receives the queue depth after each change.
// *metrics.PrometheusExporter implements it.
type QueueObserver interface {
	SetQueueDepth(n int)
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	QueueSize int
	// RatePerSecond limits deliveries; zero or less means unlimited.
	RatePerSecond float64
	Burst         int
	// Location defines the day used for dedupe keys.
	Location *time.Location
	Observer QueueObserver
	Logger   *slog.Logger
	// Now overrides time.Now for dedupe bookkeeping.
	Now func() time.Time
	// PruneInterval is how often dedupe keys older than the window are dropped.
	// Defaults to one hour.
	PruneInterval time.Duration
}

// Dispatcher queues notifications and delivers them to a downstream sink on a
// background goroutine at a bounded rate. A (user, kind, pattern, local day)
// key is delivered at most once per dedupeWindow.
type Dispatcher struct {
	sink     Sink
	queue    chan *store.Notification
	limiter  *rate.Limiter
	loc      *time.Location
	observer QueueObserver
	logger   *slog.Logger
	now      func() time.Time
	prune    time.Duration

	wg     sync.WaitGroup
	stopCh chan struct{}

	// stopCtx is cancelled with stopCh so a rate-limit wait ends on Close.
	stopCtx context.Context
	cancel  context.CancelFunc
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	seen    sync.Map // dedupe key -> unix seconds enqueued
}

// NewDispatcher starts a dispatcher in front of sink.
func NewDispatcher(sink Sink, cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Hour
	}

	d := &Dispatcher{
		sink:     sink,
		queue:    make(chan *store.Notification, cfg.QueueSize),
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		loc:      cfg.Location,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		now:      cfg.Now,
		prune:    cfg.PruneInterval,
		stopCh:   make(chan struct{}),
	}
	d.stopCtx, d.cancel = context.WithCancel(context.Background())
	d.wg.Add(1)
	go d.processQueue()
	return d
}

func (d *Dispatcher) dedupeKey(n *store.Notification) string {
	day := time.Unix(n.CreatedTs, 0)
	if n.CreatedTs == 0 {
		day = d.now()
	}
	return fmt.Sprintf("%d|%s|%s|%s", n.UserID, n.Kind, patternUID(n), day.In(d.loc).Format("2006-01-02"))
}

// Emit enqueues n without blocking.
func (d *Dispatcher) Emit(_ context.Context, n *store.Notification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	key := d.dedupeKey(n)
	now := d.now().Unix()
	if last, loaded := d.seen.LoadOrStore(key, now); loaded {
		if ts, ok := last.(int64); ok && now-ts < int64(dedupeWindow/time.Second) {
			d.logger.Debug("Dispatcher: ignoring duplicate notification", "key", key)
			return ErrDuplicate
		}
		d.seen.Store(key, now)
	}

	select {
	case d.queue <- n:
		d.observe()
		return nil
	default:
		d.seen.Delete(key)
		d.logger.Warn("Dispatcher: queue full, dropping notification",
			"user_id", n.UserID,
			"kind", n.Kind,
			"queue_size", len(d.queue))
		return ErrQueueFull
	}
}

func (d *Dispatcher) observe() {
	if d.observer != nil {
		d.observer.SetQueueDepth(len(d.queue))
	}
}

func (d *Dispatcher) processQueue() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.prune)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := d.pruneSeen(); n > 0 {
				d.logger.Debug("Dispatcher: pruned dedupe keys", "count", n)
			}
		case n := <-d.queue:
			d.observe()
			if err := d.limiter.Wait(d.stopCtx); err != nil {
				// Stopping: deliver without waiting in the drain below.
				d.deliver(n)
				d.drainQueue()
				return
			}
			d.deliver(n)
		case <-d.stopCh:
			d.drainQueue()
			return
		}
	}
}

// pruneSeen forgets dedupe keys older than dedupeWindow and returns how many.
func (d *Dispatcher) pruneSeen() int {
	cutoff := d.now().Unix() - int64(dedupeWindow/time.Second)
	pruned := 0
	d.seen.Range(func(key, value any) bool {
		if ts, ok := value.(int64); !ok || ts <= cutoff {
			d.seen.CompareAndDelete(key, value)
			pruned++
		}
		return true
	})
	return pruned
}

func (d *Dispatcher) deliver(n *store.Notification) bool {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	if err := d.sink.Emit(ctx, n); err != nil {
		d.logger.Error("Dispatcher: failed to deliver notification",
			"user_id", n.UserID,
			"kind", n.Kind,
			"error", err)
		return false
	}
	return true
}

func (d *Dispatcher) drainQueue() {
	d.logger.Info("Dispatcher: draining queue", "remaining", len(d.queue))
	lost, sent := 0, 0
	for {
		select {
		case n := <-d.queue:
			if d.deliver(n) {
				sent++
			} else {
				lost++
			}
		default:
			d.observe()
			if lost > 0 {
				d.logger.Error("Dispatcher: shutdown complete with undelivered notifications",
					"sent", sent,
					"lost", lost)
			}
			return
		}
	}
}

// Close stops accepting notifications, drains the queue and waits up to timeout.
func (d *Dispatcher) Close(timeout time.Duration) error {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.stopCh)
		d.cancel()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Dispatcher: shutdown complete")
		return nil
	case <-time.After(timeout):
		d.logger.Warn("Dispatcher: shutdown timeout")
		return context.DeadlineExceeded
	}
}

// QueueSize returns the current queue size.
func (d *Dispatcher) QueueSize() int {
	return len(d.queue)
}
