package balance

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"genqueue/internal/domain"
)

// Source fetches the current provider balance.
type Source interface {
	Balance(ctx context.Context) (float64, error)
}

// Snapshot is the last known balance.
type Snapshot struct {
	Amount    float64   `json:"amount"`
	UpdatedAt time.Time `json:"updatedAt"`
	Stale     bool      `json:"stale"`
	Error     string    `json:"error,omitempty"`
}

// Options configures a Tracker.
type Options struct {
	Timeout time.Duration
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Tracker caches the provider balance and refreshes it when signalled. Bursts
// of refresh signals collapse into a single provider call.
type Tracker struct {
	source  Source
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time
	group   singleflight.Group

	mu   sync.RWMutex
	last Snapshot
	have bool
	wg   sync.WaitGroup
}

// NewTracker creates a tracker over source.
func NewTracker(source Source, opts Options) *Tracker {
	t := &Tracker{source: source, timeout: opts.Timeout, logger: opts.Logger, now: opts.Now}
	if t.timeout <= 0 {
		t.timeout = 10 * time.Second
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t
}

// Refresh fetches the balance now, sharing the call with concurrent callers.
func (t *Tracker) Refresh(ctx context.Context) (Snapshot, error) {
	v, err, _ := t.group.Do("balance", func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()
		amount, err := t.source.Balance(ctx)
		t.mu.Lock()
		defer t.mu.Unlock()
		if err != nil {
			t.last.Stale = true
			t.last.Error = err.Error()
			return t.last, err
		}
		t.last = Snapshot{Amount: amount, UpdatedAt: t.now()}
		t.have = true
		return t.last, nil
	})
	return v.(Snapshot), err
}

// Signal schedules a background refresh. It satisfies the scheduler's
// OnCompleted hook.
func (t *Tracker) Signal(job domain.JobRecord) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if _, err := t.Refresh(context.Background()); err != nil {
			t.logger.Warn().Err(err).Str("job_id", job.ID).Msg("balance: refresh failed")
		}
	}()
}

// Current returns the cached balance and whether one was ever fetched.
func (t *Tracker) Current() (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last, t.have
}

// Wait blocks until background refreshes started by Signal have finished.
func (t *Tracker) Wait() {
	t.wg.Wait()
}
