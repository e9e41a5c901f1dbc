package progress

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	// SyntheticCap is the highest value the estimator ever reports. The jump to
	// 100 belongs to the real completion transition.
	SyntheticCap = 92.0

	DefaultInterval = 800 * time.Millisecond

	baselinePixels = 1024 * 1024
)

// band is an increment range used while the estimate is below ceiling.
type band struct {
	ceiling  float64
	min, max float64
}

var bands = []band{
	{ceiling: 30, min: 4, max: 9},
	{ceiling: 70, min: 2, max: 5},
	{ceiling: SyntheticCap, min: 0.5, max: 2},
}

// Options configures an Estimator.
type Options struct {
	Interval time.Duration
	Clock    Clock
	// Rand supplies increments. It is only used under the estimator's lock.
	Rand   *rand.Rand
	Logger zerolog.Logger
}

// Estimator produces cosmetic, monotonically increasing progress values for
// in-flight jobs. It is never a liveness signal.
type Estimator struct {
	interval time.Duration
	clock    Clock
	logger   zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand

	active atomic.Int64
}

// New creates an estimator.
func New(opts Options) *Estimator {
	e := &Estimator{
		interval: opts.Interval,
		clock:    opts.Clock,
		rng:      opts.Rand,
		logger:   opts.Logger,
	}
	if e.interval <= 0 {
		e.interval = DefaultInterval
	}
	if e.clock == nil {
		e.clock = RealClock{}
	}
	if e.rng == nil {
		now := uint64(time.Now().UnixNano())
		e.rng = rand.New(rand.NewPCG(now, now>>17|1))
	}
	return e
}

// Run is one job's ticking. Stop must be called once the job is terminal.
type Run struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Stop cancels the ticking and waits until the run's goroutine has exited.
// It is safe to call more than once.
func (r *Run) Stop() {
	r.once.Do(func() { close(r.stop) })
	<-r.done
}

// Start begins reporting estimates for a job of the given pixel area. report
// receives each new value from the run's own goroutine.
func (e *Estimator) Start(jobID string, pixels int, report func(float64)) *Run {
	r := &Run{stop: make(chan struct{}), done: make(chan struct{})}
	ticker := e.clock.NewTicker(e.interval)
	e.active.Add(1)

	go func() {
		defer close(r.done)
		defer e.active.Add(-1)

		current := 0.0
		stopped := false
		stopTicker := func() {
			if !stopped {
				ticker.Stop()
				stopped = true
			}
		}
		defer stopTicker()

		ticks := ticker.C()
		for {
			select {
			case <-r.stop:
				return
			case <-ticks:
				next := e.Next(current, pixels)
				if next > current {
					current = next
					report(current)
				}
				if current >= SyntheticCap {
					e.logger.Debug().Str("job_id", jobID).Msg("progress: estimate reached cap")
					stopTicker()
					ticks = nil
				}
			}
		}
	}()
	return r
}

// Active reports the number of runs that have not been stopped.
func (e *Estimator) Active() int {
	return int(e.active.Load())
}

// Next returns the estimate following current for a job of the given pixel
// area. The result never exceeds SyntheticCap.
func (e *Estimator) Next(current float64, pixels int) float64 {
	if current >= SyntheticCap {
		return SyntheticCap
	}
	b := bands[len(bands)-1]
	for _, candidate := range bands {
		if current < candidate.ceiling {
			b = candidate
			break
		}
	}
	e.mu.Lock()
	step := b.min + e.rng.Float64()*(b.max-b.min)
	e.mu.Unlock()

	next := current + step*resolutionScale(pixels)
	if next > SyntheticCap {
		next = SyntheticCap
	}
	return next
}

// resolutionScale shrinks increments for jobs above one megapixel, since the
// provider takes longer on them.
func resolutionScale(pixels int) float64 {
	switch {
	case pixels <= baselinePixels:
		return 1
	case pixels <= 2*baselinePixels:
		return 0.75
	case pixels <= 4*baselinePixels:
		return 0.5
	default:
		return 0.35
	}
}
