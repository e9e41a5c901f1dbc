package scheduler

//go:generate mockgen -destination=mocks/mock_generator.go -package=mocks genqueue/internal/scheduler Generator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"genqueue/internal/domain"
	"genqueue/internal/progress"
)

const defaultResyncInterval = 5 * time.Second

// Generator performs the provider call for one admitted job. Errors should be
// *domain.AdapterError; anything else is recorded as a server error.
type Generator interface {
	Generate(ctx context.Context, job domain.JobRecord) (domain.Outcome, error)
}

// JobStore is the subset of the job store the scheduler drives.
type JobStore interface {
	Snapshot() []domain.JobRecord
	Subscribe() <-chan struct{}
	TransitionToProcessing(id string, now time.Time) error
	SetProgress(id string, value float64)
	CompleteOutcome(id string, outcome domain.Outcome, now time.Time) (domain.JobRecord, error)
	Fail(id string, kind domain.FailureKind, reason string, now time.Time) (domain.JobRecord, error)
}

// Options configures a Scheduler.
type Options struct {
	// Concurrency is the cap C on jobs processing at once.
	Concurrency int
	// ResyncInterval forces a reconciliation even without store notifications.
	ResyncInterval time.Duration
	Logger         zerolog.Logger
	Metrics        *Metrics
	Now            func() time.Time
	// OnCompleted fires once after every complete transition.
	OnCompleted func(domain.JobRecord)
	// OnTerminal fires once after every complete or fail transition.
	OnTerminal func(domain.JobRecord)
}

// Scheduler admits queued jobs up to the concurrency cap in creation order and
// drives each admitted job to exactly one terminal transition.
type Scheduler struct {
	store       JobStore
	generator   Generator
	estimator   *progress.Estimator
	concurrency int
	resync      time.Duration
	logger      zerolog.Logger
	metrics     *Metrics
	now         func() time.Time
	onCompleted func(domain.JobRecord)
	onTerminal  func(domain.JobRecord)

	mu       sync.Mutex
	admitted map[string]struct{}
	baseCtx  context.Context
	stopping bool

	wg        sync.WaitGroup
	kick      chan struct{}
	stopCh    chan struct{}
	loopDone  chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
}

// New creates a scheduler. It does nothing until Start or Reconcile is called.
func New(store JobStore, generator Generator, estimator *progress.Estimator, opts Options) *Scheduler {
	s := &Scheduler{
		store:       store,
		generator:   generator,
		estimator:   estimator,
		concurrency: opts.Concurrency,
		resync:      opts.ResyncInterval,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		now:         opts.Now,
		onCompleted: opts.OnCompleted,
		onTerminal:  opts.OnTerminal,
		admitted:    make(map[string]struct{}),
		baseCtx:     context.Background(),
		kick:        make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		loopDone:    make(chan struct{}),
	}
	if s.concurrency <= 0 {
		s.concurrency = 1
	}
	if s.resync <= 0 {
		s.resync = defaultResyncInterval
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.estimator == nil {
		s.estimator = progress.New(progress.Options{Logger: opts.Logger})
	}
	return s
}

// Start launches the control loop. Provider calls made for admitted jobs
// inherit ctx values but not its cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.mu.Lock()
		s.baseCtx = context.WithoutCancel(ctx)
		s.started = true
		s.mu.Unlock()

		notify := s.store.Subscribe()
		go s.loop(ctx, notify)
		s.logger.Info().Int("concurrency", s.concurrency).Dur("resync", s.resync).Msg("scheduler: started")
	})
}

func (s *Scheduler) loop(ctx context.Context, notify <-chan struct{}) {
	defer close(s.loopDone)
	ticker := time.NewTicker(s.resync)
	defer ticker.Stop()

	s.Reconcile()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-notify:
			s.Reconcile()
		case <-s.kick:
			s.Reconcile()
		case <-ticker.C:
			s.Reconcile()
		}
	}
}

// Reconcile runs one admission pass and returns the number of jobs admitted.
// It is level-triggered and safe to call redundantly or concurrently.
func (s *Scheduler) Reconcile() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.store.Snapshot()
	counts := make(map[domain.JobStatus]int, 4)
	inFlight := 0
	var candidates []domain.JobRecord
	for _, job := range snapshot {
		counts[job.Status]++
		_, admitted := s.admitted[job.ID]
		switch job.Status {
		case domain.JobStatusProcessing:
			inFlight++
		case domain.JobStatusQueued:
			if admitted {
				inFlight++
				continue
			}
			candidates = append(candidates, job)
		}
	}
	defer func() { s.metrics.observeCounts(counts) }()

	if s.stopping || inFlight >= s.concurrency || len(candidates) == 0 {
		return 0
	}

	free := s.concurrency - inFlight
	admittedNow := 0
	for _, job := range candidates {
		if admittedNow == free {
			break
		}
		now := s.now()
		if err := s.store.TransitionToProcessing(job.ID, now); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("scheduler: admission skipped")
			continue
		}
		s.admitted[job.ID] = struct{}{}
		admittedNow++
		counts[domain.JobStatusQueued]--
		counts[domain.JobStatusProcessing]++
		s.metrics.admitted()

		job.Status = domain.JobStatusProcessing
		job.StartedAt = &now
		s.wg.Add(1)
		go s.process(s.baseCtx, job)
	}
	if admittedNow > 0 {
		s.logger.Debug().Int("admitted", admittedNow).Int("in_flight", inFlight+admittedNow).Msg("scheduler: admitted jobs")
	}
	return admittedNow
}

// process owns one admitted job until its terminal transition.
func (s *Scheduler) process(ctx context.Context, job domain.JobRecord) {
	defer s.wg.Done()
	defer s.release(job.ID)

	log := s.logger.With().Str("job_id", job.ID).Logger()
	log.Info().Str("mode", string(job.Request.Mode)).Int("count", job.Request.Count).Msg("scheduler: job processing")

	run := s.estimator.Start(job.ID, job.Request.Pixels(), func(v float64) {
		s.store.SetProgress(job.ID, v)
	})
	started := s.now()
	outcome, err := s.call(ctx, job)
	run.Stop()
	elapsed := s.now().Sub(started)

	if err != nil {
		ae := domain.AsAdapterError(err)
		rec, ferr := s.store.Fail(job.ID, ae.Kind, ae.Error(), s.now())
		if ferr != nil {
			log.Error().Err(ferr).Msg("scheduler: fail transition rejected")
			return
		}
		s.metrics.finished(string(ae.Kind), elapsed)
		log.Warn().Str("kind", string(ae.Kind)).Err(ae).Msg("scheduler: job failed")
		s.fireTerminal(rec, false)
		return
	}

	rec, cerr := s.store.CompleteOutcome(job.ID, outcome, s.now())
	if cerr != nil {
		log.Error().Err(cerr).Msg("scheduler: complete transition rejected")
		return
	}
	label := "completed"
	if outcome.Pending() {
		label = "pending"
		log.Info().Str("task_id", outcome.PendingTaskID).Msg("scheduler: job pending at provider")
	} else {
		log.Info().Int("results", len(outcome.Results)).Dur("elapsed", elapsed).Msg("scheduler: job completed")
	}
	s.metrics.finished(label, elapsed)
	s.fireTerminal(rec, true)
}

// call invokes the generator, converting a panic into a server error so one
// job cannot take down the control loop.
func (s *Scheduler) call(ctx context.Context, job domain.JobRecord) (outcome domain.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("job_id", job.ID).Str("stack", string(debug.Stack())).Msgf("scheduler: generator panic: %v", r)
			err = &domain.AdapterError{Kind: domain.FailureServerError, Message: fmt.Sprintf("generator panic: %v", r)}
		}
	}()
	return s.generator.Generate(ctx, job)
}

// fireTerminal hands hooks the record captured by the transition itself, so a
// dismiss racing the hooks cannot suppress them.
func (s *Scheduler) fireTerminal(rec domain.JobRecord, completed bool) {
	if completed && s.onCompleted != nil {
		s.safeHook("on_completed", func() { s.onCompleted(rec) })
	}
	if s.onTerminal != nil {
		s.safeHook("on_terminal", func() { s.onTerminal(rec) })
	}
}

func (s *Scheduler) safeHook(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("hook", name).Msgf("scheduler: hook panic: %v", r)
		}
	}()
	fn()
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	delete(s.admitted, id)
	s.mu.Unlock()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// InFlight reports jobs admitted by this scheduler that have not finished.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.admitted)
}

// Stop halts admissions and waits for in-flight jobs to finish or ctx to end.
// In-flight provider calls are never cancelled by Stop.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopping = true
		started := s.started
		s.mu.Unlock()
		close(s.stopCh)
		if started {
			<-s.loopDone
		}
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info().Msg("scheduler: stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: waiting for %d in-flight jobs: %w", s.InFlight(), ctx.Err())
	}
}
