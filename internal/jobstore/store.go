package jobstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"genqueue/internal/domain"
)

// maxInFlightProgress keeps the synthetic estimate strictly below 100 until the
// real completion transition.
const maxInFlightProgress = 99.0

// Options configures a Store.
type Options struct {
	// Capacity is the queue capacity Q: the maximum number of jobs that may be
	// queued or processing at once.
	Capacity int
	Logger   zerolog.Logger
	// OnViolation receives contract violations (transitions from an invalid
	// source state). Defaults to logging at error level.
	OnViolation func(error)
	Now         func() time.Time
	NewID       func() string
}

// Store owns the authoritative collection of job records. All mutations go
// through its transition methods; readers receive deep copies.
type Store struct {
	mu       sync.RWMutex
	order    []string
	jobs     map[string]*domain.JobRecord
	capacity int

	subMu       sync.Mutex
	subscribers []chan struct{}

	logger      zerolog.Logger
	onViolation func(error)
	now         func() time.Time
	newID       func() string
}

// New creates an empty store.
func New(opts Options) *Store {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = 5
	}
	s := &Store{
		jobs:     make(map[string]*domain.JobRecord),
		capacity: capacity,
		logger:   opts.Logger,
		now:      opts.Now,
		newID:    opts.NewID,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	s.onViolation = opts.OnViolation
	if s.onViolation == nil {
		s.onViolation = func(err error) {
			s.logger.Error().Err(err).Msg("jobstore: contract violation ignored")
		}
	}
	return s
}

// Capacity returns Q.
func (s *Store) Capacity() int {
	return s.capacity
}

// Subscribe returns a channel that receives a value after every mutation.
// Notifications coalesce: a slow reader sees at most one pending signal, so
// consumers must re-read the snapshot rather than count signals.
func (s *Store) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.subMu.Unlock()
	return ch
}

func (s *Store) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Create appends a queued job for req. It fails with *domain.CapacityError when
// Q jobs are already queued or processing.
func (s *Store) Create(req domain.GenerationRequest) (string, error) {
	s.mu.Lock()
	active := 0
	for _, id := range s.order {
		if s.jobs[id].Status.IsActive() {
			active++
		}
	}
	if active >= s.capacity {
		s.mu.Unlock()
		return "", &domain.CapacityError{Capacity: s.capacity}
	}
	id := s.newID()
	if _, exists := s.jobs[id]; exists {
		s.mu.Unlock()
		return "", fmt.Errorf("jobstore: duplicate job id %q", id)
	}
	s.jobs[id] = &domain.JobRecord{
		ID:        id,
		Request:   req.Clone(),
		Status:    domain.JobStatusQueued,
		Progress:  0,
		CreatedAt: s.now(),
	}
	s.order = append(s.order, id)
	s.mu.Unlock()

	s.logger.Debug().Str("job_id", id).Msg("jobstore: job queued")
	s.notify()
	return id, nil
}

// TransitionToProcessing moves a queued job to processing and stamps startedAt.
func (s *Store) TransitionToProcessing(id string, now time.Time) error {
	_, err := s.transition(id, domain.JobStatusProcessing, func(j *domain.JobRecord) {
		j.StartedAt = &now
	})
	return err
}

// SetProgress raises the progress of a processing job. Values are clamped to
// [current, 100); calls on jobs that are not processing are ignored.
func (s *Store) SetProgress(id string, value float64) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok || j.Status != domain.JobStatusProcessing {
		s.mu.Unlock()
		return
	}
	if value > maxInFlightProgress {
		value = maxInFlightProgress
	}
	if value <= j.Progress {
		s.mu.Unlock()
		return
	}
	j.Progress = value
	s.mu.Unlock()
	s.notify()
}

// Complete closes a processing job with its results.
func (s *Store) Complete(id string, results []domain.ImageResult, now time.Time) error {
	_, err := s.CompleteOutcome(id, domain.Outcome{Results: results}, now)
	return err
}

// CompleteOutcome closes a processing job and returns the closed record. A
// pending outcome is recorded as an informational notice with no results.
func (s *Store) CompleteOutcome(id string, outcome domain.Outcome, now time.Time) (domain.JobRecord, error) {
	return s.transition(id, domain.JobStatusCompleted, func(j *domain.JobRecord) {
		j.CompletedAt = &now
		j.Progress = 100
		if outcome.Pending() {
			j.PendingTaskID = outcome.PendingTaskID
			j.Notice = fmt.Sprintf("provider is still processing task %s", outcome.PendingTaskID)
			return
		}
		j.Results = domain.CloneResults(outcome.Results)
		if j.Results == nil {
			j.Results = []domain.ImageResult{}
		}
	})
}

// Fail closes a processing job with a human-readable reason and returns the
// closed record.
func (s *Store) Fail(id string, kind domain.FailureKind, reason string, now time.Time) (domain.JobRecord, error) {
	return s.transition(id, domain.JobStatusFailed, func(j *domain.JobRecord) {
		j.CompletedAt = &now
		j.Error = reason
		j.ErrorKind = kind
	})
}

// transition applies a validated status change and returns a copy of the
// record as it stood when the lock was released.
func (s *Store) transition(id string, to domain.JobStatus, apply func(*domain.JobRecord)) (domain.JobRecord, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return domain.JobRecord{}, fmt.Errorf("jobstore: job %s: %w", id, domain.ErrNotFound)
	}
	from := j.Status
	if err := domain.ValidateTransition(from, to); err != nil {
		s.mu.Unlock()
		err = fmt.Errorf("jobstore: job %s: %w", id, err)
		s.onViolation(err)
		return domain.JobRecord{}, err
	}
	j.Status = to
	apply(j)
	rec := j.Clone()
	s.mu.Unlock()

	s.logger.Debug().Str("job_id", id).Str("from", string(from)).Str("to", string(to)).Msg("jobstore: transition")
	s.notify()
	return rec, nil
}

// Remove deletes a terminal job (user dismiss).
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("jobstore: job %s: %w", id, domain.ErrNotFound)
	}
	if !j.Status.IsTerminal() {
		s.mu.Unlock()
		return fmt.Errorf("jobstore: job %s is %s: %w", id, j.Status, domain.ErrNotTerminal)
	}
	s.deleteLocked(id)
	s.mu.Unlock()
	s.notify()
	return nil
}

// Cancel deletes a job that has not been admitted yet.
func (s *Store) Cancel(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("jobstore: job %s: %w", id, domain.ErrNotFound)
	}
	if j.Status != domain.JobStatusQueued {
		s.mu.Unlock()
		return fmt.Errorf("jobstore: job %s is %s: %w", id, j.Status, domain.ErrNotQueued)
	}
	s.deleteLocked(id)
	s.mu.Unlock()
	s.notify()
	return nil
}

// ClearTerminal removes every completed or failed job and returns how many
// were removed.
func (s *Store) ClearTerminal() int {
	s.mu.Lock()
	kept := s.order[:0]
	removed := 0
	for _, id := range s.order {
		if s.jobs[id].Status.IsTerminal() {
			delete(s.jobs, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	s.mu.Unlock()
	if removed > 0 {
		s.notify()
	}
	return removed
}

func (s *Store) deleteLocked(id string) {
	delete(s.jobs, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Get returns a copy of one job.
func (s *Store) Get(id string) (domain.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.JobRecord{}, fmt.Errorf("jobstore: job %s: %w", id, domain.ErrNotFound)
	}
	return j.Clone(), nil
}

// Snapshot returns copies of all jobs in creation order.
func (s *Store) Snapshot() []domain.JobRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.JobRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.jobs[id].Clone())
	}
	return out
}

// Counts returns the number of jobs per status.
func (s *Store) Counts() map[domain.JobStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[domain.JobStatus]int, 4)
	for _, id := range s.order {
		counts[s.jobs[id].Status]++
	}
	return counts
}
