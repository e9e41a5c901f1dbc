package balance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genqueue/internal/domain"
)

type slowSource struct {
	calls   atomic.Int32
	release chan struct{}
	amount  float64
	err     error
}

func (s *slowSource) Balance(ctx context.Context) (float64, error) {
	s.calls.Add(1)
	if s.release != nil {
		<-s.release
	}
	return s.amount, s.err
}

func TestRefreshCollapsesConcurrentCalls(t *testing.T) {
	src := &slowSource{release: make(chan struct{}), amount: 42.5}
	tracker := NewTracker(src, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := tracker.Refresh(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, 42.5, snap.Amount)
		}()
	}
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(src.release)
	wg.Wait()

	assert.LessOrEqual(t, src.calls.Load(), int32(2))
	snap, ok := tracker.Current()
	assert.True(t, ok)
	assert.Equal(t, 42.5, snap.Amount)
}

func TestSignalRefreshesInBackground(t *testing.T) {
	src := &slowSource{amount: 3}
	tracker := NewTracker(src, Options{})
	_, ok := tracker.Current()
	require.False(t, ok)

	tracker.Signal(domain.JobRecord{ID: "job-1"})
	tracker.Wait()

	snap, ok := tracker.Current()
	require.True(t, ok)
	assert.Equal(t, 3.0, snap.Amount)
	assert.False(t, snap.Stale)
}

func TestFailedRefreshMarksStale(t *testing.T) {
	src := &slowSource{amount: 10}
	tracker := NewTracker(src, Options{})
	_, err := tracker.Refresh(context.Background())
	require.NoError(t, err)

	src.err = errors.New("provider down")
	_, err = tracker.Refresh(context.Background())
	require.Error(t, err)

	snap, ok := tracker.Current()
	require.True(t, ok)
	assert.True(t, snap.Stale)
	assert.Equal(t, 10.0, snap.Amount)
	assert.Equal(t, "provider down", snap.Error)
}
