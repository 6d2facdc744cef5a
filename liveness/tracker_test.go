package liveness

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func startTracker(t *testing.T, s State, opts TrackerOptions) *Tracker {
	t.Helper()
	tr := NewTracker(s, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return tr
}

func TestTracker_CheckInUpdatesSnapshotAndNotifies(t *testing.T) {
	clk := &fakeClock{now: base}
	changes := make(chan State, 4)
	tr := startTracker(t, NewState(), TrackerOptions{
		Policy:   utcPolicy(),
		Interval: time.Hour,
		Now:      clk.Now,
		OnChange: func(s State) { changes <- s },
	})

	s, err := tr.CheckIn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Streak)
	assert.Equal(t, base.UnixMilli(), *tr.Snapshot().LastCheckIn)

	select {
	case got := <-changes:
		assert.Equal(t, s, got)
	case <-time.After(time.Second):
		t.Fatal("OnChange not called")
	}

	st := tr.Status()
	assert.True(t, st.IsLive)
	assert.Equal(t, int64(48*3600), st.SecondsToAlert)
}

func TestTracker_TicksRecomputeStatus(t *testing.T) {
	clk := &fakeClock{now: base}
	ticks := make(chan Status, 64)
	p := utcPolicy()
	p.Threshold = time.Minute
	initial := NewState().RecordCheckIn(base, p)
	startTracker(t, initial, TrackerOptions{
		Policy:   p,
		Interval: 5 * time.Millisecond,
		Now:      clk.Now,
		OnTick: func(s Status) {
			select {
			case ticks <- s:
			default:
			}
		},
	})

	first := <-ticks
	assert.Equal(t, int64(60), first.SecondsToAlert)
	clk.Advance(2 * time.Minute)
	require.Eventually(t, func() bool {
		select {
		case s := <-ticks:
			return s.SecondsToAlert == 0
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestTracker_SerializesConcurrentUpdates(t *testing.T) {
	tr := startTracker(t, NewState(), TrackerOptions{Interval: time.Hour})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.Update(context.Background(), func(s State) State {
				s.Streak++
				return s
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, tr.Snapshot().Streak)
}

func TestTracker_UpdateAfterStop(t *testing.T) {
	tr := NewTracker(NewState(), TrackerOptions{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, tr.Run(ctx), context.Canceled)

	_, err := tr.Update(context.Background(), func(s State) State { return s })
	assert.ErrorIs(t, err, ErrStopped)
}
