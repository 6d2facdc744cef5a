package syncclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/livewell/liveness"
)

type stubClient struct {
	mu      sync.Mutex
	pushed  []liveness.State
	release chan struct{}
	err     error
}

func (c *stubClient) Push(ctx context.Context, s liveness.State) (PushResult, error) {
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return PushResult{}, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushed = append(c.pushed, s)
	if c.err != nil {
		return PushResult{}, c.err
	}
	return PushResult{Success: true, UserID: s.UserID}, nil
}

func (c *stubClient) Pushed() []liveness.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]liveness.State(nil), c.pushed...)
}

func runPusher(t *testing.T, p *Pusher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestPusher_SyncsAndReportsStatus(t *testing.T) {
	client := &stubClient{}
	var mu sync.Mutex
	var phases []Phase
	p := NewPusher(client, PusherOptions{OnStatus: func(s Status) {
		mu.Lock()
		phases = append(phases, s.Phase)
		mu.Unlock()
	}})
	assert.Equal(t, PhaseIdle, p.Status().Phase)
	runPusher(t, p)

	p.Submit(registeredState())
	require.Eventually(t, func() bool { return p.Status().Phase == PhaseSynced }, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Phase{PhaseSyncing, PhaseSynced}, phases)
}

func TestPusher_IgnoresUnregistered(t *testing.T) {
	client := &stubClient{}
	p := NewPusher(client, PusherOptions{})
	runPusher(t, p)

	p.Submit(liveness.NewState())
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, client.Pushed())
	assert.Equal(t, PhaseIdle, p.Status().Phase)
}

func TestPusher_CoalescesToNewest(t *testing.T) {
	client := &stubClient{release: make(chan struct{})}
	p := NewPusher(client, PusherOptions{})
	runPusher(t, p)

	s := registeredState()
	p.Submit(s)
	require.Eventually(t, func() bool { return p.Status().Phase == PhaseSyncing }, time.Second, time.Millisecond)

	for i := 1; i <= 5; i++ {
		next := s
		next.Streak = i
		p.Submit(next)
	}
	close(client.release)

	require.Eventually(t, func() bool { return len(client.Pushed()) == 2 }, time.Second, time.Millisecond)
	pushed := client.Pushed()
	assert.Equal(t, 0, pushed[0].Streak)
	assert.Equal(t, 5, pushed[1].Streak)
}

func TestPusher_FailureSetsErrorStatus(t *testing.T) {
	client := &stubClient{err: errors.New("connection refused")}
	p := NewPusher(client, PusherOptions{})
	runPusher(t, p)

	p.Submit(registeredState())
	require.Eventually(t, func() bool { return p.Status().Phase == PhaseError }, time.Second, time.Millisecond)
	assert.Equal(t, "connection refused", p.Status().LastError)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, client.Pushed(), 1, "failed pushes are not retried automatically")
}
