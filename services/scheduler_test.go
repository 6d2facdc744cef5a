package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	runs int32
}

func (c *countingRunner) Run(ctx context.Context) (*Report, error) {
	atomic.AddInt32(&c.runs, 1)
	return &Report{Status: "success"}, nil
}

func TestStartScheduler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &countingRunner{}
	done := StartScheduler(ctx, runner, 10*time.Millisecond, nil)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&runner.runs) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestStartScheduler_Disabled(t *testing.T) {
	runner := &countingRunner{}
	done := StartScheduler(context.Background(), runner, 0, nil)
	<-done
	assert.Zero(t, atomic.LoadInt32(&runner.runs))
}
