package syncclient

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/livewell/liveness"
)

// Phase is where a Pusher is in its push cycle.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseSyncing Phase = "syncing"
	PhaseSynced  Phase = "synced"
	PhaseError   Phase = "error"
)

// Status is reported to OnStatus on every phase change.
type Status struct {
	Phase     Phase     `json:"phase"`
	LastError string    `json:"lastError,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type PusherOptions struct {
	// Timeout bounds one push including retries. Defaults to 30s.
	Timeout  time.Duration
	OnStatus func(Status)
	Logger   *zap.Logger
	Now      func() time.Time
}

// Pusher delivers snapshots in the background. At most one push is in flight;
// snapshots submitted meanwhile collapse into the newest one.
type Pusher struct {
	client Pushing
	opts   PusherOptions
	log    *zap.Logger
	wake   chan struct{}

	mu      sync.Mutex
	pending *liveness.State
	status  Status
}

func NewPusher(client Pushing, opts PusherOptions) *Pusher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Pusher{
		client: client,
		opts:   opts,
		log:    log,
		wake:   make(chan struct{}, 1),
		status: Status{Phase: PhaseIdle, UpdatedAt: opts.Now()},
	}
}

// Submit queues s for delivery and returns immediately. Unregistered subjects
// are never pushed.
func (p *Pusher) Submit(s liveness.State) {
	if !s.IsRegistered {
		return
	}
	p.mu.Lock()
	p.pending = &s
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pusher) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Run is the single worker. It returns when ctx ends.
func (p *Pusher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		}
		for {
			p.mu.Lock()
			next := p.pending
			p.pending = nil
			p.mu.Unlock()
			if next == nil {
				break
			}
			p.push(ctx, *next)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (p *Pusher) push(ctx context.Context, s liveness.State) {
	p.setStatus(Status{Phase: PhaseSyncing})

	pushCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()
	_, err := p.client.Push(pushCtx, s)
	if err != nil {
		p.log.Warn("sync push failed", zap.String("user_id", s.UserID), zap.Error(err))
		p.setStatus(Status{Phase: PhaseError, LastError: err.Error()})
		return
	}
	p.log.Debug("sync push ok", zap.String("user_id", s.UserID))
	p.setStatus(Status{Phase: PhaseSynced})
}

func (p *Pusher) setStatus(st Status) {
	st.UpdatedAt = p.opts.Now()
	p.mu.Lock()
	p.status = st
	p.mu.Unlock()
	if p.opts.OnStatus != nil {
		p.opts.OnStatus(st)
	}
}
