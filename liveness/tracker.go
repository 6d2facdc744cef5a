package liveness

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned by Update after Run has returned.
var ErrStopped = errors.New("tracker stopped")

// Status is what the UI shows on every tick.
type Status struct {
	At             time.Time `json:"at"`
	IsLive         bool      `json:"isLive"`
	SecondsToAlert int64     `json:"secondsToAlert"`
	Streak         int       `json:"streak"`
	LastCheckIn    *int64    `json:"lastCheckIn"`
}

// StatusAt derives the display status of s at now.
func StatusAt(s State, now time.Time, p Policy) Status {
	st := Status{
		At:             now,
		IsLive:         s.IsLive(now, p),
		SecondsToAlert: s.SecondsToAlert(now, p),
		Streak:         s.Streak,
	}
	if s.LastCheckIn != nil {
		v := *s.LastCheckIn
		st.LastCheckIn = &v
	}
	return st
}

type TrackerOptions struct {
	Policy   Policy
	Interval time.Duration
	Now      func() time.Time
	// OnTick receives the recomputed status every Interval and after every change.
	OnTick func(Status)
	// OnChange receives each committed state by value, e.g. to hand it to a Pusher.
	OnChange func(State)
}

type command struct {
	fn    func(State) State
	reply chan State
}

// Tracker owns one subject's State. Ticks and mutations run on the Run goroutine,
// so a tick never observes a half-applied update.
type Tracker struct {
	opts  TrackerOptions
	cmds  chan command
	done  chan struct{}
	state State

	mu       sync.RWMutex
	snapshot State
}

func NewTracker(initial State, opts TrackerOptions) *Tracker {
	opts.Policy = opts.Policy.normalized()
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	initial = initial.clone()
	return &Tracker{
		opts:     opts,
		cmds:     make(chan command),
		done:     make(chan struct{}),
		state:    initial,
		snapshot: initial,
	}
}

// Run drives the tick loop until ctx ends.
func (t *Tracker) Run(ctx context.Context) error {
	defer close(t.done)
	ticker := time.NewTicker(t.opts.Interval)
	defer ticker.Stop()

	t.tick()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.tick()
		case cmd := <-t.cmds:
			next := cmd.fn(t.state.clone())
			t.state = next
			t.mu.Lock()
			t.snapshot = next
			t.mu.Unlock()
			if t.opts.OnChange != nil {
				t.opts.OnChange(next.clone())
			}
			cmd.reply <- next.clone()
			t.tick()
		}
	}
}

func (t *Tracker) tick() {
	if t.opts.OnTick != nil {
		t.opts.OnTick(StatusAt(t.state, t.opts.Now(), t.opts.Policy))
	}
}

// Update applies fn to the current state on the loop goroutine and returns the committed result.
func (t *Tracker) Update(ctx context.Context, fn func(State) State) (State, error) {
	reply := make(chan State, 1)
	select {
	case t.cmds <- command{fn: fn, reply: reply}:
	case <-ctx.Done():
		return State{}, ctx.Err()
	case <-t.done:
		return State{}, ErrStopped
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// CheckIn records a check-in at the tracker's current time.
func (t *Tracker) CheckIn(ctx context.Context) (State, error) {
	return t.Update(ctx, func(s State) State {
		return s.RecordCheckIn(t.opts.Now(), t.opts.Policy)
	})
}

// Snapshot returns the last committed state.
func (t *Tracker) Snapshot() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot.clone()
}

// Status derives the current status from the last committed state.
func (t *Tracker) Status() Status {
	return StatusAt(t.Snapshot(), t.opts.Now(), t.opts.Policy)
}
