package chatsync

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is the scheduler's state.
type State int

const (
	// Idle means no conversation is being polled.
	Idle State = iota
	// Polling means a timer is registered and firing polls.
	Polling
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	default:
		return "unknown"
	}
}

// Default poll periods for the two shells.
const (
	WidgetPollInterval = 5 * time.Second
	InboxPollInterval  = 10 * time.Second
)

// PollFunc runs one poll. ctx is cancelled when the scheduler leaves the
// Polling state for the conversation the poll was started for.
type PollFunc func(ctx context.Context)

// ticker is the part of time.Ticker the scheduler uses.
type ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type realTicker struct{ *time.Ticker }

func (t realTicker) Chan() <-chan time.Time { return t.C }

func newRealTicker(d time.Duration) ticker { return realTicker{time.NewTicker(d)} }

// Scheduler drives polls for at most one conversation at a time.
//
// Start moves Idle→Polling. Start for a different conversation cancels the
// running timer before registering a new one, so a stale timer can never
// keep polling the old conversation. Stop returns to Idle. Polls are run
// sequentially on one goroutine: a tick that arrives while a poll is
// outstanding is dropped, not queued.
type Scheduler struct {
	interval  time.Duration
	immediate bool
	newTicker func(time.Duration) ticker
	logger    *slog.Logger

	mu     sync.Mutex
	state  State
	target string
	ticker ticker
	cancel context.CancelFunc
	done   chan struct{}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithoutImmediatePoll makes Start wait for the first tick instead of
// polling right away.
func WithoutImmediatePoll() SchedulerOption {
	return func(s *Scheduler) { s.immediate = false }
}

// WithSchedulerLogger sets the scheduler's logger.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = logger }
}

// NewScheduler returns an Idle scheduler with the given period. A
// non-positive interval falls back to WidgetPollInterval.
func NewScheduler(interval time.Duration, options ...SchedulerOption) *Scheduler {
	if interval <= 0 {
		interval = WidgetPollInterval
	}
	s := &Scheduler{
		interval:  interval,
		immediate: true,
		newTicker: newRealTicker,
		logger:    slog.Default(),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Start begins polling conversationID with poll. Starting the conversation
// that is already being polled is a no-op.
func (s *Scheduler) Start(conversationID string, poll PollFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Polling && s.target == conversationID {
		return
	}
	s.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	t := s.newTicker(s.interval)
	done := make(chan struct{})

	s.state = Polling
	s.target = conversationID
	s.ticker = t
	s.cancel = cancel
	s.done = done

	s.logger.Debug("polling started", "conversation_id", conversationID, "interval", s.interval)
	go s.run(ctx, t, poll, done)
}

// Stop cancels the timer and returns to Idle. No poll begins after Stop
// returns; a poll already in flight sees its context cancelled. Stop is
// safe to call from inside a PollFunc.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.state == Idle {
		return
	}
	s.ticker.Stop()
	s.cancel()
	s.logger.Debug("polling stopped", "conversation_id", s.target)

	s.state = Idle
	s.target = ""
	s.ticker = nil
	s.cancel = nil
	s.done = nil
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Target returns the conversation being polled, or "" when Idle.
func (s *Scheduler) Target() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Done returns a channel closed when the current polling goroutine exits.
// It returns a closed channel when Idle.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

func (s *Scheduler) run(ctx context.Context, t ticker, poll PollFunc, done chan struct{}) {
	defer close(done)

	if s.immediate && ctx.Err() == nil {
		poll(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			// Both cases can be ready at once; cancellation wins.
			if ctx.Err() != nil {
				return
			}
			poll(ctx)
		}
	}
}
