package chatsync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// MessageAPI is the subset of the transport the engine needs.
type MessageAPI interface {
	FetchSince(ctx context.Context, conversationID string, cursor Cursor) ([]Message, error)
	SendMessage(ctx context.Context, conversationID, body string) (*Message, error)
	MarkRead(ctx context.Context, conversationID string) error
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	API            MessageAPI
	ConversationID string
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
	// OnChange receives a snapshot of the log after every change. It is
	// called without engine locks held, never concurrently with itself, and
	// never with a snapshot older than one it already received.
	OnChange func(log []Message)
	// OnUnauthenticated is called once, the first time a fetch or send
	// observes a 401. The engine is halted before it runs.
	OnUnauthenticated func()
}

// Engine owns the message log and sync cursor for one conversation viewed
// by one shell. Polls, sends and read receipts all funnel through it.
//
// After Close or after a 401 the engine is dead: late responses are
// dropped without touching the log, the cursor, or the read-receipt
// endpoint.
type Engine struct {
	api            MessageAPI
	conversationID string
	logger         *slog.Logger
	onChange       func([]Message)
	onUnauth       func()

	// ctx is cancelled on Close or halt, aborting in-flight requests.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	log     []Message
	cursor  Cursor
	version uint64
	closed  bool
	halted  bool

	notifyMu sync.Mutex
	notified uint64

	readers sync.WaitGroup
}

// NewEngine returns a live engine with an empty log and an unset cursor.
func NewEngine(config EngineConfig) (*Engine, error) {
	if config.API == nil {
		return nil, fmt.Errorf("chatsync: engine requires an API")
	}
	if config.ConversationID == "" {
		return nil, fmt.Errorf("chatsync: engine requires a conversation id")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		api:            config.API,
		conversationID: config.ConversationID,
		logger:         logger.With("conversation_id", config.ConversationID),
		onChange:       config.OnChange,
		onUnauth:       config.OnUnauthenticated,
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// ConversationID returns the conversation this engine syncs.
func (e *Engine) ConversationID() string { return e.conversationID }

// Poll fetches everything newer than the cursor and merges it. A non-empty
// result also fires a best-effort read receipt in the background.
//
// Errors are returned for the caller's information only; the scheduler
// ignores them and the next tick is the retry. A 401 halts the engine.
func (e *Engine) Poll(ctx context.Context) error {
	e.mu.Lock()
	if e.closed || e.halted {
		e.mu.Unlock()
		return ErrClosed
	}
	cursor := e.cursor
	e.mu.Unlock()

	ctx, cancel := e.bind(ctx)
	defer cancel()

	batch, err := e.api.FetchSince(ctx, e.conversationID, cursor)
	if err != nil {
		if IsUnauthenticated(err) {
			e.halt()
			return err
		}
		e.logger.Debug("poll failed", "cursor", cursor.String(), "error", err)
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	if !e.apply(batch) {
		return ErrClosed
	}
	e.markReadAsync()
	return nil
}

// Send posts body and, once the server confirms it, folds the message into
// the log with the same merge rule as polling. There is no optimistic
// insertion and no retry.
func (e *Engine) Send(ctx context.Context, body string) (*Message, error) {
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyBody
	}
	if !e.live() {
		return nil, ErrClosed
	}

	ctx, cancel := e.bind(ctx)
	defer cancel()

	message, err := e.api.SendMessage(ctx, e.conversationID, body)
	if err != nil {
		if IsUnauthenticated(err) {
			e.halt()
		}
		return nil, err
	}
	// The server accepted the message even if we were torn down meanwhile;
	// apply drops it in that case.
	e.apply([]Message{*message})
	return message, nil
}

// Messages returns a copy of the current log.
func (e *Engine) Messages() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneMessages(e.log)
}

// Cursor returns the current sync cursor.
func (e *Engine) Cursor() Cursor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor
}

// Halted reports whether the engine stopped because of a 401.
func (e *Engine) Halted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}

// Close tears the engine down. In-flight requests are cancelled and any
// response that still arrives is discarded. Close waits for outstanding
// read receipts to return and is idempotent.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()
	e.readers.Wait()
}

func (e *Engine) live() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed && !e.halted
}

// bind derives a request context that is also cancelled with the engine.
func (e *Engine) bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(e.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// apply merges batch into the log and advances the cursor. It returns
// false, leaving state untouched, when the engine is no longer live.
func (e *Engine) apply(batch []Message) bool {
	e.mu.Lock()
	if e.closed || e.halted {
		e.mu.Unlock()
		e.logger.Debug("dropping batch after teardown", "messages", len(batch))
		return false
	}
	merged := Merge(e.log, batch)
	changed := !sameLog(e.log, merged)
	e.log = merged
	e.cursor = e.cursor.AdvanceBatch(batch)
	var snapshot []Message
	var version uint64
	if changed {
		e.version++
		version = e.version
		snapshot = cloneMessages(merged)
	}
	e.mu.Unlock()

	if changed {
		e.notify(version, snapshot)
	}
	return true
}

func (e *Engine) notify(version uint64, snapshot []Message) {
	if e.onChange == nil {
		return
	}
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	if version <= e.notified || !e.live() {
		return
	}
	e.notified = version
	e.onChange(snapshot)
}

func (e *Engine) markReadAsync() {
	e.mu.Lock()
	if e.closed || e.halted {
		e.mu.Unlock()
		return
	}
	e.readers.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.readers.Done()
		if err := e.api.MarkRead(e.ctx, e.conversationID); err != nil {
			e.logger.Debug("mark read failed", "error", err)
		}
	}()
}

func (e *Engine) halt() {
	e.mu.Lock()
	first := !e.halted && !e.closed
	e.halted = true
	e.mu.Unlock()
	e.cancel()

	if first {
		e.logger.Info("session rejected, halting sync")
		if e.onUnauth != nil {
			e.onUnauth()
		}
	}
}

func sameLog(a, b []Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameMessage(a[i], b[i]) {
			return false
		}
	}
	return true
}

func sameMessage(a, b Message) bool {
	return a.ID == b.ID &&
		a.ConversationID == b.ConversationID &&
		a.SenderID == b.SenderID &&
		a.Body == b.Body &&
		a.CreatedAt.Equal(b.CreatedAt)
}

func cloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
