// Package shell holds the two presentation shells built on chatsync: the
// buyer's floating widget and the vendor's inbox. Shells own one engine
// and one scheduler each and render plain text for a terminal.
package shell

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/PaulBabatuyi/marketchat/internal/chatsync"
)

// User-facing texts.
const (
	EmptyLogText        = "No messages yet."
	BootstrapFailedText = "Could not start the conversation. Please try again later."
	ListFailedText      = "Could not load conversations. Please try again later."
	NoConversationsText = "No conversations yet."
)

var (
	// ErrNotMounted is returned by operations that need a mounted shell or
	// a selected conversation.
	ErrNotMounted = errors.New("shell: not mounted")
	// ErrAlreadyMounted is returned by a second Mount.
	ErrAlreadyMounted = errors.New("shell: already mounted")
	// ErrUnknownConversation is returned by Inbox.Select for an id that is
	// not in the loaded list.
	ErrUnknownConversation = errors.New("shell: unknown conversation")
)

// Navigator receives the redirect to the login surface. It is called at
// most once per shell instance.
type Navigator interface {
	RedirectToLogin()
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func()

func (f NavigatorFunc) RedirectToLogin() { f() }

// API is the transport the shells use. *chatsync.Client satisfies it.
type API interface {
	chatsync.MessageAPI
	chatsync.ViewerSource
	chatsync.ConversationOpener
	ListConversations(ctx context.Context) ([]chatsync.Conversation, error)
}

// Config configures a shell.
type Config struct {
	API       API
	Navigator Navigator
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
	// Interval overrides the shell's poll period.
	Interval time.Duration
	// OnRender is called whenever what the shell would render changes. It
	// runs without shell locks held.
	OnRender func()
	// Width is the render width in cells. Zero means 60.
	Width int
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c Config) width() int {
	if c.Width <= 0 {
		return 60
	}
	return c.Width
}

func (c Config) interval(def time.Duration) time.Duration {
	if c.Interval > 0 {
		return c.Interval
	}
	return def
}

func (c Config) scheduler(def time.Duration) *chatsync.Scheduler {
	return chatsync.NewScheduler(c.interval(def), chatsync.WithSchedulerLogger(c.logger()))
}

func (c Config) render() {
	if c.OnRender != nil {
		c.OnRender()
	}
}

// redirector calls the navigator once.
type redirector struct {
	once       sync.Once
	navigator  Navigator
	onRedirect func()
}

func (r *redirector) redirect() {
	r.once.Do(func() {
		if r.onRedirect != nil {
			r.onRedirect()
		}
		if r.navigator != nil {
			r.navigator.RedirectToLogin()
		}
	})
}

// thread is one conversation synced for a shell: its engine, composer and
// the latest log snapshot.
type thread struct {
	conversation chatsync.Conversation
	engine       *chatsync.Engine
	composer     *chatsync.Composer
	labeler      chatsync.Labeler

	mu  sync.Mutex
	log []chatsync.Message
}

func openThread(cfg Config, viewerID string, conversation chatsync.Conversation, onUnauthenticated func()) (*thread, error) {
	t := &thread{
		conversation: conversation,
		labeler:      chatsync.NewLabeler(viewerID, &conversation),
	}
	engine, err := chatsync.NewEngine(chatsync.EngineConfig{
		API:            cfg.API,
		ConversationID: conversation.ID,
		Logger:         cfg.logger(),
		OnChange: func(log []chatsync.Message) {
			t.mu.Lock()
			t.log = log
			t.mu.Unlock()
			cfg.render()
		},
		OnUnauthenticated: onUnauthenticated,
	})
	if err != nil {
		return nil, err
	}
	t.engine = engine
	t.composer = chatsync.NewComposer(engine)
	return t, nil
}

func (t *thread) poll(ctx context.Context) {
	// Failures are retried by the next tick; a 401 is reported through
	// OnUnauthenticated.
	_ = t.engine.Poll(ctx)
}

func (t *thread) messages() []chatsync.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]chatsync.Message, len(t.log))
	copy(out, t.log)
	return out
}

func (t *thread) close() {
	t.engine.Close()
}
