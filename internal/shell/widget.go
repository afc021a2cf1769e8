package shell

import (
	"context"
	"strings"
	"sync"

	"github.com/PaulBabatuyi/marketchat/internal/chatsync"
)

// Widget is the buyer-facing floating chat, scoped to one vendor and one
// product or shop. Once the session is rejected Send returns
// chatsync.ErrUnauthenticated without a request.
type Widget struct {
	cfg       Config
	resolver  *chatsync.Resolver
	bootstrap *chatsync.Bootstrapper
	scheduler *chatsync.Scheduler
	redirect  *redirector

	mu        sync.Mutex
	mounted   bool
	unmounted bool
	halted    bool
	failed    bool
	thread    *thread
}

// NewWidget returns an unmounted widget.
func NewWidget(cfg Config) *Widget {
	w := &Widget{
		cfg:       cfg,
		resolver:  chatsync.NewResolver(cfg.API),
		bootstrap: chatsync.NewBootstrapper(cfg.API),
		scheduler: cfg.scheduler(chatsync.WidgetPollInterval),
	}
	w.redirect = &redirector{navigator: cfg.Navigator, onRedirect: w.halt}
	return w
}

func (w *Widget) halt() {
	w.mu.Lock()
	w.halted = true
	w.mu.Unlock()
	w.scheduler.Stop()
}

// Mount resolves the viewer, bootstraps the conversation for anchor and
// starts polling. A bootstrap failure is shown inline and returned; a 401
// also redirects to login. Mount may be called once.
func (w *Widget) Mount(ctx context.Context, anchor chatsync.Anchor) error {
	w.mu.Lock()
	if w.mounted || w.unmounted {
		w.mu.Unlock()
		return ErrAlreadyMounted
	}
	w.mounted = true
	w.mu.Unlock()

	// Labels degrade to role names when the viewer cannot be resolved.
	viewer, err := w.resolver.Viewer(ctx)
	if err != nil {
		if chatsync.IsUnauthenticated(err) {
			w.redirect.redirect()
			return err
		}
		w.cfg.logger().Debug("viewer lookup failed", "error", err)
	}

	conversation, err := w.bootstrap.Open(ctx, anchor)
	if err != nil {
		if chatsync.IsUnauthenticated(err) {
			w.redirect.redirect()
			return err
		}
		w.mu.Lock()
		w.failed = true
		w.mu.Unlock()
		w.cfg.logger().Warn("conversation bootstrap failed", "error", err)
		w.cfg.render()
		return err
	}

	t, err := openThread(w.cfg, viewer.ID, *conversation, w.redirect.redirect)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if w.unmounted {
		w.mu.Unlock()
		t.close()
		return ErrNotMounted
	}
	if w.halted {
		w.mu.Unlock()
		t.close()
		return chatsync.ErrUnauthenticated
	}
	w.thread = t
	// The scheduler's immediate first poll is the initial load. Starting
	// under the lock keeps a concurrent Unmount from missing it.
	w.scheduler.Start(conversation.ID, t.poll)
	w.mu.Unlock()
	w.cfg.render()
	return nil
}

// Input replaces the draft.
func (w *Widget) Input(text string) {
	if t := w.current(); t != nil {
		t.composer.SetDraft(text)
		w.cfg.render()
	}
}

// Send submits the draft. The draft is cleared even when sending fails.
func (w *Widget) Send(ctx context.Context) error {
	w.mu.Lock()
	halted := w.halted
	w.mu.Unlock()
	if halted {
		return chatsync.ErrUnauthenticated
	}
	t := w.current()
	if t == nil {
		return ErrNotMounted
	}
	_, err := t.composer.Submit(ctx)
	w.cfg.render()
	return err
}

// Conversation returns the bootstrapped conversation, if any.
func (w *Widget) Conversation() (chatsync.Conversation, bool) {
	if t := w.current(); t != nil {
		return t.conversation, true
	}
	return chatsync.Conversation{}, false
}

// Messages returns the current log.
func (w *Widget) Messages() []chatsync.Message {
	if t := w.current(); t != nil {
		return t.messages()
	}
	return nil
}

// Render draws the widget.
func (w *Widget) Render() string {
	width := w.cfg.width()

	w.mu.Lock()
	failed, t := w.failed, w.thread
	w.mu.Unlock()

	var b strings.Builder
	if failed {
		b.WriteString(renderTitle("Chat", width))
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(BootstrapFailedText))
		return b.String()
	}
	if t == nil {
		b.WriteString(renderTitle("Chat", width))
		b.WriteString("\n")
		b.WriteString(emptyStyle.Render("Connecting…"))
		return b.String()
	}

	title := "Chat with " + chatsync.RoleLabel(chatsync.RoleVendor)
	if counterpart, ok := chatsync.Counterpart(t.conversation.Participants, t.labeler.ViewerID); ok {
		title = "Chat with " + chatsync.RoleLabel(counterpart.Role)
	}
	b.WriteString(renderTitle(title, width))
	b.WriteString("\n")
	b.WriteString(renderLog(t.messages(), t.labeler, width))
	b.WriteString("\n\n")
	b.WriteString(renderComposer(t.composer.Draft(), width))
	return b.String()
}

// Unmount stops polling and tears the engine down. Responses still in
// flight are discarded. It is safe to call more than once.
func (w *Widget) Unmount() {
	w.mu.Lock()
	w.unmounted = true
	t := w.thread
	w.mu.Unlock()

	w.scheduler.Stop()
	if t != nil {
		t.close()
	}
}

func (w *Widget) current() *thread {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.unmounted {
		return nil
	}
	return w.thread
}
