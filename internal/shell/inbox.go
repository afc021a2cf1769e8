package shell

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/PaulBabatuyi/marketchat/internal/chatsync"
)

// Inbox is the vendor-facing conversation list with one detail view. At
// most one conversation is synced at a time. Once the session is rejected
// the inbox makes no further requests and Mount, Refresh, Select and Send
// return chatsync.ErrUnauthenticated.
type Inbox struct {
	cfg       Config
	resolver  *chatsync.Resolver
	scheduler *chatsync.Scheduler
	redirect  *redirector

	mu            sync.Mutex
	unmounted     bool
	halted        bool
	listFailed    bool
	viewerID      string
	conversations []chatsync.Conversation
	thread        *thread
}

// NewInbox returns an unmounted inbox.
func NewInbox(cfg Config) *Inbox {
	in := &Inbox{
		cfg:       cfg,
		resolver:  chatsync.NewResolver(cfg.API),
		scheduler: cfg.scheduler(chatsync.InboxPollInterval),
	}
	in.redirect = &redirector{navigator: cfg.Navigator, onRedirect: in.halt}
	return in
}

// halt ends the inbox after the session was rejected. Nothing it does
// afterwards reaches the network.
func (in *Inbox) halt() {
	in.mu.Lock()
	in.halted = true
	in.mu.Unlock()
	in.scheduler.Stop()
}

// usable reports why the inbox cannot issue requests. The caller holds in.mu.
func (in *Inbox) usable() error {
	switch {
	case in.unmounted:
		return ErrNotMounted
	case in.halted:
		return chatsync.ErrUnauthenticated
	}
	return nil
}

// Mount resolves the viewer and loads the conversation list.
func (in *Inbox) Mount(ctx context.Context) error {
	in.mu.Lock()
	err := in.usable()
	in.mu.Unlock()
	if err != nil {
		return err
	}

	viewer, err := in.resolver.Viewer(ctx)
	if err != nil {
		if chatsync.IsUnauthenticated(err) {
			in.redirect.redirect()
			return err
		}
		in.cfg.logger().Debug("viewer lookup failed", "error", err)
	}
	in.mu.Lock()
	in.viewerID = viewer.ID
	in.mu.Unlock()
	return in.Refresh(ctx)
}

// Refresh reloads the conversation list, most recent activity first.
func (in *Inbox) Refresh(ctx context.Context) error {
	in.mu.Lock()
	err := in.usable()
	in.mu.Unlock()
	if err != nil {
		return err
	}

	conversations, err := in.cfg.API.ListConversations(ctx)
	if err != nil {
		if chatsync.IsUnauthenticated(err) {
			in.redirect.redirect()
			return err
		}
		in.mu.Lock()
		in.listFailed = true
		in.mu.Unlock()
		in.cfg.logger().Warn("loading conversations failed", "error", err)
		in.cfg.render()
		return err
	}
	SortByActivity(conversations)

	in.mu.Lock()
	if err := in.usable(); err != nil {
		in.mu.Unlock()
		return err
	}
	in.listFailed = false
	in.conversations = conversations
	in.mu.Unlock()
	in.cfg.render()
	return nil
}

// SortByActivity orders conversations by lastMessageAt, newest first.
// Conversations without messages go last; ties fall back to id.
func SortByActivity(conversations []chatsync.Conversation) {
	sort.SliceStable(conversations, func(i, j int) bool {
		a, b := conversations[i].LastMessageAt, conversations[j].LastMessageAt
		switch {
		case a == nil && b == nil:
			return conversations[i].ID < conversations[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.After(*b)
		default:
			return conversations[i].ID < conversations[j].ID
		}
	})
}

// Conversations returns the loaded list.
func (in *Inbox) Conversations() []chatsync.Conversation {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]chatsync.Conversation, len(in.conversations))
	copy(out, in.conversations)
	return out
}

// Select switches the detail view to conversationID. The previous
// conversation's timer and engine are torn down before the new ones
// exist. Selecting the current conversation is a no-op.
func (in *Inbox) Select(ctx context.Context, conversationID string) error {
	in.mu.Lock()
	if err := in.usable(); err != nil {
		in.mu.Unlock()
		return err
	}
	if in.thread != nil && in.thread.conversation.ID == conversationID {
		in.mu.Unlock()
		return nil
	}
	var target *chatsync.Conversation
	for i := range in.conversations {
		if in.conversations[i].ID == conversationID {
			target = &in.conversations[i]
			break
		}
	}
	if target == nil {
		in.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
	}
	previous := in.thread
	in.thread = nil
	in.scheduler.Stop()
	in.mu.Unlock()

	if previous != nil {
		previous.close()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t, err := openThread(in.cfg, in.viewer(), *target, in.redirect.redirect)
	if err != nil {
		return err
	}

	in.mu.Lock()
	if err := in.usable(); err != nil {
		in.mu.Unlock()
		t.close()
		return err
	}
	if in.thread != nil {
		// A concurrent Select finished first and keeps the view.
		in.mu.Unlock()
		t.close()
		return nil
	}
	in.thread = t
	in.scheduler.Start(conversationID, t.poll)
	in.mu.Unlock()
	in.cfg.render()
	return nil
}

// Selected returns the id of the conversation in the detail view.
func (in *Inbox) Selected() string {
	if t := in.current(); t != nil {
		return t.conversation.ID
	}
	return ""
}

// Messages returns the selected conversation's log.
func (in *Inbox) Messages() []chatsync.Message {
	if t := in.current(); t != nil {
		return t.messages()
	}
	return nil
}

// Input replaces the draft of the selected conversation.
func (in *Inbox) Input(text string) {
	if t := in.current(); t != nil {
		t.composer.SetDraft(text)
		in.cfg.render()
	}
}

// Send submits the draft of the selected conversation.
func (in *Inbox) Send(ctx context.Context) error {
	in.mu.Lock()
	err := in.usable()
	in.mu.Unlock()
	if err != nil {
		return err
	}
	t := in.current()
	if t == nil {
		return ErrNotMounted
	}
	_, err = t.composer.Submit(ctx)
	in.cfg.render()
	return err
}

// RenderList draws the conversation list with previews. The selected
// conversation is marked.
func (in *Inbox) RenderList() string {
	width := in.cfg.width()

	in.mu.Lock()
	failed, viewerID := in.listFailed, in.viewerID
	conversations := in.conversations
	selected := ""
	if in.thread != nil {
		selected = in.thread.conversation.ID
	}
	in.mu.Unlock()

	var b strings.Builder
	b.WriteString(renderTitle("Inbox", width))
	b.WriteString("\n")
	if failed {
		b.WriteString(errorStyle.Render(ListFailedText))
		return b.String()
	}
	if len(conversations) == 0 {
		b.WriteString(emptyStyle.Render(NoConversationsText))
		return b.String()
	}

	rows := make([]string, 0, len(conversations))
	for i, c := range conversations {
		marker := "  "
		if c.ID == selected {
			marker = "> "
		}
		who := chatsync.RoleLabel(chatsync.RoleCustomer)
		if p, ok := chatsync.Counterpart(c.Participants, viewerID); ok {
			who = chatsync.RoleLabel(p.Role)
		}
		about := c.ProductID
		if about == "" {
			about = c.ShopID
		}
		head := fmt.Sprintf("%s%d. %s", marker, i+1, who)
		if about != "" {
			head += " · " + about
		}
		if c.LastMessageAt != nil {
			head += " · " + formatTime(*c.LastMessageAt)
		}
		if c.ID == selected {
			head = selectedStyle.Render(head)
		}

		preview := emptyStyle.Render(EmptyLogText)
		if c.LastMessage != nil {
			preview = metaStyle.Render(truncate(c.LastMessage.Body, width-5))
		}
		rows = append(rows, head+"\n     "+preview)
	}
	b.WriteString(lipgloss.JoinVertical(lipgloss.Left, rows...))
	return b.String()
}

// RenderDetail draws the selected conversation.
func (in *Inbox) RenderDetail() string {
	width := in.cfg.width()
	t := in.current()
	if t == nil {
		return renderTitle("Conversation", width) + "\n" + emptyStyle.Render("Select a conversation.")
	}

	title := "Conversation"
	if p, ok := chatsync.Counterpart(t.conversation.Participants, t.labeler.ViewerID); ok {
		title = "Conversation with " + chatsync.RoleLabel(p.Role)
	}
	var b strings.Builder
	b.WriteString(renderTitle(title, width))
	b.WriteString("\n")
	b.WriteString(renderLog(t.messages(), t.labeler, width))
	b.WriteString("\n\n")
	b.WriteString(renderComposer(t.composer.Draft(), width))
	return b.String()
}

// Unmount stops polling and tears the selected engine down.
func (in *Inbox) Unmount() {
	in.mu.Lock()
	in.unmounted = true
	t := in.thread
	in.mu.Unlock()

	in.scheduler.Stop()
	if t != nil {
		t.close()
	}
}

func (in *Inbox) viewer() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.viewerID
}

func (in *Inbox) current() *thread {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.unmounted {
		return nil
	}
	return in.thread
}
