package chatsync

import (
	"context"
	"strings"
	"sync"
)

// Sender is what a Composer hands confirmed drafts to. *Engine satisfies it.
type Sender interface {
	Send(ctx context.Context, body string) (*Message, error)
}

// Composer holds a shell's draft and turns it into a sent message.
//
// The draft is cleared before the request goes out and is not restored on
// failure. Nothing is shown until the server confirms the message.
type Composer struct {
	sender Sender

	mu    sync.Mutex
	draft string
}

// NewComposer returns a composer that sends through sender.
func NewComposer(sender Sender) *Composer {
	return &Composer{sender: sender}
}

// SetDraft replaces the draft text.
func (c *Composer) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
}

// Draft returns the current draft text.
func (c *Composer) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Submit sends the current draft. A blank draft returns ErrEmptyBody and
// is left in place.
func (c *Composer) Submit(ctx context.Context) (*Message, error) {
	c.mu.Lock()
	body := strings.TrimSpace(c.draft)
	if body == "" {
		c.mu.Unlock()
		return nil, ErrEmptyBody
	}
	c.draft = ""
	c.mu.Unlock()

	return c.sender.Send(ctx, body)
}

// Send sends body directly, bypassing the draft.
func (c *Composer) Send(ctx context.Context, body string) (*Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyBody
	}
	return c.sender.Send(ctx, body)
}
