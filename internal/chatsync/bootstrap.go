package chatsync

import (
	"context"
	"sync"
)

// ConversationOpener obtains or creates a conversation. *Client satisfies it.
type ConversationOpener interface {
	OpenConversation(ctx context.Context, anchor Anchor) (*Conversation, error)
}

// Bootstrapper resolves the conversation for one shell mount. Only the
// first Open reaches the server; later calls return the same result or
// error, whatever anchor they pass. A failed bootstrap is not retried: the
// shell shows an inline error and a fresh mount gets a fresh Bootstrapper.
type Bootstrapper struct {
	opener ConversationOpener

	once         sync.Once
	conversation *Conversation
	err          error
}

// NewBootstrapper returns a Bootstrapper that opens through opener.
func NewBootstrapper(opener ConversationOpener) *Bootstrapper {
	return &Bootstrapper{opener: opener}
}

// Open returns the conversation for anchor. The error, if any, wraps
// ErrUnauthenticated or ErrUnavailable.
func (b *Bootstrapper) Open(ctx context.Context, anchor Anchor) (*Conversation, error) {
	b.once.Do(func() {
		b.conversation, b.err = b.opener.OpenConversation(ctx, anchor)
		if b.err == nil && b.conversation == nil {
			b.err = ErrUnavailable
		}
	})
	return b.conversation, b.err
}
