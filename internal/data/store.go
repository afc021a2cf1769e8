// Package data provides the marketplace chat models and their stores.
//
// Three backends implement Store: an in-memory one for development and
// tests, SQLite, and MongoDB.
package data

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a user, conversation or participant
	// does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUserExists is returned when registering an email twice.
	ErrUserExists = errors.New("user already exists")
)

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, email, hashedPassword string, role Role) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
}

// ConversationStore persists conversations and their read positions.
type ConversationStore interface {
	// FindOrCreateConversation returns the conversation for key, creating
	// it with a customer and a vendor participant if needed. Concurrent
	// calls with the same key return the same conversation.
	FindOrCreateConversation(ctx context.Context, key ConversationKey) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// ListConversations returns userID's conversations, most recently
	// active first. Conversations without messages come last.
	ListConversations(ctx context.Context, userID string) ([]*Conversation, error)
	// MarkRead moves userID's read position in the conversation to at.
	MarkRead(ctx context.Context, conversationID, userID string, at time.Time) error
}

// MessageStore persists messages.
type MessageStore interface {
	// SaveMessage appends a message. Its CreatedAt is derived from now with
	// NextMessageTime, so timestamps strictly increase per conversation,
	// and concurrent saves in one conversation become visible in
	// timestamp order.
	SaveMessage(ctx context.Context, conversationID, senderID, body string, now time.Time) (*Message, error)
	// ListMessagesSince returns messages created strictly after after, or
	// all messages when after is nil, oldest first.
	ListMessagesSince(ctx context.Context, conversationID string, after *time.Time) ([]*Message, error)
}

// Store is everything the API server needs.
type Store interface {
	UserStore
	ConversationStore
	MessageStore
}

// NextMessageTime returns the timestamp for a new message: now truncated
// to milliseconds, bumped past last when the clock has not moved beyond
// it. Strictly increasing timestamps keep exclusive "after" queries from
// skipping a message that shares its predecessor's millisecond.
func NextMessageTime(now time.Time, last *time.Time) time.Time {
	at := now.UTC().Truncate(time.Millisecond)
	if last != nil && !at.After(*last) {
		at = last.UTC().Truncate(time.Millisecond).Add(time.Millisecond)
	}
	return at
}

func newID() string {
	return uuid.NewString()
}

func newConversation(key ConversationKey, now time.Time) *Conversation {
	return &Conversation{
		ID:              newID(),
		ConversationKey: key,
		Participants: []Participant{
			{UserID: key.CustomerID, Role: RoleCustomer},
			{UserID: key.VendorID, Role: RoleVendor},
		},
		CreatedAt: now.UTC().Truncate(time.Millisecond),
	}
}
