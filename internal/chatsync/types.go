// Package chatsync keeps a live, ordered, deduplicated view of a buyer–vendor
// conversation by polling the marketplace REST API.
//
// The package has no UI dependencies. Presentation shells (the buyer widget
// and the vendor inbox) each own one Engine and one Scheduler; the merge rule,
// cursor handling and teardown guards live here and nowhere else.
package chatsync

import "time"

// Role is a participant's fixed role within a conversation.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleVendor   Role = "VENDOR"
)

// Participant is one side of a conversation.
type Participant struct {
	UserID     string     `json:"userId"`
	Role       Role       `json:"role"`
	LastReadAt *time.Time `json:"lastReadAt,omitempty"`
}

// Message is a server-confirmed chat message. Messages are never edited.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Conversation is the server's conversation record.
type Conversation struct {
	ID            string        `json:"id"`
	ProductID     string        `json:"productId,omitempty"`
	ShopID        string        `json:"shopId,omitempty"`
	Participants  []Participant `json:"participants"`
	LastMessageAt *time.Time    `json:"lastMessageAt,omitempty"`
	LastMessage   *Message      `json:"lastMessage,omitempty"`
}

// Anchor is the optional product/shop context a conversation is opened for.
type Anchor struct {
	ProductID string `json:"productId,omitempty"`
	ShopID    string `json:"shopId,omitempty"`
}

// Viewer is the authenticated user as reported by the server.
type Viewer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

type itemsResponse[T any] struct {
	Items []T `json:"items"`
}
