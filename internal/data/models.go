package data

import (
	"time"
)

// Role is a participant's fixed role.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleVendor   Role = "VENDOR"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleVendor
}

// User maps to the users collection (id, email, password hash, role, timestamps).
type User struct {
	ID        string    `bson:"_id"`
	Email     string    `bson:"email"`
	Password  string    `bson:"password"`
	Role      Role      `bson:"role"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Participant is one side of a conversation.
type Participant struct {
	UserID     string     `bson:"user_id"`
	Role       Role       `bson:"role"`
	LastReadAt *time.Time `bson:"last_read_at,omitempty"`
}

// ConversationKey identifies "the same logical conversation": the same
// customer talking to the same vendor about the same product and shop.
// Empty product or shop ids are part of the key.
type ConversationKey struct {
	CustomerID string `bson:"customer_id"`
	VendorID   string `bson:"vendor_id"`
	ProductID  string `bson:"product_id"`
	ShopID     string `bson:"shop_id"`
}

// Conversation maps to the conversations collection. LastMessage is a
// denormalised copy of the newest message for list previews.
type Conversation struct {
	ID              string `bson:"_id"`
	ConversationKey `bson:",inline"`
	Participants    []Participant `bson:"participants"`
	LastMessageAt   *time.Time    `bson:"last_message_at,omitempty"`
	LastMessage     *Message      `bson:"last_message,omitempty"`
	CreatedAt       time.Time     `bson:"created_at"`
}

// HasParticipant reports whether userID takes part in c.
func (c *Conversation) HasParticipant(userID string) bool {
	_, ok := c.Participant(userID)
	return ok
}

// Participant returns userID's participant record.
func (c *Conversation) Participant(userID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// Message maps to the messages collection. Messages are never edited.
type Message struct {
	ID             string    `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	SenderID       string    `bson:"sender_id"`
	Body           string    `bson:"body"`
	CreatedAt      time.Time `bson:"created_at"`
}
