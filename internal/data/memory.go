package data

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/PaulBabatuyi/marketchat/internal/normalize"
)

// MemoryStore keeps everything in maps. Data is lost on restart.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]*User
	usersByEmail  map[string]string
	conversations map[string]*Conversation
	byKey         map[ConversationKey]string
	messages      map[string][]*Message
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]*User),
		usersByEmail:  make(map[string]string),
		conversations: make(map[string]*Conversation),
		byKey:         make(map[ConversationKey]string),
		messages:      make(map[string][]*Message),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, email, hashedPassword string, role Role) (*User, error) {
	email = normalize.Email(email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usersByEmail[email]; ok {
		return nil, ErrUserExists
	}
	now := time.Now().UTC()
	user := &User{
		ID:        newID(),
		Email:     email,
		Password:  hashedPassword,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.users[user.ID] = user
	s.usersByEmail[email] = user.ID
	copied := *user
	return &copied, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByEmail[normalize.Email(email)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *s.users[id]
	return &copied, nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *MemoryStore) FindOrCreateConversation(ctx context.Context, key ConversationKey) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[key]; ok {
		return cloneConversation(s.conversations[id]), nil
	}
	c := newConversation(key, time.Now())
	s.conversations[c.ID] = c
	s.byKey[key] = c.ID
	return cloneConversation(c), nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(c), nil
}

func (s *MemoryStore) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	s.mu.RLock()
	var out []*Conversation
	for _, c := range s.conversations {
		if c.HasParticipant(userID) {
			out = append(out, cloneConversation(c))
		}
	}
	s.mu.RUnlock()
	SortByActivity(out)
	return out, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, conversationID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			readAt := at.UTC().Truncate(time.Millisecond)
			c.Participants[i].LastReadAt = &readAt
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) SaveMessage(ctx context.Context, conversationID, senderID, body string, now time.Time) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	at := NextMessageTime(now, c.LastMessageAt)
	msg := &Message{
		ID:             newID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      at,
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	last := *msg
	c.LastMessageAt = &at
	c.LastMessage = &last
	copied := *msg
	return &copied, nil
}

func (s *MemoryStore) ListMessagesSince(ctx context.Context, conversationID string, after *time.Time) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}
	out := []*Message{}
	for _, m := range s.messages[conversationID] {
		if after != nil && !m.CreatedAt.After(*after) {
			continue
		}
		copied := *m
		out = append(out, &copied)
	}
	return out, nil
}

// SortByActivity orders conversations by LastMessageAt descending,
// conversations without messages last (newest created first), ids as the
// final tie-break.
func SortByActivity(cs []*Conversation) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		switch {
		case a.LastMessageAt != nil && b.LastMessageAt == nil:
			return true
		case a.LastMessageAt == nil && b.LastMessageAt != nil:
			return false
		case a.LastMessageAt != nil && !a.LastMessageAt.Equal(*b.LastMessageAt):
			return a.LastMessageAt.After(*b.LastMessageAt)
		case a.LastMessageAt == nil && !a.CreatedAt.Equal(b.CreatedAt):
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func cloneConversation(c *Conversation) *Conversation {
	out := *c
	out.Participants = make([]Participant, len(c.Participants))
	for i, p := range c.Participants {
		out.Participants[i] = p
		if p.LastReadAt != nil {
			t := *p.LastReadAt
			out.Participants[i].LastReadAt = &t
		}
	}
	if c.LastMessageAt != nil {
		t := *c.LastMessageAt
		out.LastMessageAt = &t
	}
	if c.LastMessage != nil {
		m := *c.LastMessage
		out.LastMessage = &m
	}
	return &out
}
