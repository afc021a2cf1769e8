package main

import (
	"github.com/PaulBabatuyi/marketchat/internal/chatsync"
	"github.com/PaulBabatuyi/marketchat/internal/data"
)

// The JSON shapes served here are the ones chatsync decodes, so the server
// reuses its types instead of declaring a parallel set.

func toViewer(u *data.User) chatsync.Viewer {
	return chatsync.Viewer{ID: u.ID, Email: u.Email, Role: chatsync.Role(u.Role)}
}

func toMessage(m *data.Message) chatsync.Message {
	return chatsync.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		CreatedAt:      m.CreatedAt,
	}
}

func toMessages(ms []*data.Message) []chatsync.Message {
	out := make([]chatsync.Message, 0, len(ms))
	for _, m := range ms {
		out = append(out, toMessage(m))
	}
	return out
}

func toConversation(c *data.Conversation) chatsync.Conversation {
	out := chatsync.Conversation{
		ID:            c.ID,
		ProductID:     c.ProductID,
		ShopID:        c.ShopID,
		Participants:  make([]chatsync.Participant, 0, len(c.Participants)),
		LastMessageAt: c.LastMessageAt,
	}
	for _, p := range c.Participants {
		out.Participants = append(out.Participants, chatsync.Participant{
			UserID:     p.UserID,
			Role:       chatsync.Role(p.Role),
			LastReadAt: p.LastReadAt,
		})
	}
	if c.LastMessage != nil {
		last := toMessage(c.LastMessage)
		out.LastMessage = &last
	}
	return out
}

func toConversations(cs []*data.Conversation) []chatsync.Conversation {
	out := make([]chatsync.Conversation, 0, len(cs))
	for _, c := range cs {
		out = append(out, toConversation(c))
	}
	return out
}

type items[T any] struct {
	Items []T `json:"items"`
}
