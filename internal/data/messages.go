package data

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessagesStore provides message database operations.
type MessagesStore struct {
	// coll is the "messages" collection
	coll *mongo.Collection
	// conversations holds the timestamp reservation and the last-message
	// preview
	conversations *mongo.Collection
	// locks serializes saves per conversation within this process, so a
	// message never becomes visible after a later-stamped one
	locks conversationLocks
}

// NewMessagesStore returns a MessagesStore using the given collections.
func NewMessagesStore(coll, conversations *mongo.Collection) *MessagesStore {
	return &MessagesStore{coll: coll, conversations: conversations}
}

// SaveMessage reserves a timestamp on the conversation, inserts the message
// and refreshes the conversation preview.
func (m *MessagesStore) SaveMessage(ctx context.Context, conversationID, senderID, body string, now time.Time) (*Message, error) {
	unlock := m.locks.lock(conversationID)
	defer unlock()

	createdAt, err := m.reserveTime(ctx, conversationID, now)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ID:             newID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      createdAt,
	}
	if _, err := m.coll.InsertOne(ctx, msg); err != nil {
		return nil, err
	}

	// Only move the preview forward; a save from another process may have
	// stored a newer one already
	filter := bson.M{
		"_id": conversationID,
		"$or": bson.A{
			bson.M{"last_message": bson.M{"$exists": false}},
			bson.M{"last_message.created_at": bson.M{"$lt": msg.CreatedAt}},
		},
	}
	update := bson.M{"$set": bson.M{"last_message": msg}}
	if _, err := m.conversations.UpdateOne(ctx, filter, update); err != nil {
		return nil, err
	}
	return msg, nil
}

// reserveTime moves last_message_at to max(now, last_message_at + 1ms) in
// one update and returns it. Concurrent savers, in any process, each get a
// distinct and strictly later timestamp.
func (m *MessagesStore) reserveTime(ctx context.Context, conversationID string, now time.Time) (time.Time, error) {
	at := now.UTC().Truncate(time.Millisecond)
	// $max skips the $add result while last_message_at is still unset.
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "last_message_at", Value: bson.D{{Key: "$max", Value: bson.A{
				at,
				bson.D{{Key: "$add", Value: bson.A{"$last_message_at", 1}}},
			}}}},
		}}},
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"last_message_at": 1})

	var conv Conversation
	err := m.conversations.FindOneAndUpdate(ctx, bson.M{"_id": conversationID}, pipeline, opts).Decode(&conv)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, err
	}
	if conv.LastMessageAt == nil {
		return time.Time{}, fmt.Errorf("conversation %s: no timestamp reserved", conversationID)
	}
	return conv.LastMessageAt.UTC(), nil
}

// conversationLocks is a set of per-conversation mutexes. Entries are
// dropped once no saver holds or waits for them.
type conversationLocks struct {
	mu    sync.Mutex
	locks map[string]*conversationLock
}

type conversationLock struct {
	sync.Mutex
	refs int
}

func (l *conversationLocks) lock(conversationID string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*conversationLock)
	}
	entry, ok := l.locks[conversationID]
	if !ok {
		entry = &conversationLock{}
		l.locks[conversationID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.Lock()
	return func() {
		entry.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, conversationID)
		}
		l.mu.Unlock()
	}
}

// ListMessagesSince returns messages newer than after, oldest first.
func (m *MessagesStore) ListMessagesSince(ctx context.Context, conversationID string, after *time.Time) ([]*Message, error) {
	filter := bson.M{"conversation_id": conversationID}
	if after != nil {
		// Strict: the client already holds the message at its cursor
		filter["created_at"] = bson.M{"$gt": *after}
	}
	opts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})

	cursor, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	messages := []*Message{}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// MongoStore combines the three collection stores into a Store.
type MongoStore struct {
	*UsersStore
	*ConversationsStore
	*MessagesStore
}

// NewMongoStore wires the collection stores together.
func NewMongoStore(users, conversations, messages *mongo.Collection) *MongoStore {
	return &MongoStore{
		UsersStore:         NewUsersStore(users),
		ConversationsStore: NewConversationsStore(conversations),
		MessagesStore:      NewMessagesStore(messages, conversations),
	}
}

// ListMessagesSince checks the conversation exists so unknown ids report
// ErrNotFound like the other backends.
func (s *MongoStore) ListMessagesSince(ctx context.Context, conversationID string, after *time.Time) ([]*Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.MessagesStore.ListMessagesSince(ctx, conversationID, after)
}
