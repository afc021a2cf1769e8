package data

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ConversationsStore provides conversation database operations.
type ConversationsStore struct {
	// coll is the "conversations" collection. A unique index on
	// (customer_id, vendor_id, product_id, shop_id) makes creation
	// idempotent even when two requests race.
	coll *mongo.Collection
}

// NewConversationsStore returns a ConversationsStore using the given collection.
func NewConversationsStore(coll *mongo.Collection) *ConversationsStore {
	return &ConversationsStore{coll: coll}
}

func keyFilter(key ConversationKey) bson.M {
	return bson.M{
		"customer_id": key.CustomerID,
		"vendor_id":   key.VendorID,
		"product_id":  key.ProductID,
		"shop_id":     key.ShopID,
	}
}

// FindOrCreateConversation upserts the conversation for key.
func (s *ConversationsStore) FindOrCreateConversation(ctx context.Context, key ConversationKey) (*Conversation, error) {
	fresh := newConversation(key, time.Now())

	// $setOnInsert only writes on creation; an existing document comes back
	// untouched. Key fields come from the filter itself.
	update := bson.M{"$setOnInsert": bson.M{
		"_id":          fresh.ID,
		"participants": fresh.Participants,
		"created_at":   fresh.CreatedAt,
	}}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var c Conversation
	err := s.coll.FindOneAndUpdate(ctx, keyFilter(key), update, opts).Decode(&c)
	if err == nil {
		return &c, nil
	}
	// Two concurrent upserts can both miss and then collide on the unique
	// index; the loser reads the winner's document.
	if mongo.IsDuplicateKeyError(err) {
		if err := s.coll.FindOne(ctx, keyFilter(key)).Decode(&c); err != nil {
			return nil, err
		}
		return &c, nil
	}
	return nil, err
}

// GetConversation finds a conversation by id.
func (s *ConversationsStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListConversations returns the user's conversations, newest activity first.
func (s *ConversationsStore) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	filter := bson.M{"participants.user_id": userID}
	// Missing last_message_at sorts lowest, so silent conversations land
	// at the end of a descending sort
	opts := options.Find().SetSort(bson.D{
		{Key: "last_message_at", Value: -1},
		{Key: "created_at", Value: -1},
		{Key: "_id", Value: 1},
	})

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var conversations []*Conversation
	if err := cursor.All(ctx, &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

// MarkRead sets the participant's last_read_at.
func (s *ConversationsStore) MarkRead(ctx context.Context, conversationID, userID string, at time.Time) error {
	// The positional operator $ targets the participant matched by the filter
	filter := bson.M{"_id": conversationID, "participants.user_id": userID}
	update := bson.M{"$set": bson.M{"participants.$.last_read_at": at.UTC().Truncate(time.Millisecond)}}

	result, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
