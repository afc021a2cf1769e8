// Package db manages database connections: MongoDB collections and the
// SQLite schema.
package db

import (
	"context" // For connection timeout/cancellation
	"fmt"     // Error formatting
	"time"    // Duration for timeouts

	"go.mongodb.org/mongo-driver/v2/bson"           // Index key documents
	"go.mongodb.org/mongo-driver/v2/mongo"          // MongoDB driver
	"go.mongodb.org/mongo-driver/v2/mongo/options"  // MongoDB options
	"go.mongodb.org/mongo-driver/v2/mongo/readpref" // MongoDB read preference
)

// DatabaseName is the MongoDB database holding all collections.
const DatabaseName = "marketchat"

// Client wraps mongo.Client and exposes collections.
type Client struct {
	// client is the underlying MongoDB connection (thread-safe, can be reused)
	client *mongo.Client

	// db is the "marketchat" database; collections are reached through it
	db *mongo.Database
}

// New connects to MongoDB and returns a Client.
func New(ctx context.Context, mongoURI string) (*Client, error) {
	return NewWithDatabase(ctx, mongoURI, DatabaseName)
}

// NewWithDatabase is New with an explicit database name. Tests use it to
// keep their data apart.
func NewWithDatabase(ctx context.Context, mongoURI, database string) (*Client, error) {
	// SetConnectTimeout: fail fast if MongoDB is unreachable
	opts := options.Client().
		ApplyURI(mongoURI).
		SetConnectTimeout(10 * time.Second)

	// Connect doesn't dial yet, it only builds the client
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping is the actual connection test; give it 5 seconds
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Client{
		client: client,
		db:     client.Database(database), // lazily created on first write
	}, nil
}

// UsersCollection returns the users collection.
func (c *Client) UsersCollection() *mongo.Collection {
	return c.db.Collection("users")
}

// ConversationsCollection returns the conversations collection.
func (c *Client) ConversationsCollection() *mongo.Collection {
	return c.db.Collection("conversations")
}

// MessagesCollection returns the messages collection.
func (c *Client) MessagesCollection() *mongo.Collection {
	return c.db.Collection("messages")
}

// Ping checks the connection is still alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

// Drop removes the whole database. Only tests call it.
func (c *Client) Drop(ctx context.Context) error {
	return c.db.Drop(ctx)
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	// ctx can carry a timeout to force shutdown after N seconds
	return c.client.Disconnect(ctx)
}

// CreateIndexes creates the indexes the stores rely on.
func (c *Client) CreateIndexes(ctx context.Context) error {
	// ===== USERS =====
	// Unique email: a second registration fails with a duplicate key error
	usersIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := c.UsersCollection().Indexes().CreateOne(ctx, usersIndex); err != nil {
		return fmt.Errorf("failed to create users index: %w", err)
	}

	// ===== CONVERSATIONS =====
	// Key order matters for compound indexes, hence bson.D
	conversationIndexes := []mongo.IndexModel{
		{
			// One conversation per (customer, vendor, product, shop)
			Keys: bson.D{
				{Key: "customer_id", Value: 1},
				{Key: "vendor_id", Value: 1},
				{Key: "product_id", Value: 1},
				{Key: "shop_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			// Inbox listing: by participant, newest activity first
			Keys: bson.D{
				{Key: "participants.user_id", Value: 1},
				{Key: "last_message_at", Value: -1},
			},
		},
	}
	if _, err := c.ConversationsCollection().Indexes().CreateMany(ctx, conversationIndexes); err != nil {
		return fmt.Errorf("failed to create conversation indexes: %w", err)
	}

	// ===== MESSAGES =====
	// Polling reads "everything after t" for one conversation
	messagesIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "conversation_id", Value: 1},
			{Key: "created_at", Value: 1},
		},
	}
	if _, err := c.MessagesCollection().Indexes().CreateOne(ctx, messagesIndex); err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}
	return nil
}
