package data

import (
	"context" // Used for cancellation and timeouts
	"errors"
	"time"

	"github.com/PaulBabatuyi/marketchat/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"  // MongoDB document queries
	"go.mongodb.org/mongo-driver/v2/mongo" // MongoDB driver
)

// UsersStore performs user DB operations against MongoDB.
type UsersStore struct {
	// coll is the "users" collection; the unique email index is created
	// by db.Client.CreateIndexes
	coll *mongo.Collection
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

// CreateUser inserts a new user document with an already-hashed password.
func (u *UsersStore) CreateUser(ctx context.Context, email, hashedPassword string, role Role) (*User, error) {
	now := time.Now().UTC()
	user := &User{
		ID:        newID(),                // uuid, also the session subject
		Email:     normalize.Email(email), // stored lower-cased so lookups match
		Password:  hashedPassword,         // hashed by auth.HashPassword()
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := u.coll.InsertOne(ctx, user); err != nil {
		// The unique index on email turns a second registration into a
		// duplicate key error
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return user, nil
}

// GetUserByEmail finds a user by email.
func (u *UsersStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return u.findOne(ctx, bson.M{"email": normalize.Email(email)})
}

// GetUserByID finds a user by id.
func (u *UsersStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return u.findOne(ctx, bson.M{"_id": id})
}

func (u *UsersStore) findOne(ctx context.Context, filter bson.M) (*User, error) {
	var user User
	if err := u.coll.FindOne(ctx, filter).Decode(&user); err != nil {
		// No document found: the account doesn't exist (or was deleted)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}
