package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/PaulBabatuyi/marketchat/internal/normalize"
)

// SQLiteStore implements Store on a database opened by db.OpenSQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore returns a SQLiteStore using conn.
func NewSQLiteStore(conn *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: conn}
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func (s *SQLiteStore) CreateUser(ctx context.Context, email, hashedPassword string, role Role) (*User, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	user := &User{
		ID:        newID(),
		Email:     normalize.Email(email),
		Password:  hashedPassword,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.Password, string(user.Role), toMillis(now), toMillis(now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return user, nil
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "email", normalize.Email(email))
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, "id", id)
}

func (s *SQLiteStore) getUser(ctx context.Context, column, value string) (*User, error) {
	var (
		user             User
		role             string
		created, updated int64
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, password, role, created_at, updated_at FROM users WHERE `+column+` = ?`, value)
	if err := row.Scan(&user.ID, &user.Email, &user.Password, &role, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	user.Role = Role(role)
	user.CreatedAt = fromMillis(created)
	user.UpdatedAt = fromMillis(updated)
	return &user, nil
}

func (s *SQLiteStore) FindOrCreateConversation(ctx context.Context, key ConversationKey) (*Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	fresh := newConversation(key, time.Now())
	// The UNIQUE key constraint turns a concurrent duplicate into a no-op.
	result, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, customer_id, vendor_id, product_id, shop_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (customer_id, vendor_id, product_id, shop_id) DO NOTHING`,
		fresh.ID, key.CustomerID, key.VendorID, key.ProductID, key.ShopID, toMillis(fresh.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 1 {
		for _, p := range fresh.Participants {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO participants (conversation_id, user_id, role) VALUES (?, ?, ?)`,
				fresh.ID, p.UserID, string(p.Role)); err != nil {
				return nil, fmt.Errorf("inserting participant: %w", err)
			}
		}
	}

	var id string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE customer_id = ? AND vendor_id = ? AND product_id = ? AND shop_id = ?`,
		key.CustomerID, key.VendorID, key.ProductID, key.ShopID).Scan(&id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetConversation(ctx, id)
}

const conversationColumns = `c.id, c.customer_id, c.vendor_id, c.product_id, c.shop_id, c.created_at,
	c.last_message_at, m.id, m.sender_id, m.body, m.created_at`

const conversationFrom = `FROM conversations c LEFT JOIN messages m ON m.id = c.last_message_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		c          Conversation
		created    int64
		lastAt     sql.NullInt64
		msgID      sql.NullString
		msgSender  sql.NullString
		msgBody    sql.NullString
		msgCreated sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.CustomerID, &c.VendorID, &c.ProductID, &c.ShopID, &created,
		&lastAt, &msgID, &msgSender, &msgBody, &msgCreated); err != nil {
		return nil, err
	}
	c.CreatedAt = fromMillis(created)
	c.LastMessageAt = nullMillis(lastAt)
	if msgID.Valid {
		c.LastMessage = &Message{
			ID:             msgID.String,
			ConversationID: c.ID,
			SenderID:       msgSender.String,
			Body:           msgBody.String,
			CreatedAt:      fromMillis(msgCreated.Int64),
		}
	}
	return &c, nil
}

func (s *SQLiteStore) loadParticipants(ctx context.Context, conversations ...*Conversation) error {
	if len(conversations) == 0 {
		return nil
	}
	byID := make(map[string]*Conversation, len(conversations))
	args := make([]any, 0, len(conversations))
	for _, c := range conversations {
		byID[c.ID] = c
		args = append(args, c.ID)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, user_id, role, last_read_at FROM participants
		 WHERE conversation_id IN (`+placeholders+`) ORDER BY conversation_id, role`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			conversationID string
			p              Participant
			role           string
			readAt         sql.NullInt64
		)
		if err := rows.Scan(&conversationID, &p.UserID, &role, &readAt); err != nil {
			return err
		}
		p.Role = Role(role)
		p.LastReadAt = nullMillis(readAt)
		byID[conversationID].Participants = append(byID[conversationID].Participants, p)
	}
	return rows.Err()
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` `+conversationFrom+` WHERE c.id = ?`, id)
	c, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := s.loadParticipants(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` `+conversationFrom+`
		 JOIN participants p ON p.conversation_id = c.id
		 WHERE p.user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	var conversations []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		conversations = append(conversations, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadParticipants(ctx, conversations...); err != nil {
		return nil, err
	}
	SortByActivity(conversations)
	return conversations, nil
}

func (s *SQLiteStore) MarkRead(ctx context.Context, conversationID, userID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE participants SET last_read_at = ? WHERE conversation_id = ? AND user_id = ?`,
		toMillis(at), conversationID, userID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, conversationID, senderID, body string, now time.Time) (*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var lastAt sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT last_message_at FROM conversations WHERE id = ?`, conversationID).Scan(&lastAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	msg := &Message{
		ID:             newID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      NextMessageTime(now, nullMillis(lastAt)),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Body, toMillis(msg.CreatedAt)); err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = ?, last_message_id = ? WHERE id = ?`,
		toMillis(msg.CreatedAt), msg.ID, conversationID); err != nil {
		return nil, fmt.Errorf("updating conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *SQLiteStore) ListMessagesSince(ctx context.Context, conversationID string, after *time.Time) ([]*Message, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	query := `SELECT id, sender_id, body, created_at FROM messages WHERE conversation_id = ?`
	args := []any{conversationID}
	if after != nil {
		query += ` AND created_at > ?`
		args = append(args, afterMillis(*after))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		m := &Message{ConversationID: conversationID}
		var created int64
		if err := rows.Scan(&m.ID, &m.SenderID, &m.Body, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = fromMillis(created)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// afterMillis converts an exclusive lower bound to milliseconds. Stored
// times are whole milliseconds, so "created > t" equals "created > floor(t)".
func afterMillis(t time.Time) int64 {
	return t.UTC().Truncate(time.Millisecond).UnixMilli()
}
