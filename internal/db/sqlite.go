package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/aibuddy/buddy-server/internal/models"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a record does not exist or belongs to a
// different user. Callers treat the two cases identically.
var ErrNotFound = errors.New("record not found")

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    last_login_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_conversations_user_updated
    ON conversations(user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
    ON messages(conversation_id, created_at);`

type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(schema); err != nil {
		return nil, err
	}

	return &Database{db: conn}, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

// GetOrCreateUser upserts the user record asserted by the authentication
// collaborator and bumps its last-login timestamp.
func (db *Database) GetOrCreateUser(ctx context.Context, email, name string) (*models.User, error) {
	query := `
        INSERT INTO users (id, email, name, created_at, last_login_at)
        VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
        ON CONFLICT(email) DO UPDATE SET
            name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END,
            last_login_at = CURRENT_TIMESTAMP
        RETURNING id, email, name, created_at, last_login_at`

	user := &models.User{}
	err := db.db.QueryRowContext(ctx, query, uuid.New().String(), email, name).
		Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt, &user.LastLoginAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (db *Database) CreateConversation(ctx context.Context, userID, title string) (*models.Conversation, error) {
	if title == "" {
		title = "New Conversation"
	}

	query := `
        INSERT INTO conversations (id, user_id, title, created_at, updated_at)
        VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
        RETURNING created_at, updated_at`

	conv := &models.Conversation{ID: uuid.New().String(), UserID: userID, Title: title}
	err := db.db.QueryRowContext(ctx, query, conv.ID, userID, title).Scan(&conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// FindConversation resolves a conversation only when it is owned by userID.
func (db *Database) FindConversation(ctx context.Context, id, userID string) (*models.Conversation, error) {
	query := `
        SELECT id, user_id, title, created_at, updated_at
        FROM conversations
        WHERE id = ? AND user_id = ?`

	conv := &models.Conversation{}
	err := db.db.QueryRowContext(ctx, query, id, userID).
		Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (db *Database) ListConversations(ctx context.Context, userID string, limit int) ([]models.Conversation, error) {
	query := `
        SELECT id, user_id, title, created_at, updated_at
        FROM conversations
        WHERE user_id = ?
        ORDER BY updated_at DESC
        LIMIT ?`

	rows, err := db.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return []models.Conversation{}, err
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var conv models.Conversation
		err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
		if err != nil {
			return []models.Conversation{}, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// SaveMessage appends one message. Messages are append-only: nothing in the
// server ever mutates a persisted message.
func (db *Database) SaveMessage(ctx context.Context, msg *models.Message) error {
	query := `
        INSERT INTO messages (conversation_id, role, content, created_at)
        VALUES (?, ?, ?, CURRENT_TIMESTAMP)
        RETURNING id, created_at`

	return db.db.QueryRowContext(ctx, query, msg.ConvID, msg.Role, msg.Content).Scan(&msg.ID, &msg.CreatedAt)
}

// RecentMessages returns up to limit messages, newest first. Callers that need
// chronological order reverse the slice. The id tiebreak keeps ordering stable
// for messages written within the same second.
func (db *Database) RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	query := `
        SELECT id, conversation_id, role, content, created_at
        FROM messages
        WHERE conversation_id = ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?`

	return db.queryMessages(ctx, query, conversationID, limit)
}

// ListMessages returns the full message log in chronological order.
func (db *Database) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	query := `
        SELECT id, conversation_id, role, content, created_at
        FROM messages
        WHERE conversation_id = ?
        ORDER BY created_at ASC, id ASC`

	return db.queryMessages(ctx, query, conversationID)
}

func (db *Database) queryMessages(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return []models.Message{}, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		err := rows.Scan(&msg.ID, &msg.ConvID, &msg.Role, &msg.Content, &msg.CreatedAt)
		if err != nil {
			return []models.Message{}, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// TouchConversation overwrites the update timestamp; last writer wins.
func (db *Database) TouchConversation(ctx context.Context, id string) error {
	_, err := db.db.ExecContext(ctx, "UPDATE conversations SET updated_at = CURRENT_TIMESTAMP WHERE id = ?", id)
	return err
}

func (db *Database) UpdateConversationTitle(ctx context.Context, id, title string) error {
	_, err := db.db.ExecContext(ctx, "UPDATE conversations SET title = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", title, id)
	return err
}

func (db *Database) DeleteConversation(ctx context.Context, id string) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id); err != nil {
		return err
	}

	return tx.Commit()
}
