package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/plugterm/internal/store"
)

// Schema creates the sandbox tables. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	username     TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	flags        INTEGER NOT NULL DEFAULT 0,
	avatar_url   TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chat_groups (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	owner_id   INTEGER NOT NULL REFERENCES users(id),
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS group_members (
	user_id   INTEGER NOT NULL REFERENCES users(id),
	group_id  INTEGER NOT NULL REFERENCES chat_groups(id),
	joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (user_id, group_id)
);

CREATE TABLE IF NOT EXISTS channels (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	group_id   INTEGER NOT NULL REFERENCES chat_groups(id),
	name       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id INTEGER NOT NULL REFERENCES channels(id),
	user_id    INTEGER NOT NULL REFERENCES users(id),
	body       TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, id);

CREATE TABLE IF NOT EXISTS invites (
	code       TEXT PRIMARY KEY,
	group_id   INTEGER NOT NULL REFERENCES chat_groups(id),
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens the database at dbPath and applies Schema.
// ":memory:" gives a throwaway sandbox.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single connection also keeps an in-memory database alive and shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func notFound(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return fmt.Errorf("query %s: %w", what, err)
}

// ==== UserStore implementation ====

// UpsertUser creates the user or refreshes its profile.
func (s *SQLiteStore) UpsertUser(ctx context.Context, username, displayName string, flags int) (*store.User, error) {
	if displayName == "" {
		displayName = username
	}
	query := `
		INSERT INTO users (username, display_name, flags)
		VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET display_name = excluded.display_name, flags = excluded.flags
	`
	if _, err := s.db.ExecContext(ctx, query, username, displayName, flags); err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return s.GetUserByUsername(ctx, username)
}

const userColumns = `id, username, display_name, flags, avatar_url, created_at`

func scanUser(row interface{ Scan(...any) error }) (*store.User, error) {
	var user store.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.DisplayName,
		&user.Flags,
		&user.AvatarURL,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return nil, notFound("user", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if err != nil {
		return nil, notFound("user", err)
	}
	return user, nil
}

// ==== GroupStore implementation ====

// CreateGroup creates a group, its owner membership and first channel in one transaction.
func (s *SQLiteStore) CreateGroup(ctx context.Context, name string, ownerID int64, firstChannel string) (*store.Group, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `INSERT INTO chat_groups (name, owner_id) VALUES (?, ?)`, name, ownerID)
	if err != nil {
		return nil, fmt.Errorf("insert group: %w", err)
	}
	groupID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO group_members (user_id, group_id) VALUES (?, ?)`, ownerID, groupID); err != nil {
		return nil, fmt.Errorf("insert owner membership: %w", err)
	}
	if firstChannel != "" {
		if _, err := tx.ExecContext(ctx, `INSERT INTO channels (group_id, name) VALUES (?, ?)`, groupID, firstChannel); err != nil {
			return nil, fmt.Errorf("insert first channel: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return s.GetGroup(ctx, groupID)
}

// GetGroup retrieves a group by ID.
func (s *SQLiteStore) GetGroup(ctx context.Context, id int64) (*store.Group, error) {
	query := `
		SELECT id, name, owner_id, created_at
		FROM chat_groups
		WHERE id = ?
	`
	var group store.Group
	err := s.db.QueryRowContext(ctx, query, id).Scan(&group.ID, &group.Name, &group.OwnerID, &group.CreatedAt)
	if err != nil {
		return nil, notFound("group", err)
	}
	return &group, nil
}

// ListGroupsForUser lists groups the user belongs to, oldest first.
func (s *SQLiteStore) ListGroupsForUser(ctx context.Context, userID int64) ([]*store.Group, error) {
	query := `
		SELECT g.id, g.name, g.owner_id, g.created_at
		FROM chat_groups g
		INNER JOIN group_members m ON m.group_id = g.id
		WHERE m.user_id = ?
		ORDER BY g.id
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var groups []*store.Group
	for rows.Next() {
		var group store.Group
		if err := rows.Scan(&group.ID, &group.Name, &group.OwnerID, &group.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, &group)
	}
	return groups, rows.Err()
}

// AddMember adds a user to a group.
func (s *SQLiteStore) AddMember(ctx context.Context, userID, groupID int64) error {
	query := `
		INSERT OR IGNORE INTO group_members (user_id, group_id)
		VALUES (?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, userID, groupID); err != nil {
		return fmt.Errorf("insert group member: %w", err)
	}
	return nil
}

// IsMember checks if user is a member of the group.
func (s *SQLiteStore) IsMember(ctx context.Context, userID, groupID int64) (bool, error) {
	query := `
		SELECT COUNT(*) FROM group_members
		WHERE user_id = ? AND group_id = ?
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, userID, groupID).Scan(&count); err != nil {
		return false, fmt.Errorf("query membership: %w", err)
	}
	return count > 0, nil
}

// ==== ChannelStore implementation ====

// CreateChannel adds a channel to a group.
func (s *SQLiteStore) CreateChannel(ctx context.Context, groupID int64, name string) (*store.Channel, error) {
	result, err := s.db.ExecContext(ctx, `INSERT INTO channels (group_id, name) VALUES (?, ?)`, groupID, name)
	if err != nil {
		return nil, fmt.Errorf("insert channel: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}
	return s.GetChannel(ctx, id)
}

// GetChannel retrieves a channel by ID.
func (s *SQLiteStore) GetChannel(ctx context.Context, id int64) (*store.Channel, error) {
	query := `
		SELECT id, group_id, name, created_at
		FROM channels
		WHERE id = ?
	`
	var ch store.Channel
	err := s.db.QueryRowContext(ctx, query, id).Scan(&ch.ID, &ch.GroupID, &ch.Name, &ch.CreatedAt)
	if err != nil {
		return nil, notFound("channel", err)
	}
	return &ch, nil
}

// ListChannels lists the channels of a group in creation order.
func (s *SQLiteStore) ListChannels(ctx context.Context, groupID int64) ([]*store.Channel, error) {
	query := `
		SELECT id, group_id, name, created_at
		FROM channels
		WHERE group_id = ?
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	channels := []*store.Channel{}
	for rows.Next() {
		var ch store.Channel
		if err := rows.Scan(&ch.ID, &ch.GroupID, &ch.Name, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, &ch)
	}
	return channels, rows.Err()
}

// ==== MessageStore implementation ====

// SaveMessage persists a message to storage.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	query := `
		INSERT INTO messages (channel_id, user_id, body, created_at)
		VALUES (?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, msg.ChannelID, msg.UserID, msg.Body, msg.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	msg.ID = id
	return nil
}

// ListMessages returns the newest limit messages of a channel, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, channelID int64, limit int) ([]*store.Message, error) {
	query := `
		SELECT m.id, m.channel_id, m.user_id, m.body, m.created_at,
		       u.id, u.username, u.display_name, u.flags, u.avatar_url, u.created_at
		FROM messages m
		INNER JOIN users u ON u.id = m.user_id
		WHERE m.channel_id = ?
		ORDER BY m.id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var msg store.Message
		var author store.User
		if err := rows.Scan(
			&msg.ID, &msg.ChannelID, &msg.UserID, &msg.Body, &msg.CreatedAt,
			&author.ID, &author.Username, &author.DisplayName, &author.Flags, &author.AvatarURL, &author.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Author = &author
		messages = append(messages, &msg)
	}

	// Reverse to get chronological order
	for i := range len(messages) / 2 {
		messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
	}

	return messages, rows.Err()
}

// ==== InviteStore implementation ====

// CreateInvite stores a new invite code for a group.
func (s *SQLiteStore) CreateInvite(ctx context.Context, code string, groupID int64) (*store.Invite, error) {
	if _, err := s.db.ExecContext(ctx, `INSERT INTO invites (code, group_id) VALUES (?, ?)`, code, groupID); err != nil {
		return nil, fmt.Errorf("insert invite: %w", err)
	}
	return s.GetInvite(ctx, code)
}

// GetInvite retrieves an invite by code.
func (s *SQLiteStore) GetInvite(ctx context.Context, code string) (*store.Invite, error) {
	query := `
		SELECT code, group_id, created_at
		FROM invites
		WHERE code = ?
	`
	var inv store.Invite
	if err := s.db.QueryRowContext(ctx, query, code).Scan(&inv.Code, &inv.GroupID, &inv.CreatedAt); err != nil {
		return nil, notFound("invite", err)
	}
	return &inv, nil
}

var _ store.Store = (*SQLiteStore)(nil)
