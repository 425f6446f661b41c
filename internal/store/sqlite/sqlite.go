package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mkovalev/duochat/internal/store"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	avatar_url    TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS conversations (
	id            TEXT PRIMARY KEY,
	participant_a TEXT NOT NULL,
	participant_b TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	sender_id       TEXT NOT NULL,
	receiver_id     TEXT NOT NULL,
	text            TEXT NOT NULL DEFAULT '',
	media_url       TEXT NOT NULL DEFAULT '',
	media_type      TEXT NOT NULL DEFAULT '',
	client_tag      TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages(conversation_id, created_at);

CREATE TABLE IF NOT EXISTS custom_names (
	viewer_id   TEXT NOT NULL,
	contact_id  TEXT NOT NULL,
	custom_name TEXT NOT NULL,
	updated_at  INTEGER NOT NULL,
	PRIMARY KEY (viewer_id, contact_id)
);
`

// subscriber is one live snapshot listener. Pending delivery holds at most
// one event: a newer snapshot supersedes an undelivered older one.
type subscriber struct {
	fn   func(store.SnapshotEvent)
	ch   chan store.SnapshotEvent
	done chan struct{}
	seq  uint64
}

// SQLiteStore implements store.Store for SQLite, with in-process snapshot
// fan-out to subscribers on every append.
type SQLiteStore struct {
	db *sql.DB

	// mu serializes subscriber bookkeeping and snapshot fan-out so event
	// sequence numbers always match snapshot content order.
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file; ":memory:" works for tests.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema without migrations.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
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

	return &SQLiteStore{
		db:   db,
		subs: make(map[string]map[*subscriber]struct{}),
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== ConversationStore implementation ====

// ConversationExists reports whether the conversation record exists.
func (s *SQLiteStore) ConversationExists(ctx context.Context, conversationID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query conversation: %w", err)
	}
	return true, nil
}

// CreateConversation creates the conversation record. Idempotent: creating
// an existing conversation is a no-op.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conversationID string, participants []string) error {
	if len(participants) != 2 {
		return fmt.Errorf("conversation %s: want 2 participants, got %d", conversationID, len(participants))
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, participant_a, participant_b, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, conversationID, participants[0], participants[1], time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// AppendMessage persists a message with a store-assigned id and server
// timestamp, then fans the updated snapshot out to subscribers.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, msg store.Message) (store.Message, error) {
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now().UnixMilli()
	msg.Local = false

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, text, media_url, media_type, client_tag, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, conversationID, msg.SenderID, msg.ReceiverID, msg.Text, msg.MediaURL, string(msg.MediaType), msg.ClientTag, msg.CreatedAt)
	if err != nil {
		return store.Message{}, fmt.Errorf("insert message: %w", err)
	}

	s.broadcast(conversationID)
	return msg, nil
}

// Messages returns the full ordered message list of a conversation,
// ascending by created_at with insertion order breaking ties.
func (s *SQLiteStore) Messages(ctx context.Context, conversationID string) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, text, media_url, media_type, client_tag, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []store.Message
	for rows.Next() {
		var m store.Message
		var mediaType string
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.MediaURL, &mediaType, &m.ClientTag, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.MediaType = store.MediaType(mediaType)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Subscribe registers fn for snapshot events. The initial snapshot is
// enqueued before Subscribe returns and delivered on a dedicated goroutine;
// each append enqueues an update. Cancelling stops the pump; an event
// already being dispatched may still complete, callers needing a hard
// no-callbacks-after-cancel guarantee wrap this with their own gate.
func (s *SQLiteStore) Subscribe(conversationID string, fn func(store.SnapshotEvent)) store.CancelFunc {
	sub := &subscriber{
		fn:   fn,
		ch:   make(chan store.SnapshotEvent, 1),
		done: make(chan struct{}),
	}

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case ev := <-sub.ch:
				sub.fn(ev)
			}
		}
	}()

	s.mu.Lock()
	if s.subs[conversationID] == nil {
		s.subs[conversationID] = make(map[*subscriber]struct{})
	}
	s.subs[conversationID][sub] = struct{}{}
	s.enqueueLocked(conversationID, sub, store.SnapshotInitial)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[conversationID], sub)
			if len(s.subs[conversationID]) == 0 {
				delete(s.subs, conversationID)
			}
			s.mu.Unlock()
			close(sub.done)
		})
	}
}

// broadcast delivers the current snapshot to every subscriber of the
// conversation. Runs under mu so concurrent appends cannot interleave
// sequence numbers out of content order.
func (s *SQLiteStore) broadcast(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs[conversationID] {
		s.enqueueLocked(conversationID, sub, store.SnapshotUpdate)
	}
}

func (s *SQLiteStore) enqueueLocked(conversationID string, sub *subscriber, kind store.SnapshotKind) {
	msgs, err := s.Messages(context.Background(), conversationID)

	sub.seq++
	ev := store.SnapshotEvent{Kind: kind, Seq: sub.seq, Messages: msgs}
	if err != nil {
		ev = store.SnapshotEvent{Kind: store.SnapshotError, Err: err}
	}

	// Replace a pending undelivered event: snapshots supersede, the
	// subscriber only ever needs the newest one.
	select {
	case sub.ch <- ev:
	default:
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- ev
	}
}

// ==== NameStore implementation ====

// CustomName returns the display-name override, or "" when unset.
func (s *SQLiteStore) CustomName(ctx context.Context, viewerID, contactID string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `
		SELECT custom_name FROM custom_names WHERE viewer_id = ? AND contact_id = ?
	`, viewerID, contactID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query custom name: %w", err)
	}
	return name, nil
}

// SetCustomName upserts the display-name override.
func (s *SQLiteStore) SetCustomName(ctx context.Context, viewerID, contactID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO custom_names (viewer_id, contact_id, custom_name, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(viewer_id, contact_id) DO UPDATE SET custom_name = excluded.custom_name, updated_at = excluded.updated_at
	`, viewerID, contactID, name, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert custom name: %w", err)
	}
	return nil
}

// ClearCustomName removes the display-name override.
func (s *SQLiteStore) ClearCustomName(ctx context.Context, viewerID, contactID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM custom_names WHERE viewer_id = ? AND contact_id = ?
	`, viewerID, contactID)
	if err != nil {
		return fmt.Errorf("delete custom name: %w", err)
	}
	return nil
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, name, passwordHash, avatarURL string) (*store.User, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, name, password_hash, avatar_url)
		VALUES (?, ?, ?, ?, ?)
	`, id, username, name, passwordHash, avatarURL)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	return s.getUser(ctx, `WHERE id = ?`, id)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return s.getUser(ctx, `WHERE username = ?`, username)
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg any) (*store.User, error) {
	query := `
		SELECT id, username, name, password_hash, avatar_url, created_at
		FROM users ` + where
	var u store.User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Username, &u.Name, &u.PasswordHash, &u.AvatarURL, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}
