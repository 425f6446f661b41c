package store

import (
	"context"
	"time"
)

// User represents a chat participant.
type User struct {
	ID           string
	Username     string
	Name         string
	PasswordHash string
	AvatarURL    string
	CreatedAt    time.Time
}

// Conversation is a two-party chat thread keyed by its symmetric identifier.
type Conversation struct {
	ID           string
	Participants []string // sorted participant ids
	CreatedAt    time.Time
}

// MediaType describes the media payload of a message.
type MediaType string

const (
	// MediaNone marks a text-only message.
	MediaNone MediaType = ""
	// MediaImage marks a persisted image message.
	MediaImage MediaType = "image"
	// MediaUploading marks a transient local placeholder while an upload
	// is in flight. Never persisted.
	MediaUploading MediaType = "uploading"
)

// Message is a single conversation entry. Persisted messages carry a
// store-assigned id and server timestamp; local-only entries (assistant
// round-trips, upload placeholders) carry synthetic ids and Local=true.
type Message struct {
	ID         string
	SenderID   string
	ReceiverID string
	Text       string
	MediaURL   string
	MediaType  MediaType
	// ClientTag correlates an optimistic placeholder with the persisted
	// message that supersedes it.
	ClientTag string
	// CreatedAt is epoch milliseconds. Zero means the authoritative server
	// timestamp has not been assigned yet.
	CreatedAt int64
	// Local marks display-only entries that never reach the store.
	Local bool
}

// SnapshotKind tags a snapshot event.
type SnapshotKind int

const (
	// SnapshotInitial is the first full snapshot after subscribing.
	SnapshotInitial SnapshotKind = iota
	// SnapshotUpdate is a full replacement snapshot after a change.
	SnapshotUpdate
	// SnapshotError reports a subscription failure.
	SnapshotError
)

// SnapshotEvent delivers the complete ordered message list of a conversation.
// Seq increases monotonically per subscription; consumers must drop events
// whose Seq is not greater than the last one they applied.
type SnapshotEvent struct {
	Kind     SnapshotKind
	Seq      uint64
	Messages []Message
	Err      error
}

// CancelFunc tears down a subscription. Idempotent.
type CancelFunc func()

// ConversationStore persists conversations and messages and notifies
// subscribers with full ascending-time snapshots on every change.
type ConversationStore interface {
	// ConversationExists reports whether the conversation record exists.
	ConversationExists(ctx context.Context, conversationID string) (bool, error)

	// CreateConversation creates the conversation record with its sorted
	// participant list. Safe to call when the record already exists.
	CreateConversation(ctx context.Context, conversationID string, participants []string) error

	// AppendMessage persists a message, assigning its id and server
	// timestamp, and returns the stored form.
	AppendMessage(ctx context.Context, conversationID string, msg Message) (Message, error)

	// Messages returns the full ordered message list of a conversation.
	Messages(ctx context.Context, conversationID string) ([]Message, error)

	// Subscribe registers fn for snapshot events of a conversation. The
	// initial snapshot is delivered asynchronously; every append triggers
	// an update carrying the full list. The returned CancelFunc stops
	// delivery and may be called more than once.
	Subscribe(conversationID string, fn func(SnapshotEvent)) CancelFunc
}

// NameStore persists per-viewer display-name overrides.
type NameStore interface {
	// CustomName returns the override set by viewer for contact, or ""
	// when none is set.
	CustomName(ctx context.Context, viewerID, contactID string) (string, error)

	// SetCustomName stores an override.
	SetCustomName(ctx context.Context, viewerID, contactID, name string) error

	// ClearCustomName removes an override, reverting to the canonical name.
	ClearCustomName(ctx context.Context, viewerID, contactID string) error
}

// BlobStore uploads binary objects and returns durable URLs.
type BlobStore interface {
	// Upload stores data under key and returns a URL that remains valid
	// for the lifetime of the object. Keys must be unique per upload.
	Upload(ctx context.Context, key string, data []byte) (string, error)
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, name, passwordHash, avatarURL string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	ConversationStore
	NameStore
	UserStore

	// Close closes the underlying database connection.
	Close() error
}
