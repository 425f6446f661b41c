package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkovalev/duochat/internal/store"
)

// StreamClient opens live snapshot subscriptions for a conversation pair.
// The conversation record is created on first access before the listener is
// attached, so both participants observe the same thread.
type StreamClient struct {
	store store.ConversationStore
	log   *zerolog.Logger
	now   func() time.Time
}

// NewStreamClient builds a stream client over the given store.
func NewStreamClient(st store.ConversationStore, logger *zerolog.Logger) *StreamClient {
	return &StreamClient{store: st, log: logger, now: time.Now}
}

// Subscription is a live handle on one conversation's snapshot feed.
// A view holds at most one subscription per conversation; resubscribing
// requires cancelling the previous one first.
type Subscription struct {
	mu      sync.Mutex
	cancel  store.CancelFunc
	closed  bool
	lastSeq uint64
	onEvent func(store.SnapshotEvent)
	now     func() time.Time
	log     *zerolog.Logger
}

// Open ensures the conversation exists, then subscribes to its snapshot
// feed. The existence check and the subscription are strictly sequenced:
// the listener is never attached to a conversation that has not been
// created yet. onEvent receives full-list snapshots in Seq order; stale
// deliveries are dropped before they reach the consumer.
func (c *StreamClient) Open(ctx context.Context, selfID, peerID string, onEvent func(store.SnapshotEvent)) (*Subscription, error) {
	convID := ConversationID(selfID, peerID)

	exists, err := c.store.ConversationExists(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("check conversation %s: %w", convID, err)
	}
	if !exists {
		if err := c.store.CreateConversation(ctx, convID, Participants(selfID, peerID)); err != nil {
			return nil, fmt.Errorf("create conversation %s: %w", convID, err)
		}
		c.log.Info().Str("conversation_id", convID).Msg("conversation created")
	}

	sub := &Subscription{
		onEvent: onEvent,
		now:     c.now,
		log:     c.log,
	}
	sub.cancel = c.store.Subscribe(convID, sub.deliver)
	return sub, nil
}

// deliver forwards a snapshot event to the consumer. It runs on the store's
// notification goroutine; the mutex serializes it against Cancel so that no
// event is dispatched after Cancel returns.
func (s *Subscription) deliver(ev store.SnapshotEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if ev.Kind != store.SnapshotError {
		if ev.Seq <= s.lastSeq {
			s.log.Debug().Uint64("seq", ev.Seq).Uint64("last_seq", s.lastSeq).Msg("dropping stale snapshot")
			return
		}
		s.lastSeq = ev.Seq
	}

	// Messages whose authoritative timestamp is still in flight get the
	// local clock as a placeholder; the next snapshot carries the real one.
	nowMs := s.now().UnixMilli()
	for i := range ev.Messages {
		if ev.Messages[i].CreatedAt == 0 {
			ev.Messages[i].CreatedAt = nowMs
		}
	}

	s.onEvent(ev)
}

// Cancel stops further event delivery. It is idempotent and safe to call
// concurrently with an in-flight dispatch: it returns only once no dispatch
// is running and no later one can start. It must not be called from inside
// the onEvent callback itself.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}
