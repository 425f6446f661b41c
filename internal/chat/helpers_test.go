package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkovalev/duochat/internal/store"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// fakeConversationStore is an in-memory ConversationStore with synchronous
// snapshot delivery, so tests observe effects without sleeping.
type fakeConversationStore struct {
	mu        sync.Mutex
	exists    bool
	created   []string
	msgs      []store.Message
	appendErr error
	existsErr error
	subs      map[int]func(store.SnapshotEvent)
	nextSub   int
	seq       uint64
	nextID    int
}

func newFakeConversationStore() *fakeConversationStore {
	return &fakeConversationStore{subs: make(map[int]func(store.SnapshotEvent))}
}

func (f *fakeConversationStore) ConversationExists(_ context.Context, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists, f.existsErr
}

func (f *fakeConversationStore) CreateConversation(_ context.Context, _ string, participants []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exists = true
	f.created = participants
	return nil
}

func (f *fakeConversationStore) AppendMessage(_ context.Context, _ string, msg store.Message) (store.Message, error) {
	f.mu.Lock()
	if f.appendErr != nil {
		err := f.appendErr
		f.mu.Unlock()
		return store.Message{}, err
	}
	f.nextID++
	msg.ID = fmt.Sprintf("srv-%d", f.nextID)
	if msg.CreatedAt == 0 {
		msg.CreatedAt = time.Now().UnixMilli()
	}
	f.msgs = append(f.msgs, msg)
	f.mu.Unlock()

	f.broadcast(store.SnapshotUpdate)
	return msg, nil
}

func (f *fakeConversationStore) Messages(_ context.Context, _ string) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Message, len(f.msgs))
	copy(out, f.msgs)
	return out, nil
}

func (f *fakeConversationStore) Subscribe(_ string, fn func(store.SnapshotEvent)) store.CancelFunc {
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	f.mu.Unlock()

	f.broadcastTo(fn, store.SnapshotInitial)

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *fakeConversationStore) broadcast(kind store.SnapshotKind) {
	f.mu.Lock()
	fns := make([]func(store.SnapshotEvent), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		f.broadcastTo(fn, kind)
	}
}

func (f *fakeConversationStore) broadcastTo(fn func(store.SnapshotEvent), kind store.SnapshotKind) {
	f.mu.Lock()
	f.seq++
	ev := store.SnapshotEvent{
		Kind:     kind,
		Seq:      f.seq,
		Messages: append([]store.Message(nil), f.msgs...),
	}
	f.mu.Unlock()
	fn(ev)
}

// push delivers an arbitrary event to all subscribers, for stale-sequence
// and error-path tests.
func (f *fakeConversationStore) push(ev store.SnapshotEvent) {
	f.mu.Lock()
	fns := make([]func(store.SnapshotEvent), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

type fakeBlobStore struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (f *fakeBlobStore) Upload(_ context.Context, key string, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	return "https://blobs.test/" + key, nil
}

type fakeAssistant struct {
	reply   string
	prompts []string
}

func (f *fakeAssistant) Ask(_ context.Context, prompt string) string {
	f.prompts = append(f.prompts, prompt)
	return f.reply
}

// localRecorder collects optimistic entries like a view model would.
type localRecorder struct {
	mu      sync.Mutex
	entries []store.Message
}

func (r *localRecorder) AppendLocal(m store.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, m)
}

func (r *localRecorder) all() []store.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.Message(nil), r.entries...)
}
