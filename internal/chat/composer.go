package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mkovalev/duochat/internal/assistant"
	"github.com/mkovalev/duochat/internal/store"
)

// ErrorSink receives user-visible, non-fatal errors: subscription failures,
// upload failures, append failures. Each error is reported once and the
// operation is not retried automatically.
type ErrorSink func(error)

const (
	// aiPrefix routes a text message to the assistant instead of the store.
	// Case-sensitive, exactly this literal including the trailing space.
	aiPrefix = "/ai "

	promptEchoPrefix = "Me to AI: "
)

// FileInput is an attached or captured image ready to send.
type FileInput struct {
	Name string
	Data []byte
	// PreviewURL is a locally renderable reference shown while the upload
	// is in flight.
	PreviewURL string
}

// Input is exactly one of: plain text, or a file payload.
type Input struct {
	Text string
	File *FileInput
}

// CapturedPhoto wraps camera-captured bytes as a file input with a
// synthesized filename.
func CapturedPhoto(data []byte, previewURL string) *FileInput {
	return &FileInput{
		Name:       fmt.Sprintf("capture-%d.jpg", time.Now().UnixMilli()),
		Data:       data,
		PreviewURL: previewURL,
	}
}

// LocalAppender receives optimistic display-only entries. Implemented by
// ViewModel.
type LocalAppender interface {
	AppendLocal(store.Message)
}

// Composer turns user intent into stream appends or an assistant
// round-trip, surfacing optimistic local entries before confirmation.
// Sends are independent: several may be outstanding at once, the composer
// is never disabled while one is in flight.
type Composer struct {
	conversationID string
	selfID         string
	peerID         string
	store          store.ConversationStore
	blobs          store.BlobStore
	assistant      assistant.Service
	locals         LocalAppender
	errs           ErrorSink
	log            *zerolog.Logger
	now            func() time.Time
	newID          func() string
}

// NewComposer builds a composer for the conversation between self and peer.
func NewComposer(selfID, peerID string, st store.ConversationStore, blobs store.BlobStore, asst assistant.Service, locals LocalAppender, errs ErrorSink, logger *zerolog.Logger) *Composer {
	return &Composer{
		conversationID: ConversationID(selfID, peerID),
		selfID:         selfID,
		peerID:         peerID,
		store:          st,
		blobs:          blobs,
		assistant:      asst,
		locals:         locals,
		errs:           errs,
		log:            logger,
		now:            time.Now,
		newID:          uuid.NewString,
	}
}

// Send processes one input. Blocking operations (upload, assistant call,
// store append) run on the caller's goroutine; the UI invokes Send
// asynchronously so the render loop never stalls.
func (c *Composer) Send(ctx context.Context, in Input) {
	if in.File != nil {
		c.sendFile(ctx, in.File)
		return
	}
	c.sendText(ctx, in.Text)
}

func (c *Composer) sendText(ctx context.Context, text string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}

	if strings.HasPrefix(trimmed, aiPrefix) {
		c.askAssistant(ctx, strings.TrimPrefix(trimmed, aiPrefix))
		return
	}

	msg := store.Message{
		SenderID:   c.selfID,
		ReceiverID: c.peerID,
		Text:       trimmed,
	}
	if _, err := c.store.AppendMessage(ctx, c.conversationID, msg); err != nil {
		c.fail(fmt.Errorf("send message: %w", err))
	}
}

// askAssistant runs the /ai path: a local-only prompt echo, the assistant
// call, then a local-only response entry. Neither entry is written to the
// persistent stream; both vanish on resubscribe. The assistant never fails
// outward, so the echo is never rolled back.
func (c *Composer) askAssistant(ctx context.Context, prompt string) {
	c.locals.AppendLocal(store.Message{
		ID:         "temp-prompt-" + c.newID(),
		SenderID:   c.selfID,
		ReceiverID: AssistantID,
		Text:       promptEchoPrefix + prompt,
		CreatedAt:  c.now().UnixMilli(),
	})

	reply := c.assistant.Ask(ctx, prompt)

	c.locals.AppendLocal(store.Message{
		ID:         "ai-resp-" + c.newID(),
		SenderID:   AssistantID,
		ReceiverID: c.selfID,
		Text:       reply,
		CreatedAt:  c.now().UnixMilli(),
	})
}

// sendFile surfaces an uploading placeholder, uploads the bytes, then
// appends the persisted image message carrying the durable URL and the same
// correlation tag. The placeholder is not removed here: the view model
// drops it when a snapshot containing the tag arrives. On failure the
// placeholder stays so the user can judge what happened.
func (c *Composer) sendFile(ctx context.Context, f *FileInput) {
	tag := c.newID()

	c.locals.AppendLocal(store.Message{
		ID:         "temp-img-" + tag,
		SenderID:   c.selfID,
		ReceiverID: c.peerID,
		MediaURL:   f.PreviewURL,
		MediaType:  store.MediaUploading,
		ClientTag:  tag,
		CreatedAt:  c.now().UnixMilli(),
	})

	key := fmt.Sprintf("chat_images/%s/%d_%s", c.conversationID, c.now().UnixMilli(), f.Name)
	url, err := c.blobs.Upload(ctx, key, f.Data)
	if err != nil {
		c.fail(fmt.Errorf("upload image: %w", err))
		return
	}

	msg := store.Message{
		SenderID:   c.selfID,
		ReceiverID: c.peerID,
		MediaURL:   url,
		MediaType:  store.MediaImage,
		ClientTag:  tag,
	}
	if _, err := c.store.AppendMessage(ctx, c.conversationID, msg); err != nil {
		c.fail(fmt.Errorf("send image message: %w", err))
	}
}

func (c *Composer) fail(err error) {
	c.log.Error().Err(err).Str("conversation_id", c.conversationID).Msg("composer operation failed")
	if c.errs != nil {
		c.errs(err)
	}
}
