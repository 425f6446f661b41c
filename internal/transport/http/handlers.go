package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mkovalev/duochat/internal/assistant"
	"github.com/mkovalev/duochat/internal/auth"
	"github.com/mkovalev/duochat/internal/chat"
	"github.com/mkovalev/duochat/internal/session"
	"github.com/mkovalev/duochat/internal/store"
)

const maxUploadBytes = 10 << 20

// Handlers provides the REST endpoints of the chat server.
type Handlers struct {
	sessions  *session.Manager
	store     store.Store
	blobs     store.BlobStore
	names     *chat.Names
	assistant assistant.Service
	log       *zerolog.Logger
}

// NewHandlers creates the REST handler set.
func NewHandlers(sessions *session.Manager, st store.Store, blobs store.BlobStore, asst assistant.Service, logger *zerolog.Logger) *Handlers {
	return &Handlers{
		sessions:  sessions,
		store:     st,
		blobs:     blobs,
		names:     chat.NewNames(st, logger),
		assistant: asst,
		log:       logger,
	}
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"profileImageUrl,omitempty"`
}

// AuthResponse represents the authentication response body.
type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse mirrors the client-side message shape.
type MessageResponse struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text,omitempty"`
	MediaURL   string `json:"media_url,omitempty"`
	MediaType  string `json:"media_type,omitempty"`
	ClientTag  string `json:"client_tag,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
}

// SendMessageRequest represents a message append: text, a media reference,
// or both. Media fields let a client append the persistent image message
// after uploading the bytes itself.
type SendMessageRequest struct {
	Text      string `json:"text"`
	MediaURL  string `json:"media_url"`
	MediaType string `json:"media_type"`
	ClientTag string `json:"client_tag"`
}

// Login handles user login.
// POST /api/login
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, user, err := h.sessions.SignIn(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrNotParticipant) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
			return
		}
		h.log.Error().Err(err).Str("username", req.Username).Msg("failed to login user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	// The response is built from the user SignIn returned, not from the
	// shared session state: the other participant may sign in concurrently.
	c.JSON(http.StatusOK, AuthResponse{
		Token: token,
		User:  UserResponse{ID: user.ID, Name: user.Name, AvatarURL: user.AvatarURL},
	})
}

// Messages returns the full ordered snapshot of the conversation with peer.
// GET /api/conversations/:peer/messages
func (h *Handlers) Messages(c *gin.Context) {
	selfID := c.GetString(ContextKeyUserID)
	convID := chat.ConversationID(selfID, c.Param("peer"))

	msgs, err := h.store.Messages(c.Request.Context(), convID)
	if err != nil {
		h.log.Error().Err(err).Str("conversation_id", convID).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	c.JSON(http.StatusOK, out)
}

// SendMessage appends a message to the conversation with peer. Text is
// trimmed; a request with neither text nor media is rejected, so
// whitespace-only input never reaches the store.
// POST /api/conversations/:peer/messages
func (h *Handlers) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" && req.MediaURL == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "empty message"})
		return
	}

	mediaType := store.MediaType(req.MediaType)
	switch mediaType {
	case store.MediaNone, store.MediaImage:
	default:
		// Uploading placeholders are display-only and never persisted.
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid media type"})
		return
	}

	selfID := c.GetString(ContextKeyUserID)
	peerID := c.Param("peer")
	convID := chat.ConversationID(selfID, peerID)

	if err := h.ensureConversation(c, convID, selfID, peerID); err != nil {
		return
	}

	msg, err := h.store.AppendMessage(c.Request.Context(), convID, store.Message{
		SenderID:   selfID,
		ReceiverID: peerID,
		Text:       req.Text,
		MediaURL:   req.MediaURL,
		MediaType:  mediaType,
		ClientTag:  req.ClientTag,
	})
	if err != nil {
		h.log.Error().Err(err).Str("conversation_id", convID).Msg("failed to append message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusCreated, toMessageResponse(msg))
}

// UploadImage stores an image and appends the corresponding message.
// POST /api/conversations/:peer/images (multipart: file, optional client_tag)
func (h *Handlers) UploadImage(c *gin.Context) {
	selfID := c.GetString(ContextKeyUserID)
	peerID := c.Param("peer")
	convID := chat.ConversationID(selfID, peerID)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing file"})
		return
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "file too large"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unreadable file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unreadable file"})
		return
	}

	if err := h.ensureConversation(c, convID, selfID, peerID); err != nil {
		return
	}

	key := fmt.Sprintf("chat_images/%s/%d_%s", convID, time.Now().UnixMilli(), fileHeader.Filename)
	url, err := h.blobs.Upload(c.Request.Context(), key, data)
	if err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("failed to upload image")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "upload failed"})
		return
	}

	msg, err := h.store.AppendMessage(c.Request.Context(), convID, store.Message{
		SenderID:   selfID,
		ReceiverID: peerID,
		MediaURL:   url,
		MediaType:  store.MediaImage,
		ClientTag:  c.PostForm("client_tag"),
	})
	if err != nil {
		h.log.Error().Err(err).Str("conversation_id", convID).Msg("failed to append image message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusCreated, toMessageResponse(msg))
}

// UploadBlob stores raw upload bytes under a client-chosen key and returns
// the durable URL, without appending a message. Clients that run the
// composer pipeline themselves upload here first, then append the image
// message carrying the returned URL.
// POST /api/uploads (multipart: file, key)
func (h *Handlers) UploadBlob(c *gin.Context) {
	key := c.PostForm("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing key"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing file"})
		return
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "file too large"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unreadable file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unreadable file"})
		return
	}

	url, err := h.blobs.Upload(c.Request.Context(), key, data)
	if err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("failed to upload blob")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "upload failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

// CustomName returns the viewer's display-name override for a contact.
// GET /api/contacts/:contact/name
func (h *Handlers) CustomName(c *gin.Context) {
	viewerID := c.GetString(ContextKeyUserID)
	name, err := h.store.CustomName(c.Request.Context(), viewerID, c.Param("contact"))
	if err != nil {
		h.log.Error().Err(err).Msg("failed to get custom name")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"customName": name})
}

// SetCustomName stores or clears the viewer's override for a contact.
// PUT /api/contacts/:contact/name {"customName": "..."}; empty clears.
func (h *Handlers) SetCustomName(c *gin.Context) {
	var req struct {
		CustomName string `json:"customName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	viewerID := c.GetString(ContextKeyUserID)
	contactID := c.Param("contact")

	// Routed through the overlay so its trim and identical-value rules
	// apply to stored values too.
	var err error
	if req.CustomName == "" {
		err = h.names.ClearCustomName(c.Request.Context(), viewerID, contactID)
	} else {
		err = h.names.SetCustomName(c.Request.Context(), viewerID, contactID, req.CustomName)
	}
	if err != nil {
		h.log.Error().Err(err).Msg("failed to update custom name")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}

// AskAssistant runs one assistant round-trip on behalf of the client.
// The assistant contract never fails outward, so this always answers 200.
// POST /api/assistant {"prompt": "..."}
func (h *Handlers) AskAssistant(c *gin.Context) {
	var req struct {
		Prompt string `json:"prompt" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	reply := h.assistant.Ask(c.Request.Context(), req.Prompt)
	c.JSON(http.StatusOK, gin.H{"response": reply})
}

func (h *Handlers) ensureConversation(c *gin.Context, convID, selfID, peerID string) error {
	ctx := c.Request.Context()
	exists, err := h.store.ConversationExists(ctx, convID)
	if err == nil && !exists {
		err = h.store.CreateConversation(ctx, convID, chat.Participants(selfID, peerID))
	}
	if err != nil {
		h.log.Error().Err(err).Str("conversation_id", convID).Msg("failed to ensure conversation")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
	return err
}

func toMessageResponse(m store.Message) MessageResponse {
	return MessageResponse{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		MediaURL:   m.MediaURL,
		MediaType:  string(m.MediaType),
		ClientTag:  m.ClientTag,
		CreatedAt:  m.CreatedAt,
	}
}
