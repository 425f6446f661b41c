package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mkovalev/duochat/internal/assistant"
	"github.com/mkovalev/duochat/internal/auth"
	"github.com/mkovalev/duochat/internal/blob"
	"github.com/mkovalev/duochat/internal/chat"
	"github.com/mkovalev/duochat/internal/config"
	"github.com/mkovalev/duochat/internal/session"
	"github.com/mkovalev/duochat/internal/store"
)

// NewServer builds the HTTP server: REST API, websocket snapshot feed, and
// static serving of uploaded objects.
func NewServer(
	cfg *config.Config,
	sessions *session.Manager,
	authService *auth.Service,
	st store.Store,
	blobs *blob.FileStore,
	stream *chat.StreamClient,
	asst assistant.Service,
	logger *zerolog.Logger,
) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), LoggerMiddleware(logger))

	handlers := NewHandlers(sessions, st, blobs, asst, logger)
	ws := NewWSHandler(stream, logger)
	authMW := AuthMiddleware(authService, logger)

	r.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	r.POST("/api/login", handlers.Login)

	api := r.Group("/api", authMW)
	{
		api.GET("/conversations/:peer/messages", handlers.Messages)
		api.POST("/conversations/:peer/messages", handlers.SendMessage)
		api.POST("/conversations/:peer/images", handlers.UploadImage)
		api.POST("/uploads", handlers.UploadBlob)
		api.POST("/assistant", handlers.AskAssistant)
		api.GET("/contacts/:contact/name", handlers.CustomName)
		api.PUT("/contacts/:contact/name", handlers.SetCustomName)
	}

	r.GET("/ws/conversations/:peer", authMW, ws.Feed)

	r.Static(blob.URLPrefix, blobs.Root())

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
