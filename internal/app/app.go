package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkovalev/duochat/internal/assistant"
	"github.com/mkovalev/duochat/internal/auth"
	"github.com/mkovalev/duochat/internal/blob"
	"github.com/mkovalev/duochat/internal/chat"
	"github.com/mkovalev/duochat/internal/config"
	"github.com/mkovalev/duochat/internal/session"
	"github.com/mkovalev/duochat/internal/store"
	"github.com/mkovalev/duochat/internal/store/sqlite"
	transporthttp "github.com/mkovalev/duochat/internal/transport/http"
)

// App wires together storage, auth, the assistant, and the transport layer.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	if err := seedParticipants(ctx, st, cfg.Participants, logger); err != nil {
		st.Close()
		return nil, err
	}

	blobs, err := blob.NewFileStore(cfg.UploadDir, cfg.PublicBaseURL, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init blob store: %w", err)
	}

	asst, err := assistant.New(ctx, cfg.AI, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init assistant: %w", err)
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      24 * time.Hour,
	}
	if cfg.JWTSecret == "" {
		secret, err := randomSecret(rand.Reader)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		jwtConfig.Secret = secret
		logger.Warn().Msg("no jwt secret configured, generated an ephemeral one; sessions won't survive restarts")
	}

	allowed := make([]string, 0, len(cfg.Participants))
	for _, p := range cfg.Participants {
		allowed = append(allowed, p.Username)
	}

	authService := auth.NewService(st, jwtConfig, allowed)
	sessions := session.NewManager(authService, logger)
	stream := chat.NewStreamClient(st, logger)

	server := transporthttp.NewServer(cfg, sessions, authService, st, blobs, stream, asst, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}

// seedParticipants creates the configured chat users if they don't exist.
func seedParticipants(ctx context.Context, st store.UserStore, participants []config.Participant, logger *zerolog.Logger) error {
	for _, p := range participants {
		if p.Username == "" {
			continue
		}

		_, err := st.GetUserByUsername(ctx, p.Username)
		if err == nil {
			continue
		}
		if !errors.Is(err, sqlite.ErrNotFound) {
			return fmt.Errorf("lookup participant %s: %w", p.Username, err)
		}

		if p.Password == "" {
			logger.Warn().Str("username", p.Username).Msg("participant has no password, skipping seed")
			continue
		}

		hash, err := auth.HashPassword(p.Password)
		if err != nil {
			return fmt.Errorf("hash participant password: %w", err)
		}

		name := p.Name
		if name == "" {
			name = p.Username
		}
		if _, err := st.CreateUser(ctx, p.Username, name, hash, p.AvatarURL); err != nil {
			return fmt.Errorf("seed participant %s: %w", p.Username, err)
		}
		logger.Info().Str("username", p.Username).Msg("participant seeded")
	}
	return nil
}

// randomSecret draws 32 bytes of signing key material from r. A signing key
// must never be predictable, so a failing entropy source aborts startup.
func randomSecret(r io.Reader) ([]byte, error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read entropy: %w", err)
	}
	return buf, nil
}
