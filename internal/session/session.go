// Package session holds the application-wide authentication state: the
// current principal, explicit sign-in/sign-out, and change notifications.
// Components receive the session explicitly instead of reading ambient
// globals.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mkovalev/duochat/internal/auth"
	"github.com/mkovalev/duochat/internal/store"
)

// Manager tracks the current authenticated principal and notifies
// subscribers on every sign-in/sign-out transition.
type Manager struct {
	auth *auth.Service
	log  *zerolog.Logger

	mu      sync.Mutex
	current *store.User
	subs    map[int]func(*store.User)
	nextSub int
}

// NewManager builds a session manager over the auth service.
func NewManager(authService *auth.Service, logger *zerolog.Logger) *Manager {
	return &Manager{
		auth: authService,
		log:  logger,
		subs: make(map[int]func(*store.User)),
	}
}

// Current returns the signed-in user, or nil.
func (m *Manager) Current() *store.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Subscribe registers fn for session transitions. fn fires immediately with
// the current value, then on every change. The returned CancelFunc stops
// notifications.
func (m *Manager) Subscribe(fn func(*store.User)) store.CancelFunc {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	current := m.current
	m.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// SignIn authenticates and installs the principal, returning the token and
// the user it belongs to. Callers must build responses from the returned
// user, not from Current: another sign-in may land between the two calls.
// A valid account that is not a permitted participant is treated as a login
// failure: the session is explicitly torn down so no
// authenticated-but-unauthorized state survives.
func (m *Manager) SignIn(ctx context.Context, username, password string) (string, *store.User, error) {
	token, user, err := m.auth.Login(ctx, username, password)
	if err != nil {
		if errors.Is(err, auth.ErrNotParticipant) {
			m.log.Warn().Str("username", username).Msg("authenticated user is not a permitted participant, signing out")
			m.SignOut()
		}
		return "", nil, err
	}

	m.set(user)
	m.log.Info().Str("username", user.Username).Msg("signed in")
	return token, user, nil
}

// SignOut clears the principal and notifies subscribers.
func (m *Manager) SignOut() {
	m.set(nil)
}

func (m *Manager) set(user *store.User) {
	m.mu.Lock()
	m.current = user
	fns := make([]func(*store.User), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(user)
	}
}
