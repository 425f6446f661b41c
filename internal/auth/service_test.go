package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mkovalev/duochat/internal/store"
)

type fakeUserStore struct {
	users map[string]*store.User // by username
}

var errUserNotFound = errors.New("user not found")

func (f *fakeUserStore) CreateUser(_ context.Context, username, name, passwordHash, avatarURL string) (*store.User, error) {
	u := &store.User{ID: "id-" + username, Username: username, Name: name, PasswordHash: passwordHash, AvatarURL: avatarURL}
	f.users[username] = u
	return u, nil
}

func (f *fakeUserStore) GetUserByID(_ context.Context, id string) (*store.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, errUserNotFound
}

func (f *fakeUserStore) GetUserByUsername(_ context.Context, username string) (*store.User, error) {
	u, ok := f.users[username]
	if !ok {
		return nil, errUserNotFound
	}
	return u, nil
}

func testJWTConfig() *JWTConfig {
	return &JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "duochat-test",
		Audience: "duochat",
		TTL:      time.Hour,
	}
}

func newTestService(t *testing.T, allowed []string) (*Service, *fakeUserStore) {
	t.Helper()
	fs := &fakeUserStore{users: make(map[string]*store.User)}
	for _, username := range []string{"alice", "bob", "mallory"} {
		hash, err := HashPassword(username + "-pass")
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		if _, err := fs.CreateUser(context.Background(), username, username, hash, ""); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	return NewService(fs, testJWTConfig(), allowed), fs
}

func TestLoginSuccess(t *testing.T) {
	svc, _ := newTestService(t, []string{"alice", "bob"})

	token, user, err := svc.Login(context.Background(), "alice", "alice-pass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}
	if user.Username != "alice" {
		t.Fatalf("user = %+v", user)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != user.ID || claims.Username != "alice" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestLoginTrimsUsername(t *testing.T) {
	svc, _ := newTestService(t, nil)

	if _, _, err := svc.Login(context.Background(), "  alice  ", "alice-pass"); err != nil {
		t.Fatalf("Login with padded username: %v", err)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	for _, tc := range []struct{ username, password string }{
		{"alice", "wrong"},
		{"ghost", "alice-pass"},
		{"", ""},
	} {
		if _, _, err := svc.Login(ctx, tc.username, tc.password); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("Login(%q, %q) = %v, want ErrInvalidCredentials", tc.username, tc.password, err)
		}
	}
}

func TestLoginRejectsNonParticipant(t *testing.T) {
	svc, _ := newTestService(t, []string{"alice", "bob"})

	// Valid account, valid password, but not on the participant list.
	_, _, err := svc.Login(context.Background(), "mallory", "mallory-pass")
	if !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}
}

func TestLoginWithoutAllowListAcceptsAnyUser(t *testing.T) {
	svc, _ := newTestService(t, nil)

	if _, _, err := svc.Login(context.Background(), "mallory", "mallory-pass"); err != nil {
		t.Fatalf("Login without allow-list: %v", err)
	}
}

func TestValidateTokenRejectsTampering(t *testing.T) {
	svc, _ := newTestService(t, nil)

	token, _, err := svc.Login(context.Background(), "alice", "alice-pass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := svc.ValidateToken(token + "x"); err == nil {
		t.Fatal("tampered token accepted")
	}

	otherCfg := testJWTConfig()
	otherCfg.Secret = []byte("other-secret")
	foreign, err := GenerateToken(otherCfg, "id-alice", "alice")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := svc.ValidateToken(foreign); err == nil {
		t.Fatal("token signed with a different secret accepted")
	}
}

func TestValidateTokenChecksIssuerAndAudience(t *testing.T) {
	cfg := testJWTConfig()

	badIssuer := testJWTConfig()
	badIssuer.Issuer = "someone-else"
	token, err := GenerateToken(badIssuer, "id-alice", "alice")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := ValidateToken(cfg, token); err == nil {
		t.Fatal("wrong issuer accepted")
	}

	badAudience := testJWTConfig()
	badAudience.Audience = "other-app"
	token, err = GenerateToken(badAudience, "id-alice", "alice")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := ValidateToken(cfg, token); err == nil {
		t.Fatal("wrong audience accepted")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	cfg := testJWTConfig()
	cfg.TTL = -time.Minute

	token, err := GenerateToken(cfg, "id-alice", "alice")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := ValidateToken(testJWTConfig(), token); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "s3cret" {
		t.Fatal("password stored in the clear")
	}
	if err := ComparePassword(hash, "s3cret"); err != nil {
		t.Fatalf("ComparePassword: %v", err)
	}
	if err := ComparePassword(hash, "wrong"); err == nil {
		t.Fatal("wrong password accepted")
	}
}
