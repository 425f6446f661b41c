package app

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
	"testing/iotest"
)

func TestRandomSecret(t *testing.T) {
	first, err := randomSecret(rand.Reader)
	if err != nil {
		t.Fatalf("randomSecret: %v", err)
	}
	if len(first) != 32 {
		t.Fatalf("secret length = %d, want 32", len(first))
	}

	second, err := randomSecret(rand.Reader)
	if err != nil {
		t.Fatalf("randomSecret: %v", err)
	}
	if bytes.Equal(first, second) {
		t.Fatal("two generated secrets are identical")
	}
}

func TestRandomSecretFailsOnEntropyError(t *testing.T) {
	broken := errors.New("entropy exhausted")
	if _, err := randomSecret(iotest.ErrReader(broken)); !errors.Is(err, broken) {
		t.Fatalf("err = %v, want wrapped %v", err, broken)
	}
}

func TestRandomSecretFailsOnShortRead(t *testing.T) {
	if _, err := randomSecret(bytes.NewReader([]byte("short"))); err == nil {
		t.Fatal("expected error for truncated entropy source")
	}
}
