package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	logger := zerolog.Nop()
	fs, err := NewFileStore(t.TempDir(), "https://chat.example.test/", &logger)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return fs
}

func TestUploadWritesFileAndReturnsURL(t *testing.T) {
	fs := newTestStore(t)

	data := []byte("fake-jpeg-bytes")
	url, err := fs.Upload(context.Background(), "chat_images/alice_bob/1699000000000_photo.jpg", data)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	want := "https://chat.example.test/uploads/chat_images/alice_bob/1699000000000_photo.jpg"
	if url != want {
		t.Fatalf("url = %q, want %q", url, want)
	}

	got, err := os.ReadFile(filepath.Join(fs.Root(), "chat_images", "alice_bob", "1699000000000_photo.jpg"))
	if err != nil {
		t.Fatalf("read uploaded file: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("stored bytes = %q, want %q", got, data)
	}
}

func TestUploadEscapesKeySegments(t *testing.T) {
	fs := newTestStore(t)

	url, err := fs.Upload(context.Background(), "chat_images/alice_bob/1699_my photo.jpg", []byte("x"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	want := "https://chat.example.test/uploads/chat_images/alice_bob/1699_my%20photo.jpg"
	if url != want {
		t.Fatalf("url = %q, want %q", url, want)
	}
}

func TestUploadCannotEscapeRoot(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"", "..", "/"} {
		if _, err := fs.Upload(ctx, key, []byte("x")); err == nil {
			t.Fatalf("key %q accepted", key)
		}
	}

	// Traversal segments collapse inside the root instead of escaping it.
	if _, err := fs.Upload(ctx, "a/../../outside.txt", []byte("x")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := os.Stat(filepath.Join(fs.Root(), "outside.txt")); err != nil {
		t.Fatalf("neutralized key not written inside root: %v", err)
	}
	outside := filepath.Join(filepath.Dir(fs.Root()), "outside.txt")
	if _, err := os.Stat(outside); !os.IsNotExist(err) {
		t.Fatalf("file escaped the upload root: %v", err)
	}
}

func TestUploadHonorsContextCancellation(t *testing.T) {
	fs := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := fs.Upload(ctx, "chat_images/a/b.jpg", []byte("x")); err == nil {
		t.Fatal("cancelled context accepted")
	}
}
