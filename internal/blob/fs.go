// Package blob implements the object-store collaborator on the local
// filesystem: uploads land under a root directory and are served back as
// durable URLs under the server's public base URL.
package blob

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// URLPrefix is the path under which uploaded objects are served.
const URLPrefix = "/uploads"

// FileStore stores uploaded objects on disk.
type FileStore struct {
	root    string
	baseURL string
	log     *zerolog.Logger
}

// NewFileStore creates the upload root if needed and returns the store.
// baseURL is the public origin the durable URLs are built on.
func NewFileStore(root, baseURL string, logger *zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload root: %w", err)
	}
	return &FileStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     logger,
	}, nil
}

// Upload writes data under key and returns its durable URL. Keys are
// slash-separated, unique per upload (callers embed a timestamp), and must
// stay inside the upload root.
func (f *FileStore) Upload(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	clean := filepath.ToSlash(filepath.Clean("/" + key))[1:]
	if clean == "" || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid upload key %q", key)
	}

	dest := filepath.Join(f.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}

	f.log.Debug().Str("key", clean).Int("bytes", len(data)).Msg("object uploaded")
	return f.baseURL + URLPrefix + "/" + escapePath(clean), nil
}

// Root returns the directory uploads are written to, for static serving.
func (f *FileStore) Root() string {
	return f.root
}

func escapePath(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
