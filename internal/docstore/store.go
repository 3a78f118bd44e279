// Package docstore persists uploaded document images and returns the
// URL they will be served from. The storage technology is deliberately
// behind an interface; the engine only cares about the URL.
package docstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Store persists a document and returns its URL.
type Store interface {
	Persist(ctx context.Context, name string, data []byte) (string, error)
}

// FSStore writes documents to a local directory, served under baseURL.
type FSStore struct {
	dir     string
	baseURL string
}

func NewFSStore(dir, baseURL string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("docstore: %w", err)
	}
	return &FSStore{dir: dir, baseURL: baseURL}, nil
}

func (s *FSStore) Persist(ctx context.Context, name string, data []byte) (string, error) {
	// Uploads get a fresh name; the caller's filename is untrusted.
	stored := uuid.NewString() + filepath.Ext(name)
	if err := os.WriteFile(filepath.Join(s.dir, stored), data, 0o640); err != nil {
		return "", fmt.Errorf("docstore: %w", err)
	}
	return s.baseURL + "/" + stored, nil
}
