package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"invoicechat/cmd/security/token"
)

// DefaultFilePath is used when no token file path is configured.
const DefaultFilePath = "./tokens.json"

// FileStore persists the bundle as a single JSON object at a path.
// A missing file is an empty bundle. When a key is configured the file holds
// an XChaCha20-Poly1305 sealed payload instead of plain JSON.
//
// Merges are serialized within the process; separate processes sharing the
// file are not coordinated.
type FileStore struct {
	mu   sync.Mutex
	path string
	key  []byte
}

// FileOption configures a FileStore.
type FileOption func(*FileStore) error

// WithEncryptionKey seals the file with a key derived from passphrase.
func WithEncryptionKey(passphrase string) FileOption {
	return func(s *FileStore) error {
		if passphrase == "" {
			return nil
		}
		k, err := token.DeriveKey(passphrase)
		if err != nil {
			return fmt.Errorf("credential: file key: %w", err)
		}
		s.key = k
		return nil
	}
}

// NewFileStore constructs a FileStore at path (DefaultFilePath when empty).
func NewFileStore(path string, opts ...FileOption) (*FileStore, error) {
	if path == "" {
		path = DefaultFilePath
	}
	s := &FileStore{path: path}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Get implements Store.
func (s *FileStore) Get(_ context.Context) (Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Set implements Store.
func (s *FileStore) Set(_ context.Context, p Patch) (Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.load()
	if err != nil {
		return Bundle{}, err
	}
	next := p.Apply(cur)
	if err := s.save(next); err != nil {
		return Bundle{}, err
	}
	return next, nil
}

// Clear implements Store.
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) load() (Bundle, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Bundle{}, nil
	}
	if err != nil {
		return Bundle{}, err
	}
	if len(raw) == 0 {
		return Bundle{}, nil
	}

	if s.key != nil {
		raw, err = token.Open(s.key, raw)
		if err != nil {
			return Bundle{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}

	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return b, nil
}

// save writes through a temp file and rename so readers never see a torn file.
func (s *FileStore) save(b Bundle) error {
	raw, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	if s.key != nil {
		raw, err = token.Seal(s.key, raw)
		if err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tokens-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}
