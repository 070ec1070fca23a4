package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketCredentials = []byte("credentials")

// DefaultBoltKey is the record key used when none is configured.
const DefaultBoltKey = "provider_tokens"

// BoltStore keeps the bundle as a JSON value in an embedded bbolt database.
// Every Set runs inside one write transaction, so merges are atomic across
// goroutines and across processes opening the same file.
type BoltStore struct {
	db  *bolt.DB
	key []byte
}

// OpenBoltStore opens (or creates) the database at path.
func OpenBoltStore(path, key string) (*BoltStore, error) {
	if path == "" {
		return nil, errors.New("credential: empty bolt path")
	}
	if key == "" {
		key = DefaultBoltKey
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("credential: bolt dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("credential: open bolt: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCredentials)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("credential: bolt bucket: %w", err)
	}
	return &BoltStore{db: db, key: []byte(key)}, nil
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get implements Store.
func (s *BoltStore) Get(_ context.Context) (Bundle, error) {
	var b Bundle
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		b, err = readBolt(tx, s.key)
		return err
	})
	return b, err
}

// Set implements Store.
func (s *BoltStore) Set(_ context.Context, p Patch) (Bundle, error) {
	var next Bundle
	err := s.db.Update(func(tx *bolt.Tx) error {
		cur, err := readBolt(tx, s.key)
		if err != nil {
			return err
		}
		next = p.Apply(cur)
		raw, err := json.Marshal(next)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketCredentials).Put(s.key, raw)
	})
	if err != nil {
		return Bundle{}, err
	}
	return next, nil
}

// Clear implements Store.
func (s *BoltStore) Clear(_ context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCredentials).Delete(s.key)
	})
}

func readBolt(tx *bolt.Tx, key []byte) (Bundle, error) {
	bkt := tx.Bucket(bucketCredentials)
	if bkt == nil {
		return Bundle{}, nil
	}
	raw := bkt.Get(key)
	if len(raw) == 0 {
		return Bundle{}, nil
	}
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return b, nil
}
