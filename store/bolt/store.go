// Package bolt provides a boltdb-backed KV store for the device identity.
// A single-file embedded store keeps the persistence surface as small as
// the data: one key.
package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/boltdb/bolt"

	"github.com/xinyao/wuxing-premium/store"
)

var bucketName = []byte("premium")

// Store is a store.KV backed by a bolt database file.
type Store struct {
	db *bolt.DB
}

// New opens (creating if necessary) the bolt database at path.
func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("bolt: create bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Get implements store.KV.
func (s *Store) Get(_ context.Context, key string) (string, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v == nil {
			return store.ErrNotFound
		}
		value = append(value, v...)
		return nil
	})
	if err != nil {
		return "", err
	}
	return string(value), nil
}

// Put implements store.KV.
func (s *Store) Put(_ context.Context, key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), []byte(value))
	})
}

// Delete implements store.KV.
func (s *Store) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
}

// Close implements store.KV.
func (s *Store) Close() error {
	return s.db.Close()
}
