// Package boltstore keeps the member replica in a local bbolt file. It backs
// development setups and tests where no SurrealDB instance is running.
package boltstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/piratar/members-sync/pkg/config"
	"github.com/piratar/members-sync/pkg/replica"
	bolt "go.etcd.io/bbolt"
)

var bucketMembers = []byte("members")

const openTimeout = time.Second

// Store implements replica.Store on top of bbolt.
type Store struct {
	db     *bolt.DB
	bucket []byte
}

// New opens (or creates) the bolt file at path.
func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open replica file: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketMembers); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketMembers, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, bucket: bucketMembers}, nil
}

// Opener adapts New to replica.Open.
func Opener(_ context.Context, cfg config.ReplicaConfig) (replica.Store, error) {
	return New(cfg.BoltPath)
}

func (s *Store) Upsert(ctx context.Context, recordKey string, doc replica.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode replica document: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(recordKey), data)
	})
}

func (s *Store) Delete(ctx context.Context, recordKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// bbolt treats a missing key as a no-op delete.
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(recordKey))
	})
}

func (s *Store) Get(ctx context.Context, recordKey string) (replica.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var doc replica.Document
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(s.bucket).Get([]byte(recordKey))
		if data == nil {
			return replica.ErrNotFound
		}
		return json.Unmarshal(data, &doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Keys lists every stored record key, mostly for tooling.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("bolt replica not initialized")
	}
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(s.bucket) == nil {
			return fmt.Errorf("bucket %s missing", s.bucket)
		}
		return nil
	})
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
