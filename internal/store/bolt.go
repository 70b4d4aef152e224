package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var documentsBucket = []byte("documents")

// Bolt stores document snapshots in a single-file bbolt database, for
// deployments that run without Postgres.
type Bolt struct {
	db *bbolt.DB
}

func NewBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Fetch(_ context.Context, documentID string) (Snapshot, error) {
	var snap Snapshot
	err := b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(documentsBucket).Get([]byte(documentID))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &snap)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (b *Bolt) Persist(_ context.Context, documentID string, content string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(documentsBucket)
		var prev Snapshot
		if raw := bucket.Get([]byte(documentID)); raw != nil {
			if err := json.Unmarshal(raw, &prev); err != nil {
				return fmt.Errorf("decode document %s: %w", documentID, err)
			}
		}
		raw, err := json.Marshal(Snapshot{Content: content, Version: prev.Version + 1})
		if err != nil {
			return err
		}
		return bucket.Put([]byte(documentID), raw)
	})
}

func (b *Bolt) Ping(context.Context) error { return nil }

func (b *Bolt) Close() error { return b.db.Close() }
