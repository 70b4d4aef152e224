// Package store provides the backing document store consumed by the session
// registry: a snapshot is fetched when a document session is created and the
// final content is persisted when the last participant leaves.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Fetch when no document exists under the id.
var ErrNotFound = errors.New("document not found")

// Snapshot is a point-in-time capture of a document's stored state.
type Snapshot struct {
	Content string
	Version int64
}

// Store abstracts document persistence. Implementations: Postgres, Bolt,
// Memory, and the RedisCache wrapper.
type Store interface {
	// Fetch returns the stored snapshot for the document, or ErrNotFound.
	Fetch(ctx context.Context, documentID string) (Snapshot, error)

	// Persist stores the document's final content, bumping the stored
	// version.
	Persist(ctx context.Context, documentID string, content string) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
