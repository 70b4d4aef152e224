package session

import (
	"context"
	"errors"
	"sync"

	"github.com/golang/glog"

	"github.com/splitttr/collabhub/internal/store"
)

// Observer receives registry events that operators care about.
type Observer interface {
	// PersistFailed reports that a document's final content could not be
	// written to the backing store when its session was evicted. The
	// in-memory state is dropped regardless.
	PersistFailed(documentID string, err error)
}

type logObserver struct{}

func (logObserver) PersistFailed(documentID string, err error) {
	glog.Errorf("persist document %s on eviction: %v (content discarded)", documentID, err)
}

// entry is one registry slot. The once gates the snapshot load; doc is
// published under the registry lock when the load completes.
type entry struct {
	once sync.Once
	doc  *Document
}

// Registry maps document ids to live sessions. Sessions are created on
// first join, loading the stored snapshot, and evicted with a persist when
// the last participant leaves.
type Registry struct {
	store    store.Store
	observer Observer

	mu       sync.Mutex
	sessions map[string]*entry
}

func NewRegistry(st store.Store, obs Observer) *Registry {
	if obs == nil {
		obs = logObserver{}
	}
	return &Registry{
		store:    st,
		observer: obs,
		sessions: make(map[string]*entry),
	}
}

// GetOrCreate returns the live session for documentID, creating it from the
// stored snapshot if needed. The registry lock only covers the map slot;
// the fetch runs outside it behind a per-entry once, so concurrent calls
// for one document observe exactly one load and a slow fetch never stalls
// other documents. A fetch failure falls back to an empty document at
// version 0.
func (r *Registry) GetOrCreate(ctx context.Context, documentID string) *Document {
	r.mu.Lock()
	e, ok := r.sessions[documentID]
	if !ok {
		e = &entry{}
		r.sessions[documentID] = e
	}
	r.mu.Unlock()

	e.once.Do(func() {
		snap, err := r.store.Fetch(ctx, documentID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				glog.Warningf("fetch document %s: %v (starting empty)", documentID, err)
			}
			snap = store.Snapshot{}
		}
		doc := NewDocument(documentID, snap.Content, snap.Version)
		r.mu.Lock()
		e.doc = doc
		r.mu.Unlock()
		glog.Infof("session created for document %s at version %d", documentID, snap.Version)
	})

	r.mu.Lock()
	doc := e.doc
	r.mu.Unlock()
	return doc
}

// Get looks up a live session without creating one. A session still loading
// its snapshot is reported as absent.
func (r *Registry) Get(documentID string) (*Document, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[documentID]
	if !ok || e.doc == nil {
		return nil, false
	}
	return e.doc, true
}

// RemoveIfEmpty evicts the session when its participant set is empty,
// persisting the final content. The session is marked closed under its own
// lock before the map entry is deleted, so a join racing this call either
// lands before the emptiness check or fails with ErrSessionClosed and
// retries against a fresh session. Persist runs after the locks are
// released; on failure the observer is notified and the state is dropped
// anyway.
func (r *Registry) RemoveIfEmpty(ctx context.Context, documentID string) {
	r.mu.Lock()
	e, ok := r.sessions[documentID]
	if !ok || e.doc == nil {
		// Still loading: the creator has yet to join, so the session
		// cannot be empty in the evictable sense.
		r.mu.Unlock()
		return
	}
	content, emptied := e.doc.closeIfEmpty()
	if !emptied {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, documentID)
	r.mu.Unlock()

	if err := r.store.Persist(ctx, documentID, content); err != nil {
		r.observer.PersistFailed(documentID, err)
		return
	}
	glog.Infof("session for document %s evicted, content persisted", documentID)
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
