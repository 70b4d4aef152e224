// Package session holds the live, in-memory authoritative state for
// documents under collaborative editing: one Document per open document,
// tracked by a Registry that loads from and persists to the backing store.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/splitttr/collabhub/internal/protocol"
)

var (
	// ErrInvalidOperation marks an edit whose position or count falls
	// outside the current content.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrSessionClosed is returned by Join after the session has been
	// evicted from the registry. Callers re-resolve the session and retry.
	ErrSessionClosed = errors.New("session closed")
)

// Transport delivers one hub->client frame to a connection. Send must not
// block: implementations enqueue onto a buffered channel drained by the
// connection's writer and report an error when the buffer is full.
type Transport interface {
	Send(frame []byte) error
}

type participant struct {
	transport Transport
	cursor    int
}

// Document is one document's live state plus its joined participants. Every
// read and mutation of content, version and the participant set runs under
// a single mutex, so edits apply in the order the lock admits them and each
// participant observes broadcasts in application order.
type Document struct {
	id string

	mu           sync.Mutex
	content      string
	version      int64
	participants map[string]*participant
	closed       bool
}

func NewDocument(id, content string, version int64) *Document {
	return &Document{
		id:           id,
		content:      content,
		version:      version,
		participants: make(map[string]*participant),
	}
}

func (d *Document) ID() string { return d.id }

// ApplyEdit validates op against the current content, splices it in, bumps
// the version and announces the edit to every participant except userID.
// op's UserID is overwritten with userID before rebroadcast. Out-of-range
// operations return ErrInvalidOperation and leave all state untouched.
// An evicted session returns ErrSessionClosed rather than accepting an
// edit whose state has already been dropped.
func (d *Document) ApplyEdit(userID string, op protocol.EditOperation) (int64, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, "", ErrSessionClosed
	}

	next, err := splice(d.content, op)
	if err != nil {
		return 0, "", err
	}
	d.content = next
	d.version++

	op.UserID = userID
	d.broadcastLocked(protocol.Edit(d.id, op), userID)
	return d.version, d.content, nil
}

func splice(content string, op protocol.EditOperation) (string, error) {
	if op.Position < 0 || op.Position > len(content) {
		return "", fmt.Errorf("%w: position %d out of range for length %d",
			ErrInvalidOperation, op.Position, len(content))
	}
	switch op.Type {
	case protocol.EditInsert:
		return content[:op.Position] + op.Content + content[op.Position:], nil
	case protocol.EditDelete, protocol.EditReplace:
		if op.DeleteCount < 0 || op.Position+op.DeleteCount > len(content) {
			return "", fmt.Errorf("%w: delete of %d at %d exceeds length %d",
				ErrInvalidOperation, op.DeleteCount, op.Position, len(content))
		}
		if op.Type == protocol.EditDelete {
			return content[:op.Position] + content[op.Position+op.DeleteCount:], nil
		}
		return content[:op.Position] + op.Content + content[op.Position+op.DeleteCount:], nil
	default:
		return "", fmt.Errorf("%w: unknown edit type %q", ErrInvalidOperation, op.Type)
	}
}

// Join adds userID as a participant (replacing any prior entry), sends the
// joiner an init snapshot and announces user_joined to everyone else, all
// within one critical section so the snapshot and the announcement agree.
func (d *Document) Join(userID string, t Transport) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrSessionClosed
	}
	d.participants[userID] = &participant{transport: t}
	d.sendToLocked(userID, protocol.Init(d.id, d.content, d.version, d.activeUsersLocked()))
	d.broadcastLocked(protocol.UserJoined(d.id, userID, d.activeUsersLocked()), userID)
	return nil
}

// Leave removes userID and announces user_left to the remaining
// participants. It reports whether the user was present; calling it again
// for the same user is a no-op. When t is non-nil the entry is only removed
// while t is still the registered transport, so a stale connection's
// teardown cannot kick out a replacement connection for the same user.
func (d *Document) Leave(userID string, t Transport) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.participants[userID]
	if !ok || (t != nil && p.transport != t) {
		return false
	}
	delete(d.participants, userID)
	d.broadcastLocked(protocol.UserLeft(d.id, userID), "")
	return true
}

// AddUser inserts or replaces the participant entry with cursor 0, without
// the join announcements.
func (d *Document) AddUser(userID string, t Transport) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrSessionClosed
	}
	d.participants[userID] = &participant{transport: t}
	return nil
}

// RemoveUser deletes the participant entry. Idempotent.
func (d *Document) RemoveUser(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.participants, userID)
}

// UpdateCursor records userID's cursor and announces it to the other
// participants. No-op when userID is not joined.
func (d *Document) UpdateCursor(userID string, position int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.participants[userID]
	if !ok {
		return
	}
	p.cursor = position
	d.broadcastLocked(protocol.Cursor(d.id, userID, position), userID)
}

// Broadcast delivers msg to every participant except excludeUserID (pass ""
// to exclude no one).
func (d *Document) Broadcast(msg *protocol.ServerMessage, excludeUserID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.broadcastLocked(msg, excludeUserID)
}

// SendTo delivers msg to userID only if currently joined.
func (d *Document) SendTo(userID string, msg *protocol.ServerMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sendToLocked(userID, msg)
}

// ActiveUsers snapshots the participant list.
func (d *Document) ActiveUsers() []protocol.ActiveUser {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeUsersLocked()
}

func (d *Document) IsEmpty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.participants) == 0
}

// Snapshot returns the current content and version.
func (d *Document) Snapshot() (string, int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.content, d.version
}

// closeIfEmpty marks the session closed when no participants remain,
// returning the final content for persistence. A closed session rejects
// further joins, which is what keeps a join racing an eviction from landing
// on state that is about to be dropped.
func (d *Document) closeIfEmpty() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.participants) > 0 {
		return "", false
	}
	d.closed = true
	return d.content, true
}

func (d *Document) activeUsersLocked() []protocol.ActiveUser {
	users := make([]protocol.ActiveUser, 0, len(d.participants))
	for id, p := range d.participants {
		users = append(users, protocol.ActiveUser{UserID: id, CursorPosition: p.cursor})
	}
	return users
}

// broadcastLocked fans msg out to every participant except excludeUserID.
// Transports enqueue without blocking, so fan-out never stalls the critical
// section; a participant whose buffer is full just misses the frame.
func (d *Document) broadcastLocked(msg *protocol.ServerMessage, excludeUserID string) {
	frame, err := json.Marshal(msg)
	if err != nil {
		glog.Errorf("marshal %s broadcast for document %s: %v", msg.Type, d.id, err)
		return
	}
	for id, p := range d.participants {
		if id == excludeUserID {
			continue
		}
		if err := p.transport.Send(frame); err != nil {
			glog.Warningf("drop %s frame for user %s on document %s: %v", msg.Type, id, d.id, err)
		}
	}
}

func (d *Document) sendToLocked(userID string, msg *protocol.ServerMessage) {
	p, ok := d.participants[userID]
	if !ok {
		return
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		glog.Errorf("marshal %s for user %s on document %s: %v", msg.Type, userID, d.id, err)
		return
	}
	if err := p.transport.Send(frame); err != nil {
		glog.Warningf("drop %s frame for user %s on document %s: %v", msg.Type, userID, d.id, err)
	}
}
