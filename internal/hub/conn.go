package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/splitttr/collabhub/internal/auth"
	"github.com/splitttr/collabhub/internal/protocol"
	"github.com/splitttr/collabhub/internal/session"
)

// ErrSendBufferFull is reported by Send when a connection's outbound buffer
// is saturated; the frame is dropped for that connection only.
var ErrSendBufferFull = errors.New("send buffer full")

// conn is one live connection: an authenticated identity, at most one
// joined document, a read loop owning all inbound dispatch and a write pump
// draining the send buffer. Only the read loop touches doc/docID, so the
// state machine needs no lock of its own.
type conn struct {
	id       string
	identity auth.Identity
	h        *Handler
	ws       *websocket.Conn
	send     chan []byte

	doc   *session.Document
	docID string

	closeOnce sync.Once
}

func newConn(h *Handler, ws *websocket.Conn, identity auth.Identity) *conn {
	return &conn{
		id:       uuid.NewString(),
		identity: identity,
		h:        h,
		ws:       ws,
		send:     make(chan []byte, h.settings.SendBuffer),
	}
}

// Send enqueues a frame for the write pump without blocking.
func (c *conn) Send(frame []byte) error {
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// writePump drains the send buffer onto the socket. Closing the socket on
// exit unblocks the read loop, so a dead writer tears the whole connection
// down instead of leaving the reader attached to the session.
func (c *conn) writePump() {
	defer c.ws.Close()
	for frame := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(c.h.settings.WriteTimeout))
		if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			glog.V(1).Infof("connection %s write: %v", c.id, err)
			return
		}
	}
	c.ws.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *conn) readLoop() {
	defer c.shutdown()
	c.ws.SetReadLimit(c.h.settings.MaxMessageSize)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			glog.V(1).Infof("connection %s read: %v", c.id, err)
			return
		}
		// The token can expire mid-session; re-check before every message.
		if c.identity.Expired(time.Now()) {
			glog.Warningf("authentication expired for connection %s (user %s)", c.id, c.identity.UserID)
			closeWithPolicyViolation(c.ws, "Authentication expired", c.h.settings.WriteTimeout)
			return
		}

		var msg protocol.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("invalid message: " + err.Error())
			continue
		}

		switch msg.Type {
		case protocol.TypeJoin:
			c.handleJoin(msg)
		case protocol.TypeEdit:
			c.handleEdit(msg)
		case protocol.TypeCursor:
			c.handleCursor(msg)
		case protocol.TypeLeave:
			c.handleLeave()
		default:
			// Unknown types are ignored so older hubs tolerate newer
			// clients.
			glog.V(1).Infof("connection %s: ignoring message type %q", c.id, msg.Type)
		}
	}
}

func (c *conn) handleJoin(msg protocol.ClientMessage) {
	if msg.DocumentID == "" {
		c.sendError("document id required")
		return
	}
	if c.doc != nil && c.docID != msg.DocumentID {
		c.leave()
	}

	userID := c.identity.UserID
	// A session can be evicted between lookup and join; a fresh one is
	// created on the next pass.
	for {
		doc := c.h.registry.GetOrCreate(context.Background(), msg.DocumentID)
		if err := doc.Join(userID, c); err == nil {
			c.doc = doc
			c.docID = msg.DocumentID
			break
		}
	}
	glog.Infof("user %s joined document %s (connection %s)", userID, msg.DocumentID, c.id)
}

func (c *conn) handleEdit(msg protocol.ClientMessage) {
	if c.doc == nil {
		c.sendError("not joined to a document")
		return
	}
	if msg.Edit == nil {
		c.sendError("edit operation required")
		return
	}

	// Client-claimed identity is advisory at best; the session applies and
	// rebroadcasts the edit under the authenticated user id.
	op := *msg.Edit
	op.UserID = c.identity.UserID

	version, _, err := c.doc.ApplyEdit(c.identity.UserID, op)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	glog.V(1).Infof("user %s edited document %s to version %d", c.identity.UserID, c.docID, version)
}

func (c *conn) handleCursor(msg protocol.ClientMessage) {
	// Cursor noise from unjoined or malformed senders is dropped silently.
	if c.doc == nil || msg.CursorPosition == nil {
		return
	}
	c.doc.UpdateCursor(c.identity.UserID, *msg.CursorPosition)
}

func (c *conn) handleLeave() {
	if c.doc == nil {
		return
	}
	c.leave()
}

// leave detaches from the joined document, announcing user_left and letting
// the registry evict the session if this was the last participant.
func (c *conn) leave() {
	doc, docID := c.doc, c.docID
	c.doc, c.docID = nil, ""
	if doc == nil {
		return
	}
	doc.Leave(c.identity.UserID, c)
	c.h.registry.RemoveIfEmpty(context.Background(), docID)
	glog.Infof("user %s left document %s (connection %s)", c.identity.UserID, docID, c.id)
}

// shutdown runs the implicit leave exactly once, whether the peer closed
// cleanly, errored out, or was kicked for an expired token.
func (c *conn) shutdown() {
	c.closeOnce.Do(func() {
		c.leave()
		close(c.send)
		c.ws.Close()
		glog.Infof("connection %s closed", c.id)
	})
}

func (c *conn) sendError(message string) {
	frame, err := json.Marshal(protocol.Error(message))
	if err != nil {
		return
	}
	if err := c.Send(frame); err != nil {
		glog.V(1).Infof("connection %s: error reply dropped: %v", c.id, err)
	}
}
