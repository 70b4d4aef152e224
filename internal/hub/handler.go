// Package hub binds websocket connections to authenticated identities and
// joined document sessions, translating inbound protocol messages into
// registry and session operations.
package hub

import (
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/splitttr/collabhub/internal/auth"
	"github.com/splitttr/collabhub/internal/session"
)

// Settings tune per-connection behavior.
type Settings struct {
	// SendBuffer is the per-connection outbound frame buffer. A participant
	// whose buffer is full misses frames rather than stalling a document.
	SendBuffer int

	WriteTimeout     time.Duration
	MaxMessageSize   int64
	HandshakeTimeout time.Duration
}

func DefaultSettings() *Settings {
	return &Settings{
		SendBuffer:       256,
		WriteTimeout:     10 * time.Second,
		MaxMessageSize:   1 << 20,
		HandshakeTimeout: 5 * time.Second,
	}
}

// Handler upgrades websocket requests, authenticates them and runs one
// connection state machine per upgraded socket.
type Handler struct {
	registry *session.Registry
	verifier *auth.Verifier
	settings *Settings
	upgrader websocket.Upgrader
}

func NewHandler(registry *session.Registry, verifier *auth.Verifier, settings *Settings) *Handler {
	if settings == nil {
		settings = DefaultSettings()
	}
	return &Handler{
		registry: registry,
		verifier: verifier,
		settings: settings,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: settings.HandshakeTimeout,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r)
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("websocket upgrade: %v", err)
		return
	}

	identity, err := h.verifier.Verify(token)
	if err != nil {
		glog.Warningf("unauthenticated connection attempt from %s: %v", r.RemoteAddr, err)
		closeWithPolicyViolation(ws, "Authentication required", h.settings.WriteTimeout)
		ws.Close()
		return
	}

	c := newConn(h, ws, identity)
	glog.Infof("connection %s opened for user %s", c.id, identity.UserID)
	go c.writePump()
	c.readLoop()
}

func closeWithPolicyViolation(ws *websocket.Conn, reason string, timeout time.Duration) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
}
