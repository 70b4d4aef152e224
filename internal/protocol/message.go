// Package protocol defines the JSON messages exchanged between clients and
// the hub. One JSON object per websocket text frame, discriminated by Type.
package protocol

// Client message types.
const (
	TypeJoin   = "join"
	TypeEdit   = "edit"
	TypeCursor = "cursor"
	TypeLeave  = "leave"
)

// Hub message types.
const (
	TypeInit       = "init"
	TypeUserJoined = "user_joined"
	TypeUserLeft   = "user_left"
	TypeError      = "error"
)

// Edit operation kinds.
const (
	EditInsert  = "insert"
	EditDelete  = "delete"
	EditReplace = "replace"
)

// EditOperation is a positional edit against the current document content.
// UserID is advisory on the way in; the hub overwrites it with the
// authenticated identity before applying or rebroadcasting.
type EditOperation struct {
	UserID        string `json:"userId,omitempty"`
	Type          string `json:"type"`
	Position      int    `json:"position"`
	Content       string `json:"content"`
	DeleteCount   int    `json:"deleteCount"`
	ClientVersion int64  `json:"clientVersion"`
}

// ClientMessage is what clients send to the hub.
type ClientMessage struct {
	Type           string         `json:"type"`
	DocumentID     string         `json:"documentId"`
	UserID         string         `json:"userId"`
	Edit           *EditOperation `json:"edit,omitempty"`
	CursorPosition *int           `json:"cursorPosition,omitempty"`
}

// ActiveUser is one joined participant and their last known cursor.
type ActiveUser struct {
	UserID         string `json:"userId"`
	CursorPosition int    `json:"cursorPosition"`
}

// ServerMessage is what the hub sends to clients. Content and Version are
// pointers so only the init snapshot carries them; an empty document still
// produces explicit "content" and "version" fields there, while every other
// frame type omits them entirely.
type ServerMessage struct {
	Type           string         `json:"type"`
	DocumentID     string         `json:"documentId,omitempty"`
	Content        *string        `json:"content,omitempty"`
	Version        *int64         `json:"version,omitempty"`
	Edit           *EditOperation `json:"edit,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	CursorPosition *int           `json:"cursorPosition,omitempty"`
	ActiveUsers    []ActiveUser   `json:"activeUsers,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// Init is the snapshot sent to a connection that just joined a document.
func Init(documentID, content string, version int64, users []ActiveUser) *ServerMessage {
	return &ServerMessage{
		Type:        TypeInit,
		DocumentID:  documentID,
		Content:     &content,
		Version:     &version,
		ActiveUsers: users,
	}
}

// Edit announces an applied edit to the other participants.
func Edit(documentID string, op EditOperation) *ServerMessage {
	return &ServerMessage{
		Type:       TypeEdit,
		DocumentID: documentID,
		Edit:       &op,
		UserID:     op.UserID,
	}
}

// Cursor announces a moved cursor to the other participants.
func Cursor(documentID, userID string, position int) *ServerMessage {
	return &ServerMessage{
		Type:           TypeCursor,
		DocumentID:     documentID,
		UserID:         userID,
		CursorPosition: &position,
	}
}

// UserJoined announces a new participant, with the refreshed user list.
func UserJoined(documentID, userID string, users []ActiveUser) *ServerMessage {
	return &ServerMessage{
		Type:        TypeUserJoined,
		DocumentID:  documentID,
		UserID:      userID,
		ActiveUsers: users,
	}
}

// UserLeft announces a departed participant.
func UserLeft(documentID, userID string) *ServerMessage {
	return &ServerMessage{
		Type:       TypeUserLeft,
		DocumentID: documentID,
		UserID:     userID,
	}
}

// Error is a reply sent only to the offending connection.
func Error(message string) *ServerMessage {
	return &ServerMessage{Type: TypeError, Error: message}
}
