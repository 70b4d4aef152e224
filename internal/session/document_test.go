package session

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splitttr/collabhub/internal/protocol"
)

// fakeTransport records decoded frames; set full to simulate a saturated
// send buffer.
type fakeTransport struct {
	mu     sync.Mutex
	frames []protocol.ServerMessage
	full   bool
}

func (f *fakeTransport) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return errors.New("send buffer full")
	}
	var msg protocol.ServerMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return err
	}
	f.frames = append(f.frames, msg)
	return nil
}

func (f *fakeTransport) messages() []protocol.ServerMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.ServerMessage(nil), f.frames...)
}

func (f *fakeTransport) lastOfType(msgType string) (protocol.ServerMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.frames) - 1; i >= 0; i-- {
		if f.frames[i].Type == msgType {
			return f.frames[i], true
		}
	}
	return protocol.ServerMessage{}, false
}

func TestApplyEditSplicing(t *testing.T) {
	tests := []struct {
		name    string
		initial string
		op      protocol.EditOperation
		want    string
	}{
		{
			name:    "insert middle",
			initial: "Hello world",
			op:      protocol.EditOperation{Type: protocol.EditInsert, Position: 5, Content: ", dear"},
			want:    "Hello, dear world",
		},
		{
			name:    "insert at start",
			initial: "world",
			op:      protocol.EditOperation{Type: protocol.EditInsert, Position: 0, Content: "Hello "},
			want:    "Hello world",
		},
		{
			name:    "insert at end",
			initial: "Hello",
			op:      protocol.EditOperation{Type: protocol.EditInsert, Position: 5, Content: " world"},
			want:    "Hello world",
		},
		{
			name:    "delete prefix",
			initial: "Hello, dear world",
			op:      protocol.EditOperation{Type: protocol.EditDelete, Position: 0, DeleteCount: 6},
			want:    " dear world",
		},
		{
			name:    "delete whole content",
			initial: "abc",
			op:      protocol.EditOperation{Type: protocol.EditDelete, Position: 0, DeleteCount: 3},
			want:    "",
		},
		{
			name:    "replace",
			initial: "Hello world",
			op:      protocol.EditOperation{Type: protocol.EditReplace, Position: 6, DeleteCount: 5, Content: "there"},
			want:    "Hello there",
		},
		{
			name:    "replace with longer text",
			initial: "ab",
			op:      protocol.EditOperation{Type: protocol.EditReplace, Position: 1, DeleteCount: 1, Content: "xyz"},
			want:    "axyz",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDocument("d1", tt.initial, 5)
			version, content, err := d.ApplyEdit("alice", tt.op)
			require.NoError(t, err)
			assert.Equal(t, tt.want, content)
			assert.Equal(t, int64(6), version)
		})
	}
}

func TestApplyEditRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		op   protocol.EditOperation
	}{
		{"insert past end", protocol.EditOperation{Type: protocol.EditInsert, Position: 100, Content: "x"}},
		{"negative position", protocol.EditOperation{Type: protocol.EditInsert, Position: -1, Content: "x"}},
		{"delete past end", protocol.EditOperation{Type: protocol.EditDelete, Position: 8, DeleteCount: 10}},
		{"negative delete count", protocol.EditOperation{Type: protocol.EditDelete, Position: 0, DeleteCount: -1}},
		{"replace past end", protocol.EditOperation{Type: protocol.EditReplace, Position: 10, DeleteCount: 5, Content: "x"}},
		{"unknown type", protocol.EditOperation{Type: "move", Position: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDocument("d1", "Hello world", 5)
			other := &fakeTransport{}
			require.NoError(t, d.AddUser("bob", other))

			_, _, err := d.ApplyEdit("alice", tt.op)
			require.ErrorIs(t, err, ErrInvalidOperation)

			content, version := d.Snapshot()
			assert.Equal(t, "Hello world", content)
			assert.Equal(t, int64(5), version)
			assert.Empty(t, other.messages(), "rejected edit must not be broadcast")
		})
	}
}

func TestVersionMonotonicity(t *testing.T) {
	d := NewDocument("d1", "", 0)
	for i := 1; i <= 10; i++ {
		version, _, err := d.ApplyEdit("alice", protocol.EditOperation{
			Type: protocol.EditInsert, Position: 0, Content: "x",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i), version)
	}
}

func TestApplyEditBroadcastExcludesSender(t *testing.T) {
	d := NewDocument("d1", "Hello", 1)
	alice, bob, carol := &fakeTransport{}, &fakeTransport{}, &fakeTransport{}
	require.NoError(t, d.AddUser("alice", alice))
	require.NoError(t, d.AddUser("bob", bob))
	require.NoError(t, d.AddUser("carol", carol))

	_, _, err := d.ApplyEdit("alice", protocol.EditOperation{
		Type: protocol.EditInsert, Position: 5, Content: "!", UserID: "mallory",
	})
	require.NoError(t, err)

	assert.Empty(t, alice.messages(), "sender must not receive its own edit")
	for name, tr := range map[string]*fakeTransport{"bob": bob, "carol": carol} {
		msgs := tr.messages()
		require.Len(t, msgs, 1, name)
		assert.Equal(t, protocol.TypeEdit, msgs[0].Type)
		assert.Equal(t, "d1", msgs[0].DocumentID)
		require.NotNil(t, msgs[0].Edit)
		assert.Equal(t, "alice", msgs[0].Edit.UserID, "claimed identity must be overwritten")
	}
}

func TestJoinSendsInitAndAnnounces(t *testing.T) {
	d := NewDocument("d1", "Hello world", 5)
	alice := &fakeTransport{}
	require.NoError(t, d.Join("alice", alice))

	msgs := alice.messages()
	require.Len(t, msgs, 1)
	init := msgs[0]
	assert.Equal(t, protocol.TypeInit, init.Type)
	require.NotNil(t, init.Content)
	assert.Equal(t, "Hello world", *init.Content)
	require.NotNil(t, init.Version)
	assert.Equal(t, int64(5), *init.Version)
	assert.Equal(t, []protocol.ActiveUser{{UserID: "alice"}}, init.ActiveUsers)

	bob := &fakeTransport{}
	require.NoError(t, d.Join("bob", bob))

	joined, ok := alice.lastOfType(protocol.TypeUserJoined)
	require.True(t, ok)
	assert.Equal(t, "bob", joined.UserID)
	assert.Len(t, joined.ActiveUsers, 2)

	_, ok = bob.lastOfType(protocol.TypeUserJoined)
	assert.False(t, ok, "joiner must not receive its own user_joined")
}

func TestRejoinReplacesParticipant(t *testing.T) {
	d := NewDocument("d1", "", 0)
	first, second := &fakeTransport{}, &fakeTransport{}
	require.NoError(t, d.Join("alice", first))
	require.NoError(t, d.Join("alice", second))

	require.Len(t, d.ActiveUsers(), 1)

	d.Broadcast(protocol.UserLeft("d1", "ghost"), "")
	_, ok := second.lastOfType(protocol.TypeUserLeft)
	assert.True(t, ok, "replacement transport must receive broadcasts")
	_, ok = first.lastOfType(protocol.TypeUserLeft)
	assert.False(t, ok, "stale transport must not receive broadcasts")
}

func TestUpdateCursor(t *testing.T) {
	d := NewDocument("d1", "Hello", 1)
	alice, bob := &fakeTransport{}, &fakeTransport{}
	require.NoError(t, d.AddUser("alice", alice))
	require.NoError(t, d.AddUser("bob", bob))

	d.UpdateCursor("alice", 3)

	msg, ok := bob.lastOfType(protocol.TypeCursor)
	require.True(t, ok)
	assert.Equal(t, "alice", msg.UserID)
	require.NotNil(t, msg.CursorPosition)
	assert.Equal(t, 3, *msg.CursorPosition)
	assert.Empty(t, alice.messages(), "cursor moves are not echoed to the mover")

	users := d.ActiveUsers()
	positions := map[string]int{}
	for _, u := range users {
		positions[u.UserID] = u.CursorPosition
	}
	assert.Equal(t, map[string]int{"alice": 3, "bob": 0}, positions)

	// Unknown user is a no-op, no broadcast.
	before := len(bob.messages())
	d.UpdateCursor("nobody", 7)
	assert.Len(t, bob.messages(), before)
}

func TestLeave(t *testing.T) {
	d := NewDocument("d1", "", 0)
	alice, bob := &fakeTransport{}, &fakeTransport{}
	require.NoError(t, d.AddUser("alice", alice))
	require.NoError(t, d.AddUser("bob", bob))

	assert.True(t, d.Leave("alice", nil))
	msg, ok := bob.lastOfType(protocol.TypeUserLeft)
	require.True(t, ok)
	assert.Equal(t, "alice", msg.UserID)
	assert.False(t, d.IsEmpty())

	assert.False(t, d.Leave("alice", nil), "second leave is a no-op")

	assert.True(t, d.Leave("bob", nil))
	assert.True(t, d.IsEmpty())
}

func TestStaleConnectionLeaveDoesNotKickReplacement(t *testing.T) {
	d := NewDocument("d1", "", 0)
	stale, fresh := &fakeTransport{}, &fakeTransport{}
	require.NoError(t, d.Join("alice", stale))
	require.NoError(t, d.Join("alice", fresh))

	assert.False(t, d.Leave("alice", stale), "stale transport cannot remove the replacement entry")
	assert.False(t, d.IsEmpty())

	assert.True(t, d.Leave("alice", fresh))
	assert.True(t, d.IsEmpty())
}

func TestBroadcastSurvivesFailingTransport(t *testing.T) {
	d := NewDocument("d1", "", 0)
	stuck := &fakeTransport{full: true}
	bob := &fakeTransport{}
	require.NoError(t, d.AddUser("stuck", stuck))
	require.NoError(t, d.AddUser("bob", bob))

	version, _, err := d.ApplyEdit("alice-elsewhere", protocol.EditOperation{
		Type: protocol.EditInsert, Position: 0, Content: "x",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), version, "a blocked recipient must not roll back the edit")

	msgs := bob.messages()
	require.Len(t, msgs, 1, "other participants still receive the frame")
	assert.Equal(t, protocol.TypeEdit, msgs[0].Type)
}

func TestSendTo(t *testing.T) {
	d := NewDocument("d1", "", 0)
	alice := &fakeTransport{}
	require.NoError(t, d.AddUser("alice", alice))

	d.SendTo("alice", protocol.Error("just you"))
	require.Len(t, alice.messages(), 1)

	// Non-participant: silently dropped.
	d.SendTo("bob", protocol.Error("nobody home"))
	assert.Len(t, alice.messages(), 1)
}

func TestContentDeterminism(t *testing.T) {
	ops := []protocol.EditOperation{
		{Type: protocol.EditInsert, Position: 0, Content: "Hello world"},
		{Type: protocol.EditInsert, Position: 5, Content: ", dear"},
		{Type: protocol.EditDelete, Position: 0, DeleteCount: 6},
		{Type: protocol.EditReplace, Position: 1, DeleteCount: 4, Content: "sweet"},
	}

	apply := func() string {
		d := NewDocument("d1", "", 0)
		for _, op := range ops {
			_, _, err := d.ApplyEdit("u", op)
			require.NoError(t, err)
		}
		content, version := d.Snapshot()
		assert.Equal(t, int64(len(ops)), version)
		return content
	}

	first := apply()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, apply())
	}
}

func TestApplyEditRejectedAfterClose(t *testing.T) {
	d := NewDocument("d1", "Hello", 3)

	_, closed := d.closeIfEmpty()
	require.True(t, closed)

	_, _, err := d.ApplyEdit("alice", protocol.EditOperation{
		Type:     protocol.EditInsert,
		Position: 5,
		Content:  " world",
	})
	require.ErrorIs(t, err, ErrSessionClosed)

	content, version := d.Snapshot()
	assert.Equal(t, "Hello", content)
	assert.Equal(t, int64(3), version)
}
