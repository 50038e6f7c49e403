package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoomRegistry_JoinAndLeave(t *testing.T) {
	r := NewRoomRegistry()
	c1 := newTestClient("conn-1")
	c2 := newTestClient("conn-2")

	r.Join(c1, "chat-a")
	r.Join(c2, "chat-a")
	r.Join(c1, "chat-b")

	assert.True(t, r.Joined("conn-1", "chat-a"))
	assert.True(t, r.Joined("conn-1", "chat-b"))
	assert.Len(t, r.Members("chat-a"), 2)
	assert.Len(t, r.Members("chat-b"), 1)

	// Joining twice is a no-op.
	r.Join(c1, "chat-a")
	assert.Len(t, r.Members("chat-a"), 2)

	r.Leave("conn-1", "chat-a")
	assert.False(t, r.Joined("conn-1", "chat-a"))
	assert.Len(t, r.Members("chat-a"), 1)

	// Leaving an unjoined room is harmless.
	r.Leave("conn-1", "chat-a")
	r.Leave("ghost", "chat-a")
	assert.Len(t, r.Members("chat-a"), 1)
}

func TestRoomRegistry_LeaveAll(t *testing.T) {
	r := NewRoomRegistry()
	c1 := newTestClient("conn-1")
	c2 := newTestClient("conn-2")

	r.Join(c1, "chat-a")
	r.Join(c1, "chat-b")
	r.Join(c2, "chat-a")

	r.LeaveAll("conn-1")

	assert.False(t, r.Joined("conn-1", "chat-a"))
	assert.False(t, r.Joined("conn-1", "chat-b"))
	assert.Len(t, r.Members("chat-a"), 1)
	assert.Empty(t, r.Members("chat-b"))

	// Empty rooms are garbage collected from the snapshot.
	snapshot := r.Snapshot()
	assert.Contains(t, snapshot, "chat-a")
	assert.NotContains(t, snapshot, "chat-b")
}
