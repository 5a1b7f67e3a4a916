package app

import (
	"testing"

	"github.com/dkeye/chatrelay/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestRegistryLastWriterWins(t *testing.T) {
	r := NewRegistry()
	_, displaced := r.Register("alice", "c1")
	assert.False(t, displaced)

	prev, displaced := r.Register("alice", "c2")
	assert.True(t, displaced)
	assert.Equal(t, "c1", string(prev))

	conn, ok := r.Lookup("alice")
	assert.True(t, ok)
	assert.Equal(t, "c2", string(conn))
	assert.Equal(t, 1, r.Len())
}

func TestRegistryReRegisterSameConn(t *testing.T) {
	r := NewRegistry()
	r.Register("alice", "c1")
	_, displaced := r.Register("alice", "c1")
	assert.False(t, displaced)
}

func TestRegistryStaleUnregisterKeepsNewerBinding(t *testing.T) {
	r := NewRegistry()
	r.Register("alice", "c1")
	r.Register("alice", "c2")

	assert.False(t, r.Unregister("alice", "c1"))
	conn, ok := r.Lookup("alice")
	assert.True(t, ok)
	assert.Equal(t, "c2", string(conn))

	assert.True(t, r.Unregister("alice", "c2"))
	_, ok = r.Lookup("alice")
	assert.False(t, ok)
	assert.False(t, r.Unregister("alice", "c2"))
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry()
	r.Register("bob", "c1")
	r.Register("alice", "c2")
	assert.ElementsMatch(t, []domain.UserID{"alice", "bob"}, r.Snapshot())
}
