package rewind_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/rewind"
)

type membershipChange struct {
	session  string
	channels []string
}

func TestMembership_JoinLeave(t *testing.T) {
	var changes []membershipChange
	m := rewind.NewMembership(func(session string, channels []string) {
		changes = append(changes, membershipChange{session, channels})
	})

	assert.Equal(t, []string{"room1"}, m.Join("alice", "room1"))
	assert.Equal(t, []string{"room1", "room2"}, m.Join("alice", "room2"))
	// Rejoining changes nothing.
	assert.Equal(t, []string{"room1", "room2"}, m.Join("alice", "room1"))
	m.Join("bob", "room1")

	assert.True(t, m.IsMember("alice", "room2"))
	assert.False(t, m.IsMember("bob", "room2"))
	assert.Equal(t, []string{"alice", "bob"}, m.Members("room1"))
	assert.Equal(t, []string{"alice"}, m.Members("room2"))

	assert.Equal(t, []string{"room2"}, m.Leave("alice", "room1"))
	// Leaving a channel the session is not in changes nothing.
	assert.Equal(t, []string{"room2"}, m.Leave("alice", "room9"))

	assert.Equal(t, []membershipChange{
		{"alice", []string{"room1"}},
		{"alice", []string{"room1", "room2"}},
		{"bob", []string{"room1"}},
		{"alice", []string{"room2"}},
	}, changes)
}

func TestMembership_LeaveLastChannel(t *testing.T) {
	var last []string
	m := rewind.NewMembership(func(_ string, channels []string) {
		last = channels
	})

	m.Join("alice", "room1")
	assert.Empty(t, m.Leave("alice", "room1"))
	assert.NotNil(t, last)
	assert.Empty(t, last)
	assert.Empty(t, m.Channels("alice"))
	assert.Empty(t, m.Members("room1"))
}

func TestMembership_Remove(t *testing.T) {
	calls := 0
	m := rewind.NewMembership(func(string, []string) { calls++ })

	m.Join("alice", "room1")
	m.Join("alice", "room2")
	m.Remove("alice")

	assert.Empty(t, m.Channels("alice"))
	assert.False(t, m.IsMember("alice", "room1"))
	assert.Equal(t, 2, calls)
}

func TestMembership_NilHandler(t *testing.T) {
	m := rewind.NewMembership(nil)

	require.NotPanics(t, func() {
		m.Join("alice", "room1")
		m.Leave("alice", "room1")
	})
}

func TestMembership_Concurrent(t *testing.T) {
	m := rewind.NewMembership(nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session := fmt.Sprintf("s%d", i)
			for j := 0; j < 10; j++ {
				m.Join(session, fmt.Sprintf("room%d", j))
			}
			m.Leave(session, "room0")
		}(i)
	}
	wg.Wait()

	assert.Empty(t, m.Members("room0"))
	assert.Len(t, m.Members("room5"), 16)
	assert.Len(t, m.Channels("s3"), 9)
}
