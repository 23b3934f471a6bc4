package app

import (
	"fmt"
	"sync"
	"testing"

	"github.com/dkeye/circles/internal/core"
	"github.com/dkeye/circles/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sids(sessions []core.Session) []core.SessionID {
	out := make([]core.SessionID, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.ID())
	}
	return out
}

func TestRegistryRegisterIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	room := domain.CircleRoom("c1")
	a, _ := newTestSession("a", "u1")

	reg.Register(room, a)
	reg.Register(room, a)

	require.Len(t, reg.MembersOf(room), 1)
	require.Equal(t, []core.RoomInfo{{ID: room, MemberCount: 1}}, reg.Rooms())
}

func TestRegistryUnregisterDropsEmptyRoom(t *testing.T) {
	reg := NewRegistry()
	room := domain.CircleRoom("c1")
	a, _ := newTestSession("a", "u1")
	b, _ := newTestSession("b", "u2")
	reg.Register(room, a)
	reg.Register(room, b)

	reg.Unregister(room, "a")
	require.ElementsMatch(t, []core.SessionID{"b"}, sids(reg.MembersOf(room)))

	reg.Unregister(room, "b")
	require.Empty(t, reg.MembersOf(room))
	require.Empty(t, reg.Rooms())

	// absent room and session are no-ops
	reg.Unregister(room, "b")
	reg.Unregister(domain.CircleRoom("nope"), "zzz")
}

func TestRegistryJoinCircleMovesSession(t *testing.T) {
	reg := NewRegistry()
	a, _ := newTestSession("a", "u1")
	reg.Register(domain.UserRoom("u1"), a)

	_, moved := reg.JoinCircle("c1", a)
	require.False(t, moved)

	prev, moved := reg.JoinCircle("c2", a)
	require.True(t, moved)
	require.Equal(t, domain.CircleRoom("c1"), prev)

	require.Empty(t, reg.MembersOf(domain.CircleRoom("c1")))
	require.Len(t, reg.MembersOf(domain.CircleRoom("c2")), 1)
	require.Equal(t, []domain.RoomID{domain.CircleRoom("c2"), domain.UserRoom("u1")}, reg.RoomsOf("a"))

	room, ok := reg.CircleOf("a")
	require.True(t, ok)
	require.Equal(t, domain.CircleRoom("c2"), room)
}

func TestRegistryDisconnectRemovesEverywhere(t *testing.T) {
	reg := NewRegistry()
	a, _ := newTestSession("a", "u1")
	b, _ := newTestSession("b", "u2")
	reg.JoinCircle("c1", a)
	reg.Register(domain.UserRoom("u1"), a)
	reg.JoinCircle("c1", b)

	left := reg.Disconnect("a")
	require.Equal(t, []domain.RoomID{domain.CircleRoom("c1"), domain.UserRoom("u1")}, left)

	require.Equal(t, []core.SessionID{"b"}, sids(reg.MembersOf(domain.CircleRoom("c1"))))
	require.Empty(t, reg.MembersOf(domain.UserRoom("u1")))
	require.Nil(t, reg.RoomsOf("a"))
	_, ok := reg.CircleOf("a")
	require.False(t, ok)

	require.Nil(t, reg.Disconnect("a"))
}

func TestRegistrySessionsOfUser(t *testing.T) {
	reg := NewRegistry()
	a, _ := newTestSession("a", "u1")
	b, _ := newTestSession("b", "u1")
	c, _ := newTestSession("c", "u2")
	for _, s := range []core.Session{a, b, c} {
		reg.JoinCircle("c1", s)
	}

	got := reg.SessionsOfUser(domain.CircleRoom("c1"), "u1")
	assert.ElementsMatch(t, []core.SessionID{"a", "b"}, sids(got))
}

func TestRegistryConcurrentJoinAndSnapshot(t *testing.T) {
	reg := NewRegistry()
	room := domain.CircleRoom("c1")
	const n = 64

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s, _ := newTestSession(fmt.Sprintf("s%d", i), fmt.Sprintf("u%d", i))
			reg.JoinCircle("c1", s)
		}(i)
		go func() {
			defer wg.Done()
			for _, s := range reg.MembersOf(room) {
				assert.NotNil(t, s)
			}
		}()
	}
	wg.Wait()

	require.Len(t, reg.MembersOf(room), n)
}
