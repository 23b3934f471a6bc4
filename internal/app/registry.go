package app

import (
	"sort"
	"sync"

	"github.com/dkeye/circles/internal/core"
	"github.com/dkeye/circles/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Session core.Session
	Circle  domain.RoomID
	Rooms   map[domain.RoomID]struct{}
}

// Registry is the in-memory room -> sessions mapping of this node.
// It is the only shared mutable structure of the chat core; all reads and
// writes happen under mu, so a snapshot never observes a half-applied join.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[domain.RoomID]map[core.SessionID]core.Session
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[domain.RoomID]map[core.SessionID]core.Session),
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

// Register adds sess to room, creating the room if absent. Registering the
// same session twice is a no-op.
func (r *Registry) Register(room domain.RoomID, sess core.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(room, sess)
	log.Info().Str("module", "app.registry").Str("sid", string(sess.ID())).Str("room", string(room)).Msg("registered session")
}

// JoinCircle registers sess into the circle room, first leaving any other
// circle room it was in. It returns the room that was left, if any.
func (r *Registry) JoinCircle(circleID domain.CircleID, sess core.Session) (domain.RoomID, bool) {
	room := domain.CircleRoom(circleID)

	r.mu.Lock()
	defer r.mu.Unlock()

	var prev domain.RoomID
	if e, ok := r.sessions[sess.ID()]; ok && e.Circle != "" && e.Circle != room {
		prev = e.Circle
		r.remove(prev, sess.ID())
	}
	r.add(room, sess)
	r.sessions[sess.ID()].Circle = room

	ev := log.Info().Str("module", "app.registry").Str("sid", string(sess.ID())).Str("room", string(room))
	if prev != "" {
		ev = ev.Str("from_room", string(prev))
	}
	ev.Msg("joined circle")
	return prev, prev != ""
}

// Unregister removes sid from room and drops the room once empty.
// Absent rooms and sessions are ignored.
func (r *Registry) Unregister(room domain.RoomID, sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.remove(room, sid) {
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(room)).Msg("unregistered session")
	}
}

// Disconnect removes sid from every room it is registered in and returns
// those rooms.
func (r *Registry) Disconnect(sid core.SessionID) []domain.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return nil
	}
	left := make([]domain.RoomID, 0, len(e.Rooms))
	for room := range e.Rooms {
		left = append(left, room)
	}
	for _, room := range left {
		r.remove(room, sid)
	}
	sortRooms(left)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Int("rooms", len(left)).Msg("disconnected session")
	return left
}

// MembersOf returns a snapshot of the sessions currently in room.
func (r *Registry) MembersOf(room domain.RoomID) []core.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.rooms[room]
	out := make([]core.Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

// SessionsOfUser returns the sessions of uid registered in room.
func (r *Registry) SessionsOfUser(room domain.RoomID, uid domain.UserID) []core.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []core.Session
	for _, s := range r.rooms[room] {
		if s.User().ID == uid {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) RoomsOf(sid core.SessionID) []domain.RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return nil
	}
	out := make([]domain.RoomID, 0, len(e.Rooms))
	for room := range e.Rooms {
		out = append(out, room)
	}
	sortRooms(out)
	return out
}

// CircleOf returns the circle room sid has joined.
func (r *Registry) CircleOf(sid core.SessionID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.Circle == "" {
		return "", false
	}
	return e.Circle, true
}

func (r *Registry) Rooms() []core.RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(r.rooms))
	for id, set := range r.rooms {
		out = append(out, core.RoomInfo{ID: id, MemberCount: len(set)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// add and remove expect mu to be held.

func (r *Registry) add(room domain.RoomID, sess core.Session) {
	set, ok := r.rooms[room]
	if !ok {
		set = make(map[core.SessionID]core.Session)
		r.rooms[room] = set
	}
	set[sess.ID()] = sess

	e, ok := r.sessions[sess.ID()]
	if !ok {
		e = &sessionEntry{Session: sess, Rooms: make(map[domain.RoomID]struct{})}
		r.sessions[sess.ID()] = e
	}
	e.Rooms[room] = struct{}{}
}

func (r *Registry) remove(room domain.RoomID, sid core.SessionID) bool {
	set, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, ok := set[sid]; !ok {
		return false
	}
	delete(set, sid)
	if len(set) == 0 {
		delete(r.rooms, room)
	}
	if e, ok := r.sessions[sid]; ok {
		delete(e.Rooms, room)
		if e.Circle == room {
			e.Circle = ""
		}
		if len(e.Rooms) == 0 {
			delete(r.sessions, sid)
		}
	}
	return true
}

func sortRooms(rooms []domain.RoomID) {
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
}
