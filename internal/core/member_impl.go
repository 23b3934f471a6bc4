package core

import "github.com/dkeye/circles/internal/domain"

// session implements Session by pairing identity + transport.
// The user is copied on construction and never changes afterwards.
type session struct {
	id   SessionID
	user domain.User
	conn SignalConnection
}

func NewSession(id SessionID, user domain.User, conn SignalConnection) Session {
	return &session{id: id, user: user, conn: conn}
}

func (s *session) ID() SessionID            { return s.id }
func (s *session) User() domain.User        { return s.user }
func (s *session) Signal() SignalConnection { return s.conn }
