package core

import "github.com/dkeye/circles/internal/domain"

type SessionID string

// Session binds an authenticated user and its transport endpoint.
// This is what a room stores and fans out to.
type Session interface {
	ID() SessionID
	User() domain.User
	Signal() SignalConnection
}
