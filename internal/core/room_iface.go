package core

import (
	"github.com/dkeye/circles/internal/domain"
)

// PublishResult reports delivery stats/backpressure of one local fan-out.
type PublishResult struct {
	SendTo  int
	Skipped int
	Closed  int
	Dropped []Session
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	SessionID SessionID     `json:"session_id"`
	UserID    domain.UserID `json:"user_id"`
	Username  string        `json:"username"`
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"client_count"`
}
