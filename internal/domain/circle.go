package domain

import (
	"strings"
	"time"

	"github.com/dkeye/circles/internal/content"
	"github.com/google/uuid"
)

// MaxCircleNameLen is counted in runes.
const MaxCircleNameLen = 255

type CircleID string

type Circle struct {
	ID        CircleID  `json:"id"`
	Name      string    `json:"name"`
	FounderID UserID    `json:"founder_id"`
	IsPublic  bool      `json:"is_public"`
	CreatedAt time.Time `json:"created_at"`
}

func NewCircle(name string, founder UserID, public bool) (Circle, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Circle{}, ErrCircleNameEmpty
	}
	name = content.Truncate(name, MaxCircleNameLen)
	return Circle{
		ID:        CircleID(uuid.NewString()),
		Name:      name,
		FounderID: founder,
		IsPublic:  public,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// ChangeKind describes a committed membership mutation.
type ChangeKind string

const (
	ChangeFounded ChangeKind = "founded"
	ChangeJoined  ChangeKind = "joined"
	ChangeLeft    ChangeKind = "left"
	ChangeRemoved ChangeKind = "removed"
)

// MembershipChange is one committed add/remove of a member.
type MembershipChange struct {
	Kind     ChangeKind
	CircleID CircleID
	UserID   UserID
	ActorID  UserID
}
