package app

import (
	"fmt"

	"github.com/dkeye/circles/internal/core"
	"github.com/dkeye/circles/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a session whose outbound buffer is full.
type Policy interface {
	OnBackPressure(room domain.RoomID, sess core.Session) BackpressureAction
}

// SimplePolicy applies the same action to every slow session.
type SimplePolicy struct {
	Action BackpressureAction
}

func (p SimplePolicy) OnBackPressure(domain.RoomID, core.Session) BackpressureAction {
	return p.Action
}

// ParsePolicy maps the chat.backpressure config value to a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "", "drop":
		return SimplePolicy{Action: DropFrame}, nil
	case "kick":
		return SimplePolicy{Action: KickMember}, nil
	default:
		return nil, fmt.Errorf("unknown backpressure policy %q", name)
	}
}
