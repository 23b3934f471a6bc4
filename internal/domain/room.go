package domain

import "strings"

type RoomID string

const (
	circleRoomPrefix = "circle:"
	userRoomPrefix   = "user:"
)

// CircleRoom is the chat room of one circle.
func CircleRoom(id CircleID) RoomID { return RoomID(circleRoomPrefix + string(id)) }

// UserRoom is the private notification room of one user.
func UserRoom(id UserID) RoomID { return RoomID(userRoomPrefix + string(id)) }

func (r RoomID) IsCircle() bool { return strings.HasPrefix(string(r), circleRoomPrefix) }

func (r RoomID) IsUser() bool { return strings.HasPrefix(string(r), userRoomPrefix) }

// CircleID returns the circle a circle room belongs to.
func (r RoomID) CircleID() (CircleID, bool) {
	id, ok := strings.CutPrefix(string(r), circleRoomPrefix)
	return CircleID(id), ok && id != ""
}
