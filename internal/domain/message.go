package domain

import "time"

const MaxMessageLen = 4000

// ChatMessage is a persisted circle chat line. ID, Seq and CreatedAt are assigned by the ledger.
type ChatMessage struct {
	ID        string    `json:"id"`
	CircleID  CircleID  `json:"circle_id"`
	Seq       uint64    `json:"seq"`
	UserID    UserID    `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryQuery selects up to Limit messages created strictly before Before.
// A zero Before means "now".
type HistoryQuery struct {
	Before time.Time
	Limit  int
}

// Notification is a persisted feed entry for one user.
type Notification struct {
	ID         string    `json:"id"`
	UserID     UserID    `json:"user_id"`
	CircleID   CircleID  `json:"circle_id"`
	CircleName string    `json:"circle_name"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}
