package core

import (
	"context"

	"github.com/dkeye/circles/internal/domain"
)

//go:generate mockgen -source=ports.go -destination=mocks/ports_mock.go -package=mocks

// MembershipStore answers "is user X a member of circle Y". It is the only
// membership capability the chat path needs.
type MembershipStore interface {
	IsMember(ctx context.Context, circleID domain.CircleID, userID domain.UserID) (bool, error)
}

// CircleStore is the mutation side of the membership store. Each call is
// atomic on its own.
type CircleStore interface {
	MembershipStore
	CreateCircle(ctx context.Context, c domain.Circle) error
	GetCircle(ctx context.Context, id domain.CircleID) (domain.Circle, error)
	AddMember(ctx context.Context, circleID domain.CircleID, userID domain.UserID) (bool, error)
	RemoveMember(ctx context.Context, circleID domain.CircleID, userID domain.UserID) (bool, error)
}

// MessageLedger is the durable append-only store of chat messages.
// AppendMessage assigns ID, Seq and CreatedAt and returns the stored record.
type MessageLedger interface {
	AppendMessage(ctx context.Context, msg domain.ChatMessage) (domain.ChatMessage, error)
	ListMessages(ctx context.Context, circleID domain.CircleID, q domain.HistoryQuery) ([]domain.ChatMessage, error)
}

// NotificationStore persists feed entries. SaveNotification assigns ID and CreatedAt.
type NotificationStore interface {
	SaveNotification(ctx context.Context, n domain.Notification) (domain.Notification, error)
	ListNotifications(ctx context.Context, userID domain.UserID, limit int) ([]domain.Notification, error)
}

// IdentityResolver turns a bearer token into the authenticated user.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (domain.User, error)
}
