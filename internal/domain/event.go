package domain

import "time"

type EventType string

// Outbound event types.
const (
	EventChatMessage        EventType = "chat_message"
	EventUserJoined         EventType = "user_joined"
	EventUserLeft           EventType = "user_left"
	EventUserTyping         EventType = "user_typing"
	EventUserStopTyping     EventType = "user_stop_typing"
	EventError              EventType = "error"
	EventCircleNotification EventType = "circle_notification"
)

// Inbound command types.
const (
	CommandChatMessage = "chat_message"
	CommandTyping      = "typing"
	CommandStopTyping  = "stop_typing"
)

// Event is the wire shape of every outbound frame. Each constructor fills
// only the fields its type carries; the rest are omitted on encode.
type Event struct {
	Type           EventType `json:"type"`
	MessageID      string    `json:"message_id,omitempty"`
	NotificationID string    `json:"notification_id,omitempty"`
	CircleID       CircleID  `json:"circle_id,omitempty"`
	CircleName     string    `json:"circle_name,omitempty"`
	Message        string    `json:"message,omitempty"`
	UserID         UserID    `json:"user_id,omitempty"`
	Username       string    `json:"username,omitempty"`
	Timestamp      string    `json:"timestamp,omitempty"`
}

func ChatMessageEvent(m ChatMessage) Event {
	return Event{
		Type:      EventChatMessage,
		MessageID: m.ID,
		Message:   m.Content,
		UserID:    m.UserID,
		Username:  m.Username,
		Timestamp: formatTime(m.CreatedAt),
	}
}

// PresenceEvent builds user_joined, user_left, user_typing and user_stop_typing.
func PresenceEvent(t EventType, u User) Event {
	return Event{Type: t, UserID: u.ID, Username: u.Username}
}

func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

func NotificationEvent(n Notification) Event {
	return Event{
		Type:           EventCircleNotification,
		NotificationID: n.ID,
		CircleID:       n.CircleID,
		CircleName:     n.CircleName,
		Message:        n.Message,
		Timestamp:      formatTime(n.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
