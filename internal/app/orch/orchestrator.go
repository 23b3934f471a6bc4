// Package orch holds the transport-free chat gateway logic: joining circle
// rooms, handling chat commands and cleaning up on disconnect.
package orch

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/dkeye/circles/internal/app"
	"github.com/dkeye/circles/internal/content"
	"github.com/dkeye/circles/internal/core"
	"github.com/dkeye/circles/internal/domain"
	"github.com/dkeye/circles/internal/observability"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry *app.Registry
	Router   *app.Router
	Members  core.MembershipStore
	Ledger   core.MessageLedger
	Limiter  *app.RateLimiter
	Metrics  *observability.Metrics
}

// CheckAccess reports whether user may open the chat of circleID.
// It returns domain.ErrNotMember for non-members.
func (o *Orchestrator) CheckAccess(ctx context.Context, circleID domain.CircleID, user domain.User) error {
	ok, err := o.Members.IsMember(ctx, circleID, user.ID)
	if err != nil {
		return fmt.Errorf("membership lookup: %w", err)
	}
	if !ok {
		return domain.ErrNotMember
	}
	return nil
}

// EnterCircle registers sess in the circle room and announces it to the
// others already there.
func (o *Orchestrator) EnterCircle(ctx context.Context, circleID domain.CircleID, sess core.Session) {
	room := domain.CircleRoom(circleID)
	if prev, moved := o.Registry.JoinCircle(circleID, sess); moved {
		o.Router.Broadcast(ctx, prev, domain.PresenceEvent(domain.EventUserLeft, sess.User()), sess.ID())
	}
	log.Info().Str("module", "orch").Str("sid", string(sess.ID())).Str("user", string(sess.User().ID)).Str("room", string(room)).Msg("joined")
	o.Router.Broadcast(ctx, room, domain.PresenceEvent(domain.EventUserJoined, sess.User()), sess.ID())
}

// JoinCircle is CheckAccess followed by EnterCircle.
func (o *Orchestrator) JoinCircle(ctx context.Context, circleID domain.CircleID, sess core.Session) error {
	if err := o.CheckAccess(ctx, circleID, sess.User()); err != nil {
		return err
	}
	o.EnterCircle(ctx, circleID, sess)
	return nil
}

// EnterNotifications registers sess in its user's private room.
func (o *Orchestrator) EnterNotifications(sess core.Session) {
	o.Registry.Register(domain.UserRoom(sess.User().ID), sess)
}

// OnDisconnect removes sess from every room, then tells the circle rooms it left.
func (o *Orchestrator) OnDisconnect(ctx context.Context, sess core.Session) {
	rooms := o.Registry.Disconnect(sess.ID())
	for _, room := range rooms {
		if !room.IsCircle() {
			continue
		}
		o.Router.Broadcast(ctx, room, domain.PresenceEvent(domain.EventUserLeft, sess.User()), sess.ID())
	}
	log.Info().Str("module", "orch").Str("sid", string(sess.ID())).Int("rooms", len(rooms)).Msg("disconnected")
}

// SendChat validates text, persists it and broadcasts the stored message to
// the whole room, sender included. Nothing is broadcast unless the ledger
// write succeeded.
func (o *Orchestrator) SendChat(ctx context.Context, sess core.Session, text string) (domain.ChatMessage, error) {
	room, ok := o.Registry.CircleOf(sess.ID())
	if !ok {
		return domain.ChatMessage{}, domain.ErrNotJoined
	}
	circleID, _ := room.CircleID()

	text = content.Clean(text)
	if text == "" {
		return domain.ChatMessage{}, domain.ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > domain.MaxMessageLen {
		return domain.ChatMessage{}, domain.ErrMessageTooBig
	}
	// only fully valid messages count against the limit
	user := sess.User()
	if !o.Limiter.Allow(user.ID) {
		return domain.ChatMessage{}, domain.ErrRateLimited
	}

	start := time.Now()
	msg, err := o.Ledger.AppendMessage(ctx, domain.ChatMessage{
		CircleID: circleID,
		UserID:   user.ID,
		Username: user.Username,
		Content:  text,
	})
	o.Metrics.ObserveLedgerWrite(time.Since(start).Seconds())
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("append message: %w", err)
	}

	o.Router.Broadcast(ctx, room, domain.ChatMessageEvent(msg), "")
	return msg, nil
}

// Typing broadcasts a typing notice to everyone in the room but the sender.
func (o *Orchestrator) Typing(ctx context.Context, sess core.Session, started bool) error {
	room, ok := o.Registry.CircleOf(sess.ID())
	if !ok {
		return domain.ErrNotJoined
	}
	t := domain.EventUserStopTyping
	if started {
		t = domain.EventUserTyping
	}
	o.Router.Broadcast(ctx, room, domain.PresenceEvent(t, sess.User()), sess.ID())
	return nil
}

// Evict closes every live chat session of userID in circleID. The read
// pumps then run the normal disconnect path.
func (o *Orchestrator) Evict(circleID domain.CircleID, userID domain.UserID) int {
	sessions := o.Registry.SessionsOfUser(domain.CircleRoom(circleID), userID)
	for _, s := range sessions {
		s.Signal().Close()
	}
	if len(sessions) > 0 {
		log.Info().Str("module", "orch").Str("circle", string(circleID)).Str("user", string(userID)).Int("sessions", len(sessions)).Msg("evicted")
	}
	return len(sessions)
}
