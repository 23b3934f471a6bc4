package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dkeye/circles/internal/adapters/auth"
	"github.com/dkeye/circles/internal/app/orch"
	"github.com/dkeye/circles/internal/core"
	"github.com/dkeye/circles/internal/domain"
	"github.com/dkeye/circles/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	errInvalidJSON   = "Invalid JSON format"
	errEmptyMessage  = "Message content cannot be empty"
	errMessageTooBig = "Message content too long"
	errRateLimited   = "Rate limit exceeded"
	errNotJoined     = "Not joined to a circle"
	errSaveFailed    = "Failed to save message"
)

// ChatWSController serves /ws/circle/:circle_id/chat/.
type ChatWSController struct {
	Orch    *orch.Orchestrator
	Auth    core.IdentityResolver
	Opts    Options
	Metrics *observability.Metrics

	upgrader websocket.Upgrader
}

func NewChatWSController(o *orch.Orchestrator, resolver core.IdentityResolver, opts Options, m *observability.Metrics) *ChatWSController {
	return &ChatWSController{Orch: o, Auth: resolver, Opts: opts.withDefaults(), Metrics: m, upgrader: newUpgrader(opts.AllowedOrigins)}
}

// HandleChat checks the origin, authenticates the caller and checks
// membership before the upgrade; a rejected caller gets a plain HTTP error
// and is never registered. ctx ends with the server; the leave broadcast on
// disconnect still goes out after it is cancelled.
func (ctl *ChatWSController) HandleChat(ctx context.Context, c *gin.Context) {
	circleID := domain.CircleID(c.Param("circle_id"))

	if !originAllowed(c.Request, ctl.Opts.AllowedOrigins) {
		log.Warn().Str("module", "signal").Str("origin", c.GetHeader("Origin")).Msg("ws origin rejected")
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}
	user, err := ctl.Auth.Resolve(c.Request.Context(), auth.RequestToken(c))
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("circle", string(circleID)).Msg("chat auth failed")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := ctl.Orch.CheckAccess(c.Request.Context(), circleID, user); err != nil {
		if errors.Is(err, domain.ErrNotMember) {
			log.Warn().Str("module", "signal").Str("user", string(user.ID)).Str("circle", string(circleID)).Msg("chat rejected: not a member")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a circle member"})
			return
		}
		log.Error().Err(err).Str("module", "signal").Str("circle", string(circleID)).Msg("membership check")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return
	}

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := newWsSignalConn(ws, ctl.Opts.SendBuffer)
	sess := core.NewSession(core.SessionID(uuid.NewString()), user, conn)
	log.Info().Str("module", "signal").Str("sid", string(sess.ID())).Str("user", string(user.ID)).Str("circle", string(circleID)).Msg("new chat connection")

	ctl.Metrics.ConnectionOpened("chat")
	defer ctl.Metrics.ConnectionClosed("chat")

	ctl.Orch.EnterCircle(ctx, circleID, sess)
	serve(ctx, sess.ID(), conn, ctl.Opts,
		func(data []byte) { ctl.handleSignal(ctx, sess, data) },
		func() { ctl.Orch.OnDisconnect(context.WithoutCancel(ctx), sess) },
	)
}

type chatCommand struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (ctl *ChatWSController) handleSignal(ctx context.Context, sess core.Session, data []byte) {
	var cmd chatCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("bad json")
		ctl.Metrics.Command("invalid", "rejected")
		ctl.sendError(sess, errInvalidJSON)
		return
	}
	if cmd.Type == "" {
		cmd.Type = domain.CommandChatMessage
	}

	switch cmd.Type {
	case domain.CommandChatMessage:
		ctl.handleChatMessage(ctx, sess, cmd.Message)
	case domain.CommandTyping, domain.CommandStopTyping:
		if err := ctl.Orch.Typing(ctx, sess, cmd.Type == domain.CommandTyping); err != nil {
			ctl.Metrics.Command(cmd.Type, "rejected")
			ctl.sendError(sess, errorText(err))
			return
		}
		ctl.Metrics.Command(cmd.Type, "ok")
	default:
		log.Warn().Str("module", "signal").Str("sid", string(sess.ID())).Str("type", cmd.Type).Msg("unknown signal")
		ctl.Metrics.Command("unknown", "rejected")
		ctl.sendError(sess, "Unknown message type: "+cmd.Type)
	}
}

func (ctl *ChatWSController) handleChatMessage(ctx context.Context, sess core.Session, text string) {
	msg, err := ctl.Orch.SendChat(ctx, sess, text)
	if err != nil {
		status := "rejected"
		if !isClientError(err) {
			status = "error"
			log.Error().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("chat message failed")
		}
		ctl.Metrics.Command(domain.CommandChatMessage, status)
		ctl.sendError(sess, errorText(err))
		return
	}
	ctl.Metrics.Command(domain.CommandChatMessage, "ok")
	log.Debug().Str("module", "signal").Str("sid", string(sess.ID())).Str("message_id", msg.ID).Msg("chat message stored")
}

func (ctl *ChatWSController) sendError(sess core.Session, text string) {
	ctl.Orch.Router.Send(sess, domain.ErrorEvent(text))
}

func isClientError(err error) bool {
	return errors.Is(err, domain.ErrEmptyMessage) ||
		errors.Is(err, domain.ErrMessageTooBig) ||
		errors.Is(err, domain.ErrRateLimited) ||
		errors.Is(err, domain.ErrNotJoined)
}

// errorText maps gateway errors to the text of the error frame.
func errorText(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptyMessage):
		return errEmptyMessage
	case errors.Is(err, domain.ErrMessageTooBig):
		return errMessageTooBig
	case errors.Is(err, domain.ErrRateLimited):
		return errRateLimited
	case errors.Is(err, domain.ErrNotJoined):
		return errNotJoined
	default:
		return errSaveFailed
	}
}
