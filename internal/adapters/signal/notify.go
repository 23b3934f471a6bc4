package signal

import (
	"context"
	"net/http"

	"github.com/dkeye/circles/internal/adapters/auth"
	"github.com/dkeye/circles/internal/app/orch"
	"github.com/dkeye/circles/internal/core"
	"github.com/dkeye/circles/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// NotificationWSController serves /ws/circle/notifications/. The room is
// always the caller's own; inbound frames are read and dropped.
type NotificationWSController struct {
	Orch    *orch.Orchestrator
	Auth    core.IdentityResolver
	Opts    Options
	Metrics *observability.Metrics

	upgrader websocket.Upgrader
}

func NewNotificationWSController(o *orch.Orchestrator, resolver core.IdentityResolver, opts Options, m *observability.Metrics) *NotificationWSController {
	return &NotificationWSController{Orch: o, Auth: resolver, Opts: opts.withDefaults(), Metrics: m, upgrader: newUpgrader(opts.AllowedOrigins)}
}

func (ctl *NotificationWSController) HandleNotifications(ctx context.Context, c *gin.Context) {
	if !originAllowed(c.Request, ctl.Opts.AllowedOrigins) {
		log.Warn().Str("module", "signal").Str("origin", c.GetHeader("Origin")).Msg("ws origin rejected")
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}
	user, err := ctl.Auth.Resolve(c.Request.Context(), auth.RequestToken(c))
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("notifications auth failed")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := newWsSignalConn(ws, ctl.Opts.SendBuffer)
	sess := core.NewSession(core.SessionID(uuid.NewString()), user, conn)
	log.Info().Str("module", "signal").Str("sid", string(sess.ID())).Str("user", string(user.ID)).Msg("new notifications connection")

	ctl.Metrics.ConnectionOpened("notifications")
	defer ctl.Metrics.ConnectionClosed("notifications")

	ctl.Orch.EnterNotifications(sess)
	serve(ctx, sess.ID(), conn, ctl.Opts,
		func([]byte) {},
		func() { ctl.Orch.OnDisconnect(context.WithoutCancel(ctx), sess) },
	)
}
