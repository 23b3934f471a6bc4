package http

import (
	"context"
	"net/http"

	"github.com/dkeye/circles/internal/adapters/signal"
	"github.com/dkeye/circles/internal/app/membership"
	"github.com/dkeye/circles/internal/app/orch"
	"github.com/dkeye/circles/internal/config"
	"github.com/dkeye/circles/internal/core"
	"github.com/dkeye/circles/internal/observability"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const sessionName = "CirclesSessions"

// Deps are the application services the router exposes.
type Deps struct {
	Orch          *orch.Orchestrator
	Membership    *membership.Service
	Circles       core.CircleStore
	Ledger        core.MessageLedger
	Notifications core.NotificationStore
	Auth          core.IdentityResolver
	Metrics       *observability.Metrics
	Gatherer      prometheus.Gatherer
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Server.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Auth.Secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.Auth.TokenExpiry.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Server.Mode == "release",
		SameSite: http.SameSiteStrictMode,
	})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(SessionTokenMiddleware())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	opts := signal.Options{
		ReadLimit:  cfg.WS.ReadLimit,
		PingPeriod: cfg.WS.PingPeriod,
		PongWait:   cfg.WS.PongWait,
		WriteWait:  cfg.WS.WriteWait,
		SendBuffer: cfg.WS.SendBuffer,

		AllowedOrigins: cfg.WS.AllowedOrigins,
	}
	chat := signal.NewChatWSController(deps.Orch, deps.Auth, opts, deps.Metrics)
	notify := signal.NewNotificationWSController(deps.Orch, deps.Auth, opts, deps.Metrics)

	ws := r.Group("/ws/circle")
	ws.GET("/notifications/", func(c *gin.Context) {
		notify.HandleNotifications(ctx, c)
	})
	ws.GET("/:circle_id/chat/", func(c *gin.Context) {
		chat.HandleChat(ctx, c)
	})

	h := &handlers{deps: deps, historyLimit: cfg.Chat.HistoryLimit}

	r.POST("/api/session", h.createSession)
	r.DELETE("/api/session", h.deleteSession)

	api := r.Group("/api", AuthMiddleware(deps.Auth))
	api.POST("/circles", h.createCircle)
	api.GET("/circles/:circle_id", h.getCircle)
	api.POST("/circles/:circle_id/members", h.joinCircle)
	api.DELETE("/circles/:circle_id/members/:user_id", h.removeMember)
	api.GET("/circles/:circle_id/messages", h.listMessages)
	api.GET("/circles/:circle_id/online", h.listOnline)
	api.GET("/notifications", h.listNotifications)
	api.GET("/rooms", h.listRooms)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Server.Mode).Msg("router setup")
	return r
}
