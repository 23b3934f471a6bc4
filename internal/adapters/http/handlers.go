package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dkeye/circles/internal/adapters/auth"
	"github.com/dkeye/circles/internal/core"
	"github.com/dkeye/circles/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const defaultPageSize = 50

type handlers struct {
	deps         Deps
	historyLimit int
}

type createCircleRequest struct {
	Name     string `json:"name" binding:"required"`
	IsPublic bool   `json:"is_public"`
}

func (h *handlers) createSession(c *gin.Context) {
	token := auth.TokenFromRequest(c.Request)
	user, err := h.deps.Auth.Resolve(c.Request.Context(), token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	s := sessions.Default(c)
	s.Set(sessionTokenKey, token)
	if err := s.Save(); err != nil {
		abortWithError(c, err)
		return
	}
	log.Info().Str("module", "adapters.http").Str("user", string(user.ID)).Msg("session created")
	c.JSON(http.StatusOK, user)
}

func (h *handlers) deleteSession(c *gin.Context) {
	s := sessions.Default(c)
	s.Clear()
	if err := s.Save(); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) createCircle(c *gin.Context) {
	var req createCircleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid name"})
		return
	}
	circle, err := h.deps.Membership.CreateCircle(c.Request.Context(), currentUser(c).ID, req.Name, req.IsPublic)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, circle)
}

func (h *handlers) getCircle(c *gin.Context) {
	circle, err := h.deps.Circles.GetCircle(c.Request.Context(), domain.CircleID(c.Param("circle_id")))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, circle)
}

func (h *handlers) joinCircle(c *gin.Context) {
	uid := currentUser(c).ID
	if err := h.deps.Membership.AddMember(c.Request.Context(), domain.CircleID(c.Param("circle_id")), uid, uid); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) removeMember(c *gin.Context) {
	circleID := domain.CircleID(c.Param("circle_id"))
	target := domain.UserID(c.Param("user_id"))
	if err := h.deps.Membership.RemoveMember(c.Request.Context(), circleID, currentUser(c).ID, target); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) listMessages(c *gin.Context) {
	circleID := domain.CircleID(c.Param("circle_id"))
	if err := h.deps.Orch.CheckAccess(c.Request.Context(), circleID, currentUser(c)); err != nil {
		abortWithError(c, err)
		return
	}

	q := domain.HistoryQuery{Limit: pageSize(c, h.historyLimit)}
	if raw := c.Query("before"); raw != "" {
		before, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before must be an RFC 3339 timestamp"})
			return
		}
		q.Before = before
	}

	msgs, err := h.deps.Ledger.ListMessages(c.Request.Context(), circleID, q)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *handlers) listNotifications(c *gin.Context) {
	list, err := h.deps.Notifications.ListNotifications(c.Request.Context(), currentUser(c).ID, pageSize(c, defaultPageSize))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if list == nil {
		list = []domain.Notification{}
	}
	c.JSON(http.StatusOK, list)
}

// listOnline returns the live chat sessions of a circle.
func (h *handlers) listOnline(c *gin.Context) {
	circleID := domain.CircleID(c.Param("circle_id"))
	if err := h.deps.Orch.CheckAccess(c.Request.Context(), circleID, currentUser(c)); err != nil {
		abortWithError(c, err)
		return
	}
	live := h.deps.Orch.Registry.MembersOf(domain.CircleRoom(circleID))
	out := make([]core.MemberDTO, 0, len(live))
	for _, s := range live {
		u := s.User()
		out = append(out, core.MemberDTO{SessionID: s.ID(), UserID: u.ID, Username: u.Username})
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Orch.Registry.Rooms())
}

// pageSize reads ?limit=, clamped to (0, limit].
func pageSize(c *gin.Context, limit int) int {
	if limit <= 0 {
		limit = defaultPageSize
	}
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 || n > limit {
		return limit
	}
	return n
}
