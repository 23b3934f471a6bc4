// Package notify turns committed membership changes into persisted
// notifications and delivers them to the affected user's private room.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/c-pro/geche"
	"github.com/dkeye/circles/internal/app"
	"github.com/dkeye/circles/internal/core"
	"github.com/dkeye/circles/internal/domain"
	"github.com/dkeye/circles/internal/observability"
	"github.com/rs/zerolog/log"
)

const DefaultNameTTL = 10 * time.Minute

// CircleLookup resolves circle metadata for notification text.
type CircleLookup interface {
	GetCircle(ctx context.Context, id domain.CircleID) (domain.Circle, error)
}

type Bridge struct {
	store   core.NotificationStore
	circles CircleLookup
	router  *app.Router
	metrics *observability.Metrics
	names   geche.Geche[domain.CircleID, string]
}

// NewBridge builds a bridge whose circle-name cache lives until ctx is done.
func NewBridge(
	ctx context.Context,
	store core.NotificationStore,
	circles CircleLookup,
	router *app.Router,
	m *observability.Metrics,
	nameTTL time.Duration,
) *Bridge {
	if nameTTL <= 0 {
		nameTTL = DefaultNameTTL
	}
	return &Bridge{
		store:   store,
		circles: circles,
		router:  router,
		metrics: m,
		names:   geche.NewMapTTLCache[domain.CircleID, string](ctx, nameTTL, time.Minute),
	}
}

// Remember primes the name cache, e.g. right after a circle is created.
func (b *Bridge) Remember(c domain.Circle) {
	b.names.Set(c.ID, c.Name)
}

// Notify persists one notification for change.UserID and pushes it to
// that user's live notification sessions. Offline users only get the
// persisted record.
func (b *Bridge) Notify(ctx context.Context, change domain.MembershipChange) error {
	name, err := b.circleName(ctx, change.CircleID)
	if err != nil {
		return err
	}

	n, err := b.store.SaveNotification(ctx, domain.Notification{
		UserID:     change.UserID,
		CircleID:   change.CircleID,
		CircleName: name,
		Message:    Message(change.Kind, name),
	})
	if err != nil {
		return fmt.Errorf("save notification: %w", err)
	}
	b.metrics.NotificationProduced(string(change.Kind))

	b.router.Broadcast(ctx, domain.UserRoom(change.UserID), domain.NotificationEvent(n), "")
	log.Info().
		Str("module", "notify").
		Str("circle", string(change.CircleID)).
		Str("user", string(change.UserID)).
		Str("kind", string(change.Kind)).
		Msg("notification routed")
	return nil
}

func (b *Bridge) circleName(ctx context.Context, id domain.CircleID) (string, error) {
	if name, err := b.names.Get(id); err == nil {
		return name, nil
	}
	c, err := b.circles.GetCircle(ctx, id)
	if err != nil {
		return "", fmt.Errorf("lookup circle %s: %w", id, err)
	}
	b.names.Set(id, c.Name)
	return c.Name, nil
}

// Message is the human readable text of a membership change.
func Message(kind domain.ChangeKind, circleName string) string {
	switch kind {
	case domain.ChangeFounded:
		return "You founded " + circleName
	case domain.ChangeJoined:
		return "You joined " + circleName
	case domain.ChangeLeft:
		return "You left " + circleName
	case domain.ChangeRemoved:
		return "You were removed from " + circleName
	default:
		return "Your membership in " + circleName + " changed"
	}
}
