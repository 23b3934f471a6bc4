// Package membership is the mutation path of circle membership. Every
// committed change is handed to a Notifier before the next change of the
// same circle can commit, so notifications follow commit order.
package membership

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/dkeye/circles/internal/content"
	"github.com/dkeye/circles/internal/core"
	"github.com/dkeye/circles/internal/domain"
	"github.com/rs/zerolog/log"
)

const lockStripes = 64

type Notifier interface {
	Notify(ctx context.Context, change domain.MembershipChange) error
}

// Evictor closes live chat sessions of a user who lost membership.
type Evictor interface {
	Evict(circleID domain.CircleID, userID domain.UserID) int
}

type Service struct {
	store    core.CircleStore
	notifier Notifier
	evictor  Evictor

	locks [lockStripes]sync.Mutex
}

// NewService wires the store and notifier. evictor may be nil, in which case
// removed members keep their open chat sessions until they disconnect.
func NewService(store core.CircleStore, notifier Notifier, evictor Evictor) *Service {
	return &Service{store: store, notifier: notifier, evictor: evictor}
}

func (s *Service) lock(id domain.CircleID) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// CreateCircle stores a new circle with founder as its first member.
func (s *Service) CreateCircle(ctx context.Context, founder domain.UserID, name string, public bool) (domain.Circle, error) {
	c, err := domain.NewCircle(content.Clean(name), founder, public)
	if err != nil {
		return domain.Circle{}, err
	}

	unlock := s.lock(c.ID)
	defer unlock()

	if err := s.store.CreateCircle(ctx, c); err != nil {
		return domain.Circle{}, fmt.Errorf("create circle: %w", err)
	}
	if _, err := s.store.AddMember(ctx, c.ID, founder); err != nil {
		return domain.Circle{}, fmt.Errorf("add founder: %w", err)
	}
	log.Info().Str("module", "membership").Str("circle", string(c.ID)).Str("user", string(founder)).Msg("circle created")

	if r, ok := s.notifier.(interface{ Remember(domain.Circle) }); ok {
		r.Remember(c)
	}

	s.notify(ctx, domain.MembershipChange{Kind: domain.ChangeFounded, CircleID: c.ID, UserID: founder, ActorID: founder})
	return c, nil
}

// AddMember adds target to the circle. Anyone may join a public circle;
// only the founder may add people to a private one.
func (s *Service) AddMember(ctx context.Context, circleID domain.CircleID, actor, target domain.UserID) error {
	c, err := s.store.GetCircle(ctx, circleID)
	if err != nil {
		return fmt.Errorf("get circle: %w", err)
	}
	if actor != c.FounderID && (actor != target || !c.IsPublic) {
		return domain.ErrForbidden
	}

	unlock := s.lock(circleID)
	defer unlock()

	added, err := s.store.AddMember(ctx, circleID, target)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	if !added {
		return domain.ErrAlreadyMember
	}
	log.Info().Str("module", "membership").Str("circle", string(circleID)).Str("user", string(target)).Msg("member added")

	s.notify(ctx, domain.MembershipChange{Kind: domain.ChangeJoined, CircleID: circleID, UserID: target, ActorID: actor})
	return nil
}

// RemoveMember removes target from the circle. Members may leave; the
// founder may remove others but cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, circleID domain.CircleID, actor, target domain.UserID) error {
	c, err := s.store.GetCircle(ctx, circleID)
	if err != nil {
		return fmt.Errorf("get circle: %w", err)
	}
	if target == c.FounderID || (actor != target && actor != c.FounderID) {
		return domain.ErrForbidden
	}

	unlock := s.lock(circleID)
	defer unlock()

	removed, err := s.store.RemoveMember(ctx, circleID, target)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if !removed {
		return domain.ErrNotMember
	}

	kind := domain.ChangeRemoved
	if actor == target {
		kind = domain.ChangeLeft
	}
	log.Info().Str("module", "membership").Str("circle", string(circleID)).Str("user", string(target)).Str("kind", string(kind)).Msg("member removed")

	s.notify(ctx, domain.MembershipChange{Kind: kind, CircleID: circleID, UserID: target, ActorID: actor})
	if s.evictor != nil {
		s.evictor.Evict(circleID, target)
	}
	return nil
}

// notify runs under the circle lock. The change is already committed, so a
// failure here is logged and not returned.
func (s *Service) notify(ctx context.Context, change domain.MembershipChange) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, change); err != nil {
		log.Error().Err(err).
			Str("module", "membership").
			Str("circle", string(change.CircleID)).
			Str("user", string(change.UserID)).
			Msg("notify membership change")
	}
}
