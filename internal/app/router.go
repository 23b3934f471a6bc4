package app

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/circles/internal/core"
	"github.com/dkeye/circles/internal/domain"
	"github.com/dkeye/circles/internal/observability"
	"github.com/rs/zerolog/log"
)

// Router fans events out to rooms. Delivery never blocks on a single
// session and never reports per-session failures to the caller.
type Router struct {
	Registry *Registry
	Policy   Policy
	Metrics  *observability.Metrics

	fanout Fanout
}

func NewRouter(reg *Registry, policy Policy, m *observability.Metrics) *Router {
	if policy == nil {
		policy = SimplePolicy{Action: DropFrame}
	}
	r := &Router{Registry: reg, Policy: policy, Metrics: m}
	r.fanout = LocalFanout{Local: r}
	return r
}

// UseFanout replaces the in-process fanout, e.g. with a Redis-backed one.
func (r *Router) UseFanout(f Fanout) {
	r.fanout = f
}

// Broadcast encodes ev once and publishes it to room, skipping exclude.
func (r *Router) Broadcast(ctx context.Context, room domain.RoomID, ev domain.Event, exclude core.SessionID) {
	frame, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Str("room", string(room)).Msg("encode event")
		return
	}
	env := Envelope{Room: room, Exclude: exclude, Frame: frame}
	if err := r.fanout.Publish(ctx, env); err != nil {
		log.Error().Err(err).Str("module", "app.router").Str("room", string(room)).Str("type", string(ev.Type)).Msg("publish")
	}
}

// Send delivers ev to one session only. Used for replies to the issuer.
func (r *Router) Send(sess core.Session, ev domain.Event) {
	frame, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Str("sid", string(sess.ID())).Msg("encode event")
		return
	}
	if err := sess.Signal().TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "app.router").Str("sid", string(sess.ID())).Msg("direct send failed")
	}
}

// Deliver enqueues env.Frame on every local session of env.Room.
func (r *Router) Deliver(env Envelope) core.PublishResult {
	var res core.PublishResult
	for _, sess := range r.Registry.MembersOf(env.Room) {
		if sess.ID() == env.Exclude {
			res.Skipped++
			continue
		}
		err := sess.Signal().TrySend(env.Frame)
		switch {
		case err == nil:
			res.SendTo++
		case errors.Is(err, core.ErrBackpressure):
			res.Dropped = append(res.Dropped, sess)
		default:
			res.Closed++
		}
	}

	kind := roomKind(env.Room)
	r.Metrics.FrameDelivered(kind, res.SendTo)
	r.Metrics.FrameDropped(kind, "backpressure", len(res.Dropped))
	r.Metrics.FrameDropped(kind, "closed", res.Closed)

	for _, slow := range res.Dropped {
		switch r.Policy.OnBackPressure(env.Room, slow) {
		case KickMember:
			log.Warn().Str("module", "app.router").Str("sid", string(slow.ID())).Str("room", string(env.Room)).Msg("kick slow session")
			r.Metrics.SessionKicked()
			slow.Signal().Close()
		case DropFrame, NoAction:
			log.Debug().Str("module", "app.router").Str("sid", string(slow.ID())).Str("room", string(env.Room)).Msg("frame dropped")
		}
	}
	return res
}

func roomKind(room domain.RoomID) string {
	if room.IsUser() {
		return "user"
	}
	return "circle"
}
