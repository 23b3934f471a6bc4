package app

import (
	"context"

	"github.com/dkeye/circles/internal/core"
	"github.com/dkeye/circles/internal/domain"
)

// Envelope is one encoded event addressed to a room. Exclude, when set,
// is the session that must not receive it.
type Envelope struct {
	Room    domain.RoomID  `msgpack:"room"`
	Exclude core.SessionID `msgpack:"exclude,omitempty"`
	Frame   core.Frame     `msgpack:"frame"`
}

// Fanout carries envelopes to every node that may hold sessions of the room.
type Fanout interface {
	Publish(ctx context.Context, env Envelope) error
}

// Deliverer writes an envelope to the sessions registered on this node.
type Deliverer interface {
	Deliver(env Envelope) core.PublishResult
}

// LocalFanout is the single-process Fanout: publishing is delivering.
type LocalFanout struct {
	Local Deliverer
}

func (f LocalFanout) Publish(_ context.Context, env Envelope) error {
	f.Local.Deliver(env)
	return nil
}
