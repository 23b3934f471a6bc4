package app

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/dkeye/circles/internal/core"
	"github.com/dkeye/circles/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrClosed
	}
	if c.full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) events(t *testing.T) []domain.Event {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Event, 0, len(c.frames))
	for _, f := range c.frames {
		var ev domain.Event
		require.NoError(t, json.Unmarshal(f, &ev))
		out = append(out, ev)
	}
	return out
}

func newTestSession(sid, uid string) (core.Session, *fakeConn) {
	conn := &fakeConn{}
	user := domain.User{ID: domain.UserID(uid), Username: "user-" + uid}
	return core.NewSession(core.SessionID(sid), user, conn), conn
}
