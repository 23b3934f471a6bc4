package signal

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/circles/internal/core"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serverConn(t *testing.T) *websocket.Conn {
	t.Helper()
	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := newUpgrader(nil)
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- ws
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case ws := <-accepted:
		return ws
	case <-time.After(2 * time.Second):
		t.Fatal("no server side connection")
		return nil
	}
}

func TestWsSignalConn_TrySend(t *testing.T) {
	c := newWsSignalConn(serverConn(t), 1)

	require.NoError(t, c.TrySend(core.Frame("a")))
	assert.ErrorIs(t, c.TrySend(core.Frame("b")), core.ErrBackpressure)

	c.Close()
	assert.ErrorIs(t, c.TrySend(core.Frame("c")), core.ErrClosed)
	assert.NotPanics(t, c.Close)
}

func TestOptionsWithDefaults(t *testing.T) {
	got := Options{SendBuffer: 8}.withDefaults()
	d := DefaultOptions()
	assert.Equal(t, 8, got.SendBuffer)
	assert.Equal(t, d.PingPeriod, got.PingPeriod)
	assert.Equal(t, d.PongWait, got.PongWait)
	assert.Equal(t, d.WriteWait, got.WriteWait)
	assert.Equal(t, d.ReadLimit, got.ReadLimit)
}
