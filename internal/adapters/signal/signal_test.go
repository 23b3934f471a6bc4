package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/circles/internal/adapters/auth"
	"github.com/dkeye/circles/internal/app"
	"github.com/dkeye/circles/internal/app/orch"
	"github.com/dkeye/circles/internal/core"
	"github.com/dkeye/circles/internal/domain"
	"github.com/dkeye/circles/internal/storage/bolt"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCircle domain.CircleID = "c1"

type failingLedger struct{ core.MessageLedger }

func (failingLedger) AppendMessage(context.Context, domain.ChatMessage) (domain.ChatMessage, error) {
	return domain.ChatMessage{}, errors.New("disk full")
}

type testServer struct {
	t        *testing.T
	srv      *httptest.Server
	orch     *orch.Orchestrator
	resolver *auth.JWTResolver
	store    *bolt.Storage
	stop     context.CancelFunc
}

func newTestServer(t *testing.T, ledger func(*bolt.Storage) core.MessageLedger) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := bolt.NewStorage(filepath.Join(t.TempDir(), "signal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.CreateCircle(ctx, domain.Circle{ID: testCircle, Name: "Gophers", FounderID: "alice"}))
	for _, uid := range []domain.UserID{"alice", "bob"} {
		_, err := store.AddMember(ctx, testCircle, uid)
		require.NoError(t, err)
	}

	reg := app.NewRegistry()
	o := &orch.Orchestrator{
		Registry: reg,
		Router:   app.NewRouter(reg, nil, nil),
		Members:  store,
		Ledger:   store,
	}
	if ledger != nil {
		o.Ledger = ledger(store)
	}

	resolver := auth.NewJWTResolver("test-secret", "circles", time.Hour)
	opts := DefaultOptions()
	opts.AllowedOrigins = []string{"https://app.example.com"}
	chat := NewChatWSController(o, resolver, opts, nil)
	notify := NewNotificationWSController(o, resolver, opts, nil)

	srvCtx, cancel := context.WithCancel(context.Background())
	r := gin.New()
	r.GET("/ws/circle/:circle_id/chat/", func(c *gin.Context) { chat.HandleChat(srvCtx, c) })
	r.GET("/ws/circle/notifications/", func(c *gin.Context) { notify.HandleNotifications(srvCtx, c) })

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &testServer{t: t, srv: srv, orch: o, resolver: resolver, store: store, stop: cancel}
}

func (s *testServer) token(uid domain.UserID) string {
	tok, err := s.resolver.Issue(domain.User{ID: uid, Username: string(uid)})
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) url(path, token string) string {
	u := "ws" + strings.TrimPrefix(s.srv.URL, "http") + path
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func (s *testServer) dialChat(uid domain.UserID) *websocket.Conn {
	s.t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(s.url("/ws/circle/"+string(testCircle)+"/chat/", s.token(uid)), nil)
	require.NoError(s.t, err)
	s.t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func (s *testServer) waitMembers(room domain.RoomID, n int) {
	s.t.Helper()
	require.Eventually(s.t, func() bool {
		return len(s.orch.Registry.MembersOf(room)) == n
	}, 2*time.Second, 10*time.Millisecond)
}

func readEvent(t *testing.T, ws *websocket.Conn) domain.Event {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var ev domain.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestChat_JoinAndMessage(t *testing.T) {
	s := newTestServer(t, nil)
	room := domain.CircleRoom(testCircle)

	alice := s.dialChat("alice")
	s.waitMembers(room, 1)
	bob := s.dialChat("bob")
	s.waitMembers(room, 2)

	joined := readEvent(t, alice)
	assert.Equal(t, domain.EventUserJoined, joined.Type)
	assert.Equal(t, domain.UserID("bob"), joined.UserID)

	require.NoError(t, bob.WriteJSON(map[string]string{"type": "chat_message", "message": "  hello  "}))

	for _, ws := range []*websocket.Conn{alice, bob} {
		ev := readEvent(t, ws)
		assert.Equal(t, domain.EventChatMessage, ev.Type)
		assert.Equal(t, "hello", ev.Message)
		assert.Equal(t, domain.UserID("bob"), ev.UserID)
		assert.NotEmpty(t, ev.MessageID)
	}

	history, err := s.store.ListMessages(context.Background(), testCircle, domain.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Content)
}

func TestChat_MissingTypeDefaultsToChatMessage(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.dialChat("alice")
	s.waitMembers(domain.CircleRoom(testCircle), 1)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"message":"hi"}`)))
	ev := readEvent(t, alice)
	assert.Equal(t, domain.EventChatMessage, ev.Type)
	assert.Equal(t, "hi", ev.Message)
}

func TestChat_Errors(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.dialChat("alice")
	s.waitMembers(domain.CircleRoom(testCircle), 1)

	cases := []struct {
		name  string
		frame string
		want  string
	}{
		{"invalid json", `{not json`, errInvalidJSON},
		{"unknown type", `{"type":"dance"}`, "Unknown message type: dance"},
		{"empty message", `{"type":"chat_message","message":"   "}`, errEmptyMessage},
		{"too long", `{"type":"chat_message","message":"` + strings.Repeat("a", domain.MaxMessageLen+1) + `"}`, errMessageTooBig},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(tc.frame)))
			ev := readEvent(t, alice)
			assert.Equal(t, domain.EventError, ev.Type)
			assert.Equal(t, tc.want, ev.Message)
		})
	}
}

func TestChat_LedgerFailure(t *testing.T) {
	s := newTestServer(t, func(store *bolt.Storage) core.MessageLedger {
		return failingLedger{MessageLedger: store}
	})
	alice := s.dialChat("alice")
	s.waitMembers(domain.CircleRoom(testCircle), 1)

	require.NoError(t, alice.WriteJSON(map[string]string{"type": "chat_message", "message": "lost"}))
	ev := readEvent(t, alice)
	assert.Equal(t, domain.EventError, ev.Type)
	assert.Equal(t, errSaveFailed, ev.Message)
}

func TestChat_Typing(t *testing.T) {
	s := newTestServer(t, nil)
	room := domain.CircleRoom(testCircle)
	alice := s.dialChat("alice")
	s.waitMembers(room, 1)
	bob := s.dialChat("bob")
	s.waitMembers(room, 2)
	_ = readEvent(t, alice) // bob joined

	require.NoError(t, bob.WriteJSON(map[string]string{"type": "typing"}))
	ev := readEvent(t, alice)
	assert.Equal(t, domain.EventUserTyping, ev.Type)
	assert.Equal(t, domain.UserID("bob"), ev.UserID)

	require.NoError(t, bob.WriteJSON(map[string]string{"type": "stop_typing"}))
	ev = readEvent(t, alice)
	assert.Equal(t, domain.EventUserStopTyping, ev.Type)
}

func TestChat_RejectsBeforeUpgrade(t *testing.T) {
	s := newTestServer(t, nil)
	path := "/ws/circle/" + string(testCircle) + "/chat/"

	_, resp, err := websocket.DefaultDialer.Dial(s.url(path, ""), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(s.url(path, s.token("mallory")), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	assert.Empty(t, s.orch.Registry.Rooms())
}

func TestChat_DisconnectCleansUp(t *testing.T) {
	s := newTestServer(t, nil)
	room := domain.CircleRoom(testCircle)
	alice := s.dialChat("alice")
	s.waitMembers(room, 1)
	bob := s.dialChat("bob")
	s.waitMembers(room, 2)
	_ = readEvent(t, alice)

	require.NoError(t, bob.Close())
	s.waitMembers(room, 1)

	ev := readEvent(t, alice)
	assert.Equal(t, domain.EventUserLeft, ev.Type)
	assert.Equal(t, domain.UserID("bob"), ev.UserID)

	require.NoError(t, alice.Close())
	require.Eventually(t, func() bool {
		return len(s.orch.Registry.Rooms()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNotifications(t *testing.T) {
	s := newTestServer(t, nil)

	_, resp, err := websocket.DefaultDialer.Dial(s.url("/ws/circle/notifications/", ""), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial(s.url("/ws/circle/notifications/", s.token("bob")), nil)
	require.NoError(t, err)
	defer ws.Close()
	room := domain.UserRoom("bob")
	s.waitMembers(room, 1)

	n := domain.Notification{ID: "n1", UserID: "bob", CircleID: testCircle, CircleName: "Gophers", Message: "You joined Gophers", CreatedAt: time.Now()}
	s.orch.Router.Broadcast(context.Background(), room, domain.NotificationEvent(n), "")

	ev := readEvent(t, ws)
	assert.Equal(t, domain.EventCircleNotification, ev.Type)
	assert.Equal(t, "n1", ev.NotificationID)
	assert.Equal(t, "Gophers", ev.CircleName)

	// inbound frames are ignored
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("ping")))
	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool {
		return len(s.orch.Registry.MembersOf(room)) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChat_KeepsTextVerbatim(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.dialChat("alice")
	s.waitMembers(domain.CircleRoom(testCircle), 1)

	texts := []string{"Tom & Jerry", "I'm here", "I <3 Go", "if a<b && c>d then"}
	for _, text := range texts {
		require.NoError(t, alice.WriteJSON(map[string]string{"type": "chat_message", "message": text}))
		ev := readEvent(t, alice)
		require.Equal(t, domain.EventChatMessage, ev.Type)
		assert.Equal(t, text, ev.Message)
	}

	history, err := s.store.ListMessages(context.Background(), testCircle, domain.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, history, len(texts))
	for i, m := range history {
		assert.Equal(t, texts[i], m.Content)
	}
}

func TestChat_OriginCheck(t *testing.T) {
	s := newTestServer(t, nil)
	path := s.url("/ws/circle/"+string(testCircle)+"/chat/", s.token("alice"))

	_, resp, err := websocket.DefaultDialer.Dial(path, http.Header{"Origin": {"https://evil.example"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, s.orch.Registry.Rooms())

	_, resp, err = websocket.DefaultDialer.Dial(s.url("/ws/circle/notifications/", s.token("alice")), http.Header{"Origin": {"https://evil.example"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	for _, origin := range []string{"https://app.example.com", s.srv.URL} {
		ws, _, err := websocket.DefaultDialer.Dial(path, http.Header{"Origin": {origin}})
		require.NoError(t, err, origin)
		require.NoError(t, ws.Close())
	}
}

// recordingFanout delivers locally and remembers the context error seen by
// every publish.
type recordingFanout struct {
	local app.Deliverer

	mu   sync.Mutex
	errs map[domain.EventType][]error
}

func (f *recordingFanout) Publish(ctx context.Context, env app.Envelope) error {
	var ev domain.Event
	_ = json.Unmarshal(env.Frame, &ev)
	f.mu.Lock()
	f.errs[ev.Type] = append(f.errs[ev.Type], ctx.Err())
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	f.local.Deliver(env)
	return nil
}

func (f *recordingFanout) leaves() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.errs[domain.EventUserLeft]...)
}

func TestChat_LeaveBroadcastSurvivesShutdown(t *testing.T) {
	s := newTestServer(t, nil)
	fan := &recordingFanout{local: s.orch.Router, errs: make(map[domain.EventType][]error)}
	s.orch.Router.UseFanout(fan)

	room := domain.CircleRoom(testCircle)
	s.dialChat("alice")
	s.waitMembers(room, 1)
	s.dialChat("bob")
	s.waitMembers(room, 2)

	s.stop()
	require.Eventually(t, func() bool {
		return len(s.orch.Registry.Rooms()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	leaves := fan.leaves()
	require.NotEmpty(t, leaves)
	for _, err := range leaves {
		assert.NoError(t, err)
	}
}
