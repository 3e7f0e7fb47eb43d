package websocket_test

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-dsi/framework/container"
	"github.com/km-arc/go-dsi/framework/metrics"
	"github.com/km-arc/go-dsi/framework/websocket"
)

// ── Fixtures ──────────────────────────────────────────────────────────────────

type greeter struct{ Prefix string }

type chatSocket struct {
	websocket.JSON
	Greeter *greeter `inject:""`

	user string
	mu   sync.Mutex
	gone bool
}

func (s *chatSocket) Connected(c *websocket.Conn) { s.user = c.Query().Get("user") }

func (s *chatSocket) Disconnected(*websocket.Conn, error) {
	s.mu.Lock()
	s.gone = true
	s.mu.Unlock()
}

func (s *chatSocket) Matches(id string, _ any) bool { return id == s.user }

func (s *chatSocket) HandleMessage(c *websocket.Conn, msg any) {
	m := msg.(map[string]any)
	_ = c.Send(map[string]any{"echo": s.Greeter.Prefix + m["text"].(string)})
}

type chatEndpoint struct {
	heartbeat time.Duration
	sockets   []*chatSocket
	mu        sync.Mutex
}

func (e *chatEndpoint) Endpoint() string { return "/ws/chat" }

func (e *chatEndpoint) Heartbeat() time.Duration { return e.heartbeat }

func (e *chatEndpoint) NewSocket() websocket.Socket {
	s := &chatSocket{}
	e.mu.Lock()
	e.sockets = append(e.sockets, s)
	e.mu.Unlock()
	return s
}

func start(t *testing.T, ep *chatEndpoint) (*websocket.Manager, *metrics.Collector, string) {
	t.Helper()
	c := container.New()
	m := websocket.NewManager()
	col := metrics.NewCollector()
	require.NoError(t, c.Register(&greeter{Prefix: "> "}))
	require.NoError(t, c.Register(col))
	require.NoError(t, c.Register(m))
	require.NoError(t, c.Register(ep))
	require.NoError(t, c.Resolve())
	t.Cleanup(func() { _ = c.Close() })

	srv := httptest.NewServer(m.Handler("/ws/chat"))
	t.Cleanup(srv.Close)
	return m, col, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *gws.Conn {
	t.Helper()
	ws, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func read(t *testing.T, ws *gws.Conn) string {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func waitClients(t *testing.T, m *websocket.Manager, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(m.Clients("/ws/chat")) == n },
		2*time.Second, 10*time.Millisecond)
}

func sent(c *metrics.Collector, ep string) float64 {
	return testutil.ToFloat64(c.WebsocketMessages.WithLabelValues(ep))
}

func dropped(c *metrics.Collector, ep string) float64 {
	return testutil.ToFloat64(c.WebsocketDropped.WithLabelValues(ep))
}

func connections(c *metrics.Collector, ep string) float64 {
	return testutil.ToFloat64(c.WebsocketConnections.WithLabelValues(ep))
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestManager_CollectsEndpoints(t *testing.T) {
	m, _, _ := start(t, &chatEndpoint{})
	assert.Equal(t, []string{"/ws/chat"}, m.Endpoints())
}

func TestManager_EchoWithInjectedSocket(t *testing.T) {
	_, _, url := start(t, &chatEndpoint{})
	ws := dial(t, url)

	require.NoError(t, ws.WriteMessage(gws.TextMessage, []byte(`{"text":"hi"}`)))
	assert.JSONEq(t, `{"echo":"> hi"}`, read(t, ws))
}

func TestManager_UnparsableMessageIsIgnored(t *testing.T) {
	_, _, url := start(t, &chatEndpoint{})
	ws := dial(t, url)

	require.NoError(t, ws.WriteMessage(gws.TextMessage, []byte(`not json`)))
	require.NoError(t, ws.WriteMessage(gws.TextMessage, []byte(`{"text":"still here"}`)))
	assert.JSONEq(t, `{"echo":"> still here"}`, read(t, ws))
}

func TestManager_UpdateTargetsMatchingSockets(t *testing.T) {
	m, col, url := start(t, &chatEndpoint{})
	alice := dial(t, url+"?user=alice")
	bob := dial(t, url+"?user=bob")
	waitClients(t, m, 2)

	require.NoError(t, m.Update("/ws/chat", "bob", map[string]string{"to": "bob"}))
	assert.JSONEq(t, `{"to":"bob"}`, read(t, bob))

	require.NoError(t, m.Broadcast("ws/chat", "everyone"))
	assert.Equal(t, "everyone", read(t, alice))
	assert.Equal(t, "everyone", read(t, bob))

	assert.Eventually(t, func() bool {
		return sent(col, "/ws/chat") == 3
	}, time.Second, 10*time.Millisecond)
}

func TestManager_UpdateErrors(t *testing.T) {
	m, col, _ := start(t, &chatEndpoint{})

	assert.ErrorIs(t, m.Update("/ws/chat", "", nil), websocket.ErrNilMessage)
	assert.ErrorIs(t, m.Update("/ws/nowhere", "", "x"), websocket.ErrUnknownEndpoint)

	// no connections: dropped, not an error
	assert.NoError(t, m.Broadcast("/ws/chat", "x"))
	assert.Equal(t, 1.0, dropped(col, "/ws/chat"))
}

func TestManager_Heartbeat(t *testing.T) {
	_, _, url := start(t, &chatEndpoint{heartbeat: 100 * time.Millisecond})
	ws := dial(t, url)
	assert.Equal(t, websocket.Heartbeat, read(t, ws))
}

func TestManager_DisconnectRemovesClient(t *testing.T) {
	ep := &chatEndpoint{}
	m, col, url := start(t, ep)
	ws := dial(t, url)
	waitClients(t, m, 1)
	assert.Equal(t, 1.0, connections(col, "/ws/chat"))

	require.NoError(t, ws.WriteMessage(gws.CloseMessage,
		gws.FormatCloseMessage(gws.CloseNormalClosure, "")))
	waitClients(t, m, 0)

	ep.mu.Lock()
	s := ep.sockets[0]
	ep.mu.Unlock()
	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.gone
	}, time.Second, 10*time.Millisecond)
}

func TestManager_DestroyClosesConnections(t *testing.T) {
	m, _, url := start(t, &chatEndpoint{})
	ws := dial(t, url)
	waitClients(t, m, 1)

	require.NoError(t, m.Destroy())

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.True(t, gws.IsCloseError(err, gws.CloseNormalClosure), "got %v", err)
	assert.ErrorIs(t, m.Broadcast("/ws/chat", "late"), websocket.ErrNotRunning)
}

func TestManager_Disabled(t *testing.T) {
	c := container.New()
	m := websocket.NewManager()
	m.Enabled = false
	require.NoError(t, c.Register(m))
	require.NoError(t, c.Register(&chatEndpoint{}))
	require.NoError(t, c.Resolve())
	defer c.Close()

	assert.Empty(t, m.Endpoints())

	srv := httptest.NewServer(m.Handler("/ws/chat"))
	defer srv.Close()
	_, resp, err := gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.Error(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestJSON_Cast(t *testing.T) {
	var j websocket.JSON
	s, err := j.Cast(map[string]int{"n": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, s)

	_, err = j.Parse("[")
	assert.Error(t, err)
}
