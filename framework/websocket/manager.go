package websocket

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/km-arc/go-dsi/framework/container"
	"github.com/km-arc/go-dsi/framework/metrics"
)

var (
	ErrClosed          = errors.New("websocket: connection closed")
	ErrNilMessage      = errors.New("websocket: nil message")
	ErrUnknownEndpoint = errors.New("websocket: unknown endpoint")
	ErrNotRunning      = errors.New("websocket: manager not running")
)

const queueSize = 1024

type envelope struct {
	endpoint string
	id       string
	msg      any
}

// Manager keeps the open connections of every endpoint bean. Messages
// given to Update are delivered by a background sender; idle connections
// get a heartbeat.
type Manager struct {
	Enabled bool               `config:"${dsi.httpd.websocket.enabled}"`
	Metrics *metrics.Collector `inject:",optional"`
	Logger  *zap.Logger        `inject:",optional"`

	ctx      *container.Context
	upgrader websocket.Upgrader
	tick     time.Duration

	mu        sync.RWMutex
	endpoints map[string]Endpoint
	conns     map[string]map[*Conn]struct{}

	queue  chan envelope
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates an enabled manager.
func NewManager() *Manager {
	return &Manager{
		Enabled: true,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		tick:      time.Second,
		endpoints: make(map[string]Endpoint),
		conns:     make(map[string]map[*Conn]struct{}),
	}
}

// BeanName registers the manager as "websocket-manager".
func (m *Manager) BeanName() string { return "websocket-manager" }

// BeanOrder runs Perform after the web handler table.
func (m *Manager) BeanOrder() int { return 100 }

// SetCheckOrigin replaces the origin check of the upgrader.
func (m *Manager) SetCheckOrigin(fn func(*http.Request) bool) {
	m.upgrader.CheckOrigin = fn
}

// Perform collects the Endpoint beans of c, including those registered
// later.
func (m *Manager) Perform(c *container.Context) error {
	m.ctx = c
	if !m.Enabled {
		m.logger().Info("websocket support disabled")
		return nil
	}
	for _, ep := range container.ListOf[Endpoint](c) {
		if err := m.Add(ep); err != nil {
			return err
		}
	}
	c.AfterRegister(func(name string, bean any) {
		if ep, ok := bean.(Endpoint); ok {
			if err := m.Add(ep); err != nil {
				m.logger().Error("cannot add websocket endpoint", zap.String("bean", name), zap.Error(err))
			}
		}
	})
	return nil
}

// Add registers an endpoint.
func (m *Manager) Add(ep Endpoint) error {
	path := normalize(ep.Endpoint())
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.endpoints[path]; ok && old != ep {
		return errors.Errorf("websocket: endpoint %s already registered", path)
	}
	m.endpoints[path] = ep
	if m.conns[path] == nil {
		m.conns[path] = make(map[*Conn]struct{})
	}
	m.logger().Info("websocket endpoint mapped", zap.String("endpoint", path))
	return nil
}

// Endpoints returns the registered paths, sorted.
func (m *Manager) Endpoints() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.endpoints))
	for p := range m.endpoints {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Clients returns the open connections of endpoint.
func (m *Manager) Clients(endpoint string) []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.conns[normalize(endpoint)]
	out := make([]*Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// Handler upgrades requests to the endpoint at path.
func (m *Manager) Handler(path string) http.Handler {
	path = normalize(path)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.serve(path, w, r)
	})
}

func (m *Manager) serve(path string, w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	ep, ok := m.endpoints[path]
	m.mu.RUnlock()
	if !ok || !m.Enabled {
		http.NotFound(w, r)
		return
	}

	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger().Warn("websocket upgrade failed", zap.String("endpoint", path), zap.Error(err))
		return
	}

	socket := ep.NewSocket()
	if m.ctx != nil {
		if err := m.ctx.Inject(socket); err != nil {
			m.logger().Error("cannot inject websocket", zap.String("endpoint", path), zap.Error(err))
			_ = ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, ""))
			_ = ws.Close()
			return
		}
	}

	heartbeat := DefaultHeartbeat
	if hb, ok := ep.(HeartbeatEndpoint); ok {
		heartbeat = hb.Heartbeat()
	}
	conn := newConn(path, r, ws, socket, heartbeat, m.logger())
	// messages sent from Connected are queued and written once the
	// connection is listed
	if l, ok := socket.(ConnectListener); ok {
		l.Connected(conn)
	}
	m.attach(conn)
	go conn.writePump()

	err = conn.readPump()
	if err != nil {
		conn.logger.Debug("websocket read ended", zap.Error(err))
	}
	m.detach(conn)
	_ = conn.Close()
	if l, ok := socket.(DisconnectListener); ok {
		l.Disconnected(conn, err)
	}
}

func (m *Manager) attach(c *Conn) {
	m.mu.Lock()
	m.conns[c.Endpoint][c] = struct{}{}
	n := len(m.conns[c.Endpoint])
	m.mu.Unlock()
	m.Metrics.ObserveConnections(c.Endpoint, n)
}

func (m *Manager) detach(c *Conn) {
	m.mu.Lock()
	delete(m.conns[c.Endpoint], c)
	n := len(m.conns[c.Endpoint])
	m.mu.Unlock()
	m.Metrics.ObserveConnections(c.Endpoint, n)
}

// Update queues msg for the connections of endpoint whose socket Matches
// id. A message for an endpoint without connections is dropped.
func (m *Manager) Update(endpoint, id string, msg any) error {
	if msg == nil {
		return ErrNilMessage
	}
	endpoint = normalize(endpoint)

	m.mu.RLock()
	set, known := m.conns[endpoint]
	open := len(set)
	queue := m.queue
	m.mu.RUnlock()

	switch {
	case !known:
		return errors.Wrap(ErrUnknownEndpoint, endpoint)
	case queue == nil:
		return ErrNotRunning
	case open == 0:
		m.Metrics.ObserveDelivery(endpoint, 0, 1)
		return nil
	}

	select {
	case queue <- envelope{endpoint: endpoint, id: id, msg: msg}:
		return nil
	default:
		m.Metrics.ObserveDelivery(endpoint, 0, 1)
		return errors.New("websocket: send queue full")
	}
}

// Broadcast queues msg for every connection of endpoint.
func (m *Manager) Broadcast(endpoint string, msg any) error {
	return m.Update(endpoint, "", msg)
}

// Start runs the sender and heartbeat loops until ctx ends or Stop is
// called.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.queue = make(chan envelope, queueSize)
	queue := m.queue
	m.mu.Unlock()

	m.wg.Add(2)
	go m.sender(ctx, queue)
	go m.heartbeat(ctx)
}

func (m *Manager) sender(ctx context.Context, queue <-chan envelope) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-queue:
			m.deliver(env)
		}
	}
}

func (m *Manager) deliver(env envelope) {
	sent, dropped := 0, 0
	for _, c := range m.Clients(env.endpoint) {
		if env.id != "" && !c.socket.Matches(env.id, env.msg) {
			continue
		}
		if err := c.Send(env.msg); err != nil {
			c.logger.Warn("websocket send failed", zap.Error(err))
			dropped++
			continue
		}
		sent++
	}
	m.Metrics.ObserveDelivery(env.endpoint, sent, dropped)
}

func (m *Manager) heartbeat(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.beat(now)
		}
	}
}

func (m *Manager) beat(now time.Time) {
	m.mu.RLock()
	var idle []*Conn
	for _, set := range m.conns {
		for c := range set {
			if c.idle(now) {
				idle = append(idle, c)
			}
		}
	}
	m.mu.RUnlock()

	for _, c := range idle {
		if c.enqueue([]byte(Heartbeat)) {
			c.mu.Lock()
			c.lastSent = now
			c.mu.Unlock()
		}
	}
}

// Stop ends the background loops and waits for them.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.queue = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
}

// PostConstruct starts the loops when websocket support is enabled.
func (m *Manager) PostConstruct() error {
	if m.Enabled {
		m.Start(context.Background())
	}
	return nil
}

// Destroy stops the loops and closes every connection.
func (m *Manager) Destroy() error {
	m.Stop()
	m.mu.RLock()
	var all []*Conn
	for _, set := range m.conns {
		for c := range set {
			all = append(all, c)
		}
	}
	m.mu.RUnlock()
	for _, c := range all {
		_ = c.Close()
	}
	return nil
}

func (m *Manager) logger() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}

func normalize(path string) string {
	path = "/" + strings.Trim(path, "/")
	return path
}
