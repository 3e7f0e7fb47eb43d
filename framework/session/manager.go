package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/km-arc/go-dsi/framework/metrics"
)

const (
	// DefaultTimeout applies when no timeout is configured.
	DefaultTimeout = 30 * time.Minute
	// SweepInterval is how often idle sessions are looked for.
	SweepInterval = 2 * time.Second
)

// Manager owns a set of sessions and removes the idle ones.
//
// As a bean it starts sweeping in PostConstruct and stops in Destroy:
//
//	scan.Factory(pkg, "managed-session-manager", func() any { return session.NewManager("managed") })
type Manager struct {
	Timeout time.Duration      `config:"${dsi.httpd.session.timeout}"`
	Metrics *metrics.Collector `inject:",optional"`
	Logger  *zap.Logger        `inject:",optional"`

	store    string
	interval time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a manager; store names it in logs and metrics.
func NewManager(store string) *Manager {
	return &Manager{
		Timeout:  DefaultTimeout,
		store:    store,
		interval: SweepInterval,
		sessions: make(map[string]*Session),
		wake:     make(chan struct{}, 1),
	}
}

// BeanName registers the manager as "<store>-session-manager".
func (m *Manager) BeanName() string { return m.store + "-session-manager" }

// Store returns the store name.
func (m *Manager) Store() string { return m.store }

// SetInterval changes the sweep interval; call it before Start.
func (m *Manager) SetInterval(d time.Duration) {
	if d > 0 {
		m.interval = d
	}
}

// Create starts a session. An empty id gets a random UUID; an existing id
// returns the live session.
func (m *Manager) Create(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		s = newSession(id, time.Now())
		m.sessions[id] = s
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		select {
		case m.wake <- struct{}{}:
		default:
		}
		m.Metrics.ObserveSessions(m.store, n, 0)
	}
	return s
}

// Get returns the live session called id, refreshing it.
func (m *Manager) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		s.Touch()
	}
	return s, ok
}

// Remove ends the session called id.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()
	m.Metrics.ObserveSessions(m.store, n, 0)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep removes the sessions idle for longer than the timeout at now and
// returns how many went.
func (m *Manager) Sweep(now time.Time) int {
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	m.mu.Lock()
	removed := 0
	for id, s := range m.sessions {
		if s.idle(now) > timeout {
			delete(m.sessions, id)
			removed++
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if removed > 0 {
		m.logger().Debug("sessions expired", zap.String("store", m.store), zap.Int("removed", removed))
	}
	m.Metrics.ObserveSessions(m.store, n, removed)
	return removed
}

// Start runs the sweep loop until ctx ends or Stop is called. While there
// are no sessions the loop sleeps until one is created.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.loop(ctx)
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		if m.Len() == 0 {
			select {
			case <-m.wake:
			case <-ctx.Done():
				return
			}
		}
		select {
		case now := <-ticker.C:
			m.Sweep(now)
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the sweep loop and waits for it.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// PostConstruct starts sweeping.
func (m *Manager) PostConstruct() error {
	m.Start(context.Background())
	m.logger().Debug("session manager started", zap.String("store", m.store), zap.Duration("timeout", m.Timeout))
	return nil
}

// Destroy stops sweeping and drops every session.
func (m *Manager) Destroy() error {
	m.Stop()
	m.mu.Lock()
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	return nil
}

func (m *Manager) logger() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}
