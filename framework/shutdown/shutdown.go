// Package shutdown lets a second process stop a running application by
// connecting to a loopback port.
package shutdown

import (
	"crypto/rand"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// PortFile is the name of the file holding the bound port.
const PortFile = ".shutdown-port"

const (
	randomBase = 37500
	randomSpan = 10
)

// PickPort turns a configured port into a listen port: 0 picks a random
// port in [37500, 37510), values above 1024 are used as given, anything else
// disables the hook (-1).
func PickPort(configured int) int {
	switch {
	case configured == 0:
		n, err := rand.Int(rand.Reader, big.NewInt(randomSpan))
		if err != nil {
			return randomBase
		}
		return randomBase + int(n.Int64())
	case configured > 1024:
		return configured
	}
	return -1
}

// Hook listens on 127.0.0.1 and fires once when a loopback peer connects.
type Hook struct {
	ln     net.Listener
	file   string
	logger *zap.Logger
	fire   func()
	once   sync.Once
	done   chan struct{}
}

// Bind listens on 127.0.0.1:port (0 lets the system choose), writes the
// bound port to dir/.shutdown-port (dir defaults to os.TempDir()) and calls
// onShutdown once on the first loopback connection.
func Bind(port int, dir string, logger *zap.Logger, onShutdown func()) (*Hook, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrapf(err, "shutdown: listen on %d", port)
	}
	h := &Hook{
		ln:     ln,
		file:   filepath.Join(portDir(dir), PortFile),
		logger: logger,
		fire:   onShutdown,
		done:   make(chan struct{}),
	}
	if err := os.WriteFile(h.file, []byte(strconv.Itoa(h.Port())), 0o600); err != nil {
		_ = ln.Close()
		return nil, errors.Wrap(err, "shutdown: write port file")
	}
	logger.Info("shutdown hook bound", zap.Int("port", h.Port()), zap.String("file", h.file))
	go h.serve()
	return h, nil
}

// Port returns the bound port.
func (h *Hook) Port() int {
	return h.ln.Addr().(*net.TCPAddr).Port
}

// Done is closed once shutdown was requested or the hook closed.
func (h *Hook) Done() <-chan struct{} { return h.done }

// Close stops listening without firing the callback and removes the port file.
func (h *Hook) Close() error {
	h.once.Do(func() { close(h.done) })
	_ = os.Remove(h.file)
	return h.ln.Close()
}

func (h *Hook) serve() {
	for {
		conn, err := h.ln.Accept()
		if err != nil {
			select {
			case <-h.done:
			default:
				h.logger.Debug("shutdown hook stopped", zap.Error(err))
			}
			return
		}
		addr, _ := conn.RemoteAddr().(*net.TCPAddr)
		_ = conn.Close()
		if addr == nil || !addr.IP.IsLoopback() {
			h.logger.Debug("ignoring shutdown request", zap.Stringer("from", conn.RemoteAddr()))
			continue
		}
		h.logger.Info("shutdown requested")
		h.once.Do(func() {
			close(h.done)
			if h.fire != nil {
				go h.fire()
			}
		})
		_ = os.Remove(h.file)
		_ = h.ln.Close()
		return
	}
}

// Request asks the application that wrote dir/.shutdown-port to stop.
func Request(dir string) error {
	file := filepath.Join(portDir(dir), PortFile)
	raw, err := os.ReadFile(file)
	if err != nil {
		return errors.Wrap(err, "shutdown: no running application")
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return errors.Wrapf(err, "shutdown: bad port file %s", file)
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 5*time.Second)
	if err != nil {
		return errors.Wrapf(err, "shutdown: connect to %d", port)
	}
	defer conn.Close()
	_, err = conn.Write([]byte("Good Bye!"))
	return errors.Wrap(err, "shutdown: send request")
}

// IsShutdownArg reports whether args ask for a shutdown.
func IsShutdownArg(args ...string) bool {
	for _, arg := range args {
		switch arg {
		case "stop", "--stop", "shutdown", "--shutdown":
			return true
		}
	}
	return false
}

func portDir(dir string) string {
	if dir == "" {
		return os.TempDir()
	}
	return dir
}
