// Package httpd is the embedded HTTP server. It mounts the API dispatcher,
// websocket endpoints, web components, routes beans, static files and
// metrics on one router.
package httpd

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/km-arc/go-dsi/framework/container"
	"github.com/km-arc/go-dsi/framework/metrics"
	"github.com/km-arc/go-dsi/framework/routing"
	"github.com/km-arc/go-dsi/framework/web"
	"github.com/km-arc/go-dsi/framework/websocket"
)

// ShutdownTimeout bounds the graceful shutdown of Run.
const ShutdownTimeout = 30 * time.Second

// Component is a bean served on its own patterns, outside the API mapping.
// Patterns are relative to the context path; a trailing "/*" matches the
// subtree.
type Component interface {
	http.Handler
	Patterns() []string
}

// Server is the embedded HTTP server bean.
type Server struct {
	Host        string   `config:"${dsi.httpd.host}"`
	Port        int      `config:"${dsi.httpd.port}"`
	ContextPath string   `config:"${dsi.httpd.context-path}"`
	StaticDir   string   `config:"${dsi.httpd.static.dir}"`
	CORSOrigins []string `config:"${dsi.httpd.cors.origins}"`
	MetricsPath string   `config:"${dsi.httpd.metrics.path}"`

	Context    *container.Context `inject:"context"`
	Dispatcher *web.Dispatcher    `inject:""`
	Websockets *websocket.Manager `inject:",optional"`
	Metrics    *metrics.Collector `inject:",optional"`
	Logger     *zap.Logger        `inject:",optional"`

	mu   sync.Mutex
	srv  *http.Server
	addr net.Addr
}

// NewServer returns a server with the default address and paths.
func NewServer() *Server {
	return &Server{
		Host:        "127.0.0.1",
		Port:        9090,
		ContextPath: "/",
		MetricsPath: "/metrics",
	}
}

// BeanName registers the server as "httpd".
func (s *Server) BeanName() string { return "httpd" }

// Handler builds the router from the beans present now. Call it after the
// extra scans, so late components and filters are mounted too.
func (s *Server) Handler() http.Handler {
	opts := []routing.Option{routing.WithLogger(s.logger())}
	if len(s.CORSOrigins) > 0 {
		opts = append(opts, routing.WithCORS(s.CORSOrigins...))
	}
	r := routing.New(opts...)

	var filters []routing.Filter
	var components []Component
	var routes []routing.Routes
	if s.Context != nil {
		filters = container.ListOf[routing.Filter](s.Context)
		components = container.ListOf[Component](s.Context)
		routes = container.ListOf[routing.Routes](s.Context)
	}

	if s.Dispatcher != nil {
		r.Mount(s.Dispatcher.Mapping, routing.Chain(s.Dispatcher, filters...))
		s.logger().Info("api mapped", zap.String("mapping", s.Dispatcher.Mapping), zap.Int("filters", len(filters)))
	}

	if s.Websockets != nil {
		if len(s.CORSOrigins) > 0 {
			s.Websockets.SetCheckOrigin(allowOrigins(s.CORSOrigins))
		}
		for _, ep := range s.Websockets.Endpoints() {
			r.Handle(ep, s.Websockets.Handler(ep))
		}
	}

	for _, c := range components {
		for _, p := range c.Patterns() {
			r.Handle("/"+strings.TrimLeft(p, "/"), c)
			s.logger().Debug("web component mapped", zap.String("pattern", p))
		}
	}

	for _, rt := range routes {
		rt.Routes(r)
	}

	if s.Metrics != nil && s.MetricsPath != "" {
		r.Handle("/"+strings.Trim(s.MetricsPath, "/"), s.Metrics.Handler())
	}

	if s.StaticDir != "" {
		r.Static("/", s.StaticDir)
	}

	cp := s.contextPath()
	if cp == "" {
		return r
	}
	return underContextPath(cp, r)
}

// underContextPath serves h below cp with cp stripped; other paths are 404.
func underContextPath(cp string, h http.Handler) http.Handler {
	strip := http.StripPrefix(cp, h)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != cp && !strings.HasPrefix(r.URL.Path, cp+"/") {
			http.NotFound(w, r)
			return
		}
		strip.ServeHTTP(w, r)
	})
}

// contextPath returns the context path without a trailing slash; "" is the
// root.
func (s *Server) contextPath() string {
	return strings.TrimRight("/"+strings.Trim(s.ContextPath, "/"), "/")
}

// Addr returns the bound address once Run listens, nil before.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run listens on Host:Port and serves until ctx ends, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.Host, strconv.Itoa(s.Port)))
	if err != nil {
		return errors.Wrap(err, "httpd: listen")
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.mu.Lock()
	s.srv, s.addr = srv, ln.Addr()
	s.mu.Unlock()

	s.logger().Info("embedded httpd started",
		zap.String("address", ln.Addr().String()),
		zap.String("contextPath", s.ContextPath))

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "httpd: serve")
	case <-ctx.Done():
	}
	if err := s.shutdown(); err != nil {
		return err
	}
	<-errc
	return nil
}

func (s *Server) shutdown() error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "httpd: shutdown")
	}
	s.logger().Info("embedded httpd stopped")
	return nil
}

// Destroy stops a running server.
func (s *Server) Destroy() error {
	return s.shutdown()
}

func (s *Server) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func allowOrigins(origins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range origins {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}
