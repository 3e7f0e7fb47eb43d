// Package routing wraps chi with the helpers the embedded server mounts its
// handlers through.
package routing

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/km-arc/go-dsi/framework/container"
)

// Router wraps chi.Router.
type Router struct {
	mux chi.Router
}

// Option configures New.
type Option func(chi.Router)

// WithLogger logs every request with zap instead of chi's stdout logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r chi.Router) { r.Use(Logger(logger)) }
}

// WithCORS allows the given origins. An empty list adds nothing.
func WithCORS(origins ...string) Option {
	return func(r chi.Router) {
		if len(origins) == 0 {
			return
		}
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Managed-Session"},
			ExposedHeaders:   []string{"X-Request-ID", "X-Managed-Session"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// New creates a Router with RequestID, RealIP and Recoverer. Without
// WithLogger requests are logged by chi's middleware.Logger.
func New(opts ...Option) *Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(opts) == 0 {
		r.Use(middleware.Logger)
	}
	for _, opt := range opts {
		opt(r)
	}
	return &Router{mux: r}
}

// Logger is a zap request logging middleware.
func Logger(logger *zap.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("requestID", middleware.GetReqID(r.Context())),
				zap.String("remoteAddr", r.RemoteAddr),
			)
		})
	}
}

// ── HTTP verbs ───────────────────────────────────────────────────────────────

func (r *Router) Get(pattern string, h http.HandlerFunc)  { r.mux.Get(pattern, h) }
func (r *Router) Post(pattern string, h http.HandlerFunc) { r.mux.Post(pattern, h) }

// Handle registers h for every method on pattern.
func (r *Router) Handle(pattern string, h http.Handler) { r.mux.Handle(pattern, h) }

// Mount attaches a handler under prefix. The handler sees the full path.
//
//	r.Mount("/apis", dispatcher)
func (r *Router) Mount(prefix string, h http.Handler) {
	prefix = "/" + strings.Trim(prefix, "/")
	if prefix == "/" {
		r.mux.Handle("/*", h)
		return
	}
	r.mux.Handle(prefix, h)
	r.mux.Handle(prefix+"/*", h)
}

// ── Groups & Prefixes ────────────────────────────────────────────────────────

// Group creates an inline group sharing middleware.
func (r *Router) Group(fn func(r *Router)) {
	r.mux.Group(func(mx chi.Router) {
		fn(&Router{mux: mx})
	})
}

// Prefix creates a sub-router with a URL prefix.
func (r *Router) Prefix(pattern string, fn func(r *Router)) {
	r.mux.Route(pattern, func(mx chi.Router) {
		fn(&Router{mux: mx})
	})
}

// ── Middleware ───────────────────────────────────────────────────────────────

// Middleware adds one or more middleware to the router.
func (r *Router) Middleware(mw ...func(http.Handler) http.Handler) {
	r.mux.Use(mw...)
}

// Routes is a bean adding its own chi routes next to the API mount, below
// the context path.
//
//	func (a *Admin) Routes(r *routing.Router) {
//		r.Prefix("/admin", func(r *routing.Router) { r.Resource("/users", a.users) })
//	}
type Routes interface {
	Routes(r *Router)
}

// Filter is a bean contributing middleware to the API mount. Filters run in
// BeanOrder order, lowest first.
type Filter interface {
	Middleware() func(http.Handler) http.Handler
}

// Chain wraps h with the filters, the lowest order outermost.
func Chain(h http.Handler, filters ...Filter) http.Handler {
	sorted := append([]Filter(nil), filters...)
	container.SortByOrder(sorted)
	for i := len(sorted) - 1; i >= 0; i-- {
		h = sorted[i].Middleware()(h)
	}
	return h
}

// ── Resource routes ──────────────────────────────────────────────────────────

// ResourceController handles the RESTful routes of Resource.
//
//	GET    /photos           → c.Index
//	POST   /photos           → c.Store
//	GET    /photos/{id}      → c.Show
//	PUT    /photos/{id}      → c.Update
//	DELETE /photos/{id}      → c.Destroy
type ResourceController interface {
	Index(w http.ResponseWriter, r *http.Request)
	Store(w http.ResponseWriter, r *http.Request)
	Show(w http.ResponseWriter, r *http.Request)
	Update(w http.ResponseWriter, r *http.Request)
	Destroy(w http.ResponseWriter, r *http.Request)
}

// Resource registers the ResourceController routes under pattern.
func (r *Router) Resource(pattern string, c ResourceController) {
	r.mux.Get(pattern, c.Index)
	r.mux.Post(pattern, c.Store)
	r.mux.Get(pattern+"/{id}", c.Show)
	r.mux.Put(pattern+"/{id}", c.Update)
	r.mux.Patch(pattern+"/{id}", c.Update)
	r.mux.Delete(pattern+"/{id}", c.Destroy)
}

// ── Static files ─────────────────────────────────────────────────────────────

// Static serves a directory at the given prefix.
// e.g. router.Static("/public", "./public")
func (r *Router) Static(prefix, dir string) {
	prefix = strings.TrimSuffix(prefix, "/")
	fs := http.StripPrefix(prefix, http.FileServer(http.Dir(dir)))
	r.mux.Get(prefix+"/*", func(w http.ResponseWriter, req *http.Request) {
		fs.ServeHTTP(w, req)
	})
}

// ── Params ───────────────────────────────────────────────────────────────────

// Param extracts a URL param.
func Param(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}

// ── Serve ────────────────────────────────────────────────────────────────────

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Handler returns the underlying http.Handler.
func (r *Router) Handler() http.Handler {
	return r.mux
}
