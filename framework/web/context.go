package web

import (
	"context"
	"net/http"
	"sync"

	"github.com/km-arc/go-dsi/framework/session"
)

// HttpContext is the per-request state the dispatcher hands to handlers.
// It lives in the request context until the handler returns.
type HttpContext struct {
	Request *http.Request
	Writer  http.ResponseWriter
	Route   *Route
	Vars    map[string]string

	// Session is the cookie session, nil when sessions are off.
	Session *session.Session

	managed  *session.Session
	create   func() *session.Session
	attrs    *attributes
	disposed bool
}

// Managed returns the managed session of the request, creating one when
// create is true and the request carried none.
func (c *HttpContext) Managed(create bool) *session.Session {
	if c.managed == nil && create && c.create != nil {
		c.managed = c.create()
	}
	return c.managed
}

// Attribute returns a request attribute.
func (c *HttpContext) Attribute(name string) any { return c.attrs.get(name) }

// SetAttribute stores a request attribute; nil removes it.
func (c *HttpContext) SetAttribute(name string, value any) { c.attrs.set(name, value) }

func (c *HttpContext) dispose() {
	c.disposed = true
	c.attrs.clear()
}

type attributes struct {
	mu sync.Mutex
	m  map[string]any
}

func (a *attributes) get(name string) any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.m[name]
}

func (a *attributes) set(name string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if value == nil {
		delete(a.m, name)
		return
	}
	if a.m == nil {
		a.m = make(map[string]any)
	}
	a.m[name] = value
}

func (a *attributes) clear() {
	a.mu.Lock()
	a.m = nil
	a.mu.Unlock()
}

type contextKey struct{ name string }

var (
	httpContextKey = &contextKey{"http-context"}
	attributesKey  = &contextKey{"attributes"}
)

// FromContext returns the HttpContext of a dispatched request, or nil.
func FromContext(ctx context.Context) *HttpContext {
	hc, _ := ctx.Value(httpContextKey).(*HttpContext)
	if hc == nil || hc.disposed {
		return nil
	}
	return hc
}

func withHttpContext(ctx context.Context, hc *HttpContext) context.Context {
	return context.WithValue(ctx, httpContextKey, hc)
}

// SetAttribute stores a request attribute ahead of dispatch, typically from
// a filter, and returns the request carrying it.
//
//	next.ServeHTTP(w, web.SetAttribute(r, "user", user))
func SetAttribute(r *http.Request, name string, value any) *http.Request {
	if hc := FromContext(r.Context()); hc != nil {
		hc.SetAttribute(name, value)
		return r
	}
	attrs, _ := r.Context().Value(attributesKey).(*attributes)
	if attrs == nil {
		attrs = &attributes{}
		r = r.WithContext(context.WithValue(r.Context(), attributesKey, attrs))
	}
	attrs.set(name, value)
	return r
}

func attributesOf(r *http.Request) *attributes {
	if attrs, ok := r.Context().Value(attributesKey).(*attributes); ok {
		return attrs
	}
	return &attributes{}
}
