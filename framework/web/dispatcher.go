package web

import (
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	gohttp "github.com/km-arc/go-dsi/framework/http"
	"github.com/km-arc/go-dsi/framework/metrics"
	"github.com/km-arc/go-dsi/framework/session"
)

const (
	// ManagedSessionHeader carries the managed session id in both directions.
	ManagedSessionHeader = "X-Managed-Session"
	// SessionCookie names the cookie of the HTTP session.
	SessionCookie = "DSISESSIONID"
)

// Result is the body of wrapped and failed JSON responses.
type Result struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// Dispatcher serves the routes of a Table. It is mounted under Mapping,
// which is stripped before matching.
//
//	GET /apis/users/42  →  Table.Match("/users/42", "get")
type Dispatcher struct {
	Table    *Table             `inject:""`
	Sessions *session.Manager   `inject:"http-session-manager,optional"`
	Managed  *session.Manager   `inject:"managed-session-manager,optional"`
	Views    *gohttp.ViewEngine `inject:",optional"`
	Metrics  *metrics.Collector `inject:",optional"`
	Logger   *zap.Logger        `inject:",optional"`

	Mapping        string `config:"${dsi.httpd.api-mapping}"`
	ManagedEnabled bool   `config:"${dsi.httpd.managed.session.enabled}"`
}

// NewDispatcher creates a dispatcher for t mounted at mapping.
func NewDispatcher(t *Table, mapping string) *Dispatcher {
	return &Dispatcher{Table: t, Mapping: mapping, ManagedEnabled: true}
}

// BeanName registers the dispatcher as "web-dispatcher".
func (d *Dispatcher) BeanName() string { return "web-dispatcher" }

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	res := gohttp.NewResponse(ww)
	routePath := "unmatched"
	defer func() {
		d.Metrics.ObserveRequest(strings.ToLower(r.Method), routePath, ww.Status(), time.Since(start))
	}()

	path := d.pathInfo(r)
	if path == "" {
		res.NotFound()
		return
	}
	route, vars, err := d.Table.Match(path, r.Method)
	if err != nil {
		res.MethodNotAllowed("Method " + r.Method + " not supported.")
		return
	}
	if route == nil {
		res.NotFound()
		return
	}
	routePath = route.Path

	hc := d.newContext(ww, r, route, vars)
	defer hc.dispose()
	defer func() {
		if p := recover(); p != nil {
			d.logger().Error("web handler panicked",
				zap.String("route", route.Path), zap.Any("panic", p), zap.Stack("stack"))
			if ww.Status() == 0 {
				d.writeError(hc, res, errors.Errorf("panic: %v", p))
			}
		}
	}()

	req := gohttp.NewRequest(hc.Request)
	args, err := arguments(hc, req, route)
	if err != nil {
		d.writeError(hc, res, err)
		return
	}

	result, err := call(route.fn, args)
	if err != nil {
		d.writeError(hc, res, err)
		return
	}
	if ww.Status() != 0 {
		// the handler wrote the response itself
		return
	}
	d.writeResult(hc, res, result)
}

func (d *Dispatcher) pathInfo(r *http.Request) string {
	mapping := "/" + strings.Trim(d.Mapping, "/")
	if mapping == "/" {
		return r.URL.Path
	}
	if !strings.HasPrefix(r.URL.Path, mapping+"/") {
		return ""
	}
	return strings.TrimPrefix(r.URL.Path, mapping)
}

func (d *Dispatcher) newContext(w middleware.WrapResponseWriter, r *http.Request, route *Route, vars map[string]string) *HttpContext {
	hc := &HttpContext{Writer: w, Route: route, Vars: vars, attrs: attributesOf(r)}
	hc.Session = d.httpSession(w, r)

	if d.Managed != nil && d.ManagedEnabled {
		if key := r.Header.Get(ManagedSessionHeader); key != "" {
			if s, ok := d.Managed.Get(key); ok {
				hc.managed = s
			}
			w.Header().Set(ManagedSessionHeader, key)
		}
		hc.create = func() *session.Session {
			s := d.Managed.Create(r.Header.Get(ManagedSessionHeader))
			w.Header().Set(ManagedSessionHeader, s.ID)
			return s
		}
	}

	hc.Request = r.WithContext(withHttpContext(r.Context(), hc))
	return hc
}

func (d *Dispatcher) httpSession(w http.ResponseWriter, r *http.Request) *session.Session {
	if d.Sessions == nil {
		return nil
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		if s, ok := d.Sessions.Get(c.Value); ok {
			return s
		}
	}
	s := d.Sessions.Create("")
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: s.ID, Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode})
	return s
}

// call invokes fn and splits its results into a value and an error.
func call(fn reflect.Value, args []reflect.Value) (any, error) {
	out := fn.Call(args)
	var (
		result any
		err    error
	)
	for _, v := range out {
		if v.Type() == errorType {
			if !v.IsNil() {
				err = v.Interface().(error)
			}
			continue
		}
		if !isNilValue(v) {
			result = v.Interface()
		}
	}
	return result, err
}

func (d *Dispatcher) writeResult(hc *HttpContext, res *gohttp.Response, result any) {
	route := hc.Route
	if route.Type == View {
		if name, ok := result.(string); ok {
			d.forward(hc, res, name)
			return
		}
	}

	ct := route.ContentType
	switch {
	case isJSON(ct):
		if route.Wrapped {
			res.JSONAs(http.StatusOK, ct, Result{Code: 0, Message: "success", Data: result})
		} else if result != nil {
			res.JSONAs(http.StatusOK, ct, result)
		} else {
			hc.Writer.Header().Set("Content-Type", ct)
			hc.Writer.WriteHeader(http.StatusOK)
		}
	case result != nil:
		res.Text(http.StatusOK, ct, result)
	default:
		hc.Writer.Header().Set("Content-Type", ct)
		hc.Writer.WriteHeader(http.StatusOK)
	}
}

func (d *Dispatcher) forward(hc *HttpContext, res *gohttp.Response, name string) {
	if d.Views == nil {
		d.writeError(hc, res, errors.Errorf("no view engine to render %q", name))
		return
	}
	if err := d.Views.Render(hc.Writer, name, hc); err != nil {
		d.writeError(hc, res, err)
	}
}

func (d *Dispatcher) writeError(hc *HttpContext, res *gohttp.Response, err error) {
	ct := hc.Route.ContentType
	var (
		herr *HandlerError
		berr *BindError
		verr *validationError
	)
	switch {
	case errors.As(err, &verr):
		res.ValidationError(verr.bag)
	case errors.As(err, &herr):
		if isJSON(ct) {
			res.JSONAs(herr.HTTPStatus(), ct, Result{Code: herr.Code, Message: herr.Message})
		} else {
			res.Text(herr.HTTPStatus(), "text/plain; charset=utf-8", herr.Message)
		}
	case errors.As(err, &berr):
		d.logger().Debug("cannot bind request", zap.String("route", hc.Route.Path), zap.Error(err))
		if isJSON(ct) {
			res.JSONAs(http.StatusBadRequest, ct, map[string]any{"code": http.StatusBadRequest, "error": berr.Error()})
		} else {
			res.Text(http.StatusBadRequest, "text/plain; charset=utf-8", berr.Error())
		}
	default:
		d.logger().Error("web handler failed", zap.String("route", hc.Route.Path), zap.Error(err))
		if isJSON(ct) {
			res.JSONAs(http.StatusInternalServerError, ct, Result{Code: http.StatusInternalServerError, Message: "Server Error."})
		} else {
			res.Text(http.StatusInternalServerError, "text/plain; charset=utf-8", "Server Error.")
		}
	}
}

func isJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "json")
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}
