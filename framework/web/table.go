package web

import (
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/km-arc/go-dsi/framework/container"
)

// Route is one (verb, path) bound to a handler method.
type Route struct {
	Verb        string
	Path        string
	BeanName    string
	MethodName  string
	ContentType string
	Type        HandlerType
	Wrapped     bool
	Params      []Param

	bean     any
	fn       reflect.Value
	in       []reflect.Type
	segments []segment
}

// Bean returns the handler bean.
func (r *Route) Bean() any { return r.bean }

// IsPattern reports whether the path has variables or a wildcard.
func (r *Route) IsPattern() bool { return r.segments != nil }

type segment struct {
	literal  string
	prefix   string
	name     string
	suffix   string
	capture  bool
	wildcard bool
}

var variable = regexp.MustCompile(`^(.*?)\$\{(.*?)\}(.*)$`)

func parseSegments(path string) []segment {
	if !strings.Contains(path, "${") && !strings.Contains(path, "*") {
		return nil
	}
	parts := split(path)
	out := make([]segment, len(parts))
	for i, p := range parts {
		switch {
		case p == "*" && i == len(parts)-1:
			out[i] = segment{wildcard: true}
		case variable.MatchString(p):
			m := variable.FindStringSubmatch(p)
			out[i] = segment{capture: true, prefix: m[1], name: strings.TrimSpace(m[2]), suffix: m[3]}
		default:
			out[i] = segment{literal: p}
		}
	}
	return out
}

// match compares a request path with the route's segments and fills vars.
func (r *Route) match(path string, vars map[string]string) bool {
	parts := split(path)
	if len(parts) != len(r.segments) {
		return false
	}
	found := make(map[string]string)
	for i, seg := range r.segments {
		part := parts[i]
		switch {
		case seg.wildcard:
			// matches any last segment
		case seg.capture:
			if len(part) < len(seg.prefix)+len(seg.suffix) ||
				!strings.HasPrefix(part, seg.prefix) || !strings.HasSuffix(part, seg.suffix) {
				return false
			}
			found[seg.name] = part[len(seg.prefix) : len(part)-len(seg.suffix)]
		case seg.literal != part:
			return false
		}
	}
	for k, v := range found {
		vars[k] = v
	}
	return true
}

func split(path string) []string {
	var out []string
	for _, p := range strings.Split(path, "/") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinPath(category, pattern string) string {
	if pattern == "" {
		pattern = "/"
	}
	p := "/" + category + "/" + pattern
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}

// ── Table ─────────────────────────────────────────────────────────────────────

// Table maps verbs and paths to handler methods. As a resolved processor
// it collects every Handler bean of the context, including those registered
// later.
type Table struct {
	Logger *zap.Logger `inject:",optional"`

	mu       sync.RWMutex
	exact    map[string]map[string]*Route
	patterns map[string][]*Route
	all      []*Route
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		exact:    make(map[string]map[string]*Route),
		patterns: make(map[string][]*Route),
	}
}

// BeanName registers the table as "web-handler-table".
func (t *Table) BeanName() string { return "web-handler-table" }

// Perform maps the Handler beans of c.
func (t *Table) Perform(c *container.Context) error {
	for _, name := range c.Names() {
		bean, _ := c.GetBean(name)
		h, ok := bean.(Handler)
		if !ok {
			continue
		}
		if err := t.Add(name, h); err != nil {
			return err
		}
	}
	c.AfterRegister(func(name string, bean any) {
		if h, ok := bean.(Handler); ok {
			if err := t.Add(name, h); err != nil {
				t.logger().Error("cannot map web handler", zap.String("bean", name), zap.Error(err))
			}
		}
	})
	return nil
}

// Add maps the methods of a handler bean.
func (t *Table) Add(beanName string, h Handler) error {
	m := h.WebMapping()
	if len(m.Patterns) == 0 {
		return errorf("handler %q has no category pattern", beanName)
	}
	value := reflect.ValueOf(h)

	var routes []*Route
	for _, wm := range m.Methods {
		fn := value.MethodByName(wm.Name)
		if !fn.IsValid() {
			return errorf("handler %q has no method %q", beanName, wm.Name)
		}
		ft := fn.Type()
		if ft.NumIn() != len(wm.Params) {
			return errorf("%s.%s takes %d arguments, %d parameters declared", beanName, wm.Name, ft.NumIn(), len(wm.Params))
		}
		if err := checkResults(ft); err != nil {
			return errors.WithMessagef(err, "%s.%s", beanName, wm.Name)
		}
		in := make([]reflect.Type, ft.NumIn())
		for i := range in {
			in[i] = ft.In(i)
			if err := wm.Params[i].validate(); err != nil {
				return errors.WithMessagef(err, "%s.%s argument %d", beanName, wm.Name, i)
			}
			if wm.Params[i].In == Internal && !internalType(in[i]) {
				return errorf("%s.%s argument %d: %s cannot be injected", beanName, wm.Name, i, in[i])
			}
		}
		if len(wm.Patterns) == 0 {
			t.logger().Debug("method without pattern skipped", zap.String("bean", beanName), zap.String("method", wm.Name))
			continue
		}

		verb := strings.ToLower(strings.TrimSpace(wm.Verb))
		if verb == "" {
			verb = "get"
		}
		ct := wm.ContentType
		if ct == "" {
			ct = DefaultContentType
		}
		for _, category := range m.Patterns {
			for _, pattern := range wm.Patterns {
				path := joinPath(category, pattern)
				routes = append(routes, &Route{
					Verb:        verb,
					Path:        path,
					BeanName:    beanName,
					MethodName:  wm.Name,
					ContentType: ct,
					Type:        m.Type,
					Wrapped:     wm.Wrapped || m.Wrapped,
					Params:      wm.Params,
					bean:        h,
					fn:          fn,
					in:          in,
					segments:    parseSegments(path),
				})
			}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range routes {
		if _, ok := t.exact[r.Verb][r.Path]; ok {
			return errors.Wrapf(ErrDuplicateRoute, "%s %s", r.Verb, r.Path)
		}
	}
	for _, r := range routes {
		if t.exact[r.Verb] == nil {
			t.exact[r.Verb] = make(map[string]*Route)
		}
		t.exact[r.Verb][r.Path] = r
		if r.IsPattern() {
			t.patterns[r.Verb] = append(t.patterns[r.Verb], r)
		}
		t.all = append(t.all, r)
		t.logger().Debug("web method mapped",
			zap.String("verb", r.Verb), zap.String("path", r.Path),
			zap.String("bean", beanName), zap.String("method", r.MethodName))
	}
	return nil
}

var errorType = container.TypeOf[error]()

func checkResults(ft reflect.Type) error {
	switch ft.NumOut() {
	case 0:
		return nil
	case 1:
		return nil
	case 2:
		if ft.Out(1) == errorType {
			return nil
		}
	}
	return errorf("results must be (), (T), (error) or (T, error)")
}

// Match finds the route for a path and verb. Exact paths win over patterns;
// patterns are tried in mapping order and their variables are returned.
// A verb with no routes is ErrMethodNotAllowed; no match is (nil, nil, nil).
func (t *Table) Match(path, verb string) (*Route, map[string]string, error) {
	verb = strings.ToLower(verb)
	t.mu.RLock()
	defer t.mu.RUnlock()

	byPath, ok := t.exact[verb]
	if !ok {
		return nil, nil, errors.Wrapf(ErrMethodNotAllowed, "%s", verb)
	}
	if r, ok := byPath[path]; ok && !r.IsPattern() {
		return r, map[string]string{}, nil
	}
	for _, r := range t.patterns[verb] {
		vars := make(map[string]string)
		if r.match(path, vars) {
			return r, vars, nil
		}
	}
	return nil, nil, nil
}

// Routes returns every route sorted by path then verb.
func (t *Table) Routes() []*Route {
	t.mu.RLock()
	out := append([]*Route(nil), t.all...)
	t.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Verb < out[j].Verb
	})
	return out
}

func (t *Table) logger() *zap.Logger {
	if t.Logger == nil {
		return zap.NewNop()
	}
	return t.Logger
}
