package container

import (
	stderrors "errors"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ── Registry types ────────────────────────────────────────────────────────────

// Properties is the configuration view the container reads `config` fields from.
type Properties interface {
	// Property returns the value of key with placeholders expanded.
	Property(key string) (string, bool)
	// Expand replaces ${key} placeholders in s.
	Expand(s string) string
}

// Record is a named bean, as produced by scanners.
type Record struct {
	Name string
	Bean any
}

const (
	stateNew = iota
	stateResolving
	stateResolved
)

// ── Context ───────────────────────────────────────────────────────────────────

// Context is the bean container.
//
// Beans are indexed by name and by every type of their type tree; interface
// lookups scan the registered beans in registration order and are cached
// until the next registration or removal. Every map is guarded by one lock.
type Context struct {
	mu sync.RWMutex

	// name → bean
	named map[string]any

	// type tree member → names, registration order
	typed map[reflect.Type][]string

	// interface → implementing names, filled on lookup
	implementors map[reflect.Type][]string

	// alias → name
	aliases map[string]string

	// factory-created name → interfaces it is visible under
	created map[string][]reflect.Type

	// all names, registration order
	order []string

	// registered but not yet wired
	pending []Record

	// names whose PostConstruct ran, in order
	initialized []string

	afterRegister []func(name string, bean any)

	props  Properties
	logger *zap.Logger
	state  int
	closed bool
}

// Option configures a Context.
type Option func(*Context)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Context) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithProperties sets the configuration `config` fields are read from. It is
// also registered as the "global-config" bean.
func WithProperties(props Properties) Option {
	return func(c *Context) { c.props = props }
}

// New creates an empty context. The context registers itself as "context".
func New(opts ...Option) *Context {
	c := &Context{
		named:        make(map[string]any),
		typed:        make(map[reflect.Type][]string),
		implementors: make(map[reflect.Type][]string),
		aliases:      make(map[string]string),
		created:      make(map[string][]reflect.Type),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.put("context", c)
	if c.props != nil {
		c.put("global-config", c.props)
	}
	return c
}

// Logger returns the context logger.
func (c *Context) Logger() *zap.Logger { return c.logger }

// Properties returns the configuration, or nil.
func (c *Context) Properties() Properties { return c.props }

// ── Registration ──────────────────────────────────────────────────────────────

// Register adds a bean under NameOf(bean).
//
// When the context is already resolved the bean is wired immediately:
// its fields are injected and PostConstruct runs.
func (c *Context) Register(bean any) error {
	return c.RegisterNamed("", bean)
}

// RegisterNamed adds a bean under name. An empty name derives one via NameOf.
func (c *Context) RegisterNamed(name string, bean any) error {
	if err := c.add(name, bean); err != nil {
		return err
	}
	if c.Resolved() {
		return c.Wire()
	}
	return nil
}

// RegisterAll adds a batch of beans. After Resolve the batch is wired
// together, so beans in it may depend on each other.
func (c *Context) RegisterAll(records []Record) error {
	for _, rec := range records {
		if err := c.add(rec.Name, rec.Bean); err != nil {
			return err
		}
	}
	if c.Resolved() {
		return c.Wire()
	}
	return nil
}

// Create registers the value built by factory under a generated name. The
// bean is visible only under those of ifaces it implements. The factory
// returns a finished bean: it is not wired, but Close and RemoveNamed
// destroy it.
func (c *Context) Create(factory func() (any, error), ifaces ...reflect.Type) error {
	bean, err := factory()
	if err != nil {
		return errors.Wrap(err, "container: create")
	}
	if isNil(bean) {
		return nil
	}
	name := uuid.NewString()
	bt := reflect.TypeOf(bean)

	c.mu.Lock()
	var visible []reflect.Type
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	for _, t := range ifaces {
		if bt.AssignableTo(t) {
			visible = append(visible, t)
		}
	}
	c.named[name] = bean
	c.created[name] = visible
	c.order = append(c.order, name)
	c.initialized = append(c.initialized, name)
	clear(c.implementors)
	c.mu.Unlock()

	c.logger.Debug("bean created", zap.String("name", name), zap.String("type", bt.String()))
	c.fireAfterRegister(name, bean)
	return nil
}

// Alias registers an alternative name for a bean.
//
//	c.Alias("dataSource", "db")
func (c *Context) Alias(name, alias string) error {
	if name == alias {
		return errors.Errorf("container: [%s] is aliased to itself", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.named[alias]; ok {
		return errors.Wrapf(ErrNameExists, "alias %q", alias)
	}
	c.aliases[alias] = c.canonical(name)
	return nil
}

// AfterRegister registers a callback fired after any bean is registered.
func (c *Context) AfterRegister(cb func(name string, bean any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.afterRegister = append(c.afterRegister, cb)
}

func (c *Context) add(name string, bean any) error {
	if isNil(bean) {
		return ErrNilBean
	}
	if name == "" {
		name = NameOf(bean)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if _, ok := c.named[name]; ok {
		c.mu.Unlock()
		return errors.Wrapf(ErrNameExists, "bean %q", name)
	}
	c.put(name, bean)
	c.pending = append(c.pending, Record{Name: name, Bean: bean})
	c.mu.Unlock()

	c.logger.Debug("bean registered", zap.String("name", name), zap.String("type", reflect.TypeOf(bean).String()))
	c.fireAfterRegister(name, bean)
	return nil
}

// put indexes a bean; callers hold the lock (or own c exclusively).
func (c *Context) put(name string, bean any) {
	c.named[name] = bean
	for _, t := range typeTree(reflect.TypeOf(bean)) {
		c.typed[t] = append(c.typed[t], name)
	}
	c.order = append(c.order, name)
	clear(c.implementors)
}

func (c *Context) fireAfterRegister(name string, bean any) {
	c.mu.RLock()
	cbs := c.afterRegister
	c.mu.RUnlock()
	for _, cb := range cbs {
		cb(name, bean)
	}
}

// ── Lookup ────────────────────────────────────────────────────────────────────

// GetBean returns the bean registered under name (or an alias of it).
func (c *Context) GetBean(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bean, ok := c.named[c.canonical(name)]
	return bean, ok
}

// GetBeanByType returns the only bean of type t. It returns (nil, nil) when
// no bean matches and ErrNotUnique when several do. Interface types match
// every bean implementing them; struct types match beans embedding them.
// The bean is returned as registered; As views it as t.
func (c *Context) GetBeanByType(t reflect.Type) (any, error) {
	names, beans := c.collect(t)
	switch len(beans) {
	case 0:
		return nil, nil
	case 1:
		return beans[0], nil
	}
	return nil, errors.Wrapf(ErrNotUnique, "%d beans of type %s: %v", len(names), t, names)
}

// GetBeanMap returns every bean of type t keyed by name. The map is empty,
// never nil, when none match.
func (c *Context) GetBeanMap(t reflect.Type) map[string]any {
	names, beans := c.collect(t)
	out := make(map[string]any, len(names))
	for i, n := range names {
		out[n] = beans[i]
	}
	return out
}

// BeansOfType returns every bean of type t in registration order.
func (c *Context) BeansOfType(t reflect.Type) []any {
	_, beans := c.collect(t)
	return beans
}

// Names returns every bean name in registration order.
func (c *Context) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Beans returns every registered bean in registration order.
func (c *Context) Beans() []any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]any, 0, len(c.order))
	for _, n := range c.order {
		out = append(out, c.named[n])
	}
	return out
}

// Contains reports whether a bean (or alias) named name exists.
func (c *Context) Contains(name string) bool {
	_, ok := c.GetBean(name)
	return ok
}

// collect returns the beans indexed under t with their names.
func (c *Context) collect(t reflect.Type) ([]string, []any) {
	names := c.namesOf(t)
	c.mu.RLock()
	defer c.mu.RUnlock()
	found := names[:0]
	beans := make([]any, 0, len(names))
	for _, n := range names {
		if bean, ok := c.named[n]; ok {
			found = append(found, n)
			beans = append(beans, bean)
		}
	}
	return found, beans
}

// namesOf returns a copy of the names indexed under t. Interface results are
// cached.
func (c *Context) namesOf(t reflect.Type) []string {
	if t == nil {
		return nil
	}
	c.mu.RLock()
	if t.Kind() != reflect.Interface {
		defer c.mu.RUnlock()
		return append([]string(nil), c.typed[t]...)
	}
	names, ok := c.implementors[t]
	c.mu.RUnlock()
	if ok {
		return append([]string(nil), names...)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	names = c.implementing(t)
	c.implementors[t] = names
	return append([]string(nil), names...)
}

// implementing scans for beans implementing t; callers hold the lock.
func (c *Context) implementing(t reflect.Type) []string {
	out := []string{}
	for _, n := range c.order {
		if ifaces, ok := c.created[n]; ok {
			for _, it := range ifaces {
				if it == t {
					out = append(out, n)
					break
				}
			}
			continue
		}
		if reflect.TypeOf(c.named[n]).Implements(t) {
			out = append(out, n)
		}
	}
	return out
}

func (c *Context) canonical(name string) string {
	if target, ok := c.aliases[name]; ok {
		return target
	}
	return name
}

// ── Removal ───────────────────────────────────────────────────────────────────

// Remove drops every registration of bean. Once the context is resolved,
// a removed bean that was initialized is destroyed.
func (c *Context) Remove(bean any) error {
	c.mu.RLock()
	var names []string
	for _, n := range c.order {
		if sameBean(c.named[n], bean) {
			names = append(names, n)
		}
	}
	c.mu.RUnlock()

	var errs []error
	for _, n := range names {
		if err := c.RemoveNamed(n); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// RemoveNamed drops the bean registered under name.
func (c *Context) RemoveNamed(name string) error {
	c.mu.Lock()
	name = c.canonical(name)
	bean, ok := c.named[name]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.named, name)
	for alias, target := range c.aliases {
		if target == name {
			delete(c.aliases, alias)
		}
	}
	if _, ok := c.created[name]; ok {
		delete(c.created, name)
	} else {
		for _, t := range typeTree(reflect.TypeOf(bean)) {
			c.dropTyped(t, name)
		}
	}
	clear(c.implementors)
	c.order = without(c.order, name)
	wasInit := contains(c.initialized, name)
	c.initialized = without(c.initialized, name)
	for i, rec := range c.pending {
		if rec.Name == name {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
	resolved := c.state == stateResolved
	c.mu.Unlock()

	c.logger.Debug("bean removed", zap.String("name", name))
	if resolved && wasInit {
		if d, ok := bean.(DisposableBean); ok {
			if err := d.Destroy(); err != nil {
				c.logger.Warn("destroy failed", zap.String("name", name), zap.Error(err))
				return errors.Wrapf(err, "container: destroy %q", name)
			}
		}
	}
	return nil
}

func (c *Context) dropTyped(t reflect.Type, name string) {
	list := without(c.typed[t], name)
	if len(list) == 0 {
		delete(c.typed, t)
		return
	}
	c.typed[t] = list
}

// ── Resolution ────────────────────────────────────────────────────────────────

// Wire injects, configures and initializes every bean registered since the
// last call. Exposers publish their beans first so the batch can use them.
func (c *Context) Wire() error {
	batch := c.takePending()
	for i := 0; i < len(batch); i++ {
		ex, ok := batch[i].Bean.(Exposer)
		if !ok {
			continue
		}
		exposed, err := ex.Expose()
		if err != nil {
			return errors.Wrapf(err, "container: expose %q", batch[i].Name)
		}
		keys := make([]string, 0, len(exposed))
		for k := range exposed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := c.add(k, exposed[k]); err != nil {
				return errors.Wrapf(err, "container: expose %q from %q", k, batch[i].Name)
			}
		}
		batch = append(batch, c.takePending()...)
	}

	for _, rec := range batch {
		if err := c.Configure(rec.Bean); err != nil {
			return errors.WithMessagef(err, "bean %q", rec.Name)
		}
		if err := c.Inject(rec.Bean); err != nil {
			return errors.WithMessagef(err, "bean %q", rec.Name)
		}
	}

	for _, rec := range batch {
		if ib, ok := rec.Bean.(InitializingBean); ok {
			if err := ib.PostConstruct(); err != nil {
				return errors.Wrapf(err, "container: post construct %q", rec.Name)
			}
		}
		c.mu.Lock()
		c.initialized = append(c.initialized, rec.Name)
		c.mu.Unlock()
	}
	return nil
}

func (c *Context) takePending() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

// Resolve wires every pending bean and runs the resolved processors sorted by
// BeanOrder. It may be called only once.
func (c *Context) Resolve() error {
	c.mu.Lock()
	if c.state != stateNew {
		c.mu.Unlock()
		return ErrAlreadyResolved
	}
	c.state = stateResolving
	c.mu.Unlock()

	if err := c.Wire(); err != nil {
		return err
	}

	var processors []ResolvedProcessor
	for _, bean := range c.BeansOfType(TypeOf[ResolvedProcessor]()) {
		processors = append(processors, bean.(ResolvedProcessor))
	}
	SortByOrder(processors)
	for _, p := range processors {
		c.logger.Debug("running resolved processor", zap.String("type", reflect.TypeOf(p).String()))
		if err := p.Perform(c); err != nil {
			return errors.Wrapf(err, "container: processor %T", p)
		}
	}

	c.mu.Lock()
	c.state = stateResolved
	c.mu.Unlock()

	// beans registered by processors
	if err := c.Wire(); err != nil {
		return err
	}
	c.logger.Info("context resolved", zap.Int("beans", len(c.Names())))
	return nil
}

// Resolved reports whether Resolve has completed.
func (c *Context) Resolved() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == stateResolved
}

// Close destroys every initialized or factory-created bean in reverse order
// and empties the context. Calling it again is a no-op.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	names := c.initialized
	beans := make([]any, len(names))
	for i, n := range names {
		beans[i] = c.named[n]
	}
	c.mu.Unlock()

	var errs []error
	for i := len(beans) - 1; i >= 0; i-- {
		d, ok := beans[i].(DisposableBean)
		if !ok {
			continue
		}
		if err := d.Destroy(); err != nil {
			c.logger.Warn("destroy failed", zap.String("name", names[i]), zap.Error(err))
			errs = append(errs, errors.Wrapf(err, "container: destroy %q", names[i]))
		}
	}

	c.mu.Lock()
	c.named = make(map[string]any)
	c.typed = make(map[reflect.Type][]string)
	c.implementors = make(map[reflect.Type][]string)
	c.aliases = make(map[string]string)
	c.created = make(map[string][]reflect.Type)
	c.order, c.pending, c.initialized = nil, nil, nil
	c.mu.Unlock()

	c.logger.Info("context disposed", zap.Int("destroyed", len(beans)))
	return stderrors.Join(errs...)
}

// ── Generics helpers ──────────────────────────────────────────────────────────

// Resolve returns the only bean of type T.
//
//	svc, err := container.Resolve[*UserService](ctx)
func Resolve[T any](c *Context) (T, error) {
	var zero T
	t := TypeOf[T]()
	bean, err := c.GetBeanByType(t)
	if err != nil {
		return zero, err
	}
	if bean == nil {
		return zero, errors.Wrapf(ErrNotFound, "type %s", t)
	}
	typed, ok := as[T](bean)
	if !ok {
		return zero, errors.Wrapf(ErrInvalidField, "bean %T is not viewable as %s", bean, t)
	}
	return typed, nil
}

// MustResolve is like Resolve but panics on error.
func MustResolve[T any](c *Context) T {
	v, err := Resolve[T](c)
	if err != nil {
		panic(err)
	}
	return v
}

// ResolveNamed returns the bean named name asserted to T.
func ResolveNamed[T any](c *Context, name string) (T, error) {
	var zero T
	bean, ok := c.GetBean(name)
	if !ok {
		return zero, errors.Wrapf(ErrNotFound, "name %q", name)
	}
	typed, ok := as[T](bean)
	if !ok {
		return zero, errors.Errorf("container: bean %q is %T, not %s", name, bean, TypeOf[T]())
	}
	return typed, nil
}

// BeansOf returns every bean of type T keyed by name.
func BeansOf[T any](c *Context) map[string]T {
	raw := c.GetBeanMap(TypeOf[T]())
	out := make(map[string]T, len(raw))
	for k, v := range raw {
		if typed, ok := as[T](v); ok {
			out[k] = typed
		}
	}
	return out
}

// ListOf returns every bean of type T in registration order.
func ListOf[T any](c *Context) []T {
	raw := c.BeansOfType(TypeOf[T]())
	out := make([]T, 0, len(raw))
	for _, v := range raw {
		if typed, ok := as[T](v); ok {
			out = append(out, typed)
		}
	}
	return out
}

func without(list []string, name string) []string {
	out := list[:0]
	for _, n := range list {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

func contains(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}
