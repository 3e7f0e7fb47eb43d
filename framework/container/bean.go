package container

import (
	"reflect"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
	"unsafe"
)

// ── Lifecycle interfaces ──────────────────────────────────────────────────────

// InitializingBean is called once all fields of the bean are injected.
type InitializingBean interface {
	PostConstruct() error
}

// DisposableBean is called when the context is closed or the bean removed.
type DisposableBean interface {
	Destroy() error
}

// NamedBean overrides the derived bean name.
type NamedBean interface {
	BeanName() string
}

// OrderedBean gives resolved processors and filters an explicit order.
// Lower values run first.
type OrderedBean interface {
	BeanOrder() int
}

// Exposer publishes additional beans built by the exposing bean. The map key
// is the bean name; an empty key derives the name from the value's type.
//
//	func (c *DataConfig) Expose() (map[string]any, error) {
//	    return map[string]any{"userRepository": NewUserRepository(c.URL)}, nil
//	}
type Exposer interface {
	Expose() (map[string]any, error)
}

// ResolvedProcessor runs once, after every bean scanned before Resolve is wired.
type ResolvedProcessor interface {
	Perform(c *Context) error
}

// ── Naming ────────────────────────────────────────────────────────────────────

// NameOf returns the name a bean is registered under when none is given:
// BeanName() if implemented, otherwise the lowerCamel type name.
//
//	container.NameOf(&UserService{})  // "userService"
func NameOf(bean any) string {
	if nb, ok := bean.(NamedBean); ok {
		if name := nb.BeanName(); name != "" {
			return name
		}
	}
	return TypeName(reflect.TypeOf(bean))
}

// TypeName returns the lowerCamel simple name of t, pointers dereferenced.
func TypeName(t reflect.Type) string {
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" {
		return t.String()
	}
	// generic instantiations carry their arguments in the name
	if i := strings.IndexByte(name, '['); i > 0 {
		name = name[:i]
	}
	return LowerCamel(name)
}

// LowerCamel lower-cases the leading rune of s.
func LowerCamel(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}

// TypeOf returns the reflect.Type of T, including interface types.
//
//	container.TypeOf[io.Closer]()
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// OrderOf returns BeanOrder() or 0.
func OrderOf(bean any) int {
	if ob, ok := bean.(OrderedBean); ok {
		return ob.BeanOrder()
	}
	return 0
}

// SortByOrder sorts beans by OrderOf, keeping registration order for ties.
func SortByOrder[T any](beans []T) {
	sort.SliceStable(beans, func(i, j int) bool {
		return OrderOf(beans[i]) < OrderOf(beans[j])
	})
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func sameBean(a, b any) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch va.Kind() {
	case reflect.Map, reflect.Slice, reflect.Func:
		return va.Pointer() == vb.Pointer()
	}
	return false
}

// ── Type tree ─────────────────────────────────────────────────────────────────

// typeTree returns the types a bean of type t is indexed under: t itself,
// the struct a pointer points to, and every embedded struct reached through
// anonymous fields, both as struct and as pointer.
func typeTree(t reflect.Type) []reflect.Type {
	out := []reflect.Type{t}
	seen := map[reflect.Type]bool{t: true}
	add := func(t reflect.Type) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}

	var walk func(st reflect.Type)
	walk = func(st reflect.Type) {
		for i := 0; i < st.NumField(); i++ {
			f := st.Field(i)
			if !f.Anonymous {
				continue
			}
			ft := f.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() != reflect.Struct || seen[ft] {
				continue
			}
			add(ft)
			add(reflect.PointerTo(ft))
			walk(ft)
		}
	}

	st := t
	if st.Kind() == reflect.Ptr {
		st = st.Elem()
	}
	if st.Kind() == reflect.Struct {
		add(st)
		walk(st)
	}
	return out
}

// As returns bean viewed as t: bean itself when assignable, otherwise the
// struct of type t it embeds (a copy) or a pointer to it (shared with the
// bean). ok is false when t is not in the bean's type tree.
//
//	repo, _ := container.As(bean, reflect.TypeOf(&BaseRepo{}))
func As(bean any, t reflect.Type) (any, bool) {
	if bean == nil || t == nil {
		return nil, false
	}
	v := reflect.ValueOf(bean)
	if v.Type().AssignableTo(t) {
		return bean, true
	}
	out, ok := embedded(v, t, 0)
	if !ok {
		return nil, false
	}
	return out.Interface(), true
}

// maxEmbedDepth bounds the walk through self-referencing embedded pointers.
const maxEmbedDepth = 16

func embedded(v reflect.Value, t reflect.Type, depth int) (reflect.Value, bool) {
	if depth > maxEmbedDepth {
		return reflect.Value{}, false
	}
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	if !v.CanAddr() {
		cp := reflect.New(v.Type()).Elem()
		cp.Set(v)
		v = cp
	}
	switch {
	case v.Type() == t:
		return v, true
	case t.Kind() == reflect.Ptr && t.Elem() == v.Type():
		return v.Addr(), true
	}

	st := v.Type()
	for i := 0; i < st.NumField(); i++ {
		if !st.Field(i).Anonymous {
			continue
		}
		// embedded types may be unexported
		f := v.Field(i)
		f = reflect.NewAt(f.Type(), unsafe.Pointer(f.UnsafeAddr())).Elem()
		if out, ok := embedded(f, t, depth+1); ok {
			return out, true
		}
	}
	return reflect.Value{}, false
}

// as is As for a static type.
func as[T any](bean any) (T, bool) {
	if typed, ok := bean.(T); ok {
		return typed, true
	}
	var zero T
	view, ok := As(bean, TypeOf[T]())
	if !ok {
		return zero, false
	}
	typed, ok := view.(T)
	return typed, ok
}
