package container

import (
	"reflect"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Field tags:
//
//	Repo    UserRepository          `inject:""`                 // by type
//	Cache   Cache                   `inject:"redisCache"`       // by name
//	Audit   *Auditor                `inject:",optional"`        // nil when missing
//	Clock   func() Clock            `inject:""`                 // resolved on call
//	Jobs    []Job                   `inject:""`                 // every Job bean
//	Stores  map[string]Store        `inject:""`                 // every Store bean by name
const (
	injectTag = "inject"
	configTag = "config"
)

type fieldKind int

const (
	single fieldKind = iota
	lazy
	slice
	table
)

type injectDef struct {
	index     int
	field     string
	typ       reflect.Type
	elem      reflect.Type // element type for lazy/slice/table
	kind      fieldKind
	qualifier string
	optional  bool
}

type configDef struct {
	index    int
	field    string
	typ      reflect.Type
	value    string
	required bool
}

type classDef struct {
	injects []injectDef
	configs []configDef
	err     error
}

var classCache sync.Map // reflect.Type → *classDef

// Inject fills the `inject` fields of target, a pointer to a struct. It is
// used by Wire and for objects the context does not own, such as per-connection
// handlers.
func (c *Context) Inject(target any) error {
	v, def, err := inspect(target)
	if err != nil || def == nil {
		return err
	}
	for _, d := range def.injects {
		if err := c.injectField(v.Field(d.index), d); err != nil {
			return errors.WithMessagef(err, "field %s.%s", v.Type().Name(), d.field)
		}
	}
	return nil
}

func (c *Context) injectField(field reflect.Value, d injectDef) error {
	switch d.kind {
	case lazy:
		elem := d.elem
		fn := reflect.MakeFunc(d.typ, func([]reflect.Value) []reflect.Value {
			bean, err := c.lookup(d.qualifier, d.field, elem)
			if err != nil || bean == nil {
				return []reflect.Value{reflect.Zero(elem)}
			}
			out := reflect.New(elem).Elem()
			out.Set(reflect.ValueOf(bean))
			return []reflect.Value{out}
		})
		field.Set(fn)
		return nil

	case slice:
		list := c.BeansOfType(d.elem)
		if len(list) == 0 && !d.optional {
			return errors.Wrapf(ErrNotFound, "no beans of type %s", d.elem)
		}
		out := reflect.MakeSlice(d.typ, 0, len(list))
		for _, bean := range list {
			if view, ok := As(bean, d.elem); ok {
				out = reflect.Append(out, reflect.ValueOf(view))
			}
		}
		field.Set(out)
		return nil

	case table:
		m := c.GetBeanMap(d.elem)
		if len(m) == 0 && !d.optional {
			return errors.Wrapf(ErrNotFound, "no beans of type %s", d.elem)
		}
		out := reflect.MakeMapWithSize(d.typ, len(m))
		for k, bean := range m {
			if view, ok := As(bean, d.elem); ok {
				out.SetMapIndex(reflect.ValueOf(k), reflect.ValueOf(view))
			}
		}
		field.Set(out)
		return nil
	}

	bean, err := c.lookup(d.qualifier, d.field, d.typ)
	if err != nil {
		return err
	}
	if bean == nil {
		if d.optional {
			return nil
		}
		if d.qualifier != "" {
			return errors.Wrapf(ErrNotFound, "name %q", d.qualifier)
		}
		return errors.Wrapf(ErrNotFound, "type %s", d.typ)
	}
	field.Set(reflect.ValueOf(bean))
	return nil
}

// lookup resolves by qualifier when given, else by type. Several candidates
// of the type are narrowed to the one named after the field. The result is
// viewed as t, so an embedded struct of the bean can be injected.
func (c *Context) lookup(qualifier, field string, t reflect.Type) (any, error) {
	if qualifier != "" {
		bean, ok := c.GetBean(qualifier)
		if !ok {
			return nil, nil
		}
		view, ok := As(bean, t)
		if !ok {
			return nil, errors.Wrapf(ErrInvalidField, "bean %q is %T, not assignable to %s", qualifier, bean, t)
		}
		return view, nil
	}

	bean, err := c.GetBeanByType(t)
	if err == nil {
		if bean == nil {
			return nil, nil
		}
		view, ok := As(bean, t)
		if !ok {
			return nil, errors.Wrapf(ErrInvalidField, "bean %T is not assignable to %s", bean, t)
		}
		return view, nil
	}
	if !errors.Is(err, ErrNotUnique) {
		return nil, err
	}
	if byName, ok := c.GetBean(LowerCamel(field)); ok {
		if view, ok := As(byName, t); ok {
			return view, nil
		}
	}
	return nil, err
}

// ── Class inspection ──────────────────────────────────────────────────────────

func inspect(target any) (reflect.Value, *classDef, error) {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, nil, nil
	}
	v := rv.Elem()
	t := v.Type()
	if cached, ok := classCache.Load(t); ok {
		def := cached.(*classDef)
		return v, def, def.err
	}
	def := parseClass(t)
	classCache.Store(t, def)
	return v, def, def.err
}

func parseClass(t reflect.Type) *classDef {
	def := &classDef{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if tag, ok := f.Tag.Lookup(injectTag); ok {
			if !f.IsExported() {
				def.err = errors.Wrapf(ErrInvalidField, "%s.%s is not exported", t.Name(), f.Name)
				return def
			}
			d, err := parseInject(f, tag)
			if err != nil {
				def.err = errors.WithMessagef(err, "%s.%s", t.Name(), f.Name)
				return def
			}
			d.index = i
			def.injects = append(def.injects, d)
		}
		if tag, ok := f.Tag.Lookup(configTag); ok {
			if !f.IsExported() {
				def.err = errors.Wrapf(ErrInvalidField, "%s.%s is not exported", t.Name(), f.Name)
				return def
			}
			parts := strings.Split(tag, ",")
			cd := configDef{index: i, field: f.Name, typ: f.Type, value: strings.TrimSpace(parts[0])}
			for _, opt := range parts[1:] {
				if strings.TrimSpace(opt) == "required" {
					cd.required = true
				}
			}
			if cd.value == "" {
				def.err = errors.Wrapf(ErrInvalidField, "%s.%s has an empty config tag", t.Name(), f.Name)
				return def
			}
			def.configs = append(def.configs, cd)
		}
	}
	return def
}

func parseInject(f reflect.StructField, tag string) (injectDef, error) {
	parts := strings.Split(tag, ",")
	d := injectDef{field: f.Name, typ: f.Type, qualifier: strings.TrimSpace(parts[0])}
	wantLazy := false
	for _, opt := range parts[1:] {
		switch strings.TrimSpace(opt) {
		case "optional":
			d.optional = true
		case "lazy":
			wantLazy = true
		case "":
		default:
			return d, errors.Wrapf(ErrInvalidField, "unknown option %q", opt)
		}
	}

	switch f.Type.Kind() {
	case reflect.Func:
		if f.Type.NumIn() == 0 && f.Type.NumOut() == 1 {
			d.kind = lazy
			d.elem = f.Type.Out(0)
			return d, nil
		}
	case reflect.Slice:
		if f.Type.Elem().Kind() != reflect.Uint8 && d.qualifier == "" {
			d.kind = slice
			d.elem = f.Type.Elem()
		}
	case reflect.Map:
		if f.Type.Key().Kind() == reflect.String && d.qualifier == "" {
			d.kind = table
			d.elem = f.Type.Elem()
		}
	}
	if wantLazy {
		return d, errors.Wrapf(ErrInvalidField, "lazy field must be func() T, got %s", f.Type)
	}
	return d, nil
}
