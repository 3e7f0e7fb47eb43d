package container

import (
	"encoding/json"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

var placeholder = regexp.MustCompile(`^\$\{([^}]+)\}$`)

var durationType = reflect.TypeOf(time.Duration(0))

// Configure fills the `config` fields of target from the context properties.
//
//	Port    int           `config:"${httpd.port},required"`
//	Timeout time.Duration `config:"${session.timeout}"`
//	Banner  string        `config:"hello ${app.name}"`
//
// A field whose single placeholder is missing keeps its current value, or
// fails with ErrConfigRequired when marked required.
func (c *Context) Configure(target any) error {
	v, def, err := inspect(target)
	if err != nil || def == nil {
		return err
	}
	for _, d := range def.configs {
		raw, ok := c.configValue(d.value)
		if !ok {
			if d.required {
				return errors.Wrapf(ErrConfigRequired, "field %s.%s: %s", v.Type().Name(), d.field, d.value)
			}
			continue
		}
		if err := assign(v.Field(d.index), raw); err != nil {
			return errors.Wrapf(err, "container: field %s.%s = %q", v.Type().Name(), d.field, raw)
		}
	}
	return nil
}

func (c *Context) configValue(tmpl string) (string, bool) {
	if m := placeholder.FindStringSubmatch(tmpl); m != nil && !strings.Contains(m[1], ":") {
		if c.props == nil {
			return "", false
		}
		return c.props.Property(m[1])
	}
	if c.props == nil {
		return tmpl, true
	}
	return c.props.Expand(tmpl), true
}

// assign converts a configuration string to the field's type. Scalars go
// through cast; anything else is decoded as JSON.
func assign(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := cast.ToDurationE(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := cast.ToBoolE(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := cast.ToInt64E(raw)
		if err != nil {
			return err
		}
		if field.OverflowInt(i) {
			return errors.Errorf("value %d overflows %s", i, field.Type())
		}
		field.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := cast.ToUint64E(raw)
		if err != nil {
			return err
		}
		if field.OverflowUint(u) {
			return errors.Errorf("value %d overflows %s", u, field.Type())
		}
		field.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, err := cast.ToFloat64E(raw)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String && !strings.HasPrefix(strings.TrimSpace(raw), "[") {
			parts := strings.Split(raw, ",")
			out := reflect.MakeSlice(field.Type(), 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = reflect.Append(out, reflect.ValueOf(p).Convert(field.Type().Elem()))
				}
			}
			field.Set(out)
			return nil
		}
		return json.Unmarshal([]byte(raw), field.Addr().Interface())
	default:
		return json.Unmarshal([]byte(raw), field.Addr().Interface())
	}
	return nil
}
