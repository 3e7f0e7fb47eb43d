package web

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	gohttp "github.com/km-arc/go-dsi/framework/http"
	"github.com/km-arc/go-dsi/framework/session"
)

// DateTime layouts tried in order.
var timeLayouts = []string{"2006-01-02 15:04:05", "2006-01-02"}

var (
	requestType     = reflect.TypeOf((*http.Request)(nil))
	writerType      = reflect.TypeOf((*http.ResponseWriter)(nil)).Elem()
	contextType     = reflect.TypeOf((*context.Context)(nil)).Elem()
	httpContextType = reflect.TypeOf((*HttpContext)(nil))
	sessionType     = reflect.TypeOf((*session.Session)(nil))
	gorequestType   = reflect.TypeOf((*gohttp.Request)(nil))
	goresponseType  = reflect.TypeOf((*gohttp.Response)(nil))
	timeType        = reflect.TypeOf(time.Time{})
	stringType      = reflect.TypeOf("")
)

func internalType(t reflect.Type) bool {
	switch t {
	case requestType, writerType, contextType, httpContextType, sessionType, gorequestType, goresponseType:
		return true
	}
	return false
}

// validationError carries the bag of a body that failed its validate tags.
type validationError struct{ bag *gohttp.Errors }

func (e *validationError) Error() string { return "validation failed" }

// arguments builds the call arguments of route for one request.
func arguments(hc *HttpContext, req *gohttp.Request, route *Route) ([]reflect.Value, error) {
	args := make([]reflect.Value, len(route.Params))
	for i, p := range route.Params {
		t := route.in[i]
		var (
			v   reflect.Value
			err error
		)
		switch p.In {
		case Internal:
			v = internalValue(t, hc, req)
		case QueryString:
			form, ferr := req.Form()
			if ferr != nil {
				return nil, &BindError{Param: p.Name, Err: ferr}
			}
			raw := form.Get(p.Name)
			if raw == "" && p.HasDefault {
				raw = p.Value
			}
			v, err = convert(raw, p.Type, t)
		case RequestBody:
			v, err = bodyValue(req, p, t)
		case Path:
			v, err = convert(hc.Vars[p.Name], p.Type, t)
		case Header:
			v, err = convert(req.Header(p.Name), p.Type, t)
		case RequestAttribute:
			v, err = attributeValue("request attribute", p, t, hc.Attribute(p.Name))
		case SessionAttribute:
			var value any
			if hc.Session != nil {
				value = hc.Session.Get(p.Name)
			}
			v, err = attributeValue("session attribute", p, t, value)
		case ManagedSessionAttribute:
			var value any
			if s := hc.Managed(true); s != nil {
				value = s.Get(p.Name)
			}
			v, err = attributeValue("managed session attribute", p, t, value)
		}
		if err != nil {
			var verr *validationError
			if errors.As(err, &verr) {
				return nil, verr
			}
			return nil, &BindError{Param: p.Name, Err: err}
		}
		args[i] = v
	}
	return args, nil
}

func internalValue(t reflect.Type, hc *HttpContext, req *gohttp.Request) reflect.Value {
	switch t {
	case requestType:
		return reflect.ValueOf(hc.Request)
	case writerType:
		return reflect.ValueOf(&hc.Writer).Elem()
	case contextType:
		v := reflect.New(contextType).Elem()
		v.Set(reflect.ValueOf(hc.Request.Context()))
		return v
	case httpContextType:
		return reflect.ValueOf(hc)
	case sessionType:
		return reflect.ValueOf(hc.Managed(true))
	case gorequestType:
		return reflect.ValueOf(req)
	case goresponseType:
		return reflect.ValueOf(gohttp.NewResponse(hc.Writer))
	}
	return reflect.Zero(t)
}

func bodyValue(req *gohttp.Request, p Param, t reflect.Type) (reflect.Value, error) {
	if !req.HasTextBody() {
		form, err := req.Form()
		if err != nil {
			return reflect.Value{}, err
		}
		return convert(form.Get(p.Name), p.Type, t)
	}
	body, err := req.Body()
	if err != nil {
		return reflect.Value{}, err
	}
	v, err := convert(string(body), p.Type, t)
	if err != nil {
		return v, err
	}
	if isStruct(t) && v.IsValid() && !isNilValue(v) {
		if bag := gohttp.Validate(v.Interface()); bag != nil {
			return v, &validationError{bag: bag}
		}
	}
	return v, nil
}

func isStruct(t reflect.Type) bool {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct && t != timeType
}

func isNilValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return v.IsNil()
	}
	return false
}

// attributeValue fits a stored attribute to t. Strings are converted like
// request values.
func attributeValue(kind string, p Param, t reflect.Type, value any) (reflect.Value, error) {
	if value == nil {
		if !p.IsNullable {
			return reflect.Value{}, errors.Errorf("%s [%s] needs a value", kind, p.Name)
		}
		return reflect.Zero(t), nil
	}
	v := reflect.ValueOf(value)
	if v.Type().AssignableTo(t) {
		out := reflect.New(t).Elem()
		out.Set(v)
		return out, nil
	}
	if s, ok := value.(string); ok {
		return convert(s, p.Type, t)
	}
	return reflect.Value{}, errors.Errorf("%s [%s] is %T, not %s", kind, p.Name, value, t)
}

// convert turns a request string into a value of t, using pt when it is
// not Raw.
func convert(raw string, pt ParamType, t reflect.Type) (reflect.Value, error) {
	var (
		v   any
		err error
	)
	switch pt {
	case Raw:
		return convertType(raw, t)
	case String:
		v = raw
	case Integer:
		v, err = strconv.ParseInt(strings.TrimSpace(raw), 10, 32)
	case Long:
		v, err = strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	case Bool:
		v, err = parseBool(raw)
	case DateTime:
		v, err = parseTime(raw)
	}
	if err != nil {
		return reflect.Value{}, err
	}
	return fit(reflect.ValueOf(v), t)
}

// fit assigns or converts v to t, taking its address for pointer targets.
func fit(v reflect.Value, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	switch {
	case v.Type().AssignableTo(t):
		out.Set(v)
	case t.Kind() == reflect.Ptr:
		elem, err := fit(v, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(elem)
		out.Set(p)
	case v.Type().ConvertibleTo(t) && numeric(v.Kind()) == numeric(t.Kind()):
		out.Set(v.Convert(t))
	default:
		return reflect.Value{}, errors.Errorf("cannot use %s as %s", v.Type(), t)
	}
	return out, nil
}

func numeric(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Float64
}

func convertType(raw string, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	if t == timeType {
		if raw == "" {
			return out, nil
		}
		tm, err := parseTime(raw)
		if err != nil {
			return out, err
		}
		out.Set(reflect.ValueOf(tm))
		return out, nil
	}

	switch t.Kind() {
	case reflect.String:
		out.SetString(raw)
		return out, nil
	case reflect.Ptr:
		if raw == "" {
			return out, nil
		}
		elem, err := convertType(raw, t.Elem())
		if err != nil {
			return out, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(elem)
		out.Set(p)
		return out, nil
	case reflect.Bool:
		if raw == "" {
			return out, nil
		}
		b, err := parseBool(raw)
		if err != nil {
			return out, err
		}
		out.SetBool(b)
		return out, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, t.Bits())
		if err != nil {
			return out, errors.Wrapf(err, "not %s", t)
		}
		out.SetInt(n)
		return out, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, t.Bits())
		if err != nil {
			return out, errors.Wrapf(err, "not %s", t)
		}
		out.SetUint(n)
		return out, nil
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), t.Bits())
		if err != nil {
			return out, errors.Wrapf(err, "not %s", t)
		}
		out.SetFloat(f)
		return out, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			out.SetBytes([]byte(raw))
			return out, nil
		}
	case reflect.Interface:
		if stringType.AssignableTo(t) {
			out.Set(reflect.ValueOf(raw))
			return out, nil
		}
	}

	if raw == "" {
		return out, nil
	}
	p := reflect.New(t)
	if err := json.Unmarshal([]byte(raw), p.Interface()); err != nil {
		return out, errors.Wrapf(err, "not a JSON %s", t)
	}
	return p.Elem(), nil
}

func parseBool(raw string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if b, err := strconv.ParseBool(raw); err == nil {
		return b, nil
	}
	switch strings.ToLower(raw) {
	case "t", "y", "yes", "on":
		return true, nil
	case "f", "n", "no", "off":
		return false, nil
	}
	return false, errors.Errorf("cannot convert %q to boolean", raw)
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if tm, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return tm, nil
		}
	}
	return time.Time{}, errors.Errorf("cannot convert %q to a time", raw)
}
