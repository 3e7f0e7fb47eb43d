package web

import "strings"

// DefaultContentType is the content type of a method that names none.
const DefaultContentType = "application/json;charset=utf-8"

// Handler is a bean exposing web-mapped methods.
//
//	func (c *UserController) WebMapping() web.Mapping {
//		return web.Mapping{
//			Patterns: []string{"users"},
//			Methods: []web.Method{
//				{Name: "Get", Patterns: []string{"${id}"}, Params: []web.Param{web.PathVar("id").As(web.Long)}},
//				{Name: "Save", Verb: "post", Params: []web.Param{web.Body()}},
//			},
//		}
//	}
type Handler interface {
	WebMapping() Mapping
}

// HandlerType selects how method results are written.
type HandlerType int

const (
	// API handlers write results as JSON or text.
	API HandlerType = iota
	// View handlers forward string results to a view.
	View
)

// Mapping declares the routes of a Handler.
type Mapping struct {
	// Patterns are the category prefixes; every method is mapped below each.
	Patterns []string
	Type     HandlerType
	// Wrapped wraps the JSON results of every method.
	Wrapped bool
	Methods []Method
}

// Method maps one exported method of the handler.
type Method struct {
	// Name of the Go method.
	Name string
	// Verb defaults to "get".
	Verb string
	// Patterns below the category. "" maps the category itself. A method
	// without patterns is not mapped.
	Patterns []string
	// ContentType defaults to DefaultContentType.
	ContentType string
	// Wrapped writes {"code":0,"message":"success","data":result}.
	Wrapped bool
	// Params describe the Go method's arguments, in order.
	Params []Param
}

// Location is where a parameter value comes from.
type Location int

const (
	// Internal parameters are filled by type: the request, the writer, the
	// context, *HttpContext or the managed session.
	Internal Location = iota
	QueryString
	RequestBody
	Path
	Header
	RequestAttribute
	SessionAttribute
	ManagedSessionAttribute
)

var locationNames = [...]string{"internal", "query", "body", "path", "header", "request-attribute", "session-attribute", "managed-session-attribute"}

func (l Location) String() string {
	if int(l) < len(locationNames) {
		return locationNames[l]
	}
	return "unknown"
}

// ParamType overrides how a value is converted. Raw converts by the Go type
// of the argument.
type ParamType int

const (
	Raw ParamType = iota
	String
	Integer
	Long
	Bool
	DateTime
)

// Param describes one handler argument.
type Param struct {
	Name       string
	In         Location
	Type       ParamType
	Value      string // default for empty query values
	HasDefault bool
	IsNullable bool
}

// PathVar binds a ${name} path segment.
func PathVar(name string) Param { return Param{Name: name, In: Path} }

// Query binds a query or form item.
func Query(name string) Param { return Param{Name: name, In: QueryString} }

// Body binds the request body. JSON and text bodies are used whole; for
// forms the item called name is used.
func Body(name ...string) Param {
	p := Param{In: RequestBody}
	if len(name) > 0 {
		p.Name = name[0]
	}
	return p
}

// HeaderItem binds a request header.
func HeaderItem(name string) Param { return Param{Name: name, In: Header} }

// RequestAttr binds an attribute of the HttpContext.
func RequestAttr(name string) Param { return Param{Name: name, In: RequestAttribute} }

// SessionAttr binds an attribute of the HTTP session.
func SessionAttr(name string) Param { return Param{Name: name, In: SessionAttribute} }

// ManagedSessionAttr binds an attribute of the managed session, creating
// the session when the request carries none.
func ManagedSessionAttr(name string) Param { return Param{Name: name, In: ManagedSessionAttribute} }

// Inject binds an internal value by the argument's type.
func Inject() Param { return Param{In: Internal} }

// As sets the conversion type.
func (p Param) As(t ParamType) Param { p.Type = t; return p }

// Default sets the value used when a query item is empty.
func (p Param) Default(v string) Param { p.Value, p.HasDefault = v, true; return p }

// Nullable allows a missing attribute.
func (p Param) Nullable() Param { p.IsNullable = true; return p }

func (p Param) validate() error {
	p.Name = strings.TrimSpace(p.Name)
	switch p.In {
	case Internal, RequestBody:
		return nil
	}
	if p.Name == "" {
		return errorf("%s parameter without a name", p.In)
	}
	return nil
}
