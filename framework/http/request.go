package http

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

const maxMemory = 32 << 20 // 32 MB

// Request wraps *http.Request with input helpers. The body is read at most
// once; Body, Bind and the form helpers share it.
type Request struct {
	raw  *http.Request
	body []byte
	read bool
}

// NewRequest wraps a standard *http.Request.
func NewRequest(r *http.Request) *Request {
	return &Request{raw: r}
}

// Raw returns the underlying *http.Request.
func (req *Request) Raw() *http.Request { return req.raw }

// ── Body ─────────────────────────────────────────────────────────────────────

// Body returns the raw request body.
func (req *Request) Body() ([]byte, error) {
	if req.read {
		return req.body, nil
	}
	req.read = true
	if req.raw.Body == nil || req.raw.Body == http.NoBody {
		return nil, nil
	}
	defer req.raw.Body.Close()
	body, err := io.ReadAll(req.raw.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read request body")
	}
	req.body = body
	// form parsing reads the body again
	req.raw.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// Bind decodes the request body into v.
// Supports JSON and application/x-www-form-urlencoded / multipart.
// Form fields map via the `json` tags.
func (req *Request) Bind(v any) error {
	ct := req.ContentType()

	switch {
	case strings.Contains(ct, "application/json"):
		return req.bindJSON(v)
	case strings.Contains(ct, "multipart/form-data"):
		if err := req.raw.ParseMultipartForm(maxMemory); err != nil {
			return err
		}
		return bindForm(req.raw.MultipartForm.Value, v)
	default:
		form, err := req.Form()
		if err != nil {
			return err
		}
		return bindForm(form, v)
	}
}

func (req *Request) bindJSON(v any) error {
	body, err := req.Body()
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errors.New("empty request body")
	}
	return json.Unmarshal(body, v)
}

// bindForm maps form values onto a struct through a JSON round trip.
func bindForm(values map[string][]string, v any) error {
	m := make(map[string]any, len(values))
	for k, vals := range values {
		if len(vals) == 1 {
			m[k] = vals[0]
		} else {
			m[k] = vals
		}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// ── Input helpers ────────────────────────────────────────────────────────────

// Form returns query and urlencoded body values together. PUT and PATCH
// bodies are included.
func (req *Request) Form() (url.Values, error) {
	if req.raw.Form == nil {
		if _, err := req.Body(); err != nil {
			return nil, err
		}
		if err := req.raw.ParseForm(); err != nil {
			return nil, errors.Wrap(err, "parse form")
		}
	}
	return req.raw.Form, nil
}

// Input returns a single input value (query string OR post body).
func (req *Request) Input(key string, fallback ...string) string {
	form, _ := req.Form()
	v := form.Get(key)
	if v == "" && len(fallback) > 0 {
		return fallback[0]
	}
	return v
}

// Query returns a query-string value.
func (req *Request) Query(key string, fallback ...string) string {
	v := req.raw.URL.Query().Get(key)
	if v == "" && len(fallback) > 0 {
		return fallback[0]
	}
	return v
}

// All returns all input as a flat map (query + post).
func (req *Request) All() map[string]string {
	form, _ := req.Form()
	out := make(map[string]string)
	for k, v := range form {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// Has returns true if the key is present and non-empty.
func (req *Request) Has(key string) bool {
	return req.Input(key) != ""
}

// RouteParam returns a URL route parameter (chi).
func (req *Request) RouteParam(key string) string {
	return chi.URLParam(req.raw, key)
}

// Header returns a request header value.
func (req *Request) Header(key string) string {
	return req.raw.Header.Get(key)
}

// BearerToken extracts the token from Authorization: Bearer <token>.
func (req *Request) BearerToken() string {
	auth := req.raw.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// IP returns the client IP (respects RealIP middleware).
func (req *Request) IP() string {
	return req.raw.RemoteAddr
}

// Method returns the HTTP method.
func (req *Request) Method() string { return req.raw.Method }

// Path returns the URL path.
func (req *Request) Path() string { return req.raw.URL.Path }

// ContentType returns the Content-Type header value, lower-cased.
func (req *Request) ContentType() string {
	return strings.ToLower(req.raw.Header.Get("Content-Type"))
}

// IsJSON returns true when the request expects a JSON response.
func (req *Request) IsJSON() bool {
	return strings.Contains(req.raw.Header.Get("Accept"), "application/json") ||
		strings.Contains(req.ContentType(), "application/json")
}

// HasTextBody reports whether the body is JSON or plain text rather than a
// form.
func (req *Request) HasTextBody() bool {
	ct := req.ContentType()
	return strings.Contains(ct, "json") || strings.Contains(ct, "text/plain")
}

// ── File uploads ─────────────────────────────────────────────────────────────

// File returns an uploaded file by field name.
func (req *Request) File(key string) (*multipart.FileHeader, error) {
	if err := req.raw.ParseMultipartForm(maxMemory); err != nil {
		return nil, err
	}
	_, fh, err := req.raw.FormFile(key)
	return fh, err
}

// Files returns all uploaded files for a field.
func (req *Request) Files(key string) ([]*multipart.FileHeader, error) {
	if err := req.raw.ParseMultipartForm(maxMemory); err != nil {
		return nil, err
	}
	if req.raw.MultipartForm == nil {
		return nil, errors.New("no multipart form")
	}
	return req.raw.MultipartForm.File[key], nil
}
