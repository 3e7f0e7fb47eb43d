package web_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gohttp "github.com/km-arc/go-dsi/framework/http"
	"github.com/km-arc/go-dsi/framework/metrics"
	"github.com/km-arc/go-dsi/framework/session"
	"github.com/km-arc/go-dsi/framework/web"
)

// ── fixtures ──────────────────────────────────────────────────────────────────

type user struct {
	ID   int64  `json:"id"`
	Name string `json:"name" validate:"required"`
}

type userController struct {
	users map[int64]*user
}

func (c *userController) WebMapping() web.Mapping {
	return web.Mapping{
		Patterns: []string{"users"},
		Methods: []web.Method{
			{Name: "List", Patterns: []string{""}, Params: []web.Param{web.Query("page").As(web.Integer).Default("1")}},
			{Name: "Get", Patterns: []string{"${id}"}, Params: []web.Param{web.PathVar("id")}},
			{Name: "Save", Verb: "POST", Patterns: []string{""}, Wrapped: true, Params: []web.Param{web.Body()}},
			{Name: "Avatar", Patterns: []string{"${id}/avatar-${size}.png"}, ContentType: "text/plain",
				Params: []web.Param{web.PathVar("id"), web.PathVar("size")}},
			{Name: "Files", Patterns: []string{"files/*"}, ContentType: "text/plain", Params: []web.Param{web.Inject()}},
			{Name: "Login", Verb: "post", Patterns: []string{"login"}, Params: []web.Param{web.Query("name"), web.Inject()}},
			{Name: "Me", Patterns: []string{"me"}, Params: []web.Param{web.ManagedSessionAttr("user").Nullable()}},
			{Name: "Whoami", Patterns: []string{"whoami"}, Params: []web.Param{web.RequestAttr("user")}},
			{Name: "Visits", Patterns: []string{"visits"}, Params: []web.Param{web.Inject()}},
			{Name: "Since", Patterns: []string{"since"}, ContentType: "text/plain", Params: []web.Param{web.HeaderItem("X-Since").As(web.DateTime)}},
			{Name: "Boom", Patterns: []string{"boom"}},
			{Name: "Raw", Patterns: []string{"raw"}, Params: []web.Param{web.Inject()}},
		},
	}
}

func (c *userController) List(page int) map[string]any {
	return map[string]any{"page": page, "count": len(c.users)}
}

func (c *userController) Get(id int64) (*user, error) {
	u, ok := c.users[id]
	if !ok {
		return nil, web.Errorf(http.StatusNotFound, "user %d not found", id)
	}
	return u, nil
}

func (c *userController) Save(u *user) (*user, error) {
	u.ID = int64(len(c.users) + 1)
	c.users[u.ID] = u
	return u, nil
}

func (c *userController) Avatar(id string, size int) string {
	return id + "@" + strings.Repeat("x", size/32)
}

func (c *userController) Files(r *http.Request) string { return r.URL.Path }

func (c *userController) Login(name string, s *session.Session) string {
	s.Set("user", name)
	return s.ID
}

func (c *userController) Me(name any) map[string]any {
	return map[string]any{"user": name}
}

func (c *userController) Whoami(name string) string { return name }

func (c *userController) Visits(hc *web.HttpContext) int {
	n, _ := hc.Session.Get("visits").(int)
	n++
	hc.Session.Set("visits", n)
	return n
}

func (c *userController) Since(t time.Time) int { return t.Year() }

func (c *userController) Boom() { panic("boom") }

func (c *userController) Raw(w http.ResponseWriter) {
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("raw"))
}

type pageController struct{}

func (pageController) WebMapping() web.Mapping {
	return web.Mapping{
		Patterns: []string{"pages"},
		Type:     web.View,
		Methods: []web.Method{
			{Name: "Home", Patterns: []string{"home"}, ContentType: "text/html"},
		},
	}
}

func (pageController) Home() string { return "home" }

func newDispatcher(t *testing.T) *web.Dispatcher {
	t.Helper()
	tbl := web.NewTable()
	require.NoError(t, tbl.Add("userController", &userController{users: map[int64]*user{1: {ID: 1, Name: "alice"}}}))
	require.NoError(t, tbl.Add("pageController", pageController{}))

	views := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(views, "home.html"), []byte(`<p>{{.Route.Path}}</p>`), 0o644))

	d := web.NewDispatcher(tbl, "/apis")
	d.Sessions = session.NewManager("http")
	d.Managed = session.NewManager("managed")
	d.Views = gohttp.NewViewEngine(views, ".html")
	d.Metrics = metrics.NewCollector()
	return d
}

func serve(d http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	d.ServeHTTP(rr, r)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &m), rr.Body.String())
	return m
}

// ── routing ───────────────────────────────────────────────────────────────────

func TestDispatcher_NotFound(t *testing.T) {
	d := newDispatcher(t)
	for _, path := range []string{"/apis", "/other/users/1", "/apis/nothing", "/apisusers/1"} {
		rr := serve(d, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
	}
}

func TestDispatcher_MethodNotAllowed(t *testing.T) {
	rr := serve(newDispatcher(t), httptest.NewRequest(http.MethodPut, "/apis/users/1", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

// ── binding ───────────────────────────────────────────────────────────────────

func TestDispatcher_QueryDefault(t *testing.T) {
	d := newDispatcher(t)

	rr := serve(d, httptest.NewRequest(http.MethodGet, "/apis/users/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, web.DefaultContentType, rr.Header().Get("Content-Type"))
	assert.Equal(t, 1.0, decode(t, rr)["page"])

	rr = serve(d, httptest.NewRequest(http.MethodGet, "/apis/users/?page=3", nil))
	assert.Equal(t, 3.0, decode(t, rr)["page"])
}

func TestDispatcher_PathVariable(t *testing.T) {
	rr := serve(newDispatcher(t), httptest.NewRequest(http.MethodGet, "/apis/users/1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "alice", decode(t, rr)["name"])
}

func TestDispatcher_PrefixedVariables(t *testing.T) {
	rr := serve(newDispatcher(t), httptest.NewRequest(http.MethodGet, "/apis/users/7/avatar-64.png", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "7@xx", rr.Body.String())
	assert.Equal(t, "text/plain", rr.Header().Get("Content-Type"))
}

func TestDispatcher_Wildcard(t *testing.T) {
	rr := serve(newDispatcher(t), httptest.NewRequest(http.MethodGet, "/apis/users/files/a.txt", nil))
	assert.Equal(t, "/apis/users/files/a.txt", rr.Body.String())
}

func TestDispatcher_BindErrorIs400(t *testing.T) {
	rr := serve(newDispatcher(t), httptest.NewRequest(http.MethodGet, "/apis/users/abc", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, 400.0, body["code"])
	assert.Contains(t, body["error"], "parameter [id]")
}

func TestDispatcher_DateTimeHeader(t *testing.T) {
	d := newDispatcher(t)
	r := httptest.NewRequest(http.MethodGet, "/apis/users/since", nil)
	r.Header.Set("X-Since", "2021-03-04 05:06:07")
	assert.Equal(t, "2021", serve(d, r).Body.String())

	r = httptest.NewRequest(http.MethodGet, "/apis/users/since", nil)
	r.Header.Set("X-Since", "2019-12-31")
	assert.Equal(t, "2019", serve(d, r).Body.String())
}

// ── results ───────────────────────────────────────────────────────────────────

func TestDispatcher_WrappedJSONBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/apis/users/", strings.NewReader(`{"name":"bob"}`))
	r.Header.Set("Content-Type", "application/json")
	rr := serve(newDispatcher(t), r)

	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, 0.0, body["code"])
	assert.Equal(t, "success", body["message"])
	assert.Equal(t, "bob", body["data"].(map[string]any)["name"])
}

func TestDispatcher_BodyValidation(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/apis/users/", strings.NewReader(`{}`))
	r.Header.Set("Content-Type", "application/json")
	rr := serve(newDispatcher(t), r)

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	errs := decode(t, rr)["errors"].(map[string]any)
	assert.Contains(t, errs, "name")
}

func TestDispatcher_HandlerError(t *testing.T) {
	rr := serve(newDispatcher(t), httptest.NewRequest(http.MethodGet, "/apis/users/9", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, 404.0, body["code"])
	assert.Equal(t, "user 9 not found", body["message"])
	assert.Nil(t, body["data"])
}

func TestDispatcher_PanicIs500(t *testing.T) {
	d := newDispatcher(t)
	rr := serve(d, httptest.NewRequest(http.MethodGet, "/apis/users/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(d.Metrics.HTTPRequests.WithLabelValues("get", "/users/boom", "500")))
}

func TestDispatcher_HandlerWritesItself(t *testing.T) {
	rr := serve(newDispatcher(t), httptest.NewRequest(http.MethodGet, "/apis/users/raw", nil))
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "raw", rr.Body.String())
}

func TestDispatcher_ViewHandler(t *testing.T) {
	rr := serve(newDispatcher(t), httptest.NewRequest(http.MethodGet, "/apis/pages/home", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "<p>/pages/home</p>", rr.Body.String())
}

// ── sessions & attributes ─────────────────────────────────────────────────────

func TestDispatcher_ManagedSession(t *testing.T) {
	d := newDispatcher(t)

	// no header yet: the injected session is created and announced
	rr := serve(d, httptest.NewRequest(http.MethodPost, "/apis/users/login?name=carol", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	key := rr.Header().Get(web.ManagedSessionHeader)
	require.NotEmpty(t, key)
	assert.Equal(t, 1, d.Managed.Len())

	r := httptest.NewRequest(http.MethodGet, "/apis/users/me", nil)
	r.Header.Set(web.ManagedSessionHeader, key)
	rr = serve(d, r)
	assert.Equal(t, key, rr.Header().Get(web.ManagedSessionHeader))
	assert.Equal(t, "carol", decode(t, rr)["user"])
}

func TestDispatcher_ManagedSessionDisabled(t *testing.T) {
	d := newDispatcher(t)
	d.ManagedEnabled = false

	rr := serve(d, httptest.NewRequest(http.MethodGet, "/apis/users/me", nil))
	assert.Empty(t, rr.Header().Get(web.ManagedSessionHeader))
	assert.Equal(t, 0, d.Managed.Len())
}

func TestDispatcher_CookieSession(t *testing.T) {
	d := newDispatcher(t)

	rr := serve(d, httptest.NewRequest(http.MethodGet, "/apis/users/visits", nil))
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, web.SessionCookie, cookies[0].Name)

	r := httptest.NewRequest(http.MethodGet, "/apis/users/visits", nil)
	r.AddCookie(cookies[0])
	rr = serve(d, r)
	assert.Equal(t, "2\n", rr.Body.String())
	assert.Empty(t, rr.Result().Cookies())
}

func TestDispatcher_RequestAttributeFromFilter(t *testing.T) {
	d := newDispatcher(t)
	filter := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.ServeHTTP(w, web.SetAttribute(r, "user", "dave"))
	})

	rr := serve(filter, httptest.NewRequest(http.MethodGet, "/apis/users/whoami", nil))
	assert.Equal(t, `"dave"`+"\n", rr.Body.String())

	rr = serve(d, httptest.NewRequest(http.MethodGet, "/apis/users/whoami", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
