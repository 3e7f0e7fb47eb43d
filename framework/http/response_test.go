package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	gohttp "github.com/km-arc/go-dsi/framework/http"
)

// ── helpers ──────────────────────────────────────────────────────────────────

func newResponse(t *testing.T) (*gohttp.Response, *httptest.ResponseRecorder) {
	t.Helper()
	rr := httptest.NewRecorder()
	return gohttp.NewResponse(rr), rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&m); err != nil {
		t.Fatalf("decodeJSON: %v", err)
	}
	return m
}

// ── JSON ──────────────────────────────────────────────────────────────────────

func TestResponse_JSON(t *testing.T) {
	res, rr := newResponse(t)
	res.JSON(http.StatusOK, map[string]any{"key": "val"})

	if rr.Code != http.StatusOK {
		t.Errorf("status: got %d want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q want application/json", ct)
	}
	m := decodeJSON(t, rr)
	if m["key"] != "val" {
		t.Errorf("body key: got %v want val", m["key"])
	}
}

func TestResponse_Success(t *testing.T) {
	res, rr := newResponse(t)
	res.Success(map[string]any{"id": float64(1)})

	if rr.Code != http.StatusOK {
		t.Errorf("status: got %d want 200", rr.Code)
	}
	m := decodeJSON(t, rr)
	data, ok := m["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data envelope, got %T", m["data"])
	}
	if data["id"] != float64(1) {
		t.Errorf("data.id: got %v want 1", data["id"])
	}
}

func TestResponse_Created(t *testing.T) {
	res, rr := newResponse(t)
	res.Created(map[string]any{"name": "Alice"})

	if rr.Code != http.StatusCreated {
		t.Errorf("status: got %d want 201", rr.Code)
	}
	m := decodeJSON(t, rr)
	if _, ok := m["data"]; !ok {
		t.Error("expected 'data' key in response")
	}
}

func TestResponse_NoContent(t *testing.T) {
	res, rr := newResponse(t)
	res.NoContent()

	if rr.Code != http.StatusNoContent {
		t.Errorf("status: got %d want 204", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rr.Body.String())
	}
}

// ── Error helpers ─────────────────────────────────────────────────────────────

func TestResponse_Error(t *testing.T) {
	res, rr := newResponse(t)
	res.Error(http.StatusBadRequest, "bad input")

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d want 400", rr.Code)
	}
	m := decodeJSON(t, rr)
	if m["message"] != "bad input" {
		t.Errorf("message: got %v want 'bad input'", m["message"])
	}
}

func TestResponse_Unauthorized_DefaultMessage(t *testing.T) {
	res, rr := newResponse(t)
	res.Unauthorized()

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d want 401", rr.Code)
	}
	m := decodeJSON(t, rr)
	if m["message"] != "Unauthenticated." {
		t.Errorf("message: got %v", m["message"])
	}
}

func TestResponse_Text(t *testing.T) {
	res, rr := newResponse(t)
	res.Text(http.StatusOK, "", 42)

	if ct := rr.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Errorf("Content-Type: got %q", ct)
	}
	if rr.Body.String() != "42" {
		t.Errorf("body: got %q want 42", rr.Body.String())
	}
}

func TestValidate_Passes(t *testing.T) {
	type login struct {
		User string `validate:"required"`
	}
	if errs := gohttp.Validate(login{User: "amy"}); errs != nil {
		t.Errorf("expected no errors, got %v", errs.Bag)
	}
}

func TestResponse_NotFound(t *testing.T) {
	res, rr := newResponse(t)
	res.NotFound()

	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d want 404", rr.Code)
	}
}

// ── ValidationError ───────────────────────────────────────────────────────────

func TestResponse_ValidationError(t *testing.T) {
	res, rr := newResponse(t)

	type signup struct {
		Email string `json:"email" validate:"required,email"`
		Age   int    `json:"age" validate:"min=18"`
	}
	errs := gohttp.Validate(&signup{Age: 3})
	if errs == nil || !errs.Has() {
		t.Fatal("expected validation errors")
	}
	if got := errs.First("age"); got != "The age must be at least 18." {
		t.Errorf("age message: got %q", got)
	}
	res.ValidationError(errs)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("status: got %d want 422", rr.Code)
	}

	var body struct {
		Errors map[string][]string `json:"errors"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body.Errors["email"]; !ok {
		t.Error("expected 'email' key in errors")
	}
}

// ── ViewEngine ────────────────────────────────────────────────────────────────

func writeView(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestViewEngine_Resolve(t *testing.T) {
	ve := gohttp.NewViewEngine("views", ".html")
	if got := ve.Resolve("users/list"); got != filepath.Join("views", "users", "list.html") {
		t.Errorf("Resolve: got %q", got)
	}
	if got := ve.Resolve("/page.tpl"); got != filepath.Join("views", "page.tpl") {
		t.Errorf("Resolve with ext: got %q", got)
	}
	if got := ve.Resolve("../secret"); got != filepath.Join("views", "secret.html") {
		t.Errorf("Resolve escapes dir: got %q", got)
	}
}

func TestViewEngine_Render(t *testing.T) {
	dir := t.TempDir()
	writeView(t, dir, "home.html", "<h1>{{.Title}}</h1>")
	ve := gohttp.NewViewEngine(dir, ".html")
	ve.Cache = true

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		if err := ve.Render(rr, "home", map[string]string{"Title": "Hi"}); err != nil {
			t.Fatal(err)
		}
		if rr.Body.String() != "<h1>Hi</h1>" {
			t.Errorf("body: got %q", rr.Body.String())
		}
	}
}

func TestViewEngine_ViewMissing(t *testing.T) {
	rr := httptest.NewRecorder()
	gohttp.NewViewEngine(t.TempDir(), ".html").View(rr, "nope", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d want 500", rr.Code)
	}
}

func TestViewEngine_ViewWithLayout(t *testing.T) {
	dir := t.TempDir()
	writeView(t, dir, "layout.html", `<main>{{template "content" .}}</main>`)
	writeView(t, dir, "page.html", `{{define "content"}}{{.}}{{end}}`)

	rr := httptest.NewRecorder()
	gohttp.NewViewEngine(dir, ".html").ViewWithLayout(rr, "layout", "page", "x")
	if rr.Body.String() != "<main>x</main>" {
		t.Errorf("body: got %q", rr.Body.String())
	}
}
