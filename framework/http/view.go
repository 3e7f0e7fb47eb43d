package http

import (
	"html/template"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// ViewEngine renders html/template files from a directory.
type ViewEngine struct {
	Dir string `config:"${dsi.httpd.views.dir}"`
	Ext string `config:"${dsi.httpd.views.ext}"`

	// Cache keeps parsed templates; leave it off while editing views.
	Cache bool

	mu    sync.Mutex
	cache map[string]*template.Template
}

// NewViewEngine creates a ViewEngine.
// dir is the templates directory (e.g. "./views"), ext is the file extension (e.g. ".html").
func NewViewEngine(dir, ext string) *ViewEngine {
	return &ViewEngine{Dir: dir, Ext: ext}
}

// BeanName registers the engine as "view".
func (ve *ViewEngine) BeanName() string { return "view" }

// Resolve turns a view name into its file path. A name without an
// extension gets Ext appended.
func (ve *ViewEngine) Resolve(name string) string {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if path.Ext(name) == "" {
		name += ve.Ext
	}
	return filepath.Join(ve.Dir, filepath.FromSlash(name))
}

// Render executes a view into w.
func (ve *ViewEngine) Render(w http.ResponseWriter, name string, data any) error {
	tmpl, err := ve.parse(ve.Resolve(name))
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return errors.Wrapf(tmpl.Execute(w, data), "render %s", name)
}

// View renders a template file with data.
//
//	engine.View(res.Raw(), "home", map[string]any{"title": "Home"})
func (ve *ViewEngine) View(w http.ResponseWriter, name string, data any) {
	tmpl, err := ve.parse(ve.Resolve(name))
	if err != nil {
		http.Error(w, "Template not found: "+name, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Template render error", http.StatusInternalServerError)
	}
}

// ViewWithLayout renders a template with a base layout.
func (ve *ViewEngine) ViewWithLayout(w http.ResponseWriter, layout, name string, data any) {
	layoutPath := ve.Resolve(layout)
	tmpl, err := ve.parse(layoutPath, ve.Resolve(name))
	if err != nil {
		http.Error(w, "Template error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, filepath.Base(layoutPath), data); err != nil {
		http.Error(w, "Render error: "+err.Error(), http.StatusInternalServerError)
	}
}

func (ve *ViewEngine) parse(files ...string) (*template.Template, error) {
	key := strings.Join(files, "|")
	if ve.Cache {
		ve.mu.Lock()
		tmpl, ok := ve.cache[key]
		ve.mu.Unlock()
		if ok {
			return tmpl, nil
		}
	}
	tmpl, err := template.ParseFiles(files...)
	if err != nil {
		return nil, errors.Wrap(err, "parse view")
	}
	if ve.Cache {
		ve.mu.Lock()
		if ve.cache == nil {
			ve.cache = make(map[string]*template.Template)
		}
		ve.cache[key] = tmpl
		ve.mu.Unlock()
	}
	return tmpl, nil
}
