// Package scan keeps the catalogue of components packages contribute from
// init(), and runs scanners over it.
//
// A package declares its components once:
//
//	func init() {
//		scan.Component[UserService]()
//		scan.Component[UserController]("users")
//	}
//
// and the application scans it by import path:
//
//	scan.Run(scan.NewContextScanner(ctx), "github.com/acme/shop/internal/users")
package scan

import (
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/km-arc/go-dsi/framework/container"
)

// Entry is one catalogued component.
type Entry struct {
	// Package is the import path the component belongs to.
	Package string
	// Name is the bean name. Empty means container.NameOf.
	Name string
	// New builds a fresh instance.
	New func() any
}

var catalogue = struct {
	sync.RWMutex
	entries []Entry
	seen    map[string]bool
}{seen: make(map[string]bool)}

// Component catalogues *T under the package that declares T. An optional
// name overrides the derived bean name.
func Component[T any](name ...string) {
	t := container.TypeOf[T]()
	if t.Kind() != reflect.Struct {
		panic("scan: Component needs a struct type, got " + t.String())
	}
	var n string
	if len(name) > 0 {
		n = name[0]
	}
	Factory(t.PkgPath(), n, func() any { return new(T) })
}

// Factory catalogues a component built by fn under pkg. Registering the same
// named component twice panics, like database/sql.Register.
func Factory(pkg, name string, fn func() any) {
	if pkg == "" || fn == nil {
		panic("scan: Factory needs a package and a constructor")
	}
	catalogue.Lock()
	defer catalogue.Unlock()
	if name != "" {
		key := pkg + "#" + name
		if catalogue.seen[key] {
			panic("scan: component " + key + " registered twice")
		}
		catalogue.seen[key] = true
	}
	catalogue.entries = append(catalogue.entries, Entry{Package: pkg, Name: name, New: fn})
}

// Entries returns the components of pkg in registration order.
func Entries(pkg string) []Entry {
	catalogue.RLock()
	defer catalogue.RUnlock()
	var out []Entry
	for _, e := range catalogue.entries {
		if e.Package == pkg {
			out = append(out, e)
		}
	}
	return out
}

// Packages returns base, and with recursive every catalogued package below
// it, sorted.
func Packages(base string, recursive bool) []string {
	base = strings.TrimSuffix(base, "/")
	if !recursive {
		return []string{base}
	}
	catalogue.RLock()
	defer catalogue.RUnlock()
	set := map[string]bool{base: true}
	for _, e := range catalogue.entries {
		if strings.HasPrefix(e.Package, base+"/") {
			set[e.Package] = true
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// PackageOf returns the import path of the package declaring v's type.
func PackageOf(v any) string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.PkgPath()
}
