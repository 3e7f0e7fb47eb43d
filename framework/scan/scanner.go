package scan

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/km-arc/go-dsi/framework/container"
)

// ErrScannerExists is returned when a lazy scanner name is taken by a
// different scanner.
var ErrScannerExists = errors.New("scan: scanner name already registered")

// Scanner receives catalogued components.
type Scanner interface {
	// Accept reports whether the scanner wants e.
	Accept(e Entry) bool
	// OnCompleted is called once with every accepted entry of a run.
	OnCompleted(found []Entry) error
}

// Run walks packages (duplicates skipped) and hands the accepted entries to
// s in registration order.
func Run(s Scanner, packages ...string) error {
	seen := make(map[string]bool, len(packages))
	var found []Entry
	for _, pkg := range packages {
		if pkg == "" || seen[pkg] {
			continue
		}
		seen[pkg] = true
		for _, e := range Entries(pkg) {
			if s.Accept(e) {
				found = append(found, e)
			}
		}
	}
	return s.OnCompleted(found)
}

// ── ContextScanner ────────────────────────────────────────────────────────────

// ContextScanner instantiates every component and registers it in a
// container.Context as one batch.
type ContextScanner struct {
	ctx *container.Context
}

// NewContextScanner returns a scanner registering into ctx.
func NewContextScanner(ctx *container.Context) *ContextScanner {
	return &ContextScanner{ctx: ctx}
}

// Accept accepts everything.
func (s *ContextScanner) Accept(Entry) bool { return true }

// OnCompleted builds the found components and registers them.
func (s *ContextScanner) OnCompleted(found []Entry) error {
	records := make([]container.Record, 0, len(found))
	for _, e := range found {
		bean := e.New()
		if bean == nil {
			return errors.Errorf("scan: component %s#%s built nil", e.Package, e.Name)
		}
		records = append(records, container.Record{Name: e.Name, Bean: bean})
	}
	if err := s.ctx.RegisterAll(records); err != nil {
		return errors.WithMessage(err, "scan")
	}
	s.ctx.Logger().Debug("components registered", zap.Int("count", len(records)))
	return nil
}

// ── Lazy scanners ─────────────────────────────────────────────────────────────

// ExtraScan asks the lazy scanner Name to scan Packages after the context
// resolved.
type ExtraScan struct {
	Name      string
	Packages  []string
	Recursive bool
}

// LazyScanners is the registry of named scanners run after Resolve.
type LazyScanners struct {
	mu       sync.RWMutex
	scanners map[string]Scanner
	logger   *zap.Logger
}

// NewLazyScanners creates an empty registry.
func NewLazyScanners(logger *zap.Logger) *LazyScanners {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LazyScanners{scanners: make(map[string]Scanner), logger: logger}
}

// BeanName registers the registry as "lazy-scanners".
func (l *LazyScanners) BeanName() string { return "lazy-scanners" }

// Merge adds scanners. Re-adding the same scanner under its name is a no-op.
func (l *LazyScanners) Merge(scanners map[string]Scanner) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for name, s := range scanners {
		if old, ok := l.scanners[name]; ok && old != s {
			return errors.Wrapf(ErrScannerExists, "%q", name)
		}
		l.scanners[name] = s
	}
	return nil
}

// Get returns the scanner called name.
func (l *LazyScanners) Get(name string) (Scanner, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.scanners[name]
	return s, ok
}

// Names returns the registered names, sorted.
func (l *LazyScanners) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.scanners))
	for name := range l.scanners {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RunExtras runs each extra scan with its named scanner. Unknown names are
// logged and skipped.
func (l *LazyScanners) RunExtras(extras ...ExtraScan) error {
	for _, extra := range extras {
		s, ok := l.Get(extra.Name)
		if !ok {
			l.logger.Warn("no lazy scanner", zap.String("name", extra.Name))
			continue
		}
		var packages []string
		for _, pkg := range extra.Packages {
			packages = append(packages, Packages(pkg, extra.Recursive)...)
		}
		l.logger.Debug("running extra scan", zap.String("name", extra.Name), zap.Strings("packages", packages))
		if err := Run(s, packages...); err != nil {
			return errors.Wrapf(err, "scan: extra scan %q", extra.Name)
		}
	}
	return nil
}
