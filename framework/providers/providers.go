// Package providers keeps the starters: packages that contribute framework
// components to every application importing them.
package providers

import (
	"sync"

	"github.com/km-arc/go-dsi/framework/container"
	"github.com/km-arc/go-dsi/framework/scan"
)

// Starter is registered from the init() of a framework package. Its own
// package is always scanned; ScanPackages adds more.
//
//	func init() { providers.Register(Starter{}) }
type Starter interface {
	// ScanPackages returns extra packages to scan with the application.
	ScanPackages() []string
	// Recursive expands ScanPackages to their sub-packages.
	Recursive() bool
	// ExtraScanners returns the lazy scanners the starter provides, by name.
	ExtraScanners(ctx *container.Context) map[string]scan.Scanner
}

// Base is a Starter contributing nothing but its own package. Embed it.
type Base struct{}

func (Base) ScanPackages() []string                                   { return nil }
func (Base) Recursive() bool                                          { return false }
func (Base) ExtraScanners(*container.Context) map[string]scan.Scanner { return nil }

var registry struct {
	sync.Mutex
	starters []Starter
}

// Register adds a starter. Registering the same starter value twice is a
// no-op.
func Register(s Starter) {
	if s == nil {
		panic("providers: Register of a nil starter")
	}
	registry.Lock()
	defer registry.Unlock()
	for _, old := range registry.starters {
		if old == s {
			return
		}
	}
	registry.starters = append(registry.starters, s)
}

// Starters returns the registered starters in registration order.
func Starters() []Starter {
	registry.Lock()
	defer registry.Unlock()
	return append([]Starter(nil), registry.starters...)
}

// Packages returns the packages a starter wants scanned: its own first.
func Packages(s Starter) []string {
	out := []string{scan.PackageOf(s)}
	for _, p := range s.ScanPackages() {
		out = append(out, scan.Packages(p, s.Recursive())...)
	}
	return out
}

// Apply scans the packages of every starter into ctx and merges their extra
// scanners into lazy.
func Apply(ctx *container.Context, lazy *scan.LazyScanners, starters ...Starter) error {
	var packages []string
	for _, s := range starters {
		packages = append(packages, Packages(s)...)
		if extra := s.ExtraScanners(ctx); len(extra) > 0 {
			if err := lazy.Merge(extra); err != nil {
				return err
			}
		}
	}
	return scan.Run(scan.NewContextScanner(ctx), packages...)
}
