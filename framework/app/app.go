// Package app builds the root context of an application and runs it.
//
//	a, err := app.Start(app.Options{
//		ScanPackages: []string{"github.com/acme/shop/internal"},
//		Recursive:    true,
//		ConfigFile:   "conf/app.yaml",
//	})
//	if err != nil { ... }
//	return a.Run(context.Background())
package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/km-arc/go-dsi/framework/config"
	"github.com/km-arc/go-dsi/framework/container"
	"github.com/km-arc/go-dsi/framework/logging"
	"github.com/km-arc/go-dsi/framework/providers"
	"github.com/km-arc/go-dsi/framework/scan"
	"github.com/km-arc/go-dsi/framework/shutdown"
)

// Version is the framework version, set at link time.
var Version = "dev"

// Runner is a bean that serves until its context ends, like the embedded
// HTTP server.
type Runner interface {
	Run(ctx context.Context) error
}

// Options describes an application.
type Options struct {
	Name string
	// ScanPackages are scanned after the starters' packages.
	ScanPackages []string
	Recursive    bool
	// ConfigFile is an optional YAML or properties file.
	ConfigFile string
	EnvFiles   []string
	// Properties override the configuration, e.g. from command line flags.
	Properties map[string]string
	// Extras run with the lazy scanners once the context resolved.
	Extras []scan.ExtraScan
	// WatchConfig reloads ConfigFile on change while running.
	WatchConfig bool
	// ShutdownDir holds the shutdown port file; empty is os.TempDir().
	ShutdownDir string
	// Logger replaces the configured logger.
	Logger *zap.Logger
	// Starters replaces the registered starters.
	Starters []providers.Starter
}

// Application is a started application.
type Application struct {
	Config  *config.Config
	Context *container.Context
	Logger  *zap.Logger
	Lazy    *scan.LazyScanners

	opts      Options
	hook      *shutdown.Hook
	closeOnce sync.Once
	closeErr  error
}

// Start configures, scans and resolves the application context.
func Start(opts Options) (*Application, error) {
	cfg, err := config.Load(opts.ConfigFile, opts.EnvFiles...)
	if err != nil {
		return nil, err
	}
	if opts.Name != "" {
		cfg.SetDefault(config.KeyAppName, opts.Name)
	}
	for k, v := range opts.Properties {
		cfg.Set(k, v)
	}

	logger := opts.Logger
	if logger == nil {
		logger, err = logging.New(logging.Options{
			Level:       cfg.App.LogLevel,
			File:        cfg.App.LogFile,
			Development: cfg.App.Debug,
		})
		if err != nil {
			return nil, err
		}
	}
	logger = logger.With(zap.String("app", cfg.App.Name))

	ctx := container.New(container.WithLogger(logger), container.WithProperties(cfg))
	a := &Application{
		Config:  cfg,
		Context: ctx,
		Logger:  logger,
		Lazy:    scan.NewLazyScanners(logger),
		opts:    opts,
	}
	if err := a.build(); err != nil {
		_ = ctx.Close()
		return nil, err
	}
	return a, nil
}

func (a *Application) build() error {
	ctx := a.Context
	if err := ctx.RegisterNamed("logger", a.Logger); err != nil {
		return err
	}
	if err := ctx.Register(a.Lazy); err != nil {
		return err
	}

	starters := a.opts.Starters
	if starters == nil {
		starters = providers.Starters()
	}
	if err := providers.Apply(ctx, a.Lazy, starters...); err != nil {
		return errors.WithMessage(err, "app: starters")
	}

	var packages []string
	for _, pkg := range a.opts.ScanPackages {
		packages = append(packages, scan.Packages(pkg, a.opts.Recursive)...)
	}
	if err := scan.Run(scan.NewContextScanner(ctx), packages...); err != nil {
		return err
	}

	if err := ctx.Resolve(); err != nil {
		return err
	}
	if err := a.Lazy.RunExtras(a.opts.Extras...); err != nil {
		return err
	}

	if port := shutdown.PickPort(a.Config.App.ShutdownPort); port > 0 {
		hook, err := shutdown.Bind(port, a.opts.ShutdownDir, a.Logger, nil)
		if err != nil {
			return err
		}
		a.hook = hook
	} else {
		a.Logger.Debug("shutdown hook disabled")
	}

	a.Logger.Info("application started",
		zap.String("env", a.Environment()),
		zap.Int("starters", len(starters)),
		zap.Int("beans", len(ctx.Names())))
	return nil
}

// Run runs every Runner bean until ctx ends, SIGINT or SIGTERM arrives,
// the shutdown hook fires or a runner fails. The application is closed
// before Run returns.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.opts.WatchConfig && a.Config.File() != "" {
		if err := a.Config.Watch(ctx, a.Logger, nil); err != nil {
			a.Logger.Warn("configuration not watched", zap.Error(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range container.ListOf[Runner](a.Context) {
		r := r
		g.Go(func() error { return r.Run(gctx) })
	}

	var requested <-chan struct{}
	if a.hook != nil {
		requested = a.hook.Done()
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-requested:
			return errShutdown
		}
	})

	err := g.Wait()
	if errors.Is(err, errShutdown) {
		err = nil
	}
	if closeErr := a.Close(); err == nil {
		err = closeErr
	}
	return err
}

var errShutdown = errors.New("app: shutdown requested")

// Close disposes the context and the shutdown hook once.
func (a *Application) Close() error {
	a.closeOnce.Do(func() {
		if a.hook != nil {
			_ = a.hook.Close()
		}
		a.closeErr = a.Context.Close()
		a.Logger.Info("application stopped")
		_ = a.Logger.Sync()
	})
	return a.closeErr
}

// ShutdownPort returns the bound shutdown port, or -1.
func (a *Application) ShutdownPort() int {
	if a.hook == nil {
		return -1
	}
	return a.hook.Port()
}

// Environment returns app.env.
func (a *Application) Environment() string { return a.Config.Environment() }

// IsLocal reports whether app.env is "local".
func (a *Application) IsLocal() bool { return a.Config.IsLocal() }

// IsProduction reports whether app.env is "production".
func (a *Application) IsProduction() bool { return a.Config.IsProduction() }

// IsDebug reports app.debug.
func (a *Application) IsDebug() bool { return a.Config.App.Debug }
