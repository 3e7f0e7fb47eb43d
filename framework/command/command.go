// Package command is the command line of a go-dsi application.
//
//	func main() {
//		command.Execute(app.Options{ScanPackages: []string{"github.com/acme/shop/internal"}, Recursive: true})
//	}
package command

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/km-arc/go-dsi/framework/app"
	"github.com/km-arc/go-dsi/framework/config"
	"github.com/km-arc/go-dsi/framework/container"
	"github.com/km-arc/go-dsi/framework/shutdown"
	"github.com/km-arc/go-dsi/framework/web"
)

type flags struct {
	config       string
	envFiles     []string
	verbose      bool
	logLevel     string
	logFile      string
	shutdownPort int
	env          string
	watch        bool
	shutdownDir  string
}

// apply copies the flags that were set into opts.
func (f *flags) apply(cmd *cobra.Command, opts app.Options) app.Options {
	props := make(map[string]string, len(opts.Properties)+4)
	for k, v := range opts.Properties {
		props[k] = v
	}
	set := cmd.Flags().Changed
	if set("config") {
		opts.ConfigFile = f.config
	}
	if set("env-file") {
		opts.EnvFiles = f.envFiles
	}
	if set("log-level") {
		props[config.KeyLogLevel] = f.logLevel
	}
	if f.verbose {
		props[config.KeyLogLevel] = "trace"
	}
	if set("log-file") {
		props[config.KeyLogFile] = f.logFile
	}
	if set("shutdown-port") {
		props[config.KeyShutdownPort] = strconv.Itoa(f.shutdownPort)
	}
	if set("env") {
		props[config.KeyAppEnv] = f.env
	}
	if f.watch {
		opts.WatchConfig = true
	}
	if f.shutdownDir != "" {
		opts.ShutdownDir = f.shutdownDir
	}
	opts.Properties = props
	return opts
}

// New returns the root command for an application described by opts.
func New(opts app.Options) *cobra.Command {
	f := &flags{}
	name := opts.Name
	if name == "" {
		name = "dsi"
	}
	root := &cobra.Command{
		Use:           name,
		Short:         "Run the " + name + " application",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&f.config, "config", "c", "", "configuration file (yaml or properties)")
	pf.StringSliceVar(&f.envFiles, "env-file", nil, ".env files to load")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "log at trace level")
	pf.StringVar(&f.logLevel, "log-level", "", "trace, debug, info, warn or error")
	pf.StringVar(&f.logFile, "log-file", "", "also log to this file")
	pf.IntVar(&f.shutdownPort, "shutdown-port", -1, "local shutdown port, 0 picks one, -1 disables")
	pf.StringVar(&f.env, "env", "", "application environment")
	pf.StringVar(&f.shutdownDir, "shutdown-dir", "", "directory of the shutdown port file")

	run := runCommand(f, opts)
	run.Flags().BoolVar(&f.watch, "watch", false, "reload the configuration file on change")
	root.AddCommand(run, routesCommand(f, opts), envCommand(f, opts), shutdownCommand(f), versionCommand())
	root.RunE = run.RunE
	return root
}

// Execute runs the root command with os.Args and exits non-zero on error.
func Execute(opts app.Options) {
	root := New(opts)
	if shutdown.IsShutdownArg(os.Args[1:]...) && len(os.Args) == 2 {
		root.SetArgs([]string{"shutdown"})
	}
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runCommand(f *flags, opts app.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the application and serve until stopped",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.Start(f.apply(cmd, opts))
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return a.Run(ctx)
		},
	}
}

func routesCommand(f *flags, opts app.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Print the mapped web handler routes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := f.apply(cmd, opts)
			opts.Properties[config.KeyShutdownPort] = "-1"
			a, err := app.Start(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			table, err := container.Resolve[*web.Table](a.Context)
			if err != nil {
				return err
			}
			return printRoutes(cmd.OutOrStdout(), a.Config.App.APIMapping, table.Routes())
		},
	}
}

func printRoutes(out io.Writer, mapping string, routes []*web.Route) error {
	if mapping == "/" {
		mapping = ""
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERB\tPATH\tHANDLER\tCONTENT TYPE")
	for _, r := range routes {
		fmt.Fprintf(tw, "%s\t%s%s\t%s#%s\t%s\n", r.Verb, mapping, r.Path, r.BeanName, r.MethodName, r.ContentType)
	}
	return tw.Flush()
}

func envCommand(f *flags, opts app.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := f.apply(cmd, opts)
			cfg, err := config.Load(opts.ConfigFile, opts.EnvFiles...)
			if err != nil {
				return err
			}
			for k, v := range opts.Properties {
				cfg.Set(k, v)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "environment:", cfg.Environment())
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, k := range cfg.Keys() {
				v, _ := cfg.Property(k)
				fmt.Fprintf(tw, "%s\t%s\n", k, v)
			}
			return tw.Flush()
		},
	}
}

func shutdownCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:     "shutdown",
		Aliases: []string{"stop"},
		Short:   "Stop a running application through its shutdown port",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := shutdown.Request(f.shutdownDir); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "shutdown requested")
			return nil
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the framework version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "go-dsi", app.Version)
		},
	}
}
