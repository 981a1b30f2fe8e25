// Package main implements the strata binary, which archives SQLite databases
// into compressed columnar archives and restores them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stratadb/strata/internal/app"
	"github.com/stratadb/strata/internal/config"
	"github.com/stratadb/strata/internal/observability"
	"github.com/stratadb/strata/internal/pipeline"
)

var commit = "unknown"

// errTablesFailed is returned when a run finished but some tables failed.
var errTablesFailed = errors.New("one or more tables failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errTablesFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	envFiles   []string
	logLevel   string
	logFormat  string
	cacheDir   string
}

// cli carries the state of one command invocation.
type cli struct {
	stdout, stderr io.Writer
	flags          globalFlags
	cfg            *config.Config
	logger         *zap.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "strata",
		Short: "Strata - SQLite to columnar archive converter",
		Long: `Strata converts a SQLite database into a compressed, columnar archive
and rebuilds an equivalent database from it. Archives keep per-chunk
statistics so they can be scanned with filters without a full restore.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return c.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.flags.configFile, "config", "", "Path to configuration file (YAML or JSON)")
	pf.StringSliceVar(&c.flags.envFiles, "env-file", nil, "Environment files to load (default .env when present)")
	pf.StringVar(&c.flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&c.flags.logFormat, "log-format", "", "Log format (console, json)")
	pf.StringVar(&c.flags.cacheDir, "cache-dir", "", "Keep archives fetched from storage in this directory")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(stdout, "strata version %s (commit: %s)\n", app.Version, commit)
			fmt.Fprintf(stdout, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(stdout, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(c.archiveCmd(), c.restoreCmd(), c.inspectCmd(), c.scanCmd())
	return root
}

// load reads configuration and builds the logger. Command flags are applied
// later by each command, on top of the loaded configuration.
func (c *cli) load(cmd *cobra.Command) error {
	cfg, err := config.Load(c.flags.configFile, c.flags.envFiles...)
	if err != nil {
		return err
	}
	if c.flags.logLevel != "" {
		cfg.Log.Level = c.flags.logLevel
	}
	if c.flags.logFormat != "" {
		cfg.Log.Format = c.flags.logFormat
	}
	if c.flags.cacheDir != "" {
		cfg.Storage.Cache.Dir = c.flags.cacheDir
	}
	logger, err := observability.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logger
	return nil
}

// newApp builds the App once command flags have been applied to c.cfg.
func (c *cli) newApp(ctx context.Context, extra ...pipeline.Observer) (*app.App, error) {
	return app.New(ctx, c.cfg, c.logger, extra...)
}
