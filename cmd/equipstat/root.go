package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/equipstat/internal/config"
	"github.com/JonMunkholm/equipstat/internal/core"
	"github.com/JonMunkholm/equipstat/internal/exitcode"
	"github.com/JonMunkholm/equipstat/internal/logging"
	"github.com/JonMunkholm/equipstat/internal/store"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

// codeOf returns the exit code for an error returned by Execute. Flag and
// argument errors from cobra are usage errors.
func codeOf(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitcode.UsageError
}

// describe renders err for the terminal. Errors with a support code get a
// second line with the user message and suggested action.
func describe(err error) string {
	s := "Error: " + err.Error()
	if core.IsUserFacing(err) {
		s += "\n" + core.FormatUserError(err)
	}
	return s
}

// NewRootCommand builds the equipstat command tree.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{}

	rc := &cobra.Command{
		Use:   "equipstat",
		Short: "Equipment parameter CSV analytics service",
		Long: `equipstat accepts CSV files of equipment readings (name, type, flowrate,
pressure, temperature), stores a per-user history of summarized datasets and
serves them over an authenticated HTTP API with PDF and data exports.

Configuration comes from the environment (a .env file in the working
directory is loaded first) and, optionally, a flat YAML file given with
--config whose keys are the environment variable names.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rc.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", os.Getenv("EQUIPSTAT_CONFIG"), "YAML config file (or set EQUIPSTAT_CONFIG)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level override: debug, info, warn, error")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format override: text or json")

	rc.AddCommand(newServeCommand(opts))
	rc.AddCommand(newMigrateCommand(opts, stdout))
	rc.AddCommand(newIngestCommand(opts, stdin, stdout))
	rc.AddCommand(newUseraddCommand(opts, stdout))

	rc.SetIn(stdin)
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// loadConfig reads the configuration, applies flag overrides and installs
// the process logger.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(o.configPath)
	if err != nil {
		return nil, exitWith(exitcode.ConfigError, err)
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

// openDB connects to the configured database.
func openDB(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, *store.Store, error) {
	pool, err := store.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		return nil, nil, exitWith(exitcode.DBConnError, err)
	}
	return pool, store.New(pool), nil
}
