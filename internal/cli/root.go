package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/secondbrain/strata/app"
)

// rootOptions is shared by every subcommand.
type rootOptions struct {
	cfg       app.Config
	envErr    error
	logLevel  string
	logFormat string
	json      bool
}

// Execute runs the strata command tree.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// NewRootCmd builds the command tree. Flag defaults come from STRATA_*
// environment variables, so flags override the environment.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	base := app.DefaultConfig()
	if path, err := DefaultStorePath(); err == nil {
		base.Store = "sqlite://" + path
	}
	opts.cfg, opts.envErr = app.LoadEnv(base, os.LookupEnv)

	cmd := &cobra.Command{
		Use:           "strata",
		Short:         "Lifecycle automation for a personal knowledge base",
		Long:          "strata runs the retrying job engine, the lifecycle sweeps and the 48-hour dissolution of daily notes.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.envErr
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.cfg.Store, "store", opts.cfg.Store, "job store DSN (memory://, sqlite://, postgres://, redis://) [STRATA_STORE]")
	f.StringVar(&opts.cfg.Entities, "entities", opts.cfg.Entities, "entity repository DSN, defaults to the job store [STRATA_ENTITIES]")
	f.BoolVar(&opts.cfg.Audit, "audit", opts.cfg.Audit, "log an audit trail of failures, transitions and dissolutions [STRATA_AUDIT]")
	f.IntVar(&opts.cfg.Concurrency, "concurrency", opts.cfg.Concurrency, "maximum concurrent jobs [STRATA_CONCURRENCY]")
	f.DurationVar(&opts.cfg.PollInterval, "poll-interval", opts.cfg.PollInterval, "storage poll interval [STRATA_POLL_INTERVAL]")
	f.DurationVar(&opts.cfg.DefaultTimeout, "default-timeout", opts.cfg.DefaultTimeout, "timeout for jobs submitted without one [STRATA_DEFAULT_TIMEOUT]")
	f.DurationVar(&opts.cfg.ShutdownTimeout, "shutdown-timeout", opts.cfg.ShutdownTimeout, "graceful shutdown bound [STRATA_SHUTDOWN_TIMEOUT]")
	f.StringVar(&opts.cfg.SweepSchedule, "sweep-schedule", opts.cfg.SweepSchedule, "cron expression of the lifecycle sweep [STRATA_SWEEP_SCHEDULE]")
	f.StringVar(&opts.cfg.DissolutionSchedule, "dissolution-schedule", opts.cfg.DissolutionSchedule, "cron expression of the dissolution review [STRATA_DISSOLUTION_SCHEDULE]")
	f.IntVar(&opts.cfg.SweepBatchSize, "batch-size", opts.cfg.SweepBatchSize, "entities evaluated per sweep [STRATA_SWEEP_BATCH_SIZE]")
	f.DurationVar(&opts.cfg.TransitionAge, "transition-age", opts.cfg.TransitionAge, "age at which capture becomes transitional [STRATA_TRANSITION_AGE]")
	f.DurationVar(&opts.cfg.DissolutionAge, "dissolution-age", opts.cfg.DissolutionAge, "age at which notes are dissolved [STRATA_DISSOLUTION_AGE]")
	f.StringVar(&opts.cfg.DissolutionSourceType, "source-type", opts.cfg.DissolutionSourceType, "entity type eligible for dissolution [STRATA_SOURCE_TYPE]")
	f.StringVar(&opts.logLevel, "log-level", envOr("STRATA_LOG_LEVEL", "info"), "debug, info, warn or error [STRATA_LOG_LEVEL]")
	f.StringVar(&opts.logFormat, "log-format", envOr("STRATA_LOG_FORMAT", "text"), "text or json [STRATA_LOG_FORMAT]")
	f.BoolVar(&opts.json, "json", false, "print results as JSON")

	cmd.AddCommand(
		newVersionCmd(),
		newServeCmd(opts),
		newSweepCmd(opts),
		newDissolveCmd(opts),
		newDueCmd(opts),
		newPreventCmd(opts),
		newPostponeCmd(opts),
		newAllowCmd(opts),
		newJobsCmd(opts),
	)
	return cmd
}

// DefaultStorePath returns ~/.strata/strata.db.
func DefaultStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".strata", "strata.db"), nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// newLogger builds the process logger. Logs go to w, results to stdout.
func (o *rootOptions) newLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", o.logLevel)
	}
	hopts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(o.logFormat) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", o.logFormat)
	}
}

// openApp initializes a node for cmd. One-shot commands run without the
// scheduler.
func (o *rootOptions) openApp(cmd *cobra.Command, withScheduler bool) (*app.App, error) {
	logger, err := o.newLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	cfg := o.cfg
	cfg.DisableScheduler = !withScheduler

	a := app.New(app.WithConfig(cfg), app.WithLogger(logger))
	if err := a.Init(cmd.Context()); err != nil {
		return nil, err
	}
	return a, nil
}
