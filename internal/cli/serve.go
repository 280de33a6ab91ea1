package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the job engine and the lifecycle scheduler until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.openApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := a.Start(ctx); err != nil {
				return err
			}
			logger := opts.mustLogger(cmd)
			logger.Info("strata serving",
				slog.String("version", VersionString()),
				slog.Int("concurrency", a.Config().Concurrency),
				slog.String("sweep_schedule", a.Config().SweepSchedule),
				slog.String("dissolution_schedule", a.Config().DissolutionSchedule),
			)

			<-ctx.Done()
			logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config().ShutdownTimeout)
			defer cancel()
			return a.Stop(shutdownCtx)
		},
	}
}

// mustLogger rebuilds the logger after openApp has validated the flags.
func (o *rootOptions) mustLogger(cmd *cobra.Command) *slog.Logger {
	l, err := o.newLogger(cmd.ErrOrStderr())
	if err != nil {
		return slog.Default()
	}
	return l
}
