package run

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wilfranr/control-id-miid/internal/app"
	"github.com/wilfranr/control-id-miid/internal/buildinfo"
	"github.com/wilfranr/control-id-miid/internal/logger"
)

// Command creates the command that runs the sync loop in the foreground.
func Command(ctx *app.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync loop with the control API",
		Long:  "Poll the enrollment store and reconcile every new enrollment until SIGINT or SIGTERM.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx.Settings)
			if err != nil {
				return err
			}

			log := app.GetLogger()
			log.Info("controlid-sync starting",
				logger.String("version", buildinfo.Get().Version),
				logger.String("environment", ctx.Settings.Environment),
				logger.String("config", ctx.Settings.ConfigFile))

			runErr := a.Run(runCtx)
			if err := a.Close(); err != nil {
				log.Warn("shutdown incomplete", logger.Error(err))
			}
			log.Info("controlid-sync stopped")
			return runErr
		},
	}

	return cmd
}
