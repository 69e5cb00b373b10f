package reconcile

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wilfranr/control-id-miid/internal/app"
	engine "github.com/wilfranr/control-id-miid/internal/reconcile"
)

// Command creates the one-shot reconciliation command.
func Command(ctx *app.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile [document]",
		Short: "Reconcile one enrollment and print the outcome",
		Long: `Reconcile the enrollment of document, or the latest qualifying enrollment
when no document is given. The outcome is printed as JSON.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx.Settings)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck // shutdown errors are logged by the components

			var out *engine.Outcome
			if len(args) == 1 {
				out, err = a.Service.ReconcileDocument(runCtx, args[0])
			} else {
				out, err = a.Service.ReconcileLatest(runCtx)
			}

			if out != nil {
				data, merr := json.MarshalIndent(out, "", "  ")
				if merr != nil {
					return merr
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			}
			return err
		},
	}

	return cmd
}
