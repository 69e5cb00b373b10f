package bulk

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wilfranr/control-id-miid/internal/app"
	bulkfile "github.com/wilfranr/control-id-miid/internal/bulk"
	"github.com/wilfranr/control-id-miid/internal/logger"
	"github.com/wilfranr/control-id-miid/internal/reconcile"
)

// Command creates the bulk reconciliation command.
func Command(ctx *app.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk <file>",
		Short: "Reconcile every document listed in a spreadsheet or text file",
		Long: `Reconcile the documents listed in an .xlsx, .csv or .txt file, one after
another in file order. Every outcome is printed as one line of JSON.

Examples:
  controlid-sync bulk documentos.xlsx
  controlid-sync --env PROD bulk pendientes.csv > outcomes.jsonl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			documents, err := bulkfile.ReadDocuments(args[0])
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx.Settings)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck // shutdown errors are logged by the components

			log := app.GetLogger().With(logger.String("file", args[0]))
			enc := json.NewEncoder(cmd.OutOrStdout())
			summary, err := a.Service.Bulk(runCtx, documents, func(out *reconcile.Outcome) {
				if encErr := enc.Encode(out); encErr != nil {
					log.Warn("failed to print outcome", logger.Error(encErr))
				}
			})

			log.Info("bulk pass finished",
				logger.Int("total", summary.Total),
				logger.Int("processed", summary.Processed),
				logger.Any("actions", summary.Actions),
				logger.Duration("duration", summary.Duration))
			return err
		},
	}

	return cmd
}
