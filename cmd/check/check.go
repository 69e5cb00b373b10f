package check

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wilfranr/control-id-miid/internal/app"
	"github.com/wilfranr/control-id-miid/internal/errors"
	"github.com/wilfranr/control-id-miid/internal/syncer"
)

// Command creates the connection pre-check command. It exits non-zero unless
// every backend of the active environment answers.
func Command(ctx *app.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check the connections of the active environment",
		Long:  "Probe the enrollment store, the photo store and the device, print the result and fail unless all are reachable.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(ctx.Settings)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck // shutdown errors are logged by the components

			health := a.Service.Check(cmd.Context())
			data, err := json.MarshalIndent(health, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))

			if health.State != syncer.StateConnected {
				return errors.Newf("environment %s is %s", health.Environment, health.State).
					Component("check").
					Category(errors.CategoryNetwork).
					Build()
			}
			return nil
		},
	}

	return cmd
}
