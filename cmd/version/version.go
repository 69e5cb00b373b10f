package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wilfranr/control-id-miid/internal/buildinfo"
)

// Command creates a new cobra.Command to print the build metadata.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version of controlid-sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.Get().String())
			return nil
		},
	}

	return cmd
}
