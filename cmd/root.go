package cmd

import (
	"github.com/spf13/cobra"

	"github.com/wilfranr/control-id-miid/cmd/bulk"
	"github.com/wilfranr/control-id-miid/cmd/check"
	"github.com/wilfranr/control-id-miid/cmd/env"
	"github.com/wilfranr/control-id-miid/cmd/reconcile"
	"github.com/wilfranr/control-id-miid/cmd/run"
	"github.com/wilfranr/control-id-miid/cmd/version"
	"github.com/wilfranr/control-id-miid/internal/app"
)

// RootCommand creates and returns the root command
func RootCommand(ctx *app.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "controlid-sync",
		Short:        "Synchronize MiID enrollments to ControlID access devices",
		SilenceUsage: true,
	}

	// Set up the global flags for the root command.
	setupFlags(rootCmd, ctx)

	versionCmd := version.Command()
	rootCmd.AddCommand(
		run.Command(ctx),
		reconcile.Command(ctx),
		bulk.Command(ctx),
		env.Command(ctx),
		check.Command(ctx),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// version needs no configuration
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return ctx.Load()
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, ctx *app.Context) {
	rootCmd.PersistentFlags().StringVarP(&ctx.ConfigFile, "config", "c", "", "Path to config.yaml (default: search ./, ~/.config/controlid-sync, /etc/controlid-sync)")
	rootCmd.PersistentFlags().StringVarP(&ctx.Environment, "env", "e", "", "Environment to use instead of the configured one")
	rootCmd.PersistentFlags().BoolVarP(&ctx.Debug, "debug", "d", false, "Enable debug output")
}
