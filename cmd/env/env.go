package env

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wilfranr/control-id-miid/internal/app"
	"github.com/wilfranr/control-id-miid/internal/conf"
	"github.com/wilfranr/control-id-miid/internal/environment"
)

const redacted = "[REDACTED]"

// Command creates the environment management command with its list, show
// and use subcommands.
func Command(ctx *app.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "List, inspect and select environments",
	}

	cmd.AddCommand(listCommand(ctx), showCommand(ctx), useCommand(ctx))
	return cmd
}

func listCommand(ctx *app.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the configured environments, the active one marked with *",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := environment.New(ctx.Settings, nil)
			active := resolver.ActiveName()
			for _, name := range resolver.Names() {
				marker := " "
				if name == active {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
			}
			return nil
		},
	}
}

func showCommand(ctx *app.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "show [name]",
		Short: "Print the resolved settings of an environment with secrets redacted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := environment.New(ctx.Settings, nil)
			name := resolver.ActiveName()
			if len(args) == 1 {
				name = args[0]
			}

			env, err := resolver.Resolve(name)
			if err != nil {
				return err
			}

			data, err := yaml.Marshal(Redact(*env))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# environment %s\n%s", env.Name, data)
			return nil
		},
	}
}

func useCommand(ctx *app.Context) *cobra.Command {
	var persist bool

	cmd := &cobra.Command{
		Use:   "use <name>",
		Short: "Validate an environment and optionally make it the configured default",
		Long: `Resolve and validate the environment called name. With --persist the name is
written to the config file and becomes the active environment of later runs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := environment.New(ctx.Settings, nil)
			env, err := resolver.Switch(args[0], persist)
			if err != nil {
				return err
			}

			if persist {
				fmt.Fprintf(cmd.OutOrStdout(), "active environment is now %s (%s)\n", env.Name, ctx.Settings.ConfigFile)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "environment %s is valid, use --persist to make it the default\n", env.Name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&persist, "persist", false, "Write the environment name to the config file")
	return cmd
}

// Redact returns env with every password replaced
func Redact(env conf.Environment) conf.Environment {
	for _, p := range []*string{&env.SourceDB.Password, &env.PhotoDB.Password, &env.Device.Password} {
		if *p != "" {
			*p = redacted
		}
	}
	return env
}
