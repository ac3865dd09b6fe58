// Package commands defines the poudctl command tree.
package commands

import (
	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	settingsPath string
	manifestPath string
	logLevel     string
	apiURL       string
}

// Root returns the root command for the poudctl CLI.
func Root() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "poudctl",
		Short:         "Declarative poudriere jail management",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.settingsPath, "config", "", "Path to a settings file (YAML or TOML)")
	flags.StringVarP(&opts.manifestPath, "manifest", "m", "", "Path to the manifest (overrides settings)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&opts.apiURL, "api", "http://127.0.0.1:8420", "Daemon API URL for client commands")

	// Local commands
	cmd.AddCommand(Plan(opts))
	cmd.AddCommand(Apply(opts))
	cmd.AddCommand(Serve(opts))

	// Daemon client commands
	cmd.AddCommand(Status(opts))
	cmd.AddCommand(Jails(opts))
	cmd.AddCommand(History(opts))
	cmd.AddCommand(Reconcile(opts))

	cmd.AddCommand(Version())
	return cmd
}
