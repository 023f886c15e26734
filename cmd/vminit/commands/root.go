package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	jsonOutput bool
	version    string
}

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	return newRootCommand(version, commit, buildDate).ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	flags := &globalFlags{version: version}

	provision := newProvisionCommand(flags)

	rootCmd := &cobra.Command{
		Use:   "vminit",
		Short: "vminit - VM boot-time provisioning agent",
		Long: `vminit provisions a freshly booted virtual machine from its cloud control plane.

On first boot it:
  - acknowledges the wireserver goalstate
  - reads the admin user, SSH keys and hostname from instance metadata
  - creates the user, locks its password, installs keys and sets the hostname
  - reports Ready (or the failure) back to the control plane

A marker keyed by the VM identity makes later boots a no-op.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          provision.RunE,
	}
	rootCmd.Flags().AddFlagSet(provision.Flags())

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "extra config file or directory, applied after /etc/vminit.yaml and /etc/vminit.d")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override the configured log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(provision)
	rootCmd.AddCommand(newStatusCommand(flags))
	rootCmd.AddCommand(newCleanCommand(flags))
	rootCmd.AddCommand(newHistoryCommand(flags))
	rootCmd.AddCommand(newPoliciesCommand(flags))

	return rootCmd
}
