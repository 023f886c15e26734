package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCleanCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove provisioning markers so the next run provisions again",
		Long: `Remove every provisioning marker from the data directory.

Use this when preparing an image for capture: the next boot provisions from
scratch even if the VM identity has not changed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := loadRuntime(ctx, flags)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			ledger := rt.ledger()
			removed, err := ledger.Clean()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if flags.jsonOutput {
				return writeJSON(out, map[string]interface{}{"dir": ledger.Dir(), "removed": removed})
			}
			_, err = fmt.Fprintf(out, "Removed %d provisioning marker(s) from %s\n", removed, ledger.Dir())
			return err
		},
	}
}
