package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/vminit/pkg/stores"
)

func newHistoryCommand(flags *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent provisioning runs from the journal",
		Example: `  # Last ten runs
  vminit history

  # Last run with its backend attempts, as JSON
  vminit history --limit 1 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}

			ctx := cmd.Context()
			rt, err := loadRuntime(ctx, flags)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			journal, err := rt.journal(ctx)
			if err != nil {
				return err
			}
			if journal == nil {
				return fmt.Errorf("run journal is disabled")
			}
			defer journal.Close()

			runs, err := journal.ListRuns(ctx, limit, 0)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !flags.jsonOutput {
				_, err = fmt.Fprint(out, renderRuns(runs))
				return err
			}

			type runWithAttempts struct {
				*stores.Run
				Attempts []*stores.Attempt `json:"attempts"`
			}
			result := make([]runWithAttempts, 0, len(runs))
			for _, r := range runs {
				attempts, err := journal.ListAttempts(ctx, r.ID)
				if err != nil {
					return err
				}
				result = append(result, runWithAttempts{Run: r, Attempts: attempts})
			}
			return writeJSON(out, result)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show")

	return cmd
}
