package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/openfroyo/vminit/pkg/stores"
)

type statusReport struct {
	VMID        string      `json:"vm_id,omitempty"`
	Generation  string      `json:"generation"`
	Provisioned bool        `json:"provisioned"`
	Marker      string      `json:"marker,omitempty"`
	LastRun     *stores.Run `json:"last_run,omitempty"`
}

func newStatusCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the VM identity and whether it is provisioned",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := loadRuntime(ctx, flags)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			identity := rt.identity()
			ledger := rt.ledger()

			report := statusReport{Generation: fmt.Sprintf("gen%d", identity.Generation())}
			if id, ok := identity.Derive(); ok {
				report.VMID = id
				report.Marker = ledger.MarkerPath(id)
			}
			report.Provisioned = ledger.IsComplete()

			// status is read-only: never create the journal just to find it empty.
			if _, err := os.Stat(rt.cfg.Journal.Path); err != nil {
				rt.logger("status").Debug().Err(err).Msg("Run journal not present")
			} else if journal, err := rt.journal(ctx); err == nil && journal != nil {
				defer journal.Close()
				if runs, err := journal.ListRuns(ctx, 1, 0); err == nil && len(runs) > 0 {
					report.LastRun = runs[0]
				}
			}

			out := cmd.OutOrStdout()
			if flags.jsonOutput {
				return writeJSON(out, report)
			}

			var b strings.Builder
			b.WriteString(titleStyle.Render("vminit status"))
			b.WriteString("\n")
			vmID := report.VMID
			if vmID == "" {
				vmID = dimStyle.Render("unavailable")
			}
			field(&b, "VM ID", vmID)
			field(&b, "Generation", report.Generation)
			if report.Provisioned {
				field(&b, "Provisioned", lipgloss.NewStyle().Foreground(colorGreen).Render("yes"))
				field(&b, "Marker", report.Marker)
			} else {
				field(&b, "Provisioned", lipgloss.NewStyle().Foreground(colorAmber).Render("no"))
			}
			if report.LastRun != nil {
				field(&b, "Last run", statusStyle(report.LastRun.Status).Render(string(report.LastRun.Status))+
					dimStyle.Render(" at "+report.LastRun.StartedAt.Local().Format("2006-01-02 15:04:05")))
			}
			_, err = fmt.Fprint(out, b.String())
			return err
		},
	}
}
