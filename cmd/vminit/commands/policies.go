package commands

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

type policyEntry struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Severity    string `json:"severity"`
	Enabled     bool   `json:"enabled"`
}

func newPoliciesCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "List the provisioning policies and whether each is enabled",
		Example: `  # Built-in and custom policies after policy.disabled is applied
  vminit policies --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := loadRuntime(ctx, flags)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			pe, err := newPolicyEngine(ctx, rt.cfg.Policy, rt.logger("policy"))
			if err != nil {
				return err
			}

			var entries []policyEntry
			for _, p := range pe.ListPolicies() {
				entries = append(entries, policyEntry{
					Name:        p.Name,
					Description: p.Description,
					Severity:    string(p.Severity),
					Enabled:     p.Enabled && rt.cfg.Policy.Enabled,
				})
			}

			out := cmd.OutOrStdout()
			if flags.jsonOutput {
				return writeJSON(out, entries)
			}

			var b strings.Builder
			b.WriteString(titleStyle.Render("Provisioning policies"))
			b.WriteString("\n")
			if !rt.cfg.Policy.Enabled {
				b.WriteString(dimStyle.Render("  policy checks are disabled"))
				b.WriteString("\n")
			}
			for _, e := range entries {
				state := lipgloss.NewStyle().Foreground(colorGreen).Render("on ")
				if !e.Enabled {
					state = dimStyle.Render("off")
				}
				b.WriteString(fmt.Sprintf("  %s  %s %s\n", state, labelStyle.Render(e.Name), dimStyle.Render(e.Description)))
			}
			_, err = fmt.Fprint(out, b.String())
			return err
		},
	}
}
