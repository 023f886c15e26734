package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/openfroyo/vminit/pkg/stores"
)

var (
	colorGreen = lipgloss.Color("#22c55e")
	colorRed   = lipgloss.Color("#ef4444")
	colorAmber = lipgloss.Color("#f59e0b")
	colorDim   = lipgloss.Color("#6b7280")

	titleStyle = lipgloss.NewStyle().Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(colorDim).Width(14)
	dimStyle   = lipgloss.NewStyle().Foreground(colorDim)
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusStyle(status stores.RunStatus) lipgloss.Style {
	switch status {
	case stores.RunStatusSucceeded:
		return lipgloss.NewStyle().Foreground(colorGreen)
	case stores.RunStatusFailed:
		return lipgloss.NewStyle().Foreground(colorRed)
	case stores.RunStatusRunning:
		return lipgloss.NewStyle().Foreground(colorAmber)
	default:
		return dimStyle
	}
}

func field(b *strings.Builder, label, value string) {
	b.WriteString("  ")
	b.WriteString(labelStyle.Render(label))
	b.WriteString(value)
	b.WriteString("\n")
}

// renderRuns lists runs one per line, newest first.
func renderRuns(runs []*stores.Run) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Provisioning runs"))
	b.WriteString("\n")
	if len(runs) == 0 {
		b.WriteString(dimStyle.Render("  no runs recorded"))
		b.WriteString("\n")
		return b.String()
	}

	for _, r := range runs {
		duration := "-"
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		b.WriteString(fmt.Sprintf("  %s  %s  %s  %s\n",
			dimStyle.Render(r.StartedAt.Local().Format(time.RFC3339)),
			statusStyle(r.Status).Width(9).Render(string(r.Status)),
			r.VMID,
			dimStyle.Render(duration)))
		if r.Error != nil {
			b.WriteString("    ")
			b.WriteString(lipgloss.NewStyle().Foreground(colorRed).Render(*r.Error))
			b.WriteString("\n")
		}
	}
	return b.String()
}
