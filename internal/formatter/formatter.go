// Package formatter renders run reports for the terminal or for machines.
package formatter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/tomatool/exam/internal/driver"
)

// Output formats
const (
	Pretty = "pretty"
	Table  = "table"
	JSON   = "json"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B"))

	targetStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#4ECDC4"))

	passStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	skipStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// Write renders r to w in the given format.
func Write(w io.Writer, format string, r *driver.Report) error {
	switch format {
	case Pretty, "":
		return writePretty(w, r)
	case Table:
		return writeTable(w, r)
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

func writePretty(w io.Writer, r *driver.Report) error {
	var b strings.Builder

	title := "exam run"
	if r.RunID != "" {
		title += " " + r.RunID
	}
	if r.Strategy != "" {
		title += dimStyle.Render(" (" + r.Strategy + ")")
	}
	b.WriteString(titleStyle.Render(title) + "\n\n")

	for _, e := range r.StageErrors {
		b.WriteString(failStyle.Render("✗ stage: ") + e + "\n")
	}
	if len(r.StageErrors) > 0 {
		b.WriteString("\n")
	}

	for _, t := range r.Targets {
		b.WriteString(targetStyle.Render(t.Name) + dimStyle.Render(" "+round(t.Duration)) + "\n")
		if t.Error != "" {
			b.WriteString("  " + failStyle.Render("✗ "+t.Error) + "\n")
		}
		for _, c := range t.Calls {
			b.WriteString("  " + callLine(c) + "\n")
		}
	}

	if r.Teardown != "" {
		b.WriteString("\n" + failStyle.Render("✗ teardown: ") + r.Teardown + "\n")
	}

	b.WriteString("\n" + summary(r) + "\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func callLine(c driver.CallReport) string {
	name := c.Name
	if c.Probe != "" {
		name = c.Probe + "." + c.Name
	}
	switch c.Status {
	case driver.StatusPassed:
		return passStyle.Render("✓ "+name) + dimStyle.Render(" "+round(c.Duration))
	case driver.StatusSkipped:
		return skipStyle.Render("- " + name + " (skipped)")
	case driver.StatusError:
		return failStyle.Render("! "+name) + " " + c.Error
	default:
		line := failStyle.Render("✗ "+name) + dimStyle.Render(fmt.Sprintf(" exit %d", c.ExitCode))
		if out := strings.TrimSpace(c.Output); out != "" {
			line += "\n" + indent(out, "      ")
		}
		return line
	}
}

func summary(r *driver.Report) string {
	parts := []string{
		passStyle.Render(fmt.Sprintf("%d passed", r.Passed)),
		failStyle.Render(fmt.Sprintf("%d failed", r.Failed)),
	}
	if r.Errors > 0 {
		parts = append(parts, failStyle.Render(fmt.Sprintf("%d errors", r.Errors)))
	}
	if r.Skipped > 0 {
		parts = append(parts, skipStyle.Render(fmt.Sprintf("%d skipped", r.Skipped)))
	}
	return fmt.Sprintf("%s %s", strings.Join(parts, ", "), dimStyle.Render("in "+round(r.Duration)))
}

func writeTable(w io.Writer, r *driver.Report) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	if r.RunID != "" {
		t.SetTitle("exam run " + r.RunID)
	}

	t.AppendHeader(table.Row{"TARGET", "CALL", "STATUS", "EXIT", "DURATION", "ERROR"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "TARGET", AutoMerge: true},
		{Name: "EXIT", Align: text.AlignRight},
		{Name: "DURATION", Align: text.AlignRight},
		{Name: "ERROR", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, tg := range r.Targets {
		if tg.Error != "" {
			t.AppendRow(table.Row{tg.Name, "", "ERROR", "", round(tg.Duration), tg.Error})
		}
		for _, c := range tg.Calls {
			t.AppendRow(table.Row{tg.Name, c.Name, strings.ToUpper(c.Status), c.ExitCode, round(c.Duration), c.Error})
		}
	}

	switch {
	case r.Failed > 0 || r.Errors > 0 || r.Teardown != "" || len(r.StageErrors) > 0:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case r.Skipped > 0:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}

	t.AppendFooter(table.Row{"TOTAL", r.Total, fmt.Sprintf("%d/%d passed", r.Passed, r.Total), "", round(r.Duration), r.Teardown})
	t.Render()
	return nil
}

func round(d time.Duration) string {
	if d < time.Millisecond {
		return d.String()
	}
	return d.Round(time.Millisecond).String()
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}
