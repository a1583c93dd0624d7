package command

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/tomatool/exam/internal/config"
	"github.com/tomatool/exam/internal/provider"
	"github.com/urfave/cli/v2"
)

var validateCommand = &cli.Command{
	Name:  "validate",
	Usage: "Validate configuration, probes and option lists without starting anything",
	Flags: []cli.Flag{
		configFlag,
		&cli.BoolFlag{
			Name:  "plain",
			Usage: "disable colors (for CI)",
		},
	},
	Action: runValidate,
}

// ValidationResult holds the result of a validation check
type ValidationResult struct {
	Category string
	Item     string
	Status   string // "ok", "error"
	Message  string
}

func runValidate(c *cli.Context) error {
	results := validate(c.String("config"))

	fmt.Print(renderResults(results, c.Bool("plain")))

	for _, r := range results {
		if r.Status == "error" {
			return cli.Exit("", 1)
		}
	}
	return nil
}

// validate checks the file, every probe payload and every configuration's
// option list. Configurations are parsed by a provider of the configured
// runtime, which only builds container values.
func validate(path string) []ValidationResult {
	cfg, err := config.Load(path)
	if err != nil {
		return []ValidationResult{{Category: "Config", Item: path, Status: "error", Message: err.Error()}}
	}
	results := []ValidationResult{{Category: "Config", Item: path, Status: "ok", Message: "valid"}}

	if _, err := cfg.LoadProbes(); err != nil {
		results = append(results, ValidationResult{Category: "Probes", Item: "load", Status: "error", Message: err.Error()})
	} else {
		for _, p := range cfg.Probes {
			results = append(results, ValidationResult{
				Category: "Probes",
				Item:     p.Name,
				Status:   "ok",
				Message:  strings.Join(p.Calls, ", "),
			})
		}
	}

	var p provider.Provider = provider.NewDocker(nil)
	if cfg.Settings.Runtime == "process" {
		p = provider.NewProcess(cfg.Settings.BaseDir, nil)
	}
	for i, opts := range cfg.ConfigurationOptions() {
		item := cfg.Configurations[i].Name
		if item == "" {
			item = fmt.Sprintf("#%d", i)
		}
		handles, err := p.Parse(opts...)
		if err != nil {
			results = append(results, ValidationResult{Category: "Configurations", Item: item, Status: "error", Message: err.Error()})
			continue
		}
		names := make([]string, len(handles))
		for j, h := range handles {
			names[j] = h.Name()
		}
		results = append(results, ValidationResult{
			Category: "Configurations",
			Item:     item,
			Status:   "ok",
			Message:  fmt.Sprintf("%d container(s): %s", len(handles), strings.Join(names, ", ")),
		})
	}

	return results
}

func renderResults(results []ValidationResult, plain bool) string {
	categoryStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	okStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	if plain {
		categoryStyle, okStyle, errStyle = lipgloss.NewStyle(), lipgloss.NewStyle(), lipgloss.NewStyle()
	}

	var s strings.Builder
	current := ""
	errs := 0
	for _, r := range results {
		if r.Category != current {
			current = r.Category
			s.WriteString("\n" + categoryStyle.Render(current) + "\n")
		}
		mark := okStyle.Render("✓")
		if r.Status == "error" {
			mark = errStyle.Render("✗")
			errs++
		}
		fmt.Fprintf(&s, "  %s %s: %s\n", mark, r.Item, r.Message)
	}

	s.WriteString("\n")
	if errs == 0 {
		s.WriteString(okStyle.Render("All checks passed") + "\n")
	} else {
		s.WriteString(errStyle.Render(fmt.Sprintf("%d error(s)", errs)) + "\n")
	}
	return s.String()
}
