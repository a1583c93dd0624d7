package command

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/tomatool/exam/internal/config"
	"github.com/urfave/cli/v2"
)

// Styles for interactive CLI
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B")).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4")).
			MarginBottom(1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Bold(true)

	unselectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			MarginTop(1)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500")).
			Bold(true)
)

var initCommand = &cli.Command{
	Name:  "init",
	Usage: "Initialize a new exam project",
	Description: `Create exam.yml and an example probe.

On a terminal a short wizard asks for the runtime and the staging strategy.
Passing --runtime or --strategy, or running without a terminal, skips the
wizard and uses the flags. The docker runtime scaffolds a Redis
configuration, the process runtime a local sandbox that needs nothing but a
shell.`,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "force",
			Aliases: []string{"f"},
			Usage:   "overwrite existing files",
		},
		&cli.StringFlag{
			Name:    "runtime",
			Aliases: []string{"r"},
			Value:   "docker",
			Usage:   "runtime of the generated configuration (docker, process)",
		},
		&cli.StringFlag{
			Name:    "strategy",
			Aliases: []string{"s"},
			Value:   "eager",
			Usage:   "staging strategy of the generated configuration (eager, confined)",
		},
		&cli.StringFlag{
			Name:  "dir",
			Value: ".",
			Usage: "project directory",
		},
	},
	Action: runInit,
}

type choice struct {
	key         string
	name        string
	description string
}

var runtimeChoices = []choice{
	{"docker", "Docker", "One container per image, needs a running Docker daemon"},
	{"process", "Process", "Local sandbox directory, needs nothing but a shell"},
}

var strategyChoices = []choice{
	{"eager", "Eager", "One target per container, every probe installed into it"},
	{"confined", "Confined", "A fresh container per probe"},
}

type initStep int

const (
	stepRuntime initStep = iota
	stepStrategy
	stepConfirm
)

type initModel struct {
	step   initStep
	cursor int

	runtime  string
	strategy string
	exists   bool // exam.yml is already there

	done      bool
	cancelled bool
}

func initialInitModel(exists bool) initModel {
	return initModel{step: stepRuntime, exists: exists}
}

func (m initModel) Init() tea.Cmd {
	return nil
}

func (m initModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.String() {
	case "ctrl+c", "q":
		m.cancelled = true
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.choices())-1 {
			m.cursor++
		}

	case "esc":
		if m.step > stepRuntime {
			m.step--
			m.cursor = 0
		}

	case "enter":
		return m.handleEnter()
	}

	return m, nil
}

func (m initModel) choices() []choice {
	switch m.step {
	case stepRuntime:
		return runtimeChoices
	case stepStrategy:
		return strategyChoices
	default:
		create := "Create " + config.DefaultFile
		if m.exists {
			create = "Overwrite " + config.DefaultFile
		}
		return []choice{{"create", create, ""}, {"cancel", "Cancel", ""}}
	}
}

func (m initModel) handleEnter() (tea.Model, tea.Cmd) {
	picked := m.choices()[m.cursor].key

	switch m.step {
	case stepRuntime:
		m.runtime = picked
		m.step = stepStrategy
		m.cursor = 0

	case stepStrategy:
		m.strategy = picked
		m.step = stepConfirm
		m.cursor = 0

	case stepConfirm:
		if picked == "create" {
			m.done = true
		} else {
			m.cancelled = true
		}
		return m, tea.Quit
	}

	return m, nil
}

func (m initModel) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("exam init"))
	s.WriteString("\n")

	switch m.step {
	case stepRuntime:
		s.WriteString(subtitleStyle.Render("Where should environments run?"))
	case stepStrategy:
		s.WriteString(subtitleStyle.Render("How should probes be placed?"))
	case stepConfirm:
		s.WriteString(subtitleStyle.Render("Ready to create configuration"))
		s.WriteString("\n\n")
		fmt.Fprintf(&s, "  Runtime:  %s\n", m.runtime)
		fmt.Fprintf(&s, "  Strategy: %s\n", m.strategy)
		if m.exists {
			s.WriteString("\n" + warnStyle.Render(config.DefaultFile+" already exists and will be replaced"))
		}
	}
	s.WriteString("\n\n")

	for i, c := range m.choices() {
		cursor := "  "
		style := unselectedStyle
		if i == m.cursor {
			cursor = "> "
			style = selectedStyle
		}
		s.WriteString(cursor + style.Render(c.name))
		if i == m.cursor && c.description != "" {
			s.WriteString(helpStyle.Render("  " + c.description))
		}
		s.WriteString("\n")
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render("ENTER select • ESC back • q quit"))
	return s.String()
}

func runInit(c *cli.Context) error {
	runtime, strategy, force := c.String("runtime"), c.String("strategy"), c.Bool("force")

	interactive := !c.IsSet("runtime") && !c.IsSet("strategy") &&
		(isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()))
	if interactive {
		_, err := os.Stat(filepath.Join(c.String("dir"), config.DefaultFile))
		exists := err == nil && !force

		result, err := tea.NewProgram(initialInitModel(exists)).Run()
		if err != nil {
			return fmt.Errorf("error running init: %w", err)
		}

		finalModel := result.(initModel)
		if finalModel.cancelled || !finalModel.done {
			fmt.Println("\nCancelled.")
			return nil
		}
		runtime, strategy = finalModel.runtime, finalModel.strategy
		force = force || finalModel.exists
	}

	if runtime != "docker" && runtime != "process" {
		return fmt.Errorf("invalid runtime: %s", runtime)
	}
	if strategy != "eager" && strategy != "confined" {
		return fmt.Errorf("invalid strategy: %s", strategy)
	}

	written, err := scaffold(c.String("dir"), runtime, strategy, force)
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("exam project initialized"))
	for _, f := range written {
		fmt.Println(successStyle.Render("✓ Created " + f))
	}
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review exam.yml and adjust as needed")
	fmt.Println("  2. Add calls to probes/smoke.sh")
	fmt.Println("  3. Run " + selectedStyle.Render("exam run"))
	fmt.Println()
	return nil
}

// scaffold writes exam.yml and probes/smoke.sh under dir and returns the
// written paths relative to dir. An existing exam.yml is kept unless force.
func scaffold(dir, runtime, strategy string, force bool) ([]string, error) {
	cfgPath := filepath.Join(dir, config.DefaultFile)
	if _, err := os.Stat(cfgPath); err == nil && !force {
		return nil, fmt.Errorf("%s already exists (use --force to overwrite)", config.DefaultFile)
	}

	if err := os.MkdirAll(filepath.Join(dir, "probes"), 0755); err != nil {
		return nil, fmt.Errorf("creating probes directory: %w", err)
	}
	if err := os.WriteFile(cfgPath, []byte(generateConfig(runtime, strategy)), 0644); err != nil {
		return nil, fmt.Errorf("creating %s: %w", config.DefaultFile, err)
	}
	written := []string{config.DefaultFile}

	probePath := filepath.Join(dir, "probes", "smoke.sh")
	if _, err := os.Stat(probePath); os.IsNotExist(err) || force {
		if err := os.WriteFile(probePath, []byte(generateProbe(runtime)), 0755); err != nil {
			return nil, fmt.Errorf("creating example probe: %w", err)
		}
		written = append(written, filepath.Join("probes", "smoke.sh"))
	}
	return written, nil
}

func generateConfig(runtime, strategy string) string {
	var sb strings.Builder

	sb.WriteString("version: 1\n\n")
	sb.WriteString("settings:\n")
	sb.WriteString("  runtime: " + runtime + "\n")
	sb.WriteString("  strategy: " + strategy + "\n")
	sb.WriteString("  parallel: 2\n")
	sb.WriteString("  start_timeout: 2m\n")
	sb.WriteString("  call_timeout: 1m\n")
	sb.WriteString("  output: pretty\n\n")

	sb.WriteString("configurations:\n")
	if runtime == "docker" {
		sb.WriteString("  - name: cache\n")
		sb.WriteString("    images: [redis:7-alpine]\n")
		sb.WriteString("    ports: [\"6379/tcp\"]\n")
		sb.WriteString("    wait_for:\n")
		sb.WriteString("      type: log\n")
		sb.WriteString("      target: \"Ready to accept connections\"\n")
		sb.WriteString("      timeout: 60s\n")
	} else {
		sb.WriteString("  - name: local\n")
		sb.WriteString("    env:\n")
		sb.WriteString("      GREETING: hello\n")
	}

	sb.WriteString("\nprobes:\n")
	sb.WriteString("  - name: smoke\n")
	sb.WriteString("    file: probes/smoke.sh\n")
	sb.WriteString("    calls: [ping]\n")

	sb.WriteString("\n# events:\n")
	sb.WriteString("#   websocket:\n")
	sb.WriteString("#     addr: \":8089\"\n")
	sb.WriteString("# metrics:\n")
	sb.WriteString("#   addr: \":9100\"\n")

	return sb.String()
}

func generateProbe(runtime string) string {
	check := `echo "$GREETING"`
	if runtime == "docker" {
		check = "redis-cli ping | grep -q PONG"
	}
	return fmt.Sprintf(`#!/bin/sh
# Each call is the first argument; exit 0 to pass.
case "$1" in
  ping)
    %s
    ;;
  *)
    echo "unknown call: $1" >&2
    exit 2
    ;;
esac
`, check)
}
