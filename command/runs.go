package command

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/tomatool/exam/internal/runlog"
	"github.com/urfave/cli/v2"
)

var runsDirFlag = &cli.StringFlag{
	Name:  "runs-dir",
	Value: runlog.DefaultRoot,
	Usage: "directory where run logs and reports are stored",
}

var runsCommand = &cli.Command{
	Name:  "runs",
	Usage: "List stored runs",
	Flags: []cli.Flag{
		runsDirFlag,
		&cli.IntFlag{
			Name:    "limit",
			Aliases: []string{"n"},
			Value:   20,
			Usage:   "maximum number of runs to list",
		},
	},
	Action: listRuns,
	Subcommands: []*cli.Command{
		{
			Name:      "log",
			Usage:     "Print one log file of a run",
			ArgsUsage: "<run> <log>",
			Flags:     []cli.Flag{runsDirFlag},
			Action:    showLog,
		},
	},
}

func listRuns(c *cli.Context) error {
	runs, err := runlog.ListRuns(c.String("runs-dir"))
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs found.")
		return nil
	}
	if n := c.Int("limit"); n > 0 && len(runs) > n {
		runs = runs[:n]
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"RUN", "STARTED", "LOGS", "REPORT"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "LOGS", Align: text.AlignRight},
	})
	for _, r := range runs {
		report := ""
		if r.HasReport {
			report = "yes"
		}
		t.AppendRow(table.Row{r.Name, r.Timestamp.Format("2006-01-02 15:04:05"), len(r.Logs), report})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
	return nil
}

func showLog(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("expected <run> <log>, got %d argument(s)", c.NArg())
	}
	content, err := runlog.ReadLog(c.String("runs-dir"), c.Args().Get(0), c.Args().Get(1))
	if err != nil {
		return err
	}
	fmt.Print(content)
	return nil
}
