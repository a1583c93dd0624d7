package command

import (
	"fmt"
	"os"

	"github.com/tomatool/exam/internal/config"
	"github.com/tomatool/exam/internal/driver"
	"github.com/tomatool/exam/internal/formatter"
	"github.com/tomatool/exam/internal/probe"
	"github.com/tomatool/exam/internal/runlog"
	"github.com/urfave/cli/v2"
)

var probeCommand = &cli.Command{
	Name:      "probe",
	Usage:     "Run one probe against one configuration without staging",
	ArgsUsage: "<configuration> <probe>",
	Flags: []cli.Flag{
		configFlag,
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Value:   formatter.Pretty,
			Usage:   "output format (pretty, table, json)",
		},
		&cli.StringFlag{
			Name:  "runs-dir",
			Value: runlog.DefaultRoot,
			Usage: "directory where run logs and reports are stored",
		},
	},
	Action: runProbe,
}

func runProbe(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("expected <configuration> <probe>, got %d argument(s)", c.NArg())
	}
	cfgName, probeName := c.Args().Get(0), c.Args().Get(1)

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	idx := -1
	for i, conf := range cfg.Configurations {
		if conf.Name == cfgName {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("configuration %q not found", cfgName)
	}

	probes, err := cfg.LoadProbes()
	if err != nil {
		return err
	}
	var selected *probe.Probe
	for i := range probes {
		if probes[i].Name() == probeName {
			selected = &probes[i]
			break
		}
	}
	if selected == nil {
		return fmt.Errorf("probe %q not found", probeName)
	}

	run, err := runlog.NewIn(c.String("runs-dir"))
	if err != nil {
		return err
	}
	p, closeProvider, err := newProvider(cfg, run)
	if err != nil {
		return err
	}
	defer closeProvider()

	report, err := driver.RunHandrolled(c.Context, p, cfg.Configurations[idx].Options(), *selected)
	if err != nil {
		return err
	}
	report.RunID = run.ID

	if err := formatter.Write(os.Stdout, c.String("output"), report); err != nil {
		return err
	}
	if err := report.Save(run); err != nil {
		return err
	}
	if !report.OK() {
		return cli.Exit("", 1)
	}
	return nil
}
