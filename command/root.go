package command

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tomatool/exam/internal/config"
	"github.com/tomatool/exam/internal/version"
	"github.com/urfave/cli/v2"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Value:   config.DefaultFile,
	Usage:   "config file path",
}

func Run(args []string) error {
	app := &cli.App{
		Name:    "exam",
		Usage:   "Staged container reactor for integration tests",
		Version: version.Version,
		Description: `exam provisions isolated environments from declarative configurations,
deploys probes into them and runs every probe call, then tears everything
down. Environments and probes live in a single exam.yml file.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				Usage:   "log level (trace, debug, info, warn, error)",
				EnvVars: []string{"EXAM_LOG_LEVEL"},
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "shorthand for --log-level debug",
			},
		},
		Before: setupLogging,
		Commands: []*cli.Command{
			initCommand,
			runCommand,
			validateCommand,
			probeCommand,
			runsCommand,
			versionCommand,
		},
	}

	return app.Run(args)
}

func setupLogging(c *cli.Context) error {
	level, err := zerolog.ParseLevel(c.String("log-level"))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.String("log-level"), err)
	}
	if c.Bool("verbose") {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	return nil
}
