package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tomatool/exam/internal/config"
	"github.com/tomatool/exam/internal/container"
	"github.com/tomatool/exam/internal/driver"
	"github.com/tomatool/exam/internal/events"
	"github.com/tomatool/exam/internal/formatter"
	"github.com/tomatool/exam/internal/metrics"
	"github.com/tomatool/exam/internal/provider"
	"github.com/tomatool/exam/internal/reactor"
	"github.com/tomatool/exam/internal/runlog"
	"github.com/urfave/cli/v2"
)

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Provision every configuration, deploy probes and run their calls",
	Flags: []cli.Flag{
		configFlag,
		&cli.StringFlag{
			Name:    "strategy",
			Aliases: []string{"s"},
			Usage:   "placement strategy (eager, confined)",
		},
		&cli.IntFlag{
			Name:    "parallel",
			Aliases: []string{"p"},
			Usage:   "number of targets run at the same time",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output format (pretty, table, json)",
		},
		&cli.BoolFlag{
			Name:  "fail-fast",
			Usage: "stop scheduling work after the first failure",
		},
		&cli.StringFlag{
			Name:  "runs-dir",
			Value: runlog.DefaultRoot,
			Usage: "directory where run logs and reports are stored",
		},
	},
	Action: runRun,
}

func runRun(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("strategy") {
		cfg.Settings.Strategy = c.String("strategy")
	}
	if c.IsSet("parallel") {
		cfg.Settings.Parallel = c.Int("parallel")
	}
	if c.IsSet("output") {
		cfg.Settings.Output = c.String("output")
	}
	if c.IsSet("fail-fast") {
		cfg.Settings.FailFast = c.Bool("fail-fast")
	}

	strategy, err := reactor.StrategyByName(cfg.Settings.Strategy)
	if err != nil {
		return err
	}
	probes, err := cfg.LoadProbes()
	if err != nil {
		return err
	}

	run, err := runlog.NewIn(c.String("runs-dir"))
	if err != nil {
		return err
	}
	log.Info().Str("run", run.ID).Str("dir", run.Dir).Msg("starting run")

	p, closeProvider, err := newProvider(cfg, run)
	if err != nil {
		return err
	}
	defer closeProvider()

	sink, err := newSink(c.Context, run.ID, cfg)
	if err != nil {
		return err
	}
	defer sink.Close()

	r := reactor.New(p,
		reactor.WithStrategy(strategy),
		reactor.WithStartTimeout(cfg.Settings.StartTimeout),
		reactor.WithCallTimeout(cfg.Settings.CallTimeout),
		reactor.WithSink(sink),
	)
	for _, opts := range cfg.ConfigurationOptions() {
		r.AddConfiguration(opts...)
	}
	for _, pr := range probes {
		r.AddProbe(pr)
	}

	staged, stageErr := r.Stage()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := driver.New(driver.Options{
		Parallel: cfg.Settings.Parallel,
		FailFast: cfg.Settings.FailFast,
		RunID:    run.ID,
		Sink:     sink,
	})
	report, runErr := d.Run(ctx, staged, stageErr)

	if err := formatter.Write(os.Stdout, cfg.Settings.Output, report); err != nil {
		return err
	}
	if err := report.Save(run); err != nil {
		log.Warn().Err(err).Msg("failed to save report")
	}

	var td *reactor.TeardownError
	if runErr != nil && !errors.As(runErr, &td) {
		return runErr
	}
	if !report.OK() {
		return cli.Exit("", 1)
	}
	return nil
}

// newProvider builds the provider for the configured runtime. The returned
// func releases provider-wide resources.
func newProvider(cfg *config.Config, run *runlog.Run) (provider.Provider, func(), error) {
	switch cfg.Settings.Runtime {
	case "process":
		return provider.NewProcess(cfg.Settings.BaseDir, run), func() {}, nil
	case "docker":
		if err := container.CheckDockerAvailable(); err != nil {
			return nil, nil, err
		}
		d := provider.NewDocker(run)
		return d, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := d.Close(ctx); err != nil {
				log.Warn().Err(err).Msg("failed to remove network")
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown runtime: %s", cfg.Settings.Runtime)
	}
}

// newSink fans events out to the log and to every configured destination.
func newSink(ctx context.Context, runID string, cfg *config.Config) (*events.Multi, error) {
	sink := events.NewMulti(runID, events.Log{})

	if ws := cfg.Events.Websocket; ws != nil {
		hub := events.NewHub()
		if err := hub.Listen(ws.Addr); err != nil {
			return nil, err
		}
		sink.Add(hub)
	}

	if k := cfg.Events.Kafka; k != nil {
		producer, err := events.NewKafka(k.Brokers, k.Topic)
		if err != nil {
			sink.Close()
			return nil, err
		}
		sink.Add(producer)
	}

	if rd := cfg.Events.Redis; rd != nil {
		stream := events.NewRedis(rd.Addr, rd.Password, rd.DB, rd.Stream, rd.MaxLen)
		if err := stream.Ping(ctx); err != nil {
			stream.Close()
			sink.Close()
			return nil, err
		}
		sink.Add(stream)
	}

	if cfg.Metrics.Addr != "" {
		m := metrics.New()
		if err := m.Serve(cfg.Metrics.Addr); err != nil {
			sink.Close()
			return nil, err
		}
		sink.Add(m)
	}

	return sink, nil
}
