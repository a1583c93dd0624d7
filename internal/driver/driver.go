// Package driver runs a staged plan: it prepares every target, executes each
// call and always tears the plan down.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tomatool/exam/internal/container"
	"github.com/tomatool/exam/internal/events"
	"github.com/tomatool/exam/internal/option"
	"github.com/tomatool/exam/internal/probe"
	"github.com/tomatool/exam/internal/provider"
	"github.com/tomatool/exam/internal/reactor"
	"golang.org/x/sync/errgroup"
)

// Options configures driver behavior
type Options struct {
	Parallel int  // targets prepared and run at the same time
	FailFast bool // stop scheduling work after the first failure
	RunID    string
	Sink     events.Sink
}

// Driver executes staged plans
type Driver struct {
	opts Options
}

// New creates a driver
func New(opts Options) *Driver {
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}
	if opts.Sink == nil {
		opts.Sink = events.Discard{}
	}
	return &Driver{opts: opts}
}

// Run prepares and runs every target of plan, in parallel across targets and
// sequentially within one. A failing target never stops its siblings unless
// FailFast is set. The plan is torn down on every exit path; a teardown
// failure is the only error besides cancellation. Test failures are in the
// report.
//
// stageErr is the error Stage returned alongside plan, if any. Rejected
// configurations fail the run.
func (d *Driver) Run(ctx context.Context, plan Plan, stageErr error) (report *Report, err error) {
	report = &Report{RunID: d.opts.RunID, Started: time.Now(), StageErrors: stageErrors(stageErr)}
	if s, ok := plan.(*reactor.Staged); ok {
		report.Strategy = s.Strategy().Name()
	}

	defer func() {
		log.Debug().Msg("tearing down")
		if tdErr := plan.TearDown(context.WithoutCancel(ctx)); tdErr != nil {
			report.Teardown = tdErr.Error()
			err = errors.Join(err, tdErr)
		}
		report.tally()
		report.Duration = time.Since(report.Started)

		finished := events.New(events.RunFinished, "")
		finished.Duration = report.Duration
		finished.Status = events.StatusPassed
		if !report.OK() {
			finished.Status = events.StatusFailed
		}
		d.opts.Sink.Publish(context.WithoutCancel(ctx), finished)
	}()

	d.opts.Sink.Publish(ctx, events.New(events.RunStarted, ""))

	targets := plan.Targets()
	report.Targets = make([]TargetReport, len(targets))

	var failed atomic.Bool
	var g errgroup.Group
	g.SetLimit(d.opts.Parallel)

	for i, t := range targets {
		tr := &report.Targets[i]
		tr.Name = t.String()
		tr.Configuration = t.Configuration()

		g.Go(func() error {
			if ctx.Err() != nil || (d.opts.FailFast && failed.Load()) {
				tr.Skipped = true
				skipAll(tr, plan.Calls(t))
				return nil
			}
			d.runTarget(ctx, plan, t, tr, &failed)
			if tr.Failed() {
				failed.Store(true)
			}
			return nil
		})
	}
	g.Wait()

	return report, ctx.Err()
}

func (d *Driver) runTarget(ctx context.Context, plan Plan, t reactor.Target, tr *TargetReport, failed *atomic.Bool) {
	start := time.Now()
	defer func() { tr.Duration = time.Since(start) }()

	calls := plan.Calls(t)
	log.Debug().Str("target", tr.Name).Int("calls", len(calls)).Msg("preparing target")

	// A panic fails this target only; siblings keep running and the plan is
	// still torn down.
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("target", tr.Name).Msg("target panicked")
			tr.Error = fmt.Sprintf("panic: %v", r)
			if len(tr.Calls) < len(calls) {
				skipAll(tr, calls[len(tr.Calls):])
			}
		}
	}()

	if err := plan.Prepare(ctx, t); err != nil {
		log.Error().Err(err).Str("target", tr.Name).Msg("target failed to prepare")
		tr.Error = err.Error()
		skipAll(tr, calls)
		return
	}

	for i, call := range calls {
		if ctx.Err() != nil || (d.opts.FailFast && failed.Load()) {
			skipAll(tr, calls[i:])
			return
		}

		res, err := plan.RunTest(ctx, t, call)
		cr := callReport(call, res, err)
		tr.Calls = append(tr.Calls, cr)

		if cr.Status != StatusPassed && d.opts.FailFast {
			failed.Store(true)
		}
	}
}

func stageErrors(err error) []string {
	if err == nil {
		return nil
	}
	var se *reactor.StageError
	if !errors.As(err, &se) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(se.Errors))
	for _, e := range se.Errors {
		out = append(out, e.Error())
	}
	return out
}

func callReport(call string, res container.Result, err error) CallReport {
	cr := CallReport{Name: call, Probe: res.Probe, ExitCode: res.ExitCode, Output: res.Output, Duration: res.Duration}
	switch {
	case err != nil:
		cr.Status = StatusError
		cr.Error = err.Error()
	case res.Passed:
		cr.Status = StatusPassed
	default:
		cr.Status = StatusFailed
	}
	return cr
}

func skipAll(tr *TargetReport, calls []string) {
	for _, call := range calls {
		tr.Calls = append(tr.Calls, CallReport{Name: call, Status: StatusSkipped})
	}
}

// RunHandrolled runs one configuration and one probe without a reactor:
// parse, create, start, install, execute every call, stop. Each container is
// stopped on every exit path.
func RunHandrolled(ctx context.Context, p provider.Provider, opts []option.Option, pr probe.Probe) (*Report, error) {
	report := &Report{Started: time.Now(), Strategy: "handrolled"}

	handles, err := p.Parse(opts...)
	if err != nil {
		return nil, err
	}

	for _, h := range handles {
		c, ok := p.CreateContainer(h)
		if !ok {
			return nil, fmt.Errorf("provider has no container for handle %s", h)
		}

		tr := TargetReport{Name: h.String()}
		start := time.Now()

		err := container.Use(ctx, c, func(c container.Container) error {
			if err := c.Install(ctx, pr); err != nil {
				return err
			}
			for _, call := range pr.CallNames() {
				res, err := c.Execute(ctx, call)
				cr := callReport(call, res, err)
				cr.Probe = pr.Name()
				tr.Calls = append(tr.Calls, cr)
			}
			return nil
		})
		if err != nil {
			log.Error().Err(err).Str("target", tr.Name).Msg("hand-rolled run failed")
			if container.IsLaunchError(err) || container.IsDeploymentError(err) {
				tr.Error = err.Error()
				skipAll(&tr, pr.CallNames()[len(tr.Calls):])
			} else {
				report.Teardown = err.Error()
			}
		}

		tr.Duration = time.Since(start)
		report.Targets = append(report.Targets, tr)
	}

	report.tally()
	report.Duration = time.Since(report.Started)
	return report, nil
}
