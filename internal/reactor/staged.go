package reactor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tomatool/exam/internal/container"
	"github.com/tomatool/exam/internal/events"
	"github.com/tomatool/exam/internal/probe"
	"github.com/tomatool/exam/internal/provider"
)

// Target identifies one runnable container of a plan.
type Target struct {
	owner  *Staged
	id     int
	config int
	name   string
	label  string
}

// Configuration returns the index of the configuration the target came from.
func (t Target) Configuration() int { return t.config }

func (t Target) String() string {
	s := fmt.Sprintf("%s[%d]", t.name, t.config)
	if t.label != "" {
		s += "/" + t.label
	}
	return s
}

type entry struct {
	target    Target
	handle    provider.Handle
	container container.Container
	probes    []probe.Probe

	mu       sync.Mutex
	prepared bool
	err      error // sticky launch or deployment failure
}

// Staged is a frozen plan. Different targets may be prepared and run
// concurrently; calls on one target are serialized.
type Staged struct {
	provider     provider.Provider
	strategy     Strategy
	startTimeout time.Duration
	callTimeout  time.Duration
	sink         events.Sink

	configurations int
	probes         []probe.Probe
	entries        []*entry

	mu       sync.Mutex
	tornDown bool
}

func (s *Staged) add(config int, pl Placement) error {
	c, ok := s.provider.CreateContainer(pl.Handle)
	if !ok {
		return fmt.Errorf("provider has no container for handle %s", pl.Handle)
	}

	e := &entry{
		target: Target{
			owner:  s,
			id:     len(s.entries),
			config: config,
			name:   pl.Handle.Name(),
			label:  pl.Label,
		},
		handle:    pl.Handle,
		container: c,
		probes:    pl.Probes,
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *Staged) entry(t Target) (*entry, error) {
	if t.owner != s || t.id < 0 || t.id >= len(s.entries) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, t)
	}
	return s.entries[t.id], nil
}

func (s *Staged) publish(ctx context.Context, e events.Event) {
	if err := s.sink.Publish(ctx, e); err != nil {
		log.Debug().Err(err).Str("event", string(e.Type)).Msg("failed to publish event")
	}
}

// Strategy returns the strategy the plan was staged with.
func (s *Staged) Strategy() Strategy { return s.strategy }

// Configurations returns how many configurations were snapshotted.
func (s *Staged) Configurations() int { return s.configurations }

// Probes returns the snapshotted probes.
func (s *Staged) Probes() []probe.Probe {
	return append([]probe.Probe(nil), s.probes...)
}

// Targets returns every target in staging order.
func (s *Staged) Targets() []Target {
	targets := make([]Target, len(s.entries))
	for i, e := range s.entries {
		targets[i] = e.target
	}
	return targets
}

// Calls returns the call names available on t, in probe order.
func (s *Staged) Calls(t Target) []string {
	e, err := s.entry(t)
	if err != nil {
		return nil
	}
	var calls []string
	for _, p := range e.probes {
		calls = append(calls, p.CallNames()...)
	}
	return calls
}

// Container returns the container behind t.
func (s *Staged) Container(t Target) (container.Container, bool) {
	e, err := s.entry(t)
	if err != nil {
		return nil, false
	}
	return e.container, true
}

// Prepare starts the container of t and installs its probes. A failure is
// remembered and returned by later Prepare and RunTest calls on t. Preparing
// a prepared target does nothing.
func (s *Staged) Prepare(ctx context.Context, t Target) error {
	e, err := s.entry(t)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.prepared:
		return nil
	case e.err != nil:
		return e.err
	case s.isTornDown():
		return ErrTornDown
	}

	start := time.Now()
	if err := s.start(ctx, e); err != nil {
		e.err = err
		s.publish(ctx, events.New(events.TargetFailed, t.String()).WithError(err))
		return err
	}

	for _, p := range e.probes {
		if err := e.container.Install(ctx, p); err != nil {
			if !container.IsDeploymentError(err) {
				err = &container.DeploymentError{Container: e.container.Name(), Probe: p.Name(), Err: err}
			}
			e.err = err
			s.publish(ctx, events.New(events.TargetFailed, t.String()).WithError(err))
			return err
		}
	}

	e.prepared = true
	ev := events.New(events.TargetPrepared, t.String())
	ev.Duration = time.Since(start)
	ev.Ports = hostPorts(ctx, e)
	s.publish(ctx, ev)
	return nil
}

// portMapper is implemented by containers that publish ports on the host.
type portMapper interface {
	Ports(ctx context.Context) ([]string, error)
}

func hostPorts(ctx context.Context, e *entry) []string {
	pm, ok := e.container.(portMapper)
	if !ok {
		return nil
	}
	out, err := pm.Ports(ctx)
	if err != nil {
		log.Debug().Err(err).Str("target", e.target.String()).Msg("failed to inspect ports")
		return nil
	}
	return out
}

// start brings the container up within the start timeout. On expiry the
// container is stopped and the error is a LaunchError.
func (s *Staged) start(ctx context.Context, e *entry) error {
	startCtx := ctx
	if s.startTimeout > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(ctx, s.startTimeout)
		defer cancel()
	}

	err := e.container.Start(startCtx)
	if err == nil {
		return nil
	}

	if stopErr := e.container.Stop(context.WithoutCancel(ctx)); stopErr != nil {
		log.Warn().Err(stopErr).Str("target", e.target.String()).Msg("failed to stop container after failed start")
	}
	if !container.IsLaunchError(err) {
		err = &container.LaunchError{Container: e.container.Name(), Err: err}
	}
	return err
}

// RunTest executes call on a prepared target and returns the container's
// outcome unchanged. A call that exceeds the call timeout stops the target.
func (s *Staged) RunTest(ctx context.Context, t Target, call string) (container.Result, error) {
	e, err := s.entry(t)
	if err != nil {
		return container.Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.err != nil {
		return container.Result{}, e.err
	}
	if !e.prepared {
		return container.Result{}, fmt.Errorf("%s: %w", t, ErrNotPrepared)
	}

	callCtx := ctx
	if s.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}

	res, err := e.container.Execute(callCtx, call)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = s.expire(ctx, e, call, err)
		}
		ev := events.New(events.CallErrored, t.String()).WithError(err)
		ev.Call = call
		ev.Status = events.StatusError
		s.publish(ctx, ev)
		return container.Result{}, err
	}

	ev := events.New(events.CallFinished, t.String())
	ev.Call = call
	ev.Duration = res.Duration
	ev.Status = events.StatusFailed
	if res.Passed {
		ev.Status = events.StatusPassed
	}
	s.publish(ctx, ev)
	return res, nil
}

// expire handles a call that ran out of time: the container is stopped and
// the target fails with an InvocationError.
func (s *Staged) expire(ctx context.Context, e *entry, call string, err error) error {
	if !container.IsInvocationError(err) {
		err = &container.InvocationError{Container: e.container.Name(), Call: call, Err: err}
	}
	log.Warn().Str("target", e.target.String()).Str("call", call).Dur("timeout", s.callTimeout).Msg("call timed out, stopping target")

	if stopErr := e.container.Stop(context.WithoutCancel(ctx)); stopErr != nil {
		log.Warn().Err(stopErr).Str("target", e.target.String()).Msg("failed to stop timed out target")
	}
	e.err = err
	return err
}

func (s *Staged) isTornDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tornDown
}

// TearDown stops every container of the plan, whatever happened to it. All
// containers are attempted; failures are returned together as a
// *TeardownError. Later calls do nothing and return nil.
func (s *Staged) TearDown(ctx context.Context) error {
	s.mu.Lock()
	if s.tornDown {
		s.mu.Unlock()
		return nil
	}
	s.tornDown = true
	s.mu.Unlock()

	var errs []error
	for _, e := range s.entries {
		e.mu.Lock()
		err := e.container.Stop(ctx)
		e.mu.Unlock()

		ev := events.New(events.TargetStopped, e.target.String())
		if err != nil {
			log.Warn().Err(err).Str("target", e.target.String()).Msg("failed to stop target")
			errs = append(errs, fmt.Errorf("%s: %w", e.target, err))
			ev = ev.WithError(err)
		}
		s.publish(ctx, ev)
	}

	if len(errs) > 0 {
		return &TeardownError{Errors: errs}
	}
	return nil
}
