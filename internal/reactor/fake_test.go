package reactor

import (
	"context"
	"sync"

	"github.com/tomatool/exam/internal/container"
	"github.com/tomatool/exam/internal/events"
	"github.com/tomatool/exam/internal/option"
	"github.com/tomatool/exam/internal/probe"
	"github.com/tomatool/exam/internal/provider"
)

// behavior scripts a fake container.
type behavior struct {
	startErr   error
	startBlock bool
	installErr error
	stopErr    error
	failing    map[string]bool
	hanging    map[string]bool
	ports      []string
}

type fakeContainer struct {
	name string
	b    behavior

	mu        sync.Mutex
	state     container.State
	installed []string
	calls     map[string]string
	starts    int
	stops     int
	executed  []string
}

func (f *fakeContainer) Name() string { return f.name }

func (f *fakeContainer) State() container.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeContainer) Start(ctx context.Context) error {
	f.mu.Lock()
	f.starts++
	f.mu.Unlock()

	if f.b.startBlock {
		<-ctx.Done()
		return &container.LaunchError{Container: f.name, Err: ctx.Err()}
	}
	if f.b.startErr != nil {
		return &container.LaunchError{Container: f.name, Err: f.b.startErr}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = container.StateStarted
	return nil
}

func (f *fakeContainer) Install(ctx context.Context, p probe.Probe) error {
	if f.b.installErr != nil {
		return &container.DeploymentError{Container: f.name, Probe: p.Name(), Err: f.b.installErr}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed = append(f.installed, p.Name())
	for _, c := range p.CallNames() {
		f.calls[c] = p.Name()
	}
	f.state = container.StateReady
	return nil
}

func (f *fakeContainer) Execute(ctx context.Context, call string) (container.Result, error) {
	f.mu.Lock()
	owner, ok := f.calls[call]
	stopped := f.state == container.StateStopped
	f.mu.Unlock()

	if stopped {
		return container.Result{}, &container.StateError{Container: f.name, Op: "execute in", State: container.StateStopped}
	}
	if !ok {
		return container.Result{}, &container.CallNotFoundError{Container: f.name, Call: call}
	}
	if f.b.hanging[call] {
		<-ctx.Done()
		return container.Result{}, &container.InvocationError{Container: f.name, Call: call, Err: ctx.Err()}
	}

	f.mu.Lock()
	f.executed = append(f.executed, call)
	f.mu.Unlock()
	return container.Result{Call: call, Probe: owner, Passed: !f.b.failing[call]}, nil
}

func (f *fakeContainer) Ports(ctx context.Context) ([]string, error) {
	return f.b.ports, nil
}

func (f *fakeContainer) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == container.StateNew || f.state == container.StateStopped {
		return nil
	}
	f.state = container.StateStopped
	f.stops++
	return f.b.stopErr
}

// fakeProvider creates one fake container per image, or one per
// configuration named after the Name option when no image is given.
type fakeProvider struct {
	registry  *provider.Registry
	behaviors map[string]behavior

	mu      sync.Mutex
	parses  int
	created []*fakeContainer
}

func newFakeProvider(behaviors map[string]behavior) *fakeProvider {
	return &fakeProvider{registry: provider.NewRegistry(), behaviors: behaviors}
}

func (p *fakeProvider) Parse(opts ...option.Option) ([]provider.Handle, error) {
	spec, err := provider.Parse(opts...)
	if err != nil {
		return nil, err
	}

	names := spec.Images
	if len(names) == 0 {
		names = []string{spec.Name}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.parses++

	cs := make([]container.Container, 0, len(names))
	for _, name := range names {
		c := &fakeContainer{name: name, b: p.behaviors[name], calls: make(map[string]string)}
		p.created = append(p.created, c)
		cs = append(cs, c)
	}
	return p.registry.Register(cs...), nil
}

func (p *fakeProvider) CreateContainer(h provider.Handle) (container.Container, bool) {
	return p.registry.Lookup(h)
}

func (p *fakeProvider) containers() []*fakeContainer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*fakeContainer(nil), p.created...)
}

func fake(s *Staged, t Target) *fakeContainer {
	c, _ := s.Container(t)
	return c.(*fakeContainer)
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingSink) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) Close() error { return nil }

func (r *recordingSink) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Type
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
