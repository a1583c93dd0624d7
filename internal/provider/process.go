package provider

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/tomatool/exam/internal/container"
	"github.com/tomatool/exam/internal/option"
	"github.com/tomatool/exam/internal/runlog"
)

// Process provisions local sandboxes, one per configuration.
type Process struct {
	registry *Registry
	baseDir  string
	run      *runlog.Run
	seq      atomic.Uint64
}

// NewProcess creates a process provider. Sandboxes are created under baseDir
// (the system temp dir when empty). run may be nil.
func NewProcess(baseDir string, run *runlog.Run) *Process {
	return &Process{
		registry: NewRegistry(),
		baseDir:  baseDir,
		run:      run,
	}
}

// Parse returns exactly one handle.
func (p *Process) Parse(opts ...option.Option) ([]Handle, error) {
	spec, err := Parse(opts...)
	if err != nil {
		return nil, err
	}

	switch {
	case len(spec.Images) > 0:
		return nil, &ConfigurationError{Index: -1, Reason: "images are not supported by the process runtime"}
	case len(spec.Ports) > 0:
		return nil, &ConfigurationError{Index: -1, Reason: "ports are not supported by the process runtime"}
	case spec.Workdir != "" || spec.ProbeDir != "":
		return nil, &ConfigurationError{Index: -1, Reason: "the process runtime always runs in its sandbox"}
	case spec.Wait.Kind == option.WaitExec:
		return nil, &ConfigurationError{Index: -1, Reason: "exec wait is not supported by the process runtime"}
	case spec.Wait.Kind != "" && len(spec.Command) == 0:
		return nil, &ConfigurationError{Index: -1, Reason: "wait strategy needs a command to wait for"}
	}

	name := spec.Name
	if name == "" {
		name = "local"
	}

	log.Debug().Str("container", name).Msg("registering process container")
	c := container.NewProcess(container.ProcessConfig{
		Name:    name,
		Command: spec.Command,
		Env:     spec.Env,
		BaseDir: p.baseDir,
		Wait:    spec.Wait,
		Run:     p.run,
		LogName: fmt.Sprintf("%s-%d", name, p.seq.Add(1)),
	})
	return p.registry.Register(c), nil
}

// CreateContainer returns the container registered for h.
func (p *Process) CreateContainer(h Handle) (container.Container, bool) {
	return p.registry.Lookup(h)
}

// Registry exposes the provider's registry.
func (p *Process) Registry() *Registry { return p.registry }
