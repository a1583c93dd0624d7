package provider

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/tomatool/exam/internal/container"
	"github.com/tomatool/exam/internal/option"
	"github.com/tomatool/exam/internal/runlog"
)

// Docker provisions one testcontainers container per image. All containers of
// one provider share a network and can reach each other by name.
type Docker struct {
	registry *Registry
	network  *container.Network
	run      *runlog.Run
	seq      atomic.Uint64
}

// NewDocker creates a Docker provider. run may be nil.
func NewDocker(run *runlog.Run) *Docker {
	return &Docker{
		registry: NewRegistry(),
		network:  &container.Network{},
		run:      run,
	}
}

// Parse returns one handle per image in opts.
func (d *Docker) Parse(opts ...option.Option) ([]Handle, error) {
	spec, err := Parse(opts...)
	if err != nil {
		return nil, err
	}
	if len(spec.Images) == 0 {
		return nil, &ConfigurationError{Index: -1, Reason: "no image given"}
	}

	cs := make([]container.Container, 0, len(spec.Images))
	for _, image := range spec.Images {
		name := dockerName(spec, image)
		cfg := container.DockerConfig{
			Name:     name,
			Image:    image,
			Env:      spec.Env,
			Ports:    spec.Ports,
			Cmd:      spec.Command,
			Workdir:  spec.Workdir,
			Labels:   spec.Labels,
			Wait:     spec.Wait,
			ProbeDir: spec.ProbeDir,
			Network:  d.network,
			Run:      d.run,
			LogName:  fmt.Sprintf("%s-%d", name, d.seq.Add(1)),
		}
		log.Debug().Str("container", cfg.Name).Str("image", image).Msg("registering docker container")
		cs = append(cs, container.NewDocker(cfg))
	}
	return d.registry.Register(cs...), nil
}

func dockerName(spec Spec, image string) string {
	switch {
	case spec.Name == "":
		return image
	case len(spec.Images) == 1:
		return spec.Name
	default:
		return fmt.Sprintf("%s/%s", spec.Name, image)
	}
}

// CreateContainer returns the container registered for h.
func (d *Docker) CreateContainer(h Handle) (container.Container, bool) {
	return d.registry.Lookup(h)
}

// Registry exposes the provider's registry.
func (d *Docker) Registry() *Registry { return d.registry }

// Close removes the shared network. Containers must be stopped first.
func (d *Docker) Close(ctx context.Context) error {
	return d.network.Remove(ctx)
}
