package container

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"path"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog/log"
	"github.com/testcontainers/testcontainers-go"
	tcexec "github.com/testcontainers/testcontainers-go/exec"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/tomatool/exam/internal/option"
	"github.com/tomatool/exam/internal/probe"
	"github.com/tomatool/exam/internal/runlog"
)

// DefaultProbeDir is where probes are copied inside a Docker container.
const DefaultProbeDir = "/opt/exam/probes"

// CheckDockerAvailable verifies that Docker daemon is running and accessible
func CheckDockerAvailable() error {
	cmd := exec.Command("docker", "info")
	if err := cmd.Run(); err != nil {
		return &DockerNotRunningError{}
	}
	return nil
}

// DockerNotRunningError provides helpful instructions for starting Docker
type DockerNotRunningError struct{}

func (e *DockerNotRunningError) Error() string {
	switch runtime.GOOS {
	case "darwin":
		return `Docker is not running. To fix this:

  1. Open Docker Desktop application
  2. Wait for Docker to start (whale icon in menu bar stops animating)
  3. Run exam again

  Or run the suite without Docker:
    exam run --runtime process`

	case "linux":
		return `Docker is not running. To fix this:

  1. Start Docker daemon:
       sudo systemctl start docker

  2. Make sure your user is in the docker group:
       sudo usermod -aG docker $USER
       (log out and back in after this)

  3. Run exam again`

	default:
		return `Docker is not running. Please start Docker and try again.`
	}
}

// DockerConfig describes one Docker-backed environment.
type DockerConfig struct {
	Name     string
	Image    string
	Env      map[string]string
	Ports    []string
	Cmd      []string
	Workdir  string
	Labels   map[string]string
	Wait     option.WaitOption
	ProbeDir string

	Network *Network
	Run     *runlog.Run
	LogName string // prefix of run-log files, defaults to Name
}

type genericContainerFunc func(ctx context.Context, req testcontainers.GenericContainerRequest) (testcontainers.Container, error)

// Docker runs an environment as a testcontainers container.
type Docker struct {
	lifecycle
	cfg DockerConfig

	create genericContainerFunc
	ctr    testcontainers.Container
	logsMu sync.Mutex
	logs   io.Closer
}

// NewDocker returns a container in state New. Nothing is pulled or created
// until Start.
func NewDocker(cfg DockerConfig) *Docker {
	if cfg.ProbeDir == "" {
		cfg.ProbeDir = DefaultProbeDir
	}
	if cfg.LogName == "" {
		cfg.LogName = cfg.Name
	}
	return &Docker{
		lifecycle: newLifecycle(cfg.Name),
		cfg:       cfg,
		create:    testcontainers.GenericContainer,
	}
}

// Config returns the container configuration.
func (d *Docker) Config() DockerConfig { return d.cfg }

// Start creates and starts the container and waits for it to be ready.
func (d *Docker) Start(ctx context.Context) error {
	if err := d.beginStart(); err != nil {
		return err
	}

	req, err := d.request(ctx)
	if err != nil {
		d.discard()
		return &LaunchError{Container: d.name, Err: err}
	}

	log.Debug().Str("container", d.name).Str("image", d.cfg.Image).Msg("starting container")
	startTime := time.Now()

	ctr, err := d.create(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		// A container that was created but never became ready is still ours.
		if ctr != nil {
			if termErr := ctr.Terminate(context.WithoutCancel(ctx)); termErr != nil {
				log.Warn().Err(termErr).Str("container", d.name).Msg("failed to remove container after failed start")
			}
		}
		d.discard()
		return &LaunchError{Container: d.name, Err: err}
	}

	d.ctr = ctr
	d.markStarted()

	log.Debug().
		Str("container", d.name).
		Dur("duration", time.Since(startTime)).
		Msg("container ready")

	if d.cfg.Run != nil {
		d.captureLogs(context.WithoutCancel(ctx))
	}
	return nil
}

func (d *Docker) request(ctx context.Context) (testcontainers.ContainerRequest, error) {
	req := testcontainers.ContainerRequest{
		Image:        d.cfg.Image,
		Env:          d.cfg.Env,
		ExposedPorts: append([]string(nil), d.cfg.Ports...),
		Cmd:          d.cfg.Cmd,
		WorkingDir:   d.cfg.Workdir,
		Labels:       d.cfg.Labels,
		WaitingFor:   buildWaitStrategy(d.cfg.Wait),
	}

	// Attach to the shared network with the environment name as DNS alias
	if d.cfg.Network != nil {
		name, err := d.cfg.Network.ensure(ctx)
		if err != nil {
			return req, err
		}
		req.Networks = []string{name}
		req.NetworkAliases = map[string][]string{
			name: {dnsAlias(d.name)},
		}
	}
	return req, nil
}

// captureLogs streams container logs to a file in the run directory
func (d *Docker) captureLogs(ctx context.Context) {
	logFile, err := d.cfg.Run.CreateLogFile("container-" + d.cfg.LogName)
	if err != nil {
		log.Warn().Err(err).Str("container", d.name).Msg("failed to create container log file")
		return
	}

	logs, err := d.ctr.Logs(ctx)
	if err != nil {
		logFile.Close()
		log.Warn().Err(err).Str("container", d.name).Msg("failed to get container logs")
		return
	}

	d.logsMu.Lock()
	d.logs = logFile
	d.logsMu.Unlock()

	go func() {
		defer logs.Close()
		io.Copy(logFile, logs)
	}()
}

// Install copies the probe payload into the probe directory.
func (d *Docker) Install(ctx context.Context, p probe.Probe) error {
	if err := d.beginInstall(p); err != nil {
		return err
	}

	target := path.Join(d.cfg.ProbeDir, p.Name())
	log.Debug().Str("container", d.name).Str("probe", p.Name()).Str("path", target).Msg("installing probe")

	if err := d.ctr.CopyToContainer(ctx, p.Bytes(), target, 0o755); err != nil {
		return &DeploymentError{Container: d.name, Probe: p.Name(), Err: err}
	}

	d.markInstalled(p)
	return nil
}

// Execute runs `<probe path> <call>` inside the container. Exit code 0 is a
// pass.
func (d *Docker) Execute(ctx context.Context, call string) (Result, error) {
	owner, err := d.resolve(call)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	cmd := []string{path.Join(d.cfg.ProbeDir, owner), call}
	exitCode, reader, err := d.ctr.Exec(ctx, cmd, tcexec.Multiplexed())
	if err != nil {
		return Result{}, &InvocationError{Container: d.name, Call: call, Err: err}
	}

	var output []byte
	if reader != nil {
		output, err = io.ReadAll(reader)
		if err != nil {
			return Result{}, &InvocationError{Container: d.name, Call: call, Err: fmt.Errorf("reading output: %w", err)}
		}
	}

	if d.cfg.Run != nil {
		if err := d.cfg.Run.AppendLog("call-"+d.cfg.LogName+"-"+call, output); err != nil {
			log.Warn().Err(err).Str("call", call).Msg("failed to write call output")
		}
	}

	return Result{
		Call:     call,
		Probe:    owner,
		Passed:   exitCode == 0,
		ExitCode: exitCode,
		Output:   string(output),
		Duration: time.Since(start),
	}, nil
}

// Stop terminates the container. It is a no-op unless the container started.
func (d *Docker) Stop(ctx context.Context) error {
	if !d.beginStop() {
		return nil
	}

	log.Debug().Str("container", d.name).Msg("stopping container")

	err := d.ctr.Terminate(ctx)

	d.logsMu.Lock()
	if d.logs != nil {
		d.logs.Close()
		d.logs = nil
	}
	d.logsMu.Unlock()

	if err != nil {
		return fmt.Errorf("terminating %s: %w", d.name, err)
	}
	return nil
}

// Ports returns host bindings of the exposed ports, sorted by container port.
func (d *Docker) Ports(ctx context.Context) ([]string, error) {
	if d.State() == StateNew || d.State() == StateStopped {
		return nil, &StateError{Container: d.name, Op: "inspect ports of", State: d.State()}
	}

	host, err := d.ctr.Host(ctx)
	if err != nil {
		return nil, err
	}
	ports, err := d.ctr.Ports(ctx)
	if err != nil {
		return nil, err
	}

	var out []string
	for containerPort, bindings := range ports {
		if len(bindings) > 0 {
			out = append(out, fmt.Sprintf("%s -> %s:%s", containerPort.Port(), host, bindings[0].HostPort))
		}
	}
	sort.Strings(out)
	return out, nil
}

// buildWaitStrategy converts a wait option to a testcontainers wait strategy
func buildWaitStrategy(w option.WaitOption) wait.Strategy {
	timeout := w.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	switch w.Kind {
	case option.WaitPort:
		return wait.ForListeningPort(nat.Port(w.Target)).WithStartupTimeout(timeout)
	case option.WaitLog:
		return wait.ForLog(w.Target).WithStartupTimeout(timeout)
	case option.WaitHTTP:
		return wait.ForHTTP(w.Path).WithPort(nat.Port(w.Target)).WithStartupTimeout(timeout)
	case option.WaitExec:
		return wait.ForExec([]string{"sh", "-c", w.Target}).WithStartupTimeout(timeout)
	case option.WaitSQL:
		return wait.ForSQL(nat.Port(w.Target), w.Driver, func(host string, port nat.Port) string {
			return expandDSN(w.DSN, host, port.Port())
		}).WithStartupTimeout(timeout)
	default:
		return nil
	}
}

func dnsAlias(name string) string {
	return strings.NewReplacer("/", "-", ":", "-", " ", "-").Replace(strings.ToLower(name))
}

// Network is a Docker network shared by the containers of one provider. It is
// created on first use.
type Network struct {
	mu  sync.Mutex
	net *testcontainers.DockerNetwork
}

func (n *Network) ensure(ctx context.Context) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.net != nil {
		return n.net.Name, nil
	}

	log.Debug().Msg("creating docker network")
	net, err := network.New(ctx, network.WithDriver("bridge"))
	if err != nil {
		return "", fmt.Errorf("creating network: %w", err)
	}
	n.net = net
	log.Debug().Str("network", net.Name).Msg("docker network created")
	return net.Name, nil
}

// Name returns the network name, or "" before first use.
func (n *Network) Name() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.net == nil {
		return ""
	}
	return n.net.Name
}

// Remove deletes the network if it was created.
func (n *Network) Remove(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.net == nil {
		return nil
	}
	log.Debug().Str("network", n.net.Name).Msg("removing docker network")
	if err := n.net.Remove(ctx); err != nil {
		return fmt.Errorf("removing network %s: %w", n.net.Name, err)
	}
	n.net = nil
	return nil
}
