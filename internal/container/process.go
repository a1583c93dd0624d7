package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tomatool/exam/internal/option"
	"github.com/tomatool/exam/internal/probe"
	"github.com/tomatool/exam/internal/runlog"
)

// ProcessConfig describes an environment that runs on the local host: a
// sandbox directory and an optional daemon process.
type ProcessConfig struct {
	Name    string
	Command []string
	Env     map[string]string
	BaseDir string // parent of the sandbox, defaults to os.TempDir()
	Wait    option.WaitOption

	Run     *runlog.Run
	LogName string // prefix of run-log files, defaults to Name
}

// Process runs probes as local executables inside a private sandbox.
type Process struct {
	lifecycle
	cfg ProcessConfig

	dir    string
	env    []string
	daemon *exec.Cmd
	exited chan struct{}

	logMu    sync.Mutex
	logLines []string
	logFile  *os.File
}

// NewProcess returns a process container in state New.
func NewProcess(cfg ProcessConfig) *Process {
	if cfg.LogName == "" {
		cfg.LogName = cfg.Name
	}
	return &Process{
		lifecycle: newLifecycle(cfg.Name),
		cfg:       cfg,
	}
}

// Dir returns the sandbox directory, empty before Start.
func (p *Process) Dir() string { return p.dir }

// Start creates the sandbox, launches the daemon if configured and waits for
// it to become ready.
func (p *Process) Start(ctx context.Context) error {
	if err := p.beginStart(); err != nil {
		return err
	}

	if err := p.start(ctx); err != nil {
		p.release()
		p.discard()
		return &LaunchError{Container: p.name, Err: err}
	}

	p.markStarted()
	log.Debug().Str("container", p.name).Str("dir", p.dir).Msg("process environment ready")
	return nil
}

func (p *Process) start(ctx context.Context) error {
	ready, err := localReadiness(p.cfg.Wait)
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp(p.cfg.BaseDir, "exam-"+dnsAlias(p.name)+"-")
	if err != nil {
		return fmt.Errorf("creating sandbox: %w", err)
	}
	p.dir = dir
	p.env = p.buildEnv()

	if p.cfg.Run != nil {
		f, err := p.cfg.Run.CreateLogFile("process-" + dnsAlias(p.cfg.LogName))
		if err != nil {
			log.Warn().Err(err).Str("container", p.name).Msg("failed to create process log file")
		} else {
			p.logFile = f
		}
	}

	if len(p.cfg.Command) == 0 {
		return nil
	}

	// The daemon must outlive ctx, which only bounds startup.
	p.daemon = exec.Command(p.cfg.Command[0], p.cfg.Command[1:]...)
	p.daemon.Dir = dir
	p.daemon.Env = p.env
	p.daemon.Stdout = &logWriter{p: p, source: "stdout"}
	p.daemon.Stderr = &logWriter{p: p, source: "stderr"}
	// Children that inherit the output pipes must not block Wait forever.
	p.daemon.WaitDelay = 2 * time.Second

	log.Debug().Str("container", p.name).Strs("command", p.cfg.Command).Msg("starting daemon")
	if err := p.daemon.Start(); err != nil {
		p.daemon = nil
		return fmt.Errorf("starting daemon: %w", err)
	}

	p.exited = make(chan struct{})
	go func() {
		p.daemon.Wait()
		close(p.exited)
	}()

	if ready == nil {
		return nil
	}
	return p.waitForReady(ctx, ready)
}

func (p *Process) buildEnv() []string {
	env := os.Environ()
	keys := make([]string, 0, len(p.cfg.Env))
	for k := range p.cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, p.cfg.Env[k]))
	}
	return append(env, "EXAM_SANDBOX="+p.dir, "EXAM_ENVIRONMENT="+p.name)
}

// logWriter splits daemon output into lines and stores them
type logWriter struct {
	p      *Process
	source string
	buf    []byte
}

func (w *logWriter) Write(b []byte) (int, error) {
	w.buf = append(w.buf, b...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.p.appendLine(w.source, string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	return len(b), nil
}

func (p *Process) appendLine(source, line string) {
	if line == "" {
		return
	}

	p.logMu.Lock()
	defer p.logMu.Unlock()

	p.logLines = append(p.logLines, line)
	if len(p.logLines) > 100 {
		p.logLines = p.logLines[1:]
	}
	if p.logFile != nil {
		fmt.Fprintf(p.logFile, "[%s] %s\n", source, line)
	}
}

func (p *Process) lines() []string {
	p.logMu.Lock()
	defer p.logMu.Unlock()
	return append([]string(nil), p.logLines...)
}

// waitForReady polls the readiness check until it passes, the daemon exits
// or the timeout expires.
func (p *Process) waitForReady(ctx context.Context, ready readinessProbe) error {
	timeout := p.cfg.Wait.Timeout
	if timeout == 0 {
		timeout = defaultReadyTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var lastErr error
	for {
		if lastErr = ready(ctx, p.lines); lastErr == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %s to be ready: %w", p.cfg.Wait, lastErr)
		case <-p.exited:
			// Give the log check one last look at the final output.
			if err := ready(ctx, p.lines); err == nil {
				return nil
			}
			return fmt.Errorf("daemon exited before ready (%s)", p.daemon.ProcessState)
		case <-ticker.C:
		}
	}
}

// Install writes the payload into the sandbox as an executable.
func (p *Process) Install(ctx context.Context, pr probe.Probe) error {
	if err := p.beginInstall(pr); err != nil {
		return err
	}

	target := filepath.Join(p.dir, pr.Name())
	log.Debug().Str("container", p.name).Str("probe", pr.Name()).Str("path", target).Msg("installing probe")

	if err := writeExecutable(target, pr.Bytes()); err != nil {
		return &DeploymentError{Container: p.name, Probe: pr.Name(), Err: err}
	}

	p.markInstalled(pr)
	return nil
}

// writeExecutable writes through a temporary file so a half written payload
// is never executed.
func writeExecutable(target string, data []byte) error {
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o755); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

// Execute runs `<probe> <call>` in the sandbox. A non-zero exit is a failed
// test, not an error.
func (p *Process) Execute(ctx context.Context, call string) (Result, error) {
	owner, err := p.resolve(call)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, filepath.Join(p.dir, owner), call)
	cmd.Dir = p.dir
	cmd.Env = p.env
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = time.Second

	err = cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, &InvocationError{Container: p.name, Call: call, Err: ctxErr}
	}

	result := Result{
		Call:     call,
		Probe:    owner,
		Output:   out.String(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.Passed = true
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return Result{}, &InvocationError{Container: p.name, Call: call, Err: err}
	}

	if p.cfg.Run != nil {
		name := fmt.Sprintf("call-%s-%s", dnsAlias(p.cfg.LogName), call)
		if err := p.cfg.Run.AppendLog(name, out.Bytes()); err != nil {
			log.Warn().Err(err).Str("call", call).Msg("failed to write call output")
		}
	}
	return result, nil
}

// Stop kills the daemon and removes the sandbox.
func (p *Process) Stop(ctx context.Context) error {
	if !p.beginStop() {
		return nil
	}
	log.Debug().Str("container", p.name).Msg("stopping process environment")
	return p.release()
}

func (p *Process) release() error {
	var errs []error

	if p.daemon != nil && p.daemon.Process != nil {
		if err := p.stopDaemon(); err != nil {
			errs = append(errs, err)
		}
	}

	p.logMu.Lock()
	if p.logFile != nil {
		p.logFile.Close()
		p.logFile = nil
	}
	p.logMu.Unlock()

	if p.dir != "" && strings.Contains(filepath.Base(p.dir), "exam-") {
		if err := os.RemoveAll(p.dir); err != nil {
			errs = append(errs, fmt.Errorf("removing sandbox: %w", err))
		}
	}
	return errors.Join(errs...)
}

// stopDaemon tries a graceful shutdown first and kills after five seconds
func (p *Process) stopDaemon() error {
	log.Debug().Int("pid", p.daemon.Process.Pid).Msg("stopping daemon")

	if err := p.daemon.Process.Signal(syscall.SIGTERM); err != nil {
		log.Debug().Err(err).Msg("failed to send SIGTERM, trying SIGKILL")
		if err := p.daemon.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("killing daemon: %w", err)
		}
	}

	select {
	case <-p.exited:
	case <-time.After(5 * time.Second):
		p.daemon.Process.Kill()
		<-p.exited
	}
	return nil
}
