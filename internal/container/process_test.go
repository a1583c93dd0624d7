package container

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/tomatool/exam/internal/option"
	"github.com/tomatool/exam/internal/probe"
	"github.com/tomatool/exam/internal/runlog"
)

const scriptProbe = `#!/bin/sh
case "$1" in
  pass) echo "passing"; exit 0 ;;
  fail) echo "boom" >&2; exit 1 ;;
  env) echo "$GREETING from $EXAM_ENVIRONMENT"; exit 0 ;;
  sleep) sleep 5; exit 0 ;;
esac
exit 2
`

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process runtime tests need /bin/sh")
	}
}

func newScriptProbe(t *testing.T) probe.Probe {
	t.Helper()
	p, err := probe.New("script", []byte(scriptProbe), "pass", "fail", "env", "sleep")
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestProcessLifecycle(t *testing.T) {
	skipWithoutShell(t)
	ctx := context.Background()

	p := NewProcess(ProcessConfig{
		Name:    "local",
		Env:     map[string]string{"GREETING": "hello"},
		BaseDir: t.TempDir(),
	})
	if p.State() != StateNew {
		t.Fatalf("expected new, got %s", p.State())
	}

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	dir := p.Dir()
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("sandbox missing: %v", err)
	}

	if err := p.Install(ctx, newScriptProbe(t)); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if p.State() != StateReady {
		t.Fatalf("expected ready, got %s", p.State())
	}

	tests := []struct {
		call       string
		wantPassed bool
		wantCode   int
		wantOutput string
	}{
		{call: "pass", wantPassed: true, wantOutput: "passing"},
		{call: "fail", wantPassed: false, wantCode: 1, wantOutput: "boom"},
		{call: "env", wantPassed: true, wantOutput: "hello from local"},
	}
	for _, tt := range tests {
		t.Run(tt.call, func(t *testing.T) {
			res, err := p.Execute(ctx, tt.call)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if res.Passed != tt.wantPassed || res.ExitCode != tt.wantCode {
				t.Errorf("got passed=%v code=%d, want passed=%v code=%d", res.Passed, res.ExitCode, tt.wantPassed, tt.wantCode)
			}
			if !strings.Contains(res.Output, tt.wantOutput) {
				t.Errorf("output %q should contain %q", res.Output, tt.wantOutput)
			}
		})
	}

	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("sandbox should be removed, stat err = %v", err)
	}
	if err := p.Stop(ctx); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if _, err := p.Execute(ctx, "pass"); err == nil {
		t.Error("execute after stop should fail")
	}
}

func TestProcessUnknownCall(t *testing.T) {
	skipWithoutShell(t)
	ctx := context.Background()

	p := NewProcess(ProcessConfig{Name: "local", BaseDir: t.TempDir()})
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer p.Stop(ctx)
	if err := p.Install(ctx, newScriptProbe(t)); err != nil {
		t.Fatal(err)
	}

	_, err := p.Execute(ctx, "missing")
	var notFound *CallNotFoundError
	if !errors.As(err, &notFound) || notFound.Call != "missing" {
		t.Fatalf("expected CallNotFoundError for missing, got %v", err)
	}
}

func TestProcessCallTimeoutIsInvocationError(t *testing.T) {
	skipWithoutShell(t)

	p := NewProcess(ProcessConfig{Name: "local", BaseDir: t.TempDir()})
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Stop(context.Background())
	if err := p.Install(context.Background(), newScriptProbe(t)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := p.Execute(ctx, "sleep")
	if !IsInvocationError(err) {
		t.Fatalf("expected InvocationError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestProcessDaemon(t *testing.T) {
	skipWithoutShell(t)
	ctx := context.Background()

	t.Run("ready via log line", func(t *testing.T) {
		p := NewProcess(ProcessConfig{
			Name:    "daemon",
			Command: []string{"sh", "-c", "echo booting; echo server ready; exec sleep 30"},
			BaseDir: t.TempDir(),
			Wait:    option.WaitForLog("server ready").WithTimeout(5 * time.Second),
		})
		if err := p.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := p.Stop(ctx); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	})

	t.Run("exit before ready is a launch error", func(t *testing.T) {
		p := NewProcess(ProcessConfig{
			Name:    "daemon",
			Command: []string{"sh", "-c", "echo crashing; exit 3"},
			BaseDir: t.TempDir(),
			Wait:    option.WaitForLog("never printed").WithTimeout(5 * time.Second),
		})
		err := p.Start(ctx)
		if !IsLaunchError(err) {
			t.Fatalf("expected LaunchError, got %v", err)
		}
		if p.State() != StateNew {
			t.Errorf("expected state new, got %s", p.State())
		}
		if err := p.Stop(ctx); err != nil {
			t.Errorf("Stop after failed start: %v", err)
		}
		if err := p.Start(ctx); !errors.Is(err, ErrDiscarded) {
			t.Errorf("expected ErrDiscarded, got %v", err)
		}
	})

	t.Run("missing binary", func(t *testing.T) {
		p := NewProcess(ProcessConfig{
			Name:    "daemon",
			Command: []string{"/nonexistent/exam-daemon"},
			BaseDir: t.TempDir(),
		})
		if err := p.Start(ctx); !IsLaunchError(err) {
			t.Fatalf("expected LaunchError, got %v", err)
		}
	})

	t.Run("unsupported wait strategy", func(t *testing.T) {
		p := NewProcess(ProcessConfig{
			Name:    "daemon",
			BaseDir: t.TempDir(),
			Wait:    option.WaitForExec("true"),
		})
		if err := p.Start(ctx); !IsLaunchError(err) {
			t.Fatalf("expected LaunchError, got %v", err)
		}
	})
}

func TestProcessRejectsSecondPayloadUnderSameName(t *testing.T) {
	skipWithoutShell(t)
	ctx := context.Background()

	a, err := probe.New("p", []byte("#!/bin/sh\necho A-$1\nexit 0\n"), "t1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := probe.New("p", []byte("#!/bin/sh\necho B-$1\nexit 1\n"), "t2")
	if err != nil {
		t.Fatal(err)
	}

	p := NewProcess(ProcessConfig{Name: "local", BaseDir: t.TempDir()})
	err = Use(ctx, p, func(c Container) error {
		if err := c.Install(ctx, a); err != nil {
			t.Fatalf("Install a: %v", err)
		}
		if err := c.Install(ctx, b); !IsDeploymentError(err) {
			t.Errorf("expected DeploymentError, got %v", err)
		}

		res, err := c.Execute(ctx, "t1")
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if !res.Passed || strings.TrimSpace(res.Output) != "A-t1" {
			t.Errorf("t1 should run the first payload, got passed=%v output=%q", res.Passed, res.Output)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Use: %v", err)
	}
}

func TestProcessWritesRunLogs(t *testing.T) {
	skipWithoutShell(t)
	ctx := context.Background()

	run, err := runlog.NewIn(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	p := NewProcess(ProcessConfig{Name: "local", BaseDir: t.TempDir(), Run: run})
	err = Use(ctx, p, func(c Container) error {
		if err := c.Install(ctx, newScriptProbe(t)); err != nil {
			return err
		}
		_, err := c.Execute(ctx, "pass")
		return err
	})
	if err != nil {
		t.Fatalf("Use: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(run.Dir, "call-local-pass.log"))
	if err != nil {
		t.Fatalf("call log missing: %v", err)
	}
	if !strings.Contains(string(data), "passing") {
		t.Errorf("unexpected call log %q", data)
	}
}
