package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/tomatool/exam/internal/container"
	"github.com/tomatool/exam/internal/option"
	"github.com/tomatool/exam/internal/probe"
	"github.com/tomatool/exam/internal/runlog"
)

func TestParse(t *testing.T) {
	spec, err := Parse(
		option.Name("db"),
		option.Options(
			option.Image("postgres:16"),
			option.Env("POSTGRES_PASSWORD", "secret"),
		),
		option.Port("5432/tcp"),
		option.Env("POSTGRES_PASSWORD", "secret"),
		option.Label("team", "core"),
		option.WaitForSQL("5432/tcp", "postgres", "postgres://u:p@{{host}}:{{port}}/db"),
	)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := Spec{
		Name:   "db",
		Images: []string{"postgres:16"},
		Env:    map[string]string{"POSTGRES_PASSWORD": "secret"},
		Ports:  []string{"5432/tcp"},
		Labels: map[string]string{"team": "core"},
		Wait:   option.WaitForSQL("5432/tcp", "postgres", "postgres://u:p@{{host}}:{{port}}/db"),
	}
	if diff := cmp.Diff(want, spec); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	type unknown struct{}

	tests := []struct {
		name  string
		opts  []option.Option
		index int
	}{
		{name: "nil option", opts: []option.Option{option.Image("a"), nil}, index: 1},
		{name: "unknown type", opts: []option.Option{unknown{}}, index: 0},
		{name: "empty name", opts: []option.Option{option.Name(" ")}, index: 0},
		{name: "two names", opts: []option.Option{option.Name("a"), option.Name("b")}, index: 1},
		{name: "empty image", opts: []option.Option{option.Image("")}, index: 0},
		{name: "duplicate image", opts: []option.Option{option.Image("a"), option.Image("a")}, index: 1},
		{name: "conflicting env", opts: []option.Option{option.Env("A", "1"), option.Options(option.Env("A", "2"))}, index: 1},
		{name: "bad env key", opts: []option.Option{option.Env("A=B", "1")}, index: 0},
		{name: "bad port", opts: []option.Option{option.Port("http")}, index: 0},
		{name: "duplicate port", opts: []option.Option{option.Port("80"), option.Port("80")}, index: 1},
		{name: "empty command", opts: []option.Option{option.Command()}, index: 0},
		{name: "two commands", opts: []option.Option{option.Command("a"), option.Command("b")}, index: 1},
		{name: "relative probe dir", opts: []option.Option{option.ProbeDir("probes")}, index: 0},
		{name: "conflicting label", opts: []option.Option{option.Label("k", "1"), option.Label("k", "2")}, index: 1},
		{name: "unknown wait", opts: []option.Option{option.WaitOption{Kind: "magic"}}, index: 0},
		{name: "log wait without line", opts: []option.Option{option.WaitForLog("")}, index: 0},
		{name: "port wait without port", opts: []option.Option{option.WaitForPort("")}, index: 0},
		{name: "http wait bad port", opts: []option.Option{option.WaitForHTTP("abc", "/")}, index: 0},
		{name: "sql wait bad driver", opts: []option.Option{option.WaitForSQL("5432", "oracle", "dsn")}, index: 0},
		{name: "sql wait no dsn", opts: []option.Option{option.WaitForSQL("5432", "mysql", "")}, index: 0},
		{name: "negative timeout", opts: []option.Option{option.WaitForLog("x").WithTimeout(-time.Second)}, index: 0},
		{name: "two waits", opts: []option.Option{option.WaitForLog("x"), option.WaitForPort("80")}, index: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.opts...)
			var ce *ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if ce.Index != tt.index {
				t.Errorf("expected index %d, got %d (%v)", tt.index, ce.Index, err)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := container.NewProcess(container.ProcessConfig{Name: "a"})
	b := container.NewProcess(container.ProcessConfig{Name: "b"})

	handles := r.Register(a, b)
	if len(handles) != 2 || r.Len() != 2 {
		t.Fatalf("expected 2 handles, got %d (len %d)", len(handles), r.Len())
	}
	if handles[0] == handles[1] {
		t.Error("handles must be distinct")
	}
	if handles[0].Name() != "a" || handles[0].String() != "a#1" {
		t.Errorf("unexpected handle %s", handles[0])
	}

	got, ok := r.Lookup(handles[1])
	if !ok || got != container.Container(b) {
		t.Errorf("Lookup returned %v, %v", got, ok)
	}
	if diff := cmp.Diff(handles, r.Handles(), cmp.Comparer(func(x, y Handle) bool { return x == y })); diff != "" {
		t.Errorf("Handles() mismatch:\n%s", diff)
	}

	other := NewRegistry()
	foreign := other.Register(container.NewProcess(container.ProcessConfig{Name: "a"}))[0]
	if c, ok := r.Lookup(foreign); ok || c != nil {
		t.Error("foreign handle must not resolve")
	}
	if _, ok := r.Lookup(Handle{}); ok {
		t.Error("zero handle must not resolve")
	}
}

func TestDockerParse(t *testing.T) {
	d := NewDocker(nil)

	handles, err := d.Parse(
		option.Name("cache"),
		option.Image("redis:7"),
		option.Image("valkey/valkey:8"),
		option.Port("6379/tcp"),
		option.WaitForPort("6379/tcp"),
	)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(handles) != 2 {
		t.Fatalf("expected one handle per image, got %d", len(handles))
	}

	var names, logNames []string
	for _, h := range handles {
		c, ok := d.CreateContainer(h)
		if !ok {
			t.Fatalf("handle %s did not resolve", h)
		}
		if c.State() != container.StateNew {
			t.Errorf("%s: expected new, got %s", h, c.State())
		}
		dc := c.(*container.Docker)
		if dc.Config().ProbeDir != container.DefaultProbeDir {
			t.Errorf("unexpected probe dir %s", dc.Config().ProbeDir)
		}
		names = append(names, c.Name())
		logNames = append(logNames, dc.Config().LogName)
	}
	if diff := cmp.Diff([]string{"cache/redis:7", "cache/valkey/valkey:8"}, names); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"cache/redis:7-1", "cache/valkey/valkey:8-2"}, logNames); diff != "" {
		t.Errorf("log names mismatch (-want +got):\n%s", diff)
	}

	again, err := d.Parse(option.Image("redis:7"))
	if err != nil {
		t.Fatal(err)
	}
	if again[0] == handles[0] {
		t.Error("re-parsing must mint a new handle")
	}
	if again[0].Name() != "redis:7" {
		t.Errorf("expected image as default name, got %s", again[0].Name())
	}
}

func TestDockerParseErrorLeavesRegistryEmpty(t *testing.T) {
	tests := []struct {
		name string
		opts []option.Option
	}{
		{name: "no image", opts: []option.Option{option.Name("x")}},
		{name: "bad port after image", opts: []option.Option{option.Image("a"), option.Image("b"), option.Port("nope")}},
		{name: "conflict", opts: []option.Option{option.Image("a"), option.Env("K", "1"), option.Env("K", "2")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDocker(nil)
			handles, err := d.Parse(tt.opts...)
			if !IsConfigurationError(err) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if handles != nil {
				t.Errorf("expected no handles, got %v", handles)
			}
			if d.Registry().Len() != 0 {
				t.Errorf("registry must stay empty, has %d", d.Registry().Len())
			}
		})
	}
}

func TestProcessParse(t *testing.T) {
	p := NewProcess(t.TempDir(), nil)

	handles, err := p.Parse(option.Env("A", "1"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(handles) != 1 || handles[0].Name() != "local" {
		t.Fatalf("unexpected handles %v", handles)
	}
	if _, ok := p.CreateContainer(handles[0]); !ok {
		t.Error("handle did not resolve")
	}

	d := NewDocker(nil)
	if _, ok := d.CreateContainer(handles[0]); ok {
		t.Error("handle must not resolve in another provider")
	}

	rejected := [][]option.Option{
		{option.Image("alpine")},
		{option.Port("80")},
		{option.Workdir("/srv")},
		{option.ProbeDir("/opt")},
		{option.Command("sleep", "1"), option.WaitForExec("true")},
		{option.WaitForLog("ready")},
	}
	for _, opts := range rejected {
		if _, err := p.Parse(opts...); !IsConfigurationError(err) {
			t.Errorf("Parse(%v): expected ConfigurationError, got %v", opts, err)
		}
	}
	if p.Registry().Len() != 1 {
		t.Errorf("rejected configurations must not register, len %d", p.Registry().Len())
	}
}

func TestProcessSiblingsKeepSeparateRunLogs(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process runtime tests need /bin/sh")
	}
	ctx := context.Background()

	run, err := runlog.NewIn(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	p := NewProcess(t.TempDir(), run)
	who, err := probe.New("who", []byte("#!/bin/sh\necho \"$WHO\"\n"), "t1")
	if err != nil {
		t.Fatal(err)
	}

	for _, value := range []string{"first", "second"} {
		handles, err := p.Parse(option.Env("WHO", value))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		c, _ := p.CreateContainer(handles[0])
		err = container.Use(ctx, c, func(c container.Container) error {
			if err := c.Install(ctx, who); err != nil {
				return err
			}
			_, err := c.Execute(ctx, "t1")
			return err
		})
		if err != nil {
			t.Fatalf("%s: %v", value, err)
		}
	}

	for name, want := range map[string]string{
		"call-local-1-t1.log": "first\n",
		"call-local-2-t1.log": "second\n",
	} {
		data, err := os.ReadFile(filepath.Join(run.Dir, name))
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if string(data) != want {
			t.Errorf("%s: got %q, want %q", name, data, want)
		}
	}
	for _, name := range []string{"process-local-1.log", "process-local-2.log"} {
		if _, err := os.Stat(filepath.Join(run.Dir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
}
