package runlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewIn(t *testing.T) {
	root := t.TempDir()
	run, err := NewIn(root)
	if err != nil {
		t.Fatalf("NewIn: %v", err)
	}
	if len(run.ID) != 8 {
		t.Errorf("expected 8 char id, got %q", run.ID)
	}
	if !strings.HasSuffix(run.Dir, "_"+run.ID) || filepath.Dir(run.Dir) != root {
		t.Errorf("unexpected run dir %s", run.Dir)
	}
	if info, err := os.Stat(run.Dir); err != nil || !info.IsDir() {
		t.Fatalf("run dir missing: %v", err)
	}
}

func TestLogs(t *testing.T) {
	run, err := NewIn(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if got := filepath.Base(run.LogPath("container-postgres:16/primary")); got != "container-postgres_16_primary.log" {
		t.Errorf("unexpected sanitized name %s", got)
	}

	if err := run.AppendLog("call-db-smoke", []byte("first\n")); err != nil {
		t.Fatal(err)
	}
	if err := run.AppendLog("call-db-smoke", []byte("second\n")); err != nil {
		t.Fatal(err)
	}

	f, err := run.CreateLogFile("daemon")
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("booting\n")
	f.Close()

	content, err := ReadLog(filepath.Dir(run.Dir), filepath.Base(run.Dir), "call-db-smoke")
	if err != nil {
		t.Fatal(err)
	}
	if content != "first\nsecond\n" {
		t.Errorf("unexpected content %q", content)
	}
}

func TestWriteReportAndListRuns(t *testing.T) {
	root := t.TempDir()

	runs, err := ListRuns(filepath.Join(root, "missing"))
	if err != nil || len(runs) != 0 {
		t.Fatalf("missing root should list nothing, got %v, %v", runs, err)
	}

	older := filepath.Join(root, "2025-01-01_000000_aaaaaaaa")
	newer := filepath.Join(root, "2025-06-01_000000_bbbbbbbb")
	for _, dir := range []string{older, newer} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), 0644)

	run := &Run{ID: "bbbbbbbb", Dir: newer}
	if err := run.WriteReport(map[string]int{"passed": 3}); err != nil {
		t.Fatal(err)
	}
	run.AppendLog("container-db", []byte("log"))

	runs, err = ListRuns(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Name != filepath.Base(newer) || !runs[0].HasReport || runs[1].HasReport {
		t.Errorf("unexpected order or report flags: %+v", runs)
	}
	if len(runs[0].Logs) != 1 || runs[0].Logs[0].Name != "container-db" || runs[0].Logs[0].Size != 3 {
		t.Errorf("unexpected logs %+v", runs[0].Logs)
	}

	data, err := os.ReadFile(filepath.Join(newer, ReportFile))
	if err != nil {
		t.Fatal(err)
	}
	var report map[string]int
	if err := json.Unmarshal(data, &report); err != nil || report["passed"] != 3 {
		t.Errorf("unexpected report %s (%v)", data, err)
	}
}
