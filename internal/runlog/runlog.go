package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultRoot is where runs are stored relative to the working directory.
var DefaultRoot = filepath.Join(".exam", "runs")

// ReportFile is the name of the JSON report inside a run directory.
const ReportFile = "report.json"

// Run holds information about the current exam run
type Run struct {
	ID        string    // Short unique identifier (8 chars)
	Timestamp time.Time // When the run started
	Dir       string    // Full path to the run directory
}

// NewIn creates a run directory under root.
func NewIn(root string) (*Run, error) {
	now := time.Now()
	shortID := uuid.New().String()[:8]

	// Format: .exam/runs/2025-01-15_143052_a1b2c3d4/
	dirName := fmt.Sprintf("%s_%s", now.Format("2006-01-02_150405"), shortID)
	runDir := filepath.Join(root, dirName)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}

	return &Run{
		ID:        shortID,
		Timestamp: now,
		Dir:       runDir,
	}, nil
}

// LogPath returns the full path for a log file
func (r *Run) LogPath(name string) string {
	return filepath.Join(r.Dir, sanitize(name)+".log")
}

// sanitize keeps image references like "postgres:16/primary" usable as file names.
func sanitize(name string) string {
	return strings.NewReplacer("/", "_", ":", "_", " ", "_", "\\", "_").Replace(name)
}

// CreateLogFile creates a log file and returns the file handle
func (r *Run) CreateLogFile(name string) (*os.File, error) {
	return os.Create(r.LogPath(name))
}

// AppendLog appends content to a log file, creating it on first use
func (r *Run) AppendLog(name string, content []byte) error {
	f, err := os.OpenFile(r.LogPath(name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(content)
	return err
}

// WriteReport stores v as indented JSON in report.json.
func (r *Run) WriteReport(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return os.WriteFile(filepath.Join(r.Dir, ReportFile), data, 0644)
}

// RunInfo contains information about a stored run
type RunInfo struct {
	Name      string    `json:"name"`
	Dir       string    `json:"dir"`
	Timestamp time.Time `json:"timestamp"`
	Logs      []LogFile `json:"logs"`
	HasReport bool      `json:"has_report"`
}

// LogFile represents a log file in a run directory
type LogFile struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// ListRuns returns all run directories under root, most recent first
func ListRuns(root string) ([]RunInfo, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunInfo{}, nil
		}
		return nil, err
	}

	// Directory names start with the timestamp, so name order is time order.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() > entries[j].Name() })

	runs := []RunInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		runDir := filepath.Join(root, entry.Name())
		logs, _ := listLogs(runDir)
		_, statErr := os.Stat(filepath.Join(runDir, ReportFile))

		runs = append(runs, RunInfo{
			Name:      entry.Name(),
			Dir:       runDir,
			Timestamp: info.ModTime(),
			Logs:      logs,
			HasReport: statErr == nil,
		})
	}

	return runs, nil
}

func listLogs(runDir string) ([]LogFile, error) {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		return nil, err
	}

	var logs []LogFile
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		logs = append(logs, LogFile{
			Name: strings.TrimSuffix(entry.Name(), ".log"),
			Path: filepath.Join(runDir, entry.Name()),
			Size: info.Size(),
		})
	}

	return logs, nil
}

// ReadLog reads a log file of a stored run.
func ReadLog(root, runName, logName string) (string, error) {
	content, err := os.ReadFile(filepath.Join(root, runName, sanitize(logName)+".log"))
	if err != nil {
		return "", err
	}
	return string(content), nil
}
