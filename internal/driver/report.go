package driver

import (
	"time"

	"github.com/tomatool/exam/internal/runlog"
)

// Call statuses in a report.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// Report is the outcome of one run.
type Report struct {
	RunID       string         `json:"run_id,omitempty"`
	Strategy    string         `json:"strategy,omitempty"`
	Started     time.Time      `json:"started"`
	Duration    time.Duration  `json:"duration"`
	StageErrors []string       `json:"stage_errors,omitempty"`
	Targets     []TargetReport `json:"targets"`
	Teardown    string         `json:"teardown_error,omitempty"`

	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errors  int `json:"errors"`
	Skipped int `json:"skipped"`
}

// TargetReport is the outcome of one target.
type TargetReport struct {
	Name          string        `json:"name"`
	Configuration int           `json:"configuration"`   // index of the source configuration
	Error         string        `json:"error,omitempty"` // launch or deployment failure
	Skipped       bool          `json:"skipped,omitempty"`
	Duration      time.Duration `json:"duration"`
	Calls         []CallReport  `json:"calls"`
}

// CallReport is the outcome of one call.
type CallReport struct {
	Name     string        `json:"name"`
	Probe    string        `json:"probe,omitempty"`
	Status   string        `json:"status"`
	ExitCode int           `json:"exit_code,omitempty"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the target did not pass as a whole.
func (t TargetReport) Failed() bool {
	if t.Error != "" {
		return true
	}
	for _, c := range t.Calls {
		if c.Status == StatusFailed || c.Status == StatusError {
			return true
		}
	}
	return false
}

// OK reports whether every call passed and nothing else went wrong.
func (r *Report) OK() bool {
	if len(r.StageErrors) > 0 || r.Teardown != "" {
		return false
	}
	for _, t := range r.Targets {
		if t.Failed() || t.Skipped {
			return false
		}
	}
	return true
}

func (r *Report) tally() {
	r.Total, r.Passed, r.Failed, r.Errors, r.Skipped = 0, 0, 0, 0, 0
	for _, t := range r.Targets {
		for _, c := range t.Calls {
			r.Total++
			switch c.Status {
			case StatusPassed:
				r.Passed++
			case StatusFailed:
				r.Failed++
			case StatusError:
				r.Errors++
			case StatusSkipped:
				r.Skipped++
			}
		}
	}
}

// Save writes the report into the run directory.
func (r *Report) Save(run *runlog.Run) error {
	return run.WriteReport(r)
}
