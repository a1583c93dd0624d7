package reactor

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotPrepared is returned by RunTest before Prepare succeeded.
	ErrNotPrepared = errors.New("target is not prepared")

	// ErrTornDown is returned by Prepare after TearDown.
	ErrTornDown = errors.New("staged reactor was torn down")

	// ErrUnknownTarget is returned for targets of another plan.
	ErrUnknownTarget = errors.New("unknown target")
)

// StageError collects the configurations that could not be staged. The plan
// returned alongside it still holds every other configuration.
type StageError struct {
	Errors []error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("staging: %d configuration(s) rejected: %s", len(e.Errors), joinMessages(e.Errors))
}

func (e *StageError) Unwrap() []error { return e.Errors }

// TeardownError collects every container that failed to stop.
type TeardownError struct {
	Errors []error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown: %d container(s) failed to stop: %s", len(e.Errors), joinMessages(e.Errors))
}

func (e *TeardownError) Unwrap() []error { return e.Errors }

func joinMessages(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}
