// Package container implements runnable environments. A container moves
// from New to Started to Ready to Stopped; Docker and local process backends
// share that state machine and the error types callers classify failures by.
package container

import (
	"context"
	"errors"
	"time"

	"github.com/tomatool/exam/internal/probe"
)

// State is the lifecycle state of a container.
type State int

const (
	StateNew State = iota
	StateStarted
	StateReady
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarted:
		return "started"
	case StateReady:
		return "ready"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Result is the outcome of one call. A failing test is a Result with
// Passed == false, not an error.
type Result struct {
	Call     string        `json:"call"`
	Probe    string        `json:"probe"`
	Passed   bool          `json:"passed"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Container is one isolated runtime environment.
//
// Lifecycle: New -Start-> Started -Install-> Ready -Execute-> Ready -Stop-> Stopped.
// Stop is allowed from every state and is a no-op from New and Stopped.
// Calls against one container must be serialized by the caller, except Stop
// which may be called concurrently.
type Container interface {
	Name() string
	State() State
	Start(ctx context.Context) error
	Install(ctx context.Context, p probe.Probe) error
	Execute(ctx context.Context, call string) (Result, error)
	Stop(ctx context.Context) error
}

// Use starts c, runs fn and stops c on every exit path, including panics.
func Use(ctx context.Context, c Container, fn func(Container) error) (err error) {
	defer func() {
		if stopErr := c.Stop(context.WithoutCancel(ctx)); stopErr != nil {
			err = errors.Join(err, stopErr)
		}
	}()

	if err := c.Start(ctx); err != nil {
		return err
	}
	return fn(c)
}
