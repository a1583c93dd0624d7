package container

import (
	"errors"
	"fmt"
)

// ErrDiscarded is returned by Start on a container whose earlier start failed.
// Such containers must be replaced, not retried.
var ErrDiscarded = errors.New("container was discarded after a failed start")

// LaunchError is returned when the environment could not be brought up.
type LaunchError struct {
	Container string
	Err       error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launching %s: %v", e.Container, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// DeploymentError is returned when a probe is rejected by a running environment.
type DeploymentError struct {
	Container string
	Probe     string
	Err       error
}

func (e *DeploymentError) Error() string {
	return fmt.Sprintf("installing probe %s into %s: %v", e.Probe, e.Container, e.Err)
}

func (e *DeploymentError) Unwrap() error { return e.Err }

// CallNotFoundError is returned for a call name no installed probe exposes.
type CallNotFoundError struct {
	Container string
	Call      string
}

func (e *CallNotFoundError) Error() string {
	return fmt.Sprintf("call %q is not installed in %s", e.Call, e.Container)
}

// InvocationError is returned when a call could not be dispatched. A failing
// test is not an InvocationError; it is reported through Result.
type InvocationError struct {
	Container string
	Call      string
	Err       error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invoking %s in %s: %v", e.Call, e.Container, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// StateError is returned for an operation not allowed in the current state.
type StateError struct {
	Container string
	Op        string
	State     State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s %s in state %s", e.Op, e.Container, e.State)
}

// IsLaunchError checks if the error is or wraps a LaunchError
func IsLaunchError(err error) bool {
	var target *LaunchError
	return err != nil && errors.As(err, &target)
}

// IsDeploymentError checks if the error is or wraps a DeploymentError
func IsDeploymentError(err error) bool {
	var target *DeploymentError
	return err != nil && errors.As(err, &target)
}

// IsCallNotFound checks if the error is or wraps a CallNotFoundError
func IsCallNotFound(err error) bool {
	var target *CallNotFoundError
	return err != nil && errors.As(err, &target)
}

// IsInvocationError checks if the error is or wraps an InvocationError
func IsInvocationError(err error) bool {
	var target *InvocationError
	return err != nil && errors.As(err, &target)
}
