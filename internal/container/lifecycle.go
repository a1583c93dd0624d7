package container

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/tomatool/exam/internal/probe"
)

// lifecycle holds the state machine shared by all backends. Backends embed it
// and call the begin*/mark* helpers around their own transport work.
type lifecycle struct {
	name string

	mu        sync.Mutex
	state     State
	discarded bool
	calls     map[string]string // call name -> probe name
	payloads  map[string][]byte // probe name -> installed payload
}

func newLifecycle(name string) lifecycle {
	return lifecycle{
		name:     name,
		calls:    make(map[string]string),
		payloads: make(map[string][]byte),
	}
}

// Name returns the container name.
func (l *lifecycle) Name() string { return l.name }

// State returns the current state.
func (l *lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *lifecycle) beginStart() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.discarded {
		return ErrDiscarded
	}
	if l.state != StateNew {
		return &StateError{Container: l.name, Op: "start", State: l.state}
	}
	return nil
}

func (l *lifecycle) markStarted() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateStarted
}

// discard records a failed start. The state stays New.
func (l *lifecycle) discard() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.discarded = true
}

func (l *lifecycle) beginInstall(p probe.Probe) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateStarted && l.state != StateReady {
		return &StateError{Container: l.name, Op: "install into", State: l.state}
	}
	// One payload per probe name. Reinstalling the same payload is allowed.
	if prev, ok := l.payloads[p.Name()]; ok && !bytes.Equal(prev, p.Bytes()) {
		return &DeploymentError{
			Container: l.name,
			Probe:     p.Name(),
			Err:       fmt.Errorf("a different probe named %s is already installed", p.Name()),
		}
	}
	for _, c := range p.CallNames() {
		if owner, ok := l.calls[c]; ok && owner != p.Name() {
			return &DeploymentError{
				Container: l.name,
				Probe:     p.Name(),
				Err:       fmt.Errorf("call %q is already provided by probe %s", c, owner),
			}
		}
	}
	return nil
}

func (l *lifecycle) markInstalled(p probe.Probe) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range p.CallNames() {
		l.calls[c] = p.Name()
	}
	l.payloads[p.Name()] = p.Bytes()
	if l.state == StateStarted {
		l.state = StateReady
	}
}

// resolve returns the probe that owns call. Unknown calls never reach the
// backend.
func (l *lifecycle) resolve(call string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateNew || l.state == StateStopped {
		return "", &StateError{Container: l.name, Op: "execute in", State: l.state}
	}
	owner, ok := l.calls[call]
	if !ok {
		return "", &CallNotFoundError{Container: l.name, Call: call}
	}
	return owner, nil
}

// beginStop moves a started container to Stopped and reports whether the
// caller must release resources. Only one caller ever gets true.
func (l *lifecycle) beginStop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateNew || l.state == StateStopped {
		return false
	}
	l.state = StateStopped
	return true
}
