// Package probe holds deployable test logic and the calls it exposes.
package probe

import (
	"fmt"
	"os"
	"strings"
)

// Call is one named entry point exposed by a probe.
type Call struct {
	Name string
}

// Probe is a deployable unit of test logic plus its named calls. Probes are
// immutable; accessors return copies.
type Probe struct {
	name    string
	payload []byte
	calls   []Call
}

// New creates a probe. Payload and call names are copied.
func New(name string, payload []byte, calls ...string) (Probe, error) {
	if strings.TrimSpace(name) == "" {
		return Probe{}, fmt.Errorf("probe name is required")
	}
	if strings.ContainsAny(name, "/\\") {
		return Probe{}, fmt.Errorf("probe name %q must not contain path separators", name)
	}
	if len(calls) == 0 {
		return Probe{}, fmt.Errorf("probe %s exposes no calls", name)
	}

	seen := make(map[string]bool, len(calls))
	p := Probe{
		name:    name,
		payload: append([]byte(nil), payload...),
		calls:   make([]Call, 0, len(calls)),
	}
	for _, c := range calls {
		if c == "" {
			return Probe{}, fmt.Errorf("probe %s: empty call name", name)
		}
		if seen[c] {
			return Probe{}, fmt.Errorf("probe %s: duplicate call %q", name, c)
		}
		seen[c] = true
		p.calls = append(p.calls, Call{Name: c})
	}
	return p, nil
}

// Load reads the probe payload from path.
func Load(name, path string, calls ...string) (Probe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Probe{}, fmt.Errorf("reading probe %s: %w", name, err)
	}
	return New(name, data, calls...)
}

// Name returns the probe name.
func (p Probe) Name() string { return p.name }

// Bytes returns a copy of the payload.
func (p Probe) Bytes() []byte { return append([]byte(nil), p.payload...) }

// Calls returns the ordered calls.
func (p Probe) Calls() []Call { return append([]Call(nil), p.calls...) }

// CallNames returns the ordered call names.
func (p Probe) CallNames() []string {
	names := make([]string, len(p.calls))
	for i, c := range p.calls {
		names[i] = c.Name
	}
	return names
}

// Has reports whether the probe exposes call.
func (p Probe) Has(call string) bool {
	for _, c := range p.calls {
		if c.Name == call {
			return true
		}
	}
	return false
}

func (p Probe) String() string {
	return fmt.Sprintf("%s%v", p.name, p.CallNames())
}
