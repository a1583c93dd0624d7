// Package option defines the directives a configuration is made of and the
// constructors for building them.
package option

import (
	"fmt"
	"time"
)

// Option is a single configuration directive. The reactor treats options as
// opaque values and hands them to a provider verbatim.
type Option any

// Configuration is the ordered option list describing one environment.
type Configuration []Option

// NewConfiguration captures opts into a configuration. The slice is copied so
// later changes to the caller's slice are not observed.
func NewConfiguration(opts ...Option) Configuration {
	c := make(Configuration, len(opts))
	copy(c, opts)
	return c
}

// Composite groups options. It is flattened in order before parsing.
type Composite []Option

// Options creates a composite of opts.
func Options(opts ...Option) Composite {
	return Composite(opts)
}

// Flatten expands composites (recursively) and drops nothing else.
func Flatten(opts ...Option) []Option {
	var out []Option
	for _, o := range opts {
		switch v := o.(type) {
		case Composite:
			out = append(out, Flatten(v...)...)
		case Configuration:
			out = append(out, Flatten(v...)...)
		default:
			out = append(out, o)
		}
	}
	return out
}

// NameOption labels an environment. Used in target names and logs.
type NameOption struct {
	Name string
}

// ImageOption selects a container image. Several images in one configuration
// produce one environment per image.
type ImageOption struct {
	Ref string
}

// EnvOption sets an environment variable inside the environment.
type EnvOption struct {
	Key   string
	Value string
}

// PortOption exposes a port, e.g. "5432/tcp".
type PortOption struct {
	Spec string
}

// CommandOption overrides the container command, or for the process runtime,
// names a daemon to launch before probes are installed.
type CommandOption struct {
	Args []string
}

// WorkdirOption sets the working directory.
type WorkdirOption struct {
	Dir string
}

// LabelOption attaches metadata; it has no effect on the runtime.
type LabelOption struct {
	Key   string
	Value string
}

// ProbeDirOption sets where probes are installed inside the environment.
type ProbeDirOption struct {
	Dir string
}

// Wait kinds understood by the bundled providers.
const (
	WaitLog  = "log"
	WaitPort = "port"
	WaitHTTP = "http"
	WaitSQL  = "sql"
	WaitExec = "exec"
)

// WaitOption describes how to decide the environment is ready.
type WaitOption struct {
	Kind    string
	Target  string // log line, port, or exec command depending on Kind
	Path    string // http path
	Driver  string // sql driver name
	DSN     string // sql dsn, {{host}} and {{port}} are substituted
	Timeout time.Duration
}

// Name names the environment.
func Name(name string) NameOption { return NameOption{Name: name} }

// Image adds a container image. Repeating it yields one container per image.
func Image(ref string) ImageOption { return ImageOption{Ref: ref} }

// Env sets one environment variable.
func Env(key, value string) EnvOption { return EnvOption{Key: key, Value: value} }

// Port exposes a container port such as "5432/tcp".
func Port(spec string) PortOption { return PortOption{Spec: spec} }

// Command overrides the entrypoint command. args are copied.
func Command(args ...string) CommandOption {
	return CommandOption{Args: append([]string(nil), args...)}
}

// Workdir sets the working directory inside the container.
func Workdir(dir string) WorkdirOption { return WorkdirOption{Dir: dir} }

// Label attaches a container label.
func Label(key, value string) LabelOption { return LabelOption{Key: key, Value: value} }

// ProbeDir sets where probes are installed inside the container.
func ProbeDir(dir string) ProbeDirOption { return ProbeDirOption{Dir: dir} }

// WaitForLog waits until line appears in the output.
func WaitForLog(line string) WaitOption { return WaitOption{Kind: WaitLog, Target: line} }

// WaitForPort waits until port accepts connections.
func WaitForPort(port string) WaitOption { return WaitOption{Kind: WaitPort, Target: port} }

// WaitForExec waits until cmd exits zero inside the container.
func WaitForExec(cmd string) WaitOption { return WaitOption{Kind: WaitExec, Target: cmd} }

// WaitForHTTP waits until a GET of path on port returns 200.
func WaitForHTTP(port, path string) WaitOption {
	return WaitOption{Kind: WaitHTTP, Target: port, Path: path}
}

// WaitForSQL waits until driver can connect using dsn. The dsn may contain
// {{host}} and {{port}} placeholders.
func WaitForSQL(port, driver, dsn string) WaitOption {
	return WaitOption{Kind: WaitSQL, Target: port, Driver: driver, DSN: dsn}
}

// WithTimeout returns a copy of w with the given timeout.
func (w WaitOption) WithTimeout(d time.Duration) WaitOption {
	w.Timeout = d
	return w
}

func (w WaitOption) String() string {
	if w.Path != "" {
		return fmt.Sprintf("%s(%s%s)", w.Kind, w.Target, w.Path)
	}
	return fmt.Sprintf("%s(%s)", w.Kind, w.Target)
}
