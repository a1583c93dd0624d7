package provider

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/docker/go-connections/nat"
	"github.com/tomatool/exam/internal/option"
)

// ConfigurationError reports an option list that cannot describe an
// environment. It is always returned before any container exists.
type ConfigurationError struct {
	Index  int // position in the flattened option list, -1 if not tied to one
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid configuration: option %d: %s", e.Index, e.Reason)
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// SQL drivers registered by the container package.
var sqlDrivers = map[string]bool{"postgres": true, "mysql": true}

// Spec is a normalized option list.
type Spec struct {
	Name     string
	Images   []string
	Env      map[string]string
	Ports    []string
	Command  []string
	Workdir  string
	Labels   map[string]string
	Wait     option.WaitOption
	ProbeDir string
}

// Parse flattens and validates opts. Environment and label keys may repeat
// only with the same value; singleton options may appear once.
func Parse(opts ...option.Option) (Spec, error) {
	spec := Spec{
		Env:    make(map[string]string),
		Labels: make(map[string]string),
	}
	seen := make(map[string]bool)

	fail := func(i int, format string, args ...any) (Spec, error) {
		return Spec{}, &ConfigurationError{Index: i, Reason: fmt.Sprintf(format, args...)}
	}
	once := func(kind string) bool {
		if seen[kind] {
			return false
		}
		seen[kind] = true
		return true
	}

	for i, o := range option.Flatten(opts...) {
		switch v := o.(type) {
		case nil:
			return fail(i, "option is nil")

		case option.NameOption:
			if strings.TrimSpace(v.Name) == "" {
				return fail(i, "name is empty")
			}
			if !once("name") {
				return fail(i, "name given more than once")
			}
			spec.Name = v.Name

		case option.ImageOption:
			if v.Ref == "" {
				return fail(i, "image reference is empty")
			}
			for _, img := range spec.Images {
				if img == v.Ref {
					return fail(i, "image %s listed twice", v.Ref)
				}
			}
			spec.Images = append(spec.Images, v.Ref)

		case option.EnvOption:
			if v.Key == "" || strings.Contains(v.Key, "=") {
				return fail(i, "invalid environment variable name %q", v.Key)
			}
			if prev, ok := spec.Env[v.Key]; ok && prev != v.Value {
				return fail(i, "environment variable %s set to both %q and %q", v.Key, prev, v.Value)
			}
			spec.Env[v.Key] = v.Value

		case option.PortOption:
			if _, err := nat.ParsePortSpec(v.Spec); err != nil {
				return fail(i, "invalid port %q: %v", v.Spec, err)
			}
			for _, p := range spec.Ports {
				if p == v.Spec {
					return fail(i, "port %s listed twice", v.Spec)
				}
			}
			spec.Ports = append(spec.Ports, v.Spec)

		case option.CommandOption:
			if len(v.Args) == 0 || v.Args[0] == "" {
				return fail(i, "command is empty")
			}
			if !once("command") {
				return fail(i, "command given more than once")
			}
			spec.Command = append([]string(nil), v.Args...)

		case option.WorkdirOption:
			if !once("workdir") {
				return fail(i, "workdir given more than once")
			}
			spec.Workdir = v.Dir

		case option.LabelOption:
			if v.Key == "" {
				return fail(i, "label key is empty")
			}
			if prev, ok := spec.Labels[v.Key]; ok && prev != v.Value {
				return fail(i, "label %s set to both %q and %q", v.Key, prev, v.Value)
			}
			spec.Labels[v.Key] = v.Value

		case option.ProbeDirOption:
			if !path.IsAbs(v.Dir) {
				return fail(i, "probe directory %q must be absolute", v.Dir)
			}
			if !once("probe_dir") {
				return fail(i, "probe directory given more than once")
			}
			spec.ProbeDir = v.Dir

		case option.WaitOption:
			if err := validateWait(v); err != nil {
				return fail(i, "%v", err)
			}
			if !once("wait") {
				return fail(i, "wait strategy given more than once")
			}
			spec.Wait = v

		default:
			return fail(i, "unsupported option type %T", o)
		}
	}

	return spec, nil
}

func validateWait(w option.WaitOption) error {
	if w.Timeout < 0 {
		return fmt.Errorf("wait timeout %s is negative", w.Timeout)
	}

	switch w.Kind {
	case option.WaitLog:
		if w.Target == "" {
			return errors.New("log wait needs a line to look for")
		}
	case option.WaitExec:
		if w.Target == "" {
			return errors.New("exec wait needs a command")
		}
	case option.WaitPort, option.WaitHTTP:
		if _, err := nat.ParsePort(portOnly(w.Target)); err != nil || w.Target == "" {
			return fmt.Errorf("%s wait has invalid port %q", w.Kind, w.Target)
		}
	case option.WaitSQL:
		if _, err := nat.ParsePort(portOnly(w.Target)); err != nil || w.Target == "" {
			return fmt.Errorf("sql wait has invalid port %q", w.Target)
		}
		if !sqlDrivers[w.Driver] {
			return fmt.Errorf("sql wait has unsupported driver %q", w.Driver)
		}
		if w.DSN == "" {
			return errors.New("sql wait needs a dsn")
		}
	default:
		return fmt.Errorf("unknown wait strategy %q", w.Kind)
	}
	return nil
}

func portOnly(spec string) string {
	if idx := strings.Index(spec, "/"); idx > 0 {
		return spec[:idx]
	}
	return spec
}
