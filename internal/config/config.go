// Package config loads exam.yml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tomatool/exam/internal/option"
	"github.com/tomatool/exam/internal/probe"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the configuration file looked up when none is given.
const DefaultFile = "exam.yml"

// Config represents the exam.yml configuration
type Config struct {
	Version        int             `yaml:"version"`
	Settings       Settings        `yaml:"settings"`
	Configurations []Configuration `yaml:"configurations"`
	Probes         []Probe         `yaml:"probes"`
	Events         Events          `yaml:"events"`
	Metrics        Metrics         `yaml:"metrics"`

	// directory of the file, probe paths are relative to it
	dir string
}

type Settings struct {
	Runtime      string        `yaml:"runtime"`  // docker, process
	Strategy     string        `yaml:"strategy"` // eager, confined
	Parallel     int           `yaml:"parallel"`
	StartTimeout time.Duration `yaml:"start_timeout"`
	CallTimeout  time.Duration `yaml:"call_timeout"`
	Output       string        `yaml:"output"` // pretty, table, json
	FailFast     bool          `yaml:"fail_fast"`
	// Parent directory for process sandboxes
	BaseDir string `yaml:"base_dir,omitempty"`
}

// Configuration describes one environment.
type Configuration struct {
	Name     string            `yaml:"name"`
	Images   []string          `yaml:"images"`
	Env      map[string]string `yaml:"env"`
	Ports    []string          `yaml:"ports"`
	Command  []string          `yaml:"command"`
	Workdir  string            `yaml:"workdir"`
	Labels   map[string]string `yaml:"labels"`
	WaitFor  *WaitStrategy     `yaml:"wait_for,omitempty"`
	ProbeDir string            `yaml:"probe_dir,omitempty"`
}

type WaitStrategy struct {
	// Can be: log, port, http, sql, exec
	Type   string `yaml:"type"`
	Target string `yaml:"target"`
	// For HTTP
	Path string `yaml:"path,omitempty"`
	// For SQL: driver (postgres, mysql) and dsn with {{host}} and {{port}}
	Driver string `yaml:"driver,omitempty"`
	DSN    string `yaml:"dsn,omitempty"`
	// Timeout for wait strategy
	Timeout time.Duration `yaml:"timeout"`
}

// Probe points at an executable and the calls it answers.
type Probe struct {
	Name  string   `yaml:"name"`
	File  string   `yaml:"file"`
	Calls []string `yaml:"calls"`
}

type Events struct {
	Websocket *WebsocketSink `yaml:"websocket,omitempty"`
	Kafka     *KafkaSink     `yaml:"kafka,omitempty"`
	Redis     *RedisSink     `yaml:"redis,omitempty"`
}

type WebsocketSink struct {
	Addr string `yaml:"addr"`
}

type KafkaSink struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RedisSink struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len,omitempty"`
}

type Metrics struct {
	Addr string `yaml:"addr"`
}

// Load reads and parses the exam.yml configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.dir = filepath.Dir(path)

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Settings.Runtime == "" {
		c.Settings.Runtime = "docker"
	}
	if c.Settings.Strategy == "" {
		c.Settings.Strategy = "eager"
	}
	if c.Settings.Parallel == 0 {
		c.Settings.Parallel = 1
	}
	if c.Settings.StartTimeout == 0 {
		c.Settings.StartTimeout = 2 * time.Minute
	}
	if c.Settings.CallTimeout == 0 {
		c.Settings.CallTimeout = 5 * time.Minute
	}
	if c.Settings.Output == "" {
		c.Settings.Output = "pretty"
	}
	if c.Events.Kafka != nil && c.Events.Kafka.Topic == "" {
		c.Events.Kafka.Topic = "exam.events"
	}
	if c.Events.Redis != nil && c.Events.Redis.Stream == "" {
		c.Events.Redis.Stream = "exam:events"
	}
}

func (c *Config) validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version: %d (expected 1)", c.Version)
	}

	valid := map[string]map[string]bool{
		"runtime":  {"docker": true, "process": true},
		"strategy": {"eager": true, "confined": true},
		"output":   {"pretty": true, "table": true, "json": true},
	}
	for key, value := range map[string]string{
		"runtime":  c.Settings.Runtime,
		"strategy": c.Settings.Strategy,
		"output":   c.Settings.Output,
	} {
		if !valid[key][value] {
			return fmt.Errorf("invalid %s: %s", key, value)
		}
	}
	if c.Settings.Parallel < 0 {
		return fmt.Errorf("parallel must be positive, got %d", c.Settings.Parallel)
	}

	if len(c.Configurations) == 0 {
		return fmt.Errorf("no configurations defined")
	}
	names := make(map[string]bool)
	for i, cfg := range c.Configurations {
		if cfg.Name == "" {
			continue
		}
		if names[cfg.Name] {
			return fmt.Errorf("configuration %d: duplicate name %q", i, cfg.Name)
		}
		names[cfg.Name] = true
	}

	probes := make(map[string]bool)
	for i, p := range c.Probes {
		if p.Name == "" || p.File == "" {
			return fmt.Errorf("probe %d: name and file are required", i)
		}
		if len(p.Calls) == 0 {
			return fmt.Errorf("probe %q declares no calls", p.Name)
		}
		if probes[p.Name] {
			return fmt.Errorf("duplicate probe %q", p.Name)
		}
		probes[p.Name] = true
	}

	if k := c.Events.Kafka; k != nil && len(k.Brokers) == 0 {
		return fmt.Errorf("events.kafka needs at least one broker")
	}
	if r := c.Events.Redis; r != nil && r.Addr == "" {
		return fmt.Errorf("events.redis needs an addr")
	}

	return nil
}

// Options converts the configuration into an option list. Map entries are
// emitted in key order.
func (c Configuration) Options() []option.Option {
	var opts []option.Option
	if c.Name != "" {
		opts = append(opts, option.Name(c.Name))
	}
	for _, image := range c.Images {
		opts = append(opts, option.Image(image))
	}
	for _, k := range sortedKeys(c.Env) {
		opts = append(opts, option.Env(k, c.Env[k]))
	}
	for _, p := range c.Ports {
		opts = append(opts, option.Port(p))
	}
	if len(c.Command) > 0 {
		opts = append(opts, option.Command(c.Command...))
	}
	if c.Workdir != "" {
		opts = append(opts, option.Workdir(c.Workdir))
	}
	for _, k := range sortedKeys(c.Labels) {
		opts = append(opts, option.Label(k, c.Labels[k]))
	}
	if c.ProbeDir != "" {
		opts = append(opts, option.ProbeDir(c.ProbeDir))
	}
	if w := c.WaitFor; w != nil {
		opts = append(opts, option.WaitOption{
			Kind:    w.Type,
			Target:  w.Target,
			Path:    w.Path,
			Driver:  w.Driver,
			DSN:     w.DSN,
			Timeout: w.Timeout,
		})
	}
	return opts
}

// ConfigurationOptions returns the option list of every configuration, in
// file order.
func (c *Config) ConfigurationOptions() [][]option.Option {
	out := make([][]option.Option, len(c.Configurations))
	for i, cfg := range c.Configurations {
		out[i] = cfg.Options()
	}
	return out
}

// LoadProbes reads every probe payload. Relative paths are resolved against
// the directory of the config file.
func (c *Config) LoadProbes() ([]probe.Probe, error) {
	probes := make([]probe.Probe, 0, len(c.Probes))
	for _, p := range c.Probes {
		loaded, err := probe.Load(p.Name, c.resolve(p.File), p.Calls...)
		if err != nil {
			return nil, err
		}
		probes = append(probes, loaded)
	}
	return probes, nil
}

func (c *Config) resolve(path string) string {
	if filepath.IsAbs(path) || c.dir == "" {
		return path
	}
	return filepath.Join(c.dir, path)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
