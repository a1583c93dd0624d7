// Package reactor collects configurations and probes and stages them into an
// executable plan.
package reactor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tomatool/exam/internal/events"
	"github.com/tomatool/exam/internal/option"
	"github.com/tomatool/exam/internal/probe"
	"github.com/tomatool/exam/internal/provider"
)

// Reactor accumulates configurations and probes. It is safe for concurrent
// use.
type Reactor struct {
	provider     provider.Provider
	strategy     Strategy
	startTimeout time.Duration
	callTimeout  time.Duration
	sink         events.Sink

	mu      sync.Mutex
	configs []option.Configuration
	probes  []probe.Probe
}

// Option configures a Reactor.
type Option func(*Reactor)

// WithStrategy selects the staging strategy. The default is EagerSingle.
func WithStrategy(s Strategy) Option {
	return func(r *Reactor) { r.strategy = s }
}

// WithStartTimeout bounds Start of every container. Zero means no bound.
func WithStartTimeout(d time.Duration) Option {
	return func(r *Reactor) { r.startTimeout = d }
}

// WithCallTimeout bounds every call. Zero means no bound.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Reactor) { r.callTimeout = d }
}

// WithSink sets where lifecycle events go.
func WithSink(s events.Sink) Option {
	return func(r *Reactor) { r.sink = s }
}

// New creates a reactor that stages through p.
func New(p provider.Provider, opts ...Option) *Reactor {
	r := &Reactor{
		provider: p,
		strategy: EagerSingle,
		sink:     events.Discard{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddConfiguration appends one configuration. opts are copied.
func (r *Reactor) AddConfiguration(opts ...option.Option) {
	cfg := option.NewConfiguration(opts...)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = append(r.configs, cfg)
}

// AddProbe appends one probe.
func (r *Reactor) AddProbe(p probe.Probe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes = append(r.probes, p)
}

// Stage snapshots the accumulated configurations and probes and parses every
// configuration separately, so a rejected configuration only loses its own
// targets. The returned plan is always usable; a non-nil error is a
// *StageError listing the rejected configurations.
//
// The reactor keeps its contents: staging twice provisions twice.
func (r *Reactor) Stage() (*Staged, error) {
	r.mu.Lock()
	configs := append([]option.Configuration(nil), r.configs...)
	probes := append([]probe.Probe(nil), r.probes...)
	r.mu.Unlock()

	s := &Staged{
		provider:       r.provider,
		strategy:       r.strategy,
		startTimeout:   r.startTimeout,
		callTimeout:    r.callTimeout,
		sink:           r.sink,
		configurations: len(configs),
		probes:         probes,
	}

	log.Debug().
		Int("configurations", len(configs)).
		Int("probes", len(probes)).
		Str("strategy", r.strategy.Name()).
		Msg("staging")

	var errs []error
	for i, cfg := range configs {
		placements, err := r.strategy.Place(r.provider, cfg, probes)
		for _, pl := range placements {
			if addErr := s.add(i, pl); addErr != nil {
				errs = append(errs, fmt.Errorf("configuration %d: %w", i, addErr))
			}
		}
		if err != nil {
			log.Warn().Err(err).Int("configuration", i).Msg("configuration rejected")
			errs = append(errs, fmt.Errorf("configuration %d: %w", i, err))
		}
	}

	for _, e := range s.entries {
		s.publish(context.Background(), events.New(events.TargetStaged, e.target.String()))
	}

	if len(errs) > 0 {
		return s, &StageError{Errors: errs}
	}
	return s, nil
}
