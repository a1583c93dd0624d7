// Package events carries reactor lifecycle notifications to observers: the
// log, a websocket hub, Kafka, Redis streams and metrics.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Type names a lifecycle transition.
type Type string

const (
	RunStarted     Type = "run.started"
	RunFinished    Type = "run.finished"
	TargetStaged   Type = "target.staged"
	TargetPrepared Type = "target.prepared"
	TargetFailed   Type = "target.failed"
	TargetStopped  Type = "target.stopped"
	CallFinished   Type = "call.finished"
	CallErrored    Type = "call.errored"
)

// Status values for call events.
const (
	StatusPassed = "passed"
	StatusFailed = "failed"
	StatusError  = "error"
)

// Event is one notification.
type Event struct {
	ID       string        `json:"id"`
	RunID    string        `json:"run_id,omitempty"`
	Type     Type          `json:"type"`
	Target   string        `json:"target,omitempty"`
	Call     string        `json:"call,omitempty"`
	Status   string        `json:"status,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Ports    []string      `json:"ports,omitempty"` // host bindings of a prepared target
	Time     time.Time     `json:"time"`
}

// New creates an event with a fresh id and the current time.
func New(typ Type, target string) Event {
	return Event{
		ID:     uuid.New().String(),
		Type:   typ,
		Target: target,
		Time:   time.Now(),
	}
}

// WithError returns a copy of e carrying err.
func (e Event) WithError(err error) Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Sink receives events. Publish must be safe for concurrent use.
type Sink interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
func (Discard) Close() error                         { return nil }

// Multi fans events out to several sinks. A failing sink is logged and does
// not stop delivery to the others.
type Multi struct {
	runID string
	sinks []Sink
}

// NewMulti creates a fan-out sink that stamps every event with runID.
func NewMulti(runID string, sinks ...Sink) *Multi {
	return &Multi{runID: runID, sinks: sinks}
}

// Add appends a sink. It must not be called concurrently with Publish.
func (m *Multi) Add(s Sink) {
	m.sinks = append(m.sinks, s)
}

func (m *Multi) Publish(ctx context.Context, e Event) error {
	if e.RunID == "" {
		e.RunID = m.runID
	}
	for _, s := range m.sinks {
		if err := s.Publish(ctx, e); err != nil {
			log.Warn().Err(err).Str("event", string(e.Type)).Msgf("failed to publish event to %T", s)
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
