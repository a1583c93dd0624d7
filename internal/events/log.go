package events

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log writes events to the global logger. Call results are logged at info,
// failures at warn and everything else at debug.
type Log struct{}

func (Log) Publish(_ context.Context, e Event) error {
	var ev *zerolog.Event
	switch {
	case e.Type == TargetFailed || e.Type == CallErrored:
		ev = log.Warn()
	case e.Type == CallFinished:
		ev = log.Info()
	default:
		ev = log.Debug()
	}

	ev = ev.Str("event", string(e.Type)).Str("target", e.Target)
	if e.Call != "" {
		ev = ev.Str("call", e.Call)
	}
	if e.Status != "" {
		ev = ev.Str("status", e.Status)
	}
	if e.Duration > 0 {
		ev = ev.Dur("duration", e.Duration)
	}
	if len(e.Ports) > 0 {
		ev = ev.Strs("ports", e.Ports)
	}
	if e.Error != "" {
		ev = ev.Str("error", e.Error)
	}
	ev.Msg(string(e.Type))
	return nil
}

func (Log) Close() error { return nil }
