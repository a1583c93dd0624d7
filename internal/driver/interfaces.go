package driver

import (
	"context"

	"github.com/tomatool/exam/internal/container"
	"github.com/tomatool/exam/internal/reactor"
)

// Plan abstracts reactor.Staged for testing
type Plan interface {
	Targets() []reactor.Target
	Calls(t reactor.Target) []string
	Prepare(ctx context.Context, t reactor.Target) error
	RunTest(ctx context.Context, t reactor.Target, call string) (container.Result, error)
	TearDown(ctx context.Context) error
}

var _ Plan = (*reactor.Staged)(nil)
