package reactor

import (
	"fmt"

	"github.com/tomatool/exam/internal/option"
	"github.com/tomatool/exam/internal/probe"
	"github.com/tomatool/exam/internal/provider"
)

// Placement is one container and the probes it hosts.
type Placement struct {
	Handle provider.Handle
	Probes []probe.Probe
	Label  string // distinguishes placements sharing a handle name
}

// Strategy pairs one configuration with the accumulated probes. Every
// placement becomes one target.
type Strategy interface {
	Name() string
	Place(p provider.Provider, cfg option.Configuration, probes []probe.Probe) ([]Placement, error)
}

var (
	// EagerSingle launches one container per handle and installs every probe
	// into it. Probes sharing a container are not isolated from each other.
	EagerSingle Strategy = eagerSingle{}

	// AllConfined launches one container per handle and probe.
	AllConfined Strategy = allConfined{}
)

// StrategyByName resolves "eager" and "confined".
func StrategyByName(name string) (Strategy, error) {
	switch name {
	case "", "eager":
		return EagerSingle, nil
	case "confined":
		return AllConfined, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q (expected eager or confined)", name)
	}
}

type eagerSingle struct{}

func (eagerSingle) Name() string { return "eager" }

func (eagerSingle) Place(p provider.Provider, cfg option.Configuration, probes []probe.Probe) ([]Placement, error) {
	handles, err := p.Parse(cfg...)
	if err != nil {
		return nil, err
	}

	placements := make([]Placement, 0, len(handles))
	for _, h := range handles {
		placements = append(placements, Placement{Handle: h, Probes: probes})
	}
	return placements, nil
}

type allConfined struct{}

func (allConfined) Name() string { return "confined" }

// Place parses cfg once per probe so each probe gets containers of its own.
func (allConfined) Place(p provider.Provider, cfg option.Configuration, probes []probe.Probe) ([]Placement, error) {
	var placements []Placement
	for _, pr := range probes {
		handles, err := p.Parse(cfg...)
		if err != nil {
			return placements, err
		}
		for _, h := range handles {
			placements = append(placements, Placement{
				Handle: h,
				Probes: []probe.Probe{pr},
				Label:  pr.Name(),
			})
		}
	}
	return placements, nil
}
