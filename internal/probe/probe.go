package probe

import (
	"context"

	"github.com/hamed0406/outagewatch/internal/domain"
)

// Observation is the raw outcome of a single check attempt.
type Observation struct {
	OK             bool
	ResponseTimeMS float64
	Message        string
}

// Prober performs one connectivity attempt against a target. Implementations
// must honor ctx cancellation and never panic on unreachable targets.
type Prober interface {
	Check(ctx context.Context, target domain.Target) Observation
}

// Set maps check types to their prober implementation.
type Set map[domain.CheckType]Prober

// DefaultSet wires the built-in probers.
func DefaultSet() Set {
	return Set{
		domain.CheckTCP:  NewTCPProber(),
		domain.CheckHTTP: NewHTTPProber(),
		domain.CheckDNS:  NewDNSProber(),
	}
}
