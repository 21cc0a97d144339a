package probe

import (
	"context"
	"time"

	"github.com/hamed0406/outagewatch/internal/domain"
)

// Runner wraps a Prober with the multi-attempt calling contract: it runs
// Attempts checks inside a single Timeout budget and derives the metric
// status from the attempt tally.
//
// Derivation: up if every attempt succeeded; degraded if some but not all
// succeeded; down if none succeeded but at least one attempt returned before
// the budget expired; timeout if nothing returned at all.
type Runner struct {
	Prober   Prober
	Attempts int
	Timeout  time.Duration

	now func() time.Time
}

func NewRunner(p Prober, attempts int, timeout time.Duration) *Runner {
	if attempts < 1 {
		attempts = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Runner{Prober: p, Attempts: attempts, Timeout: timeout, now: time.Now}
}

// Run produces the single Metric for one (cycle, probe, target) slot.
func (r *Runner) Run(ctx context.Context, cycleID int64, pr domain.Probe, t domain.Target) domain.Metric {
	cctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	var (
		succeeded int
		returned  int
		totalMS   float64
		lastMsg   string
	)

	for i := 0; i < r.Attempts; i++ {
		if cctx.Err() != nil {
			break
		}
		obs := r.Prober.Check(cctx, t)
		if obs.OK {
			succeeded++
			returned++
			totalMS += obs.ResponseTimeMS
			continue
		}
		if cctx.Err() == nil {
			// failed fast, before the budget ran out
			returned++
		}
		if obs.Message != "" {
			lastMsg = obs.Message
		}
	}

	status := deriveStatus(succeeded, returned, r.Attempts)
	m := domain.Metric{
		CycleID:           cycleID,
		ProbeID:           pr.ID,
		TargetID:          t.ID,
		Timestamp:         r.now().UTC(),
		CheckType:         t.CheckType,
		Status:            status,
		PacketLossPercent: (r.Attempts - succeeded) * 100 / r.Attempts,
		ErrorMessage:      lastMsg,
	}
	if succeeded > 0 {
		avg := totalMS / float64(succeeded)
		m.ResponseTimeMS = &avg
	}
	return m
}

func deriveStatus(succeeded, returned, attempts int) domain.Status {
	switch {
	case succeeded == attempts:
		return domain.StatusUp
	case succeeded > 0:
		return domain.StatusDegraded
	case returned > 0:
		return domain.StatusDown
	default:
		return domain.StatusTimeout
	}
}
