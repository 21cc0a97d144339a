package consensus

import (
	"sort"

	"github.com/hamed0406/outagewatch/internal/domain"
)

// Aggregator reduces the metric set of one cycle into one verdict per
// target. It is a pure, order-independent reduction: shuffling the input
// never changes a verdict.
type Aggregator struct {
	// Level is the global consensus level, a fraction in (0,1]. A target's
	// Quorum field overrides it when set.
	Level float64
}

func New(level float64) Aggregator {
	return Aggregator{Level: level}
}

// failing reports whether a status counts against the target. degraded is
// "not fully healthy" and counts as failing.
func failing(s domain.Status) bool {
	switch s {
	case domain.StatusDown, domain.StatusTimeout, domain.StatusDegraded:
		return true
	}
	return false
}

// Reduce computes one verdict for every target in targets. Targets with no
// metric this cycle get an UNKNOWN verdict, which downstream must treat as
// "no observation": it is never fed to the state machine as OK or FAILING.
func (a Aggregator) Reduce(cycleID int64, targets []domain.Target, ms []domain.Metric) []domain.Verdict {
	byTarget := make(map[domain.TargetID][]domain.Metric, len(targets))
	for _, m := range ms {
		if m.CycleID != cycleID {
			continue // foreign cycle data never contaminates a verdict
		}
		byTarget[m.TargetID] = append(byTarget[m.TargetID], m)
	}

	out := make([]domain.Verdict, 0, len(targets))
	for _, t := range targets {
		out = append(out, a.reduceTarget(cycleID, t, byTarget[t.ID]))
	}
	return out
}

func (a Aggregator) reduceTarget(cycleID int64, t domain.Target, ms []domain.Metric) domain.Verdict {
	v := domain.Verdict{
		TargetID:    t.ID,
		CycleID:     cycleID,
		TotalProbes: len(ms),
	}
	if len(ms) == 0 {
		v.Outcome = domain.VerdictUnknown
		return v
	}

	for _, m := range ms {
		if failing(m.Status) {
			v.FailingProbes++
			v.FailingProbeIDs = append(v.FailingProbeIDs, m.ProbeID)
		}
	}
	sort.Slice(v.FailingProbeIDs, func(i, j int) bool {
		return v.FailingProbeIDs[i] < v.FailingProbeIDs[j]
	})
	v.PercentFailing = float64(v.FailingProbes) / float64(v.TotalProbes) * 100

	level := a.Level
	if t.Quorum != nil {
		level = *t.Quorum
	}
	// boundary is inclusive: exactly at the level counts as FAILING
	if v.PercentFailing >= level*100 {
		v.Outcome = domain.VerdictFailing
	} else {
		v.Outcome = domain.VerdictOK
	}
	return v
}
