package outage

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamed0406/outagewatch/internal/domain"
	"github.com/hamed0406/outagewatch/internal/metrics"
)

// Machine owns the per-target outage lifecycle. It is the single writer of
// target state: verdicts go in strictly in cycle order, open/extend/close
// actions come out. fail_threshold consecutive matching verdicts are needed
// to flip a target either way, so one noisy cycle never records an outage.
type Machine struct {
	mu              sync.Mutex
	log             *zap.Logger
	failThreshold   int
	coalesceOverlap float64
	newID           func() string

	tracks     map[domain.TargetID]*track
	events     map[string]*openEvent
	confirming bool
}

type track struct {
	state       domain.Status // confirmed: up or down
	lastChange  time.Time
	failStreak  int
	okStreak    int
	streakStart time.Time // timestamp of the first FAILING verdict in the current streak
	eventID     string
}

type openEvent struct {
	startTime    time.Time
	targets      map[domain.TargetID]struct{}
	probes       map[domain.ProbeID]struct{}
	maxConsensus float64
}

// StateChange reports a confirmed flip of a target's authoritative status.
type StateChange struct {
	TargetID  domain.TargetID
	Status    domain.Status
	ChangedAt time.Time
}

// Extend asks the gateway to widen an open event.
type Extend struct {
	EventID        string
	ProbesDelta    []domain.ProbeID
	ConsensusLevel float64
}

// Close seals an open event.
type Close struct {
	EventID         string
	EndTime         time.Time
	DurationSeconds int64
}

// Result is everything one cycle produced for persistence and notification.
type Result struct {
	StateChanges []StateChange
	Opens        []*domain.OutageEvent
	Extends      []Extend
	Closes       []Close
}

func New(log *zap.Logger, targets []domain.Target, failThreshold int, coalesceOverlap float64) *Machine {
	if failThreshold < 1 {
		failThreshold = 1
	}
	m := &Machine{
		log:             log,
		failThreshold:   failThreshold,
		coalesceOverlap: coalesceOverlap,
		newID:           uuid.NewString,
		tracks:          make(map[domain.TargetID]*track, len(targets)),
		events:          make(map[string]*openEvent),
	}
	// optimistic default: a newly seen target is up until cycles say otherwise
	for _, t := range targets {
		m.tracks[t.ID] = &track{state: domain.StatusUp}
	}
	return m
}

type pendingOpen struct {
	target      domain.TargetID
	verdict     domain.Verdict
	streakStart time.Time
}

// Apply consumes one cycle's verdicts. at is the cycle start timestamp.
// confirming is false during warmup: target state still flips for
// visibility, but no outage event may open.
func (m *Machine) Apply(cycleNumber int64, verdicts []domain.Verdict, at time.Time, confirming bool) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if confirming && !m.confirming {
		// warmup just ended: a fresh failing streak is required before any
		// event opens, so pre-warmup noise cannot confirm an outage
		for _, tr := range m.tracks {
			tr.failStreak = 0
			tr.streakStart = time.Time{}
		}
	}
	m.confirming = confirming

	var res Result
	var pending []pendingOpen

	for _, v := range verdicts {
		tr := m.tracks[v.TargetID]
		if tr == nil {
			tr = &track{state: domain.StatusUp}
			m.tracks[v.TargetID] = tr
		}

		switch v.Outcome {
		case domain.VerdictUnknown:
			// no observation this cycle: streaks neither advance nor reset
			continue

		case domain.VerdictFailing:
			tr.okStreak = 0
			tr.failStreak++
			if tr.failStreak == 1 {
				tr.streakStart = at
			}

			if tr.state == domain.StatusDown {
				if tr.eventID != "" {
					res.Extends = append(res.Extends, m.extendLocked(tr.eventID, v))
				} else if confirming && tr.failStreak >= m.failThreshold {
					// went down during warmup; open once a full post-warmup
					// streak confirms it
					pending = append(pending, pendingOpen{v.TargetID, v, tr.streakStart})
				}
				continue
			}

			if tr.failStreak >= m.failThreshold {
				tr.state = domain.StatusDown
				tr.lastChange = at
				res.StateChanges = append(res.StateChanges, StateChange{v.TargetID, domain.StatusDown, at})
				if confirming {
					pending = append(pending, pendingOpen{v.TargetID, v, tr.streakStart})
				}
			}

		case domain.VerdictOK:
			tr.failStreak = 0
			tr.streakStart = time.Time{}
			tr.okStreak++

			if tr.state == domain.StatusDown && tr.okStreak >= m.failThreshold {
				tr.state = domain.StatusUp
				tr.lastChange = at
				res.StateChanges = append(res.StateChanges, StateChange{v.TargetID, domain.StatusUp, at})
				if tr.eventID != "" {
					if c, done := m.releaseLocked(tr.eventID, v.TargetID, at); done {
						res.Closes = append(res.Closes, c)
					}
					tr.eventID = ""
				}
			}
		}
	}

	res.Opens = m.openLocked(cycleNumber, pending)

	metrics.SetOpenOutages(len(m.events))
	return res
}

func (m *Machine) extendLocked(eventID string, v domain.Verdict) Extend {
	ev := m.events[eventID]
	ext := Extend{EventID: eventID}
	for _, p := range v.FailingProbeIDs {
		if _, ok := ev.probes[p]; !ok {
			ev.probes[p] = struct{}{}
			ext.ProbesDelta = append(ext.ProbesDelta, p)
		}
	}
	if v.PercentFailing > ev.maxConsensus {
		ev.maxConsensus = v.PercentFailing
	}
	ext.ConsensusLevel = ev.maxConsensus
	return ext
}

// releaseLocked removes a recovered target from its event; the event closes
// once no covered target remains down.
func (m *Machine) releaseLocked(eventID string, tid domain.TargetID, at time.Time) (Close, bool) {
	ev := m.events[eventID]
	if ev == nil {
		m.log.Error("outage_invariant_missing_event",
			zap.String("event_id", eventID),
			zap.String("target_id", string(tid)),
		)
		return Close{}, false
	}
	delete(ev.targets, tid)
	if len(ev.targets) > 0 {
		return Close{}, false
	}
	delete(m.events, eventID)
	return Close{
		EventID:         eventID,
		EndTime:         at,
		DurationSeconds: int64(at.Sub(ev.startTime).Seconds()),
	}, true
}

// openLocked coalesces same-cycle confirmations whose failing-probe sets
// overlap enough, then materializes one event per group. A target already
// covered by an open event is an invariant violation: it is logged and
// skipped for this cycle rather than double-opened.
func (m *Machine) openLocked(cycleNumber int64, pending []pendingOpen) []*domain.OutageEvent {
	if len(pending) == 0 {
		return nil
	}

	type group struct {
		members []pendingOpen
		probes  map[domain.ProbeID]struct{}
	}
	var groups []*group
next:
	for _, p := range pending {
		if tr := m.tracks[p.target]; tr.eventID != "" {
			m.log.Error("outage_invariant_double_open",
				zap.String("target_id", string(p.target)),
				zap.String("event_id", tr.eventID),
			)
			continue
		}
		ps := probeSet(p.verdict.FailingProbeIDs)
		for _, g := range groups {
			if jaccard(ps, g.probes) >= m.coalesceOverlap {
				g.members = append(g.members, p)
				for id := range ps {
					g.probes[id] = struct{}{}
				}
				continue next
			}
		}
		groups = append(groups, &group{members: []pendingOpen{p}, probes: ps})
	}

	var out []*domain.OutageEvent
	for _, g := range groups {
		ev := &openEvent{
			targets: make(map[domain.TargetID]struct{}, len(g.members)),
			probes:  g.probes,
		}
		percents := make(map[string]float64, len(g.members))
		for _, p := range g.members {
			if ev.startTime.IsZero() || p.streakStart.Before(ev.startTime) {
				ev.startTime = p.streakStart
			}
			if p.verdict.PercentFailing > ev.maxConsensus {
				ev.maxConsensus = p.verdict.PercentFailing
			}
			ev.targets[p.target] = struct{}{}
			percents[string(p.target)] = p.verdict.PercentFailing
		}

		id := m.newID()
		m.events[id] = ev
		for _, p := range g.members {
			m.tracks[p.target].eventID = id
		}

		out = append(out, &domain.OutageEvent{
			ID:              id,
			StartTime:       ev.startTime,
			Reason:          "consensus_reached",
			AffectedTargets: sortedTargets(ev.targets),
			AffectedProbes:  sortedProbes(ev.probes),
			ConsensusLevel:  ev.maxConsensus,
			Details: map[string]any{
				"cycle_number":    cycleNumber,
				"fail_threshold":  m.failThreshold,
				"percent_failing": percents,
			},
		})
	}
	return out
}

// TargetStates snapshots the authoritative per-target status for readers
// outside the cycle pipeline.
func (m *Machine) TargetStates() []domain.TargetState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TargetState, 0, len(m.tracks))
	for id, tr := range m.tracks {
		out = append(out, domain.TargetState{
			TargetID:   id,
			LastStatus: tr.state,
			LastChange: tr.lastChange,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out
}

// OpenOutages snapshots the currently open events.
func (m *Machine) OpenOutages() []domain.OutageEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.OutageEvent, 0, len(m.events))
	for id, ev := range m.events {
		out = append(out, domain.OutageEvent{
			ID:              id,
			StartTime:       ev.startTime,
			Reason:          "consensus_reached",
			AffectedTargets: sortedTargets(ev.targets),
			AffectedProbes:  sortedProbes(ev.probes),
			ConsensusLevel:  ev.maxConsensus,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func probeSet(ids []domain.ProbeID) map[domain.ProbeID]struct{} {
	s := make(map[domain.ProbeID]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func jaccard(a, b map[domain.ProbeID]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for id := range a {
		if _, ok := b[id]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func sortedTargets(s map[domain.TargetID]struct{}) []domain.TargetID {
	out := make([]domain.TargetID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedProbes(s map[domain.ProbeID]struct{}) []domain.ProbeID {
	out := make([]domain.ProbeID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
