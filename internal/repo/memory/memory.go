package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hamed0406/outagewatch/internal/domain"
	"github.com/hamed0406/outagewatch/internal/repo"
)

var _ repo.Gateway = (*Store)(nil)

type metricKey struct {
	cycle  int64
	probe  domain.ProbeID
	target domain.TargetID
}

// Store is the in-memory gateway used for development and tests.
type Store struct {
	mu      sync.RWMutex
	cycles  []domain.Cycle
	metrics map[metricKey]domain.Metric
	order   []metricKey
	outages map[string]*domain.OutageEvent
	states  map[domain.TargetID]domain.TargetState
}

func New() *Store {
	return &Store{
		metrics: make(map[metricKey]domain.Metric),
		outages: make(map[string]*domain.OutageEvent),
		states:  make(map[domain.TargetID]domain.TargetState),
	}
}

func (s *Store) LastCycleID(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max int64
	for _, c := range s.cycles {
		if c.ID > max {
			max = c.ID
		}
	}
	return max, nil
}

func (s *Store) InsertCycle(ctx context.Context, c *domain.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles = append(s.cycles, *c)
	return nil
}

func (s *Store) AppendMetrics(ctx context.Context, batch []domain.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range batch {
		k := metricKey{m.CycleID, m.ProbeID, m.TargetID}
		if _, dup := s.metrics[k]; dup {
			continue // idempotent on retry
		}
		s.metrics[k] = m
		s.order = append(s.order, k)
	}
	return nil
}

func (s *Store) OpenOutage(ctx context.Context, ev *domain.OutageEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	s.outages[ev.ID] = &cp
	return ev.ID, nil
}

func (s *Store) ExtendOutage(ctx context.Context, eventID string, probesDelta []domain.ProbeID, consensusLevel float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.outages[eventID]
	if !ok {
		return fmt.Errorf("extend: unknown outage %s", eventID)
	}
	have := make(map[domain.ProbeID]bool, len(ev.AffectedProbes))
	for _, p := range ev.AffectedProbes {
		have[p] = true
	}
	for _, p := range probesDelta {
		if !have[p] {
			ev.AffectedProbes = append(ev.AffectedProbes, p)
		}
	}
	if consensusLevel > ev.ConsensusLevel {
		ev.ConsensusLevel = consensusLevel
	}
	return nil
}

func (s *Store) CloseOutage(ctx context.Context, eventID string, endTime time.Time, durationSeconds int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.outages[eventID]
	if !ok {
		return fmt.Errorf("close: unknown outage %s", eventID)
	}
	if ev.EndTime != nil {
		return nil // already closed; retries are fine
	}
	ev.EndTime = &endTime
	ev.DurationSeconds = &durationSeconds
	return nil
}

func (s *Store) UpsertTargetState(ctx context.Context, targetID domain.TargetID, status domain.Status, changedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[targetID] = domain.TargetState{TargetID: targetID, LastStatus: status, LastChange: changedAt}
	return nil
}

// --- read helpers for tests and dev inspection ---

func (s *Store) Cycles() []domain.Cycle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Cycle(nil), s.cycles...)
}

func (s *Store) Metrics() []domain.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Metric, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.metrics[k])
	}
	return out
}

func (s *Store) Outage(id string) *domain.OutageEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.outages[id]
	if !ok {
		return nil
	}
	cp := *ev
	return &cp
}

func (s *Store) States() map[domain.TargetID]domain.TargetState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.TargetID]domain.TargetState, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out
}
