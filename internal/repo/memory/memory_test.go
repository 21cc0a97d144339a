package memory

import (
	"context"
	"testing"
	"time"

	"github.com/hamed0406/outagewatch/internal/domain"
)

func TestAppendMetrics_IdempotentOnRetry(t *testing.T) {
	s := New()
	ctx := context.Background()

	batch := []domain.Metric{
		{CycleID: 1, ProbeID: "p1", TargetID: "t1", Status: domain.StatusUp},
		{CycleID: 1, ProbeID: "p2", TargetID: "t1", Status: domain.StatusDown},
	}
	if err := s.AppendMetrics(ctx, batch); err != nil {
		t.Fatalf("append: %v", err)
	}
	// writer retry replays the same batch
	if err := s.AppendMetrics(ctx, batch); err != nil {
		t.Fatalf("retry append: %v", err)
	}
	if got := len(s.Metrics()); got != 2 {
		t.Fatalf("retry must not duplicate rows: want 2, got %d", got)
	}
}

func TestLastCycleID(t *testing.T) {
	s := New()
	ctx := context.Background()

	if id, err := s.LastCycleID(ctx); err != nil || id != 0 {
		t.Fatalf("empty store: want 0, got %d (%v)", id, err)
	}
	for _, n := range []int64{3, 7, 5} {
		if err := s.InsertCycle(ctx, &domain.Cycle{ID: n, Number: n}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if id, _ := s.LastCycleID(ctx); id != 7 {
		t.Fatalf("want highest persisted id 7, got %d", id)
	}
}

func TestOutageLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	id, err := s.OpenOutage(ctx, &domain.OutageEvent{
		ID:              "ev1",
		StartTime:       start,
		Reason:          "consensus_reached",
		AffectedTargets: []domain.TargetID{"t1"},
		AffectedProbes:  []domain.ProbeID{"p1"},
		ConsensusLevel:  60,
	})
	if err != nil || id != "ev1" {
		t.Fatalf("open: %v %q", err, id)
	}

	if err := s.ExtendOutage(ctx, id, []domain.ProbeID{"p2", "p1"}, 80); err != nil {
		t.Fatalf("extend: %v", err)
	}
	ev := s.Outage(id)
	if len(ev.AffectedProbes) != 2 || ev.ConsensusLevel != 80 {
		t.Fatalf("extend wrong: %+v", ev)
	}

	end := start.Add(90 * time.Second)
	if err := s.CloseOutage(ctx, id, end, 90); err != nil {
		t.Fatalf("close: %v", err)
	}
	// closing again (retry) is a no-op, not an error
	if err := s.CloseOutage(ctx, id, end.Add(time.Hour), 999); err != nil {
		t.Fatalf("re-close: %v", err)
	}
	ev = s.Outage(id)
	if ev.EndTime == nil || !ev.EndTime.Equal(end) || *ev.DurationSeconds != 90 {
		t.Fatalf("close must be sticky: %+v", ev)
	}

	if err := s.ExtendOutage(ctx, "nope", nil, 0); err == nil {
		t.Fatalf("extending an unknown outage should error")
	}
}
