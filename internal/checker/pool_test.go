package checker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/outagewatch/internal/domain"
	"github.com/hamed0406/outagewatch/internal/probe"
)

type fastOK struct{}

func (fastOK) Check(ctx context.Context, t domain.Target) probe.Observation {
	return probe.Observation{OK: true, ResponseTimeMS: 1}
}

// slowProbe blocks until its context expires
type slowProbe struct{}

func (slowProbe) Check(ctx context.Context, t domain.Target) probe.Observation {
	<-ctx.Done()
	return probe.Observation{OK: false, Message: "ctx"}
}

// countingProbe tracks peak concurrency
type countingProbe struct {
	mu      sync.Mutex
	active  int
	peak    int
	started atomic.Int32
}

func (c *countingProbe) Check(ctx context.Context, t domain.Target) probe.Observation {
	c.started.Add(1)
	c.mu.Lock()
	c.active++
	if c.active > c.peak {
		c.peak = c.active
	}
	c.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	c.mu.Lock()
	c.active--
	c.mu.Unlock()
	return probe.Observation{OK: true, ResponseTimeMS: 20}
}

func tcpTargets(n int) []domain.Target {
	out := make([]domain.Target, n)
	for i := range out {
		out[i] = domain.Target{
			ID:        domain.TargetID(string(rune('a' + i))),
			Address:   "192.0.2.1:443",
			CheckType: domain.CheckTCP,
		}
	}
	return out
}

var testProbes = []domain.Probe{
	{ID: "p1", Location: "fra"},
	{ID: "p2", Location: "gru"},
}

func TestRunCycle_OneMetricPerPair(t *testing.T) {
	pool := New(zap.NewNop(), probe.Set{domain.CheckTCP: fastOK{}}, 1, time.Second, 4, 0)
	cycle := &domain.Cycle{ID: 7, Number: 7, StartedAt: time.Now()}

	targets := tcpTargets(3)
	got := pool.RunCycle(context.Background(), cycle, targets, testProbes)
	if len(got) != 6 {
		t.Fatalf("want 6 metrics (3 targets x 2 probes), got %d", len(got))
	}
	seen := map[string]bool{}
	for _, m := range got {
		if m.CycleID != 7 {
			t.Fatalf("metric carries wrong cycle id: %+v", m)
		}
		if m.Status != domain.StatusUp {
			t.Fatalf("want all up, got %+v", m)
		}
		key := string(m.TargetID) + "/" + string(m.ProbeID)
		if seen[key] {
			t.Fatalf("duplicate metric for %s", key)
		}
		seen[key] = true
	}
}

func TestRunCycle_SyntheticTimeoutFill(t *testing.T) {
	// budget so small every check hangs past the deadline
	pool := New(zap.NewNop(), probe.Set{domain.CheckTCP: slowProbe{}}, 1, 20*time.Millisecond, 4, 0)
	cycle := &domain.Cycle{ID: 1, Number: 1, StartedAt: time.Now()}

	got := pool.RunCycle(context.Background(), cycle, tcpTargets(2), testProbes)
	if len(got) != 4 {
		t.Fatalf("deadline must not drop pairs: want 4 metrics, got %d", len(got))
	}
	for _, m := range got {
		if m.Status != domain.StatusTimeout {
			t.Fatalf("want timeout status, got %+v", m)
		}
		if m.PacketLossPercent != 100 {
			t.Fatalf("timeout metric should carry 100%% loss, got %d", m.PacketLossPercent)
		}
		if m.ResponseTimeMS != nil {
			t.Fatalf("timeout metric should have no response time")
		}
	}
}

func TestRunCycle_ConcurrencyBounded(t *testing.T) {
	cp := &countingProbe{}
	pool := New(zap.NewNop(), probe.Set{domain.CheckTCP: cp}, 1, time.Second, 2, 0)
	cycle := &domain.Cycle{ID: 1, Number: 1, StartedAt: time.Now()}

	got := pool.RunCycle(context.Background(), cycle, tcpTargets(4), testProbes)
	if len(got) != 8 {
		t.Fatalf("want 8 metrics, got %d", len(got))
	}
	if int(cp.started.Load()) != 8 {
		t.Fatalf("want 8 checks started, got %d", cp.started.Load())
	}
	cp.mu.Lock()
	peak := cp.peak
	cp.mu.Unlock()
	if peak > 2 {
		t.Fatalf("concurrency bound exceeded: peak %d", peak)
	}
}

func TestRunCycle_ShutdownDoesNotAbortInFlightChecks(t *testing.T) {
	pool := New(zap.NewNop(), probe.Set{domain.CheckTCP: fastOK{}}, 1, time.Second, 4, 0)
	cycle := &domain.Cycle{ID: 3, Number: 3, StartedAt: time.Now()}

	// process shutdown signalled before the cycle starts
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := pool.RunCycle(ctx, cycle, tcpTargets(2), testProbes)
	if len(got) != 4 {
		t.Fatalf("want 4 metrics, got %d", len(got))
	}
	for _, m := range got {
		if m.Status != domain.StatusUp {
			t.Fatalf("checks must run to completion despite cancellation, got %+v", m)
		}
	}
}

func TestRunCycle_MissingProberLogsAndFills(t *testing.T) {
	pool := New(zap.NewNop(), probe.Set{}, 1, 50*time.Millisecond, 2, 0)
	cycle := &domain.Cycle{ID: 1, Number: 1, StartedAt: time.Now()}

	got := pool.RunCycle(context.Background(), cycle, tcpTargets(1), testProbes)
	if len(got) != 2 {
		t.Fatalf("want synthetic metrics for unprobeable pairs, got %d", len(got))
	}
	for _, m := range got {
		if m.Status != domain.StatusTimeout {
			t.Fatalf("want timeout fill, got %+v", m)
		}
	}
}
