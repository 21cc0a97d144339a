package outage

import (
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/outagewatch/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newMachine(threshold int, overlap float64, targetIDs ...string) *Machine {
	targets := make([]domain.Target, len(targetIDs))
	for i, id := range targetIDs {
		targets[i] = domain.Target{ID: domain.TargetID(id), Address: "x", CheckType: domain.CheckTCP}
	}
	m := New(zap.NewNop(), targets, threshold, overlap)
	n := 0
	m.newID = func() string {
		n++
		return fmt.Sprintf("ev%d", n)
	}
	return m
}

func verdict(tid string, o domain.Outcome, cycle int64, probes ...string) domain.Verdict {
	v := domain.Verdict{TargetID: domain.TargetID(tid), CycleID: cycle, Outcome: o}
	if o == domain.VerdictFailing {
		v.TotalProbes = 5
		v.FailingProbes = len(probes)
		v.PercentFailing = float64(len(probes)) / 5 * 100
		for _, p := range probes {
			v.FailingProbeIDs = append(v.FailingProbeIDs, domain.ProbeID(p))
		}
	} else if o == domain.VerdictOK {
		v.TotalProbes = 5
	}
	return v
}

// cycleAt is t0 plus n intervals of 30s
func cycleAt(n int64) time.Time { return t0.Add(time.Duration(n) * 30 * time.Second) }

func TestMachine_OpensAfterThresholdWithStreakStartTime(t *testing.T) {
	m := newMachine(2, 0.5, "t1")

	r1 := m.Apply(1, []domain.Verdict{verdict("t1", domain.VerdictFailing, 1, "p1", "p2", "p3")}, cycleAt(1), true)
	if len(r1.Opens) != 0 || len(r1.StateChanges) != 0 {
		t.Fatalf("one failing cycle must not open or flip: %+v", r1)
	}

	r2 := m.Apply(2, []domain.Verdict{verdict("t1", domain.VerdictFailing, 2, "p1", "p2", "p4")}, cycleAt(2), true)
	if len(r2.Opens) != 1 {
		t.Fatalf("second consecutive failing cycle must open: %+v", r2)
	}
	ev := r2.Opens[0]
	if !ev.StartTime.Equal(cycleAt(1)) {
		t.Fatalf("start_time must be the first cycle of the streak, want %v got %v", cycleAt(1), ev.StartTime)
	}
	if len(r2.StateChanges) != 1 || r2.StateChanges[0].Status != domain.StatusDown {
		t.Fatalf("confirmation must flip state to down: %+v", r2.StateChanges)
	}
	if ev.ConsensusLevel != 60 {
		t.Fatalf("consensus level must be percent_failing at confirmation, got %v", ev.ConsensusLevel)
	}
	if len(ev.AffectedProbes) != 3 || ev.AffectedProbes[0] != "p1" {
		t.Fatalf("affected probes must come from the confirming cycle: %+v", ev.AffectedProbes)
	}
}

func TestMachine_FlappingNeverOpens(t *testing.T) {
	m := newMachine(2, 0.5, "t1")
	outcomes := []domain.Outcome{
		domain.VerdictOK, domain.VerdictFailing, domain.VerdictOK,
		domain.VerdictFailing, domain.VerdictOK, domain.VerdictFailing,
	}
	for i, o := range outcomes {
		r := m.Apply(int64(i+1), []domain.Verdict{verdict("t1", o, int64(i+1), "p1", "p2", "p3")}, cycleAt(int64(i+1)), true)
		if len(r.Opens) != 0 {
			t.Fatalf("alternating verdicts must never open an event (cycle %d)", i+1)
		}
	}
}

func TestMachine_ExtendUnionsProbesAndKeepsMaxConsensus(t *testing.T) {
	m := newMachine(1, 0.5, "t1")

	r1 := m.Apply(1, []domain.Verdict{verdict("t1", domain.VerdictFailing, 1, "p1", "p2", "p3", "p4")}, cycleAt(1), true)
	if len(r1.Opens) != 1 {
		t.Fatalf("threshold 1 opens immediately: %+v", r1)
	}

	// weaker cycle: fewer probes failing, one of them new
	r2 := m.Apply(2, []domain.Verdict{verdict("t1", domain.VerdictFailing, 2, "p1", "p5")}, cycleAt(2), true)
	if len(r2.Extends) != 1 {
		t.Fatalf("failing while down must extend: %+v", r2)
	}
	ext := r2.Extends[0]
	if len(ext.ProbesDelta) != 1 || ext.ProbesDelta[0] != "p5" {
		t.Fatalf("delta must hold only newly implicated probes: %+v", ext.ProbesDelta)
	}
	if ext.ConsensusLevel != 80 {
		t.Fatalf("extend keeps the maximum observed consensus (80), got %v", ext.ConsensusLevel)
	}

	open := m.OpenOutages()
	if len(open) != 1 || len(open[0].AffectedProbes) != 5 {
		t.Fatalf("open event should cover the union of probes: %+v", open)
	}
}

func TestMachine_CloseAfterThresholdWithDuration(t *testing.T) {
	m := newMachine(2, 0.5, "t1")

	m.Apply(1, []domain.Verdict{verdict("t1", domain.VerdictFailing, 1, "p1", "p2", "p3")}, cycleAt(1), true)
	m.Apply(2, []domain.Verdict{verdict("t1", domain.VerdictFailing, 2, "p1", "p2", "p3")}, cycleAt(2), true)

	r3 := m.Apply(3, []domain.Verdict{verdict("t1", domain.VerdictOK, 3)}, cycleAt(3), true)
	if len(r3.Closes) != 0 {
		t.Fatalf("one OK cycle must not close: %+v", r3)
	}

	r4 := m.Apply(4, []domain.Verdict{verdict("t1", domain.VerdictOK, 4)}, cycleAt(4), true)
	if len(r4.Closes) != 1 {
		t.Fatalf("second consecutive OK must close: %+v", r4)
	}
	c := r4.Closes[0]
	if !c.EndTime.Equal(cycleAt(4)) {
		t.Fatalf("end_time must be the confirmation cycle, got %v", c.EndTime)
	}
	// start was cycle 1, end cycle 4: 3 intervals of 30s
	if c.DurationSeconds != 90 {
		t.Fatalf("duration must equal end - start (90s), got %d", c.DurationSeconds)
	}
	if len(m.OpenOutages()) != 0 {
		t.Fatalf("closed event must leave the open set")
	}
}

func TestMachine_UnknownFreezesStreaks(t *testing.T) {
	m := newMachine(2, 0.5, "t1")

	m.Apply(1, []domain.Verdict{verdict("t1", domain.VerdictFailing, 1, "p1", "p2", "p3")}, cycleAt(1), true)
	// UNKNOWN in the middle: neither advances nor resets
	m.Apply(2, []domain.Verdict{verdict("t1", domain.VerdictUnknown, 2)}, cycleAt(2), true)
	r3 := m.Apply(3, []domain.Verdict{verdict("t1", domain.VerdictFailing, 3, "p1", "p2", "p3")}, cycleAt(3), true)

	if len(r3.Opens) != 1 {
		t.Fatalf("streak must survive an UNKNOWN cycle: %+v", r3)
	}
	if !r3.Opens[0].StartTime.Equal(cycleAt(1)) {
		t.Fatalf("streak start must be preserved across UNKNOWN, got %v", r3.Opens[0].StartTime)
	}
	// state untouched by the UNKNOWN cycle itself
	states := m.TargetStates()
	if states[0].LastChange.Equal(cycleAt(2)) {
		t.Fatalf("UNKNOWN must not touch target state")
	}
}

func TestMachine_WarmupSuppressesOpenThenRequiresFreshStreak(t *testing.T) {
	m := newMachine(2, 0.5, "t1")

	// everything down from process start, still in warmup
	for i := int64(1); i <= 4; i++ {
		r := m.Apply(i, []domain.Verdict{verdict("t1", domain.VerdictFailing, i, "p1", "p2", "p3")}, cycleAt(i), false)
		if len(r.Opens) != 0 {
			t.Fatalf("no event may open during warmup (cycle %d)", i)
		}
	}
	// state still flipped for visibility
	if st := m.TargetStates(); st[0].LastStatus != domain.StatusDown {
		t.Fatalf("warmup should still update target state, got %+v", st)
	}

	// warmup over: first post-warmup failing cycle must NOT open yet
	r5 := m.Apply(5, []domain.Verdict{verdict("t1", domain.VerdictFailing, 5, "p1", "p2", "p3")}, cycleAt(5), true)
	if len(r5.Opens) != 0 {
		t.Fatalf("post-warmup confirmation needs a fresh streak: %+v", r5)
	}
	r6 := m.Apply(6, []domain.Verdict{verdict("t1", domain.VerdictFailing, 6, "p1", "p2", "p3")}, cycleAt(6), true)
	if len(r6.Opens) != 1 {
		t.Fatalf("fail_threshold post-warmup cycles must open exactly one event: %+v", r6)
	}
	if !r6.Opens[0].StartTime.Equal(cycleAt(5)) {
		t.Fatalf("start_time is the first post-warmup streak cycle, got %v", r6.Opens[0].StartTime)
	}
}

func TestMachine_NeverTwoOpenEventsPerTarget(t *testing.T) {
	m := newMachine(1, 0.5, "t1")

	m.Apply(1, []domain.Verdict{verdict("t1", domain.VerdictFailing, 1, "p1", "p2", "p3")}, cycleAt(1), true)
	// keep failing: must extend, never open again
	for i := int64(2); i <= 5; i++ {
		r := m.Apply(i, []domain.Verdict{verdict("t1", domain.VerdictFailing, i, "p1", "p2", "p3")}, cycleAt(i), true)
		if len(r.Opens) != 0 {
			t.Fatalf("cycle %d opened a second event for an already-down target", i)
		}
	}
	if n := len(m.OpenOutages()); n != 1 {
		t.Fatalf("want exactly one open event, got %d", n)
	}
}

func TestMachine_CoalescesOverlappingTargets(t *testing.T) {
	m := newMachine(1, 0.5, "t1", "t2", "t3")

	// t1 and t2 implicate the same probes; t3 an unrelated probe set
	r := m.Apply(1, []domain.Verdict{
		verdict("t1", domain.VerdictFailing, 1, "p1", "p2", "p3"),
		verdict("t2", domain.VerdictFailing, 1, "p1", "p2", "p4"),
		verdict("t3", domain.VerdictFailing, 1, "p8", "p9"),
	}, cycleAt(1), true)

	if len(r.Opens) != 2 {
		t.Fatalf("want one coalesced event plus one separate, got %d", len(r.Opens))
	}
	var multi *domain.OutageEvent
	for _, ev := range r.Opens {
		if len(ev.AffectedTargets) == 2 {
			multi = ev
		}
	}
	if multi == nil {
		t.Fatalf("overlapping targets must coalesce into one event: %+v", r.Opens)
	}
	if multi.AffectedTargets[0] != "t1" || multi.AffectedTargets[1] != "t2" {
		t.Fatalf("coalesced targets wrong: %+v", multi.AffectedTargets)
	}
	if len(multi.AffectedProbes) != 4 {
		t.Fatalf("coalesced event should union probes: %+v", multi.AffectedProbes)
	}
}

func TestMachine_CoalescingDisabledAboveOne(t *testing.T) {
	m := newMachine(1, 1.1, "t1", "t2")
	r := m.Apply(1, []domain.Verdict{
		verdict("t1", domain.VerdictFailing, 1, "p1", "p2"),
		verdict("t2", domain.VerdictFailing, 1, "p1", "p2"),
	}, cycleAt(1), true)
	if len(r.Opens) != 2 {
		t.Fatalf("overlap > 1 must disable coalescing, got %d events", len(r.Opens))
	}
}

func TestMachine_MultiTargetEventClosesOnLastRecovery(t *testing.T) {
	m := newMachine(1, 0.5, "t1", "t2")

	r := m.Apply(1, []domain.Verdict{
		verdict("t1", domain.VerdictFailing, 1, "p1", "p2"),
		verdict("t2", domain.VerdictFailing, 1, "p1", "p2"),
	}, cycleAt(1), true)
	if len(r.Opens) != 1 {
		t.Fatalf("want one coalesced event, got %d", len(r.Opens))
	}

	// t1 recovers, t2 still down: event stays open
	r2 := m.Apply(2, []domain.Verdict{
		verdict("t1", domain.VerdictOK, 2),
		verdict("t2", domain.VerdictFailing, 2, "p1", "p2"),
	}, cycleAt(2), true)
	if len(r2.Closes) != 0 {
		t.Fatalf("event must stay open while a covered target is down: %+v", r2)
	}

	r3 := m.Apply(3, []domain.Verdict{
		verdict("t1", domain.VerdictOK, 3),
		verdict("t2", domain.VerdictOK, 3),
	}, cycleAt(3), true)
	if len(r3.Closes) != 1 {
		t.Fatalf("event must close when the last covered target recovers: %+v", r3)
	}
}
