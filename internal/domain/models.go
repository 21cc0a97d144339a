package domain

import "time"

type TargetID string

type ProbeID string

// Status is the outcome of one check of one target from one probe.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
	StatusTimeout  Status = "timeout"
)

// CheckType selects the protocol used to reach a target. The address decides
// v4 vs v6 at dial time.
type CheckType string

const (
	CheckTCP  CheckType = "tcp"
	CheckHTTP CheckType = "http"
	CheckDNS  CheckType = "dns"
)

func (c CheckType) Valid() bool {
	switch c {
	case CheckTCP, CheckHTTP, CheckDNS:
		return true
	}
	return false
}

// Target is a monitored endpoint. Immutable at runtime; loaded from config.
type Target struct {
	ID        TargetID  `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	CheckType CheckType `json:"check_type"`
	Region    string    `json:"region,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	// Quorum overrides the global consensus level for this target when set
	// (fraction in (0,1]).
	Quorum *float64 `json:"quorum,omitempty"`
}

// Probe is an independent vantage point. Immutable at runtime.
type Probe struct {
	ID       ProbeID `json:"id"`
	Location string  `json:"location"`
	Provider string  `json:"provider,omitempty"`
}

// Cycle is one scheduled round of checks across all (target, probe) pairs.
type Cycle struct {
	ID         int64     `json:"id"`
	Number     int64     `json:"cycle_number"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at,omitempty"`
	ProbeCount int       `json:"probe_count"`
}

// Metric is one observation: exactly one per (cycle, probe, target).
// Append-only; produced exclusively by the checker pool.
type Metric struct {
	CycleID           int64     `json:"cycle_id"`
	ProbeID           ProbeID   `json:"probe_id"`
	TargetID          TargetID  `json:"target_id"`
	Timestamp         time.Time `json:"timestamp"`
	CheckType         CheckType `json:"check_type"`
	Status            Status    `json:"status"`
	ResponseTimeMS    *float64  `json:"response_time_ms"`
	PacketLossPercent int       `json:"packet_loss_percent"`
	ErrorMessage      string    `json:"error_message,omitempty"`
}

type Outcome string

const (
	VerdictOK      Outcome = "OK"
	VerdictFailing Outcome = "FAILING"
	VerdictUnknown Outcome = "UNKNOWN"
)

// Verdict is the per-target consensus result for one cycle. Transient: it
// feeds the outage state machine and outage event details, nothing else.
type Verdict struct {
	TargetID        TargetID  `json:"target_id"`
	CycleID         int64     `json:"cycle_id"`
	Outcome         Outcome   `json:"outcome"`
	TotalProbes     int       `json:"total_probes"`
	FailingProbes   int       `json:"failing_probes"`
	PercentFailing  float64   `json:"percent_failing"`
	FailingProbeIDs []ProbeID `json:"failing_probe_ids,omitempty"`
}

// TargetState is the single authoritative current status of a target.
// Written only by the outage state machine.
type TargetState struct {
	TargetID   TargetID  `json:"target_id"`
	LastStatus Status    `json:"last_status"`
	LastChange time.Time `json:"last_change"`
}

// OutageEvent is a confirmed unavailability window covering one or more
// targets. Mutable while open; immutable once EndTime is set.
type OutageEvent struct {
	ID              string         `json:"id"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         *time.Time     `json:"end_time,omitempty"`
	DurationSeconds *int64         `json:"duration_seconds,omitempty"`
	Reason          string         `json:"reason"`
	AffectedTargets []TargetID     `json:"affected_targets"`
	AffectedProbes  []ProbeID      `json:"affected_probes"`
	ConsensusLevel  float64        `json:"consensus_level"`
	Details         map[string]any `json:"details,omitempty"`
}
