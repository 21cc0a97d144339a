package repo

import (
	"context"
	"time"

	"github.com/hamed0406/outagewatch/internal/domain"
)

// Gateway is the durable sink for cycle output. Implementations must make
// AppendMetrics idempotent on (cycle_id, probe_id, target_id) so the writer
// can safely retry a batch.
type Gateway interface {
	// LastCycleID reports the highest persisted cycle id, 0 when none.
	// The scheduler seeds its counter from it so cycle ids stay unique
	// across restarts.
	LastCycleID(ctx context.Context) (int64, error)
	InsertCycle(ctx context.Context, c *domain.Cycle) error
	AppendMetrics(ctx context.Context, batch []domain.Metric) error
	OpenOutage(ctx context.Context, ev *domain.OutageEvent) (string, error)
	ExtendOutage(ctx context.Context, eventID string, probesDelta []domain.ProbeID, consensusLevel float64) error
	CloseOutage(ctx context.Context, eventID string, endTime time.Time, durationSeconds int64) error
	UpsertTargetState(ctx context.Context, targetID domain.TargetID, status domain.Status, changedAt time.Time) error
}
