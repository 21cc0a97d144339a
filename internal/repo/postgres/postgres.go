package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/outagewatch/internal/domain"
	"github.com/hamed0406/outagewatch/internal/repo"
)

var _ repo.Gateway = (*Store)(nil)

// Store persists cycle output to PostgreSQL. Tables: monitoring_cycles,
// connectivity_metrics, outage_events, target_status.
type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.ParseConfig: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) LastCycleID(ctx context.Context) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM monitoring_cycles`,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("last cycle id: %w", err)
	}
	return id, nil
}

func (s *Store) InsertCycle(ctx context.Context, c *domain.Cycle) error {
	var ended *time.Time
	if !c.EndedAt.IsZero() {
		ended = &c.EndedAt
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO monitoring_cycles (id, cycle_number, started_at, ended_at, probe_count)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET ended_at = EXCLUDED.ended_at`,
		c.ID, c.Number, c.StartedAt, ended, c.ProbeCount,
	)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

// AppendMetrics inserts the batch in one round trip. ON CONFLICT DO NOTHING
// on the (cycle_id, probe_id, target_id) key makes retries duplicate-safe.
func (s *Store) AppendMetrics(ctx context.Context, batch []domain.Metric) error {
	if len(batch) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, m := range batch {
		b.Queue(
			`INSERT INTO connectivity_metrics
			   (cycle_id, probe_id, target_id, timestamp, check_type, status,
			    response_time_ms, packet_loss_percent, error_message)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (cycle_id, probe_id, target_id) DO NOTHING`,
			m.CycleID, string(m.ProbeID), string(m.TargetID), m.Timestamp,
			string(m.CheckType), string(m.Status),
			m.ResponseTimeMS, m.PacketLossPercent, nullableString(m.ErrorMessage),
		)
	}
	br := s.pool.SendBatch(ctx, b)
	defer br.Close()

	var errs error
	for range batch {
		if _, err := br.Exec(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		return fmt.Errorf("append metrics: %w", errs)
	}
	return nil
}

func (s *Store) OpenOutage(ctx context.Context, ev *domain.OutageEvent) (string, error) {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return "", fmt.Errorf("marshal outage details: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO outage_events
		   (id, start_time, reason, affected_targets, affected_probes, consensus_level, details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.StartTime, ev.Reason,
		targetStrings(ev.AffectedTargets), probeStrings(ev.AffectedProbes),
		ev.ConsensusLevel, details,
	)
	if err != nil {
		return "", fmt.Errorf("insert outage: %w", err)
	}
	return ev.ID, nil
}

func (s *Store) ExtendOutage(ctx context.Context, eventID string, probesDelta []domain.ProbeID, consensusLevel float64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outage_events
		    SET affected_probes = ARRAY(SELECT DISTINCT unnest(affected_probes || $2::text[])),
		        consensus_level = GREATEST(consensus_level, $3)
		  WHERE id = $1 AND end_time IS NULL`,
		eventID, probeStrings(probesDelta), consensusLevel,
	)
	if err != nil {
		return fmt.Errorf("extend outage: %w", err)
	}
	return nil
}

func (s *Store) CloseOutage(ctx context.Context, eventID string, endTime time.Time, durationSeconds int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outage_events
		    SET end_time = $2, duration_seconds = $3
		  WHERE id = $1 AND end_time IS NULL`,
		eventID, endTime, durationSeconds,
	)
	if err != nil {
		return fmt.Errorf("close outage: %w", err)
	}
	return nil
}

func (s *Store) UpsertTargetState(ctx context.Context, targetID domain.TargetID, status domain.Status, changedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO target_status (target_id, last_status, last_change)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (target_id) DO UPDATE
		   SET last_status = EXCLUDED.last_status, last_change = EXCLUDED.last_change`,
		string(targetID), string(status), changedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert target state: %w", err)
	}
	return nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func targetStrings(ids []domain.TargetID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func probeStrings(ids []domain.ProbeID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
