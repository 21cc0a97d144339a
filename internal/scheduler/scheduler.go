package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/outagewatch/internal/consensus"
	"github.com/hamed0406/outagewatch/internal/domain"
	"github.com/hamed0406/outagewatch/internal/metrics"
	"github.com/hamed0406/outagewatch/internal/notify"
	"github.com/hamed0406/outagewatch/internal/outage"
)

// Pool runs all checks of one cycle and returns the complete metric set.
type Pool interface {
	RunCycle(ctx context.Context, cycle *domain.Cycle, targets []domain.Target, probes []domain.Probe) []domain.Metric
}

// Sink receives cycle output for asynchronous persistence. Implemented by
// the writer; enqueue-only, never blocking on the database.
type Sink interface {
	InsertCycle(c *domain.Cycle)
	AppendMetrics(batch []domain.Metric)
	OpenOutage(ev *domain.OutageEvent)
	ExtendOutage(eventID string, probesDelta []domain.ProbeID, consensusLevel float64)
	CloseOutage(eventID string, endTime time.Time, durationSeconds int64)
	UpsertTargetState(targetID domain.TargetID, status domain.Status, changedAt time.Time)
}

type Config struct {
	CycleInterval time.Duration
	Warmup        time.Duration
	// LastCycle is the highest cycle id already persisted (gateway
	// LastCycleID at startup). Numbering resumes after it, so a restart
	// never reuses an id and the gateway's idempotency keys stay unique.
	LastCycle int64
}

// Scheduler drives the pipeline: tick, fan out checks, aggregate, update the
// outage machine, hand the batch to the sink. Cycles run strictly one at a
// time and reach the state machine in cycle-number order; an overrunning
// cycle delays the next tick rather than running concurrently with it.
type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	pool     Pool
	agg      consensus.Aggregator
	machine  *outage.Machine
	sink     Sink
	notifier notify.Notifier // nil = notifications disabled

	targets []domain.Target
	probes  []domain.Probe

	now       func() time.Time
	startedAt time.Time
	cycleNum  int64
}

func New(
	log *zap.Logger,
	cfg Config,
	pool Pool,
	agg consensus.Aggregator,
	machine *outage.Machine,
	sink Sink,
	notifier notify.Notifier,
	targets []domain.Target,
	probes []domain.Probe,
) *Scheduler {
	return &Scheduler{
		log:      log,
		cfg:      cfg,
		pool:     pool,
		agg:      agg,
		machine:  machine,
		sink:     sink,
		notifier: notifier,
		targets:  targets,
		probes:   probes,
		now:      time.Now,
		cycleNum: cfg.LastCycle,
	}
}

// Run starts the cycle clock: an immediate pass, then one cycle per tick
// until ctx is cancelled. The in-flight cycle always completes and its
// output is enqueued before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.startedAt = s.now()
	s.log.Info("scheduler_started",
		zap.Duration("interval", s.cfg.CycleInterval),
		zap.Duration("warmup", s.cfg.Warmup),
		zap.Int("targets", len(s.targets)),
		zap.Int("probes", len(s.probes)),
	)

	t := time.NewTicker(s.cfg.CycleInterval)
	defer t.Stop()

	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler_stopped", zap.Int64("last_cycle", s.cycleNum))
			return ctx.Err()
		case <-t.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	s.cycleNum++
	started := s.now().UTC()
	cycle := &domain.Cycle{
		ID:         s.cycleNum,
		Number:     s.cycleNum,
		StartedAt:  started,
		ProbeCount: len(s.probes),
	}

	ms := s.pool.RunCycle(ctx, cycle, s.targets, s.probes)
	cycle.EndedAt = s.now().UTC()

	verdicts := s.agg.Reduce(cycle.ID, s.targets, ms)

	confirming := started.Sub(s.startedAt.UTC()) >= s.cfg.Warmup
	res := s.machine.Apply(cycle.Number, verdicts, started, confirming)

	s.sink.InsertCycle(cycle)
	s.sink.AppendMetrics(ms)
	for _, sc := range res.StateChanges {
		s.sink.UpsertTargetState(sc.TargetID, sc.Status, sc.ChangedAt)
	}
	for _, ev := range res.Opens {
		s.sink.OpenOutage(ev)
		s.log.Warn("outage_opened",
			zap.String("event_id", ev.ID),
			zap.Any("targets", ev.AffectedTargets),
			zap.Float64("consensus_level", ev.ConsensusLevel),
		)
		s.notifyOpen(ev)
	}
	for _, e := range res.Extends {
		s.sink.ExtendOutage(e.EventID, e.ProbesDelta, e.ConsensusLevel)
	}
	for _, c := range res.Closes {
		s.sink.CloseOutage(c.EventID, c.EndTime, c.DurationSeconds)
		s.log.Info("outage_closed",
			zap.String("event_id", c.EventID),
			zap.Int64("duration_seconds", c.DurationSeconds),
		)
		s.notifyClose(c)
	}

	elapsed := s.now().UTC().Sub(started)
	metrics.ObserveCycle(elapsed.Seconds())
	s.log.Debug("cycle_done",
		zap.Int64("cycle", cycle.Number),
		zap.Int("metrics", len(ms)),
		zap.Bool("confirming", confirming),
		zap.Duration("elapsed", elapsed),
	)
	if elapsed > s.cfg.CycleInterval {
		// next tick is late, not doubled: cycles stay sequential
		s.log.Warn("cycle_overrun",
			zap.Int64("cycle", cycle.Number),
			zap.Duration("elapsed", elapsed),
			zap.Duration("interval", s.cfg.CycleInterval),
		)
	}
}

func (s *Scheduler) notifyOpen(ev *domain.OutageEvent) {
	if s.notifier == nil {
		return
	}
	title, text := notify.OutageOpened(ev)
	s.send(title, text)
}

func (s *Scheduler) notifyClose(c outage.Close) {
	if s.notifier == nil {
		return
	}
	title, text := notify.OutageClosed(c.EventID, c.EndTime, c.DurationSeconds)
	s.send(title, text)
}

func (s *Scheduler) send(title, text string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.notifier.Send(ctx, title, text); err != nil {
			s.log.Warn("notify_failed", zap.Error(err))
		}
	}()
}
