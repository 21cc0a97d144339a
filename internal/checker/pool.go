package checker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hamed0406/outagewatch/internal/domain"
	"github.com/hamed0406/outagewatch/internal/metrics"
	"github.com/hamed0406/outagewatch/internal/probe"
)

// deadlineMargin is added on top of the per-check budget to form the cycle
// deadline: enough for scheduling slack, small enough to keep cycles bounded.
const deadlineMargin = 2 * time.Second

// Pool fans out all (target, probe) checks of one cycle under a global
// concurrency bound. Every expected pair yields exactly one Metric: pairs
// with no completed result by the cycle deadline are recorded as synthetic
// timeouts, and results arriving after the deadline are discarded.
type Pool struct {
	log         *zap.Logger
	probers     probe.Set
	attempts    int
	timeout     time.Duration // budget for all attempts of one check
	concurrency int
	limiter     *rate.Limiter // nil = unlimited

	now func() time.Time
}

func New(log *zap.Logger, probers probe.Set, attempts int, timeout time.Duration, concurrency int, checksPerSecond float64) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	var lim *rate.Limiter
	if checksPerSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(checksPerSecond), concurrency)
	}
	return &Pool{
		log:         log,
		probers:     probers,
		attempts:    attempts,
		timeout:     timeout,
		concurrency: concurrency,
		limiter:     lim,
		now:         time.Now,
	}
}

type pairKey struct {
	target domain.TargetID
	probe  domain.ProbeID
}

// RunCycle executes every (target, probe) check for the cycle and returns
// the complete metric set, synthetic timeouts included. Checks share no
// mutable state; a slow check never blocks an unrelated one beyond the
// concurrency bound.
func (p *Pool) RunCycle(ctx context.Context, cycle *domain.Cycle, targets []domain.Target, probes []domain.Probe) []domain.Metric {
	total := len(targets) * len(probes)
	if total == 0 {
		return nil
	}

	// The cycle deadline is detached from ctx: shutdown stops new cycles at
	// the scheduler, but checks already in flight run to completion or to
	// their own timeout rather than being aborted into synthetic timeouts.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout+deadlineMargin)
	defer cancel()

	results := make(chan domain.Metric, total)
	g := new(errgroup.Group)
	g.SetLimit(p.concurrency)

	for _, t := range targets {
		for _, pr := range probes {
			t, pr := t, pr
			g.Go(func() error {
				if p.limiter != nil {
					if err := p.limiter.Wait(dctx); err != nil {
						return nil // deadline hit while throttled; synthetic fill covers it
					}
				}
				prober, ok := p.probers[t.CheckType]
				if !ok {
					p.log.Error("checker_no_prober",
						zap.String("target_id", string(t.ID)),
						zap.String("check_type", string(t.CheckType)),
					)
					return nil
				}
				runner := probe.NewRunner(prober, p.attempts, p.timeout)
				results <- runner.Run(dctx, cycle.ID, pr, t)
				return nil
			})
		}
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	collected := make(map[pairKey]domain.Metric, total)
collect:
	for len(collected) < total {
		select {
		case m := <-results:
			collected[pairKey{m.TargetID, m.ProbeID}] = m
		case <-done:
			// drain whatever landed before the workers finished
			for {
				select {
				case m := <-results:
					collected[pairKey{m.TargetID, m.ProbeID}] = m
				default:
					break collect
				}
			}
		case <-dctx.Done():
			break collect
		}
	}

	// Synthetic fill: the aggregator's total_probes must be well-defined, so
	// a closed cycle reports every expected pair exactly once.
	missing := 0
	out := make([]domain.Metric, 0, total)
	stamp := p.now().UTC()
	for _, t := range targets {
		for _, pr := range probes {
			if m, ok := collected[pairKey{t.ID, pr.ID}]; ok {
				out = append(out, m)
				metrics.ObserveCheck(m.Status)
				continue
			}
			missing++
			syn := domain.Metric{
				CycleID:           cycle.ID,
				ProbeID:           pr.ID,
				TargetID:          t.ID,
				Timestamp:         stamp,
				CheckType:         t.CheckType,
				Status:            domain.StatusTimeout,
				PacketLossPercent: 100,
				ErrorMessage:      "cycle deadline exceeded",
			}
			out = append(out, syn)
			metrics.ObserveCheck(syn.Status)
		}
	}
	if missing > 0 {
		p.log.Warn("checker_deadline_fill",
			zap.Int64("cycle", cycle.Number),
			zap.Int("missing", missing),
			zap.Int("expected", total),
		)
	}
	return out
}
