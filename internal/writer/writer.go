package writer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/outagewatch/internal/domain"
	"github.com/hamed0406/outagewatch/internal/metrics"
	"github.com/hamed0406/outagewatch/internal/repo"
)

// op is one persistence operation waiting for the drainer.
type op struct {
	kind  string
	apply func(ctx context.Context, gw repo.Gateway) error
}

// Writer decouples cycle processing from the persistence gateway: producers
// enqueue without blocking, a single goroutine drains with retry/backoff.
// When the buffer is full the oldest entry is dropped and counted, so a
// stalled database can never stall the scheduler.
type Writer struct {
	log      *zap.Logger
	gw       repo.Gateway
	capacity int
	retries  int
	backoff  time.Duration

	mu      sync.Mutex
	queue   []op
	dropped uint64
	closed  bool

	wake chan struct{}
	done chan struct{}
}

func New(log *zap.Logger, gw repo.Gateway, capacity, retries int, backoff time.Duration) *Writer {
	if capacity < 1 {
		capacity = 1
	}
	if retries < 1 {
		retries = 1
	}
	return &Writer{
		log:      log,
		gw:       gw,
		capacity: capacity,
		retries:  retries,
		backoff:  backoff,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (w *Writer) InsertCycle(c *domain.Cycle) {
	cp := *c
	w.enqueue(op{kind: "insert_cycle", apply: func(ctx context.Context, gw repo.Gateway) error {
		return gw.InsertCycle(ctx, &cp)
	}})
}

func (w *Writer) AppendMetrics(batch []domain.Metric) {
	if len(batch) == 0 {
		return
	}
	cp := append([]domain.Metric(nil), batch...)
	w.enqueue(op{kind: "append_metrics", apply: func(ctx context.Context, gw repo.Gateway) error {
		return gw.AppendMetrics(ctx, cp)
	}})
}

func (w *Writer) OpenOutage(ev *domain.OutageEvent) {
	cp := *ev
	w.enqueue(op{kind: "open_outage", apply: func(ctx context.Context, gw repo.Gateway) error {
		_, err := gw.OpenOutage(ctx, &cp)
		return err
	}})
}

func (w *Writer) ExtendOutage(eventID string, probesDelta []domain.ProbeID, consensusLevel float64) {
	delta := append([]domain.ProbeID(nil), probesDelta...)
	w.enqueue(op{kind: "extend_outage", apply: func(ctx context.Context, gw repo.Gateway) error {
		return gw.ExtendOutage(ctx, eventID, delta, consensusLevel)
	}})
}

func (w *Writer) CloseOutage(eventID string, endTime time.Time, durationSeconds int64) {
	w.enqueue(op{kind: "close_outage", apply: func(ctx context.Context, gw repo.Gateway) error {
		return gw.CloseOutage(ctx, eventID, endTime, durationSeconds)
	}})
}

func (w *Writer) UpsertTargetState(targetID domain.TargetID, status domain.Status, changedAt time.Time) {
	w.enqueue(op{kind: "upsert_target_state", apply: func(ctx context.Context, gw repo.Gateway) error {
		return gw.UpsertTargetState(ctx, targetID, status, changedAt)
	}})
}

// Dropped reports how many operations were discarded because the buffer
// was full.
func (w *Writer) Dropped() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

func (w *Writer) enqueue(o op) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	// eviction and append stay under one lock so len(queue) <= capacity
	// holds at all times, even with concurrent producers
	var evicted string
	var total uint64
	if len(w.queue) >= w.capacity {
		evicted = w.queue[0].kind
		w.queue = w.queue[1:]
		w.dropped++
		total = w.dropped
	}
	w.queue = append(w.queue, o)
	w.mu.Unlock()

	if evicted != "" {
		metrics.WriterDropped()
		w.log.Warn("writer_dropped_oldest",
			zap.String("op", evicted),
			zap.Uint64("dropped_total", total),
		)
	}

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is cancelled, then flushes what remains.
// Stop blocks until that final flush is done.
func (w *Writer) Run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			// shutdown: persist everything already enqueued before exiting
			w.drain(context.Background())
			return
		case <-w.wake:
			w.drain(ctx)
		}
	}
}

// Stop marks the queue closed, waits for Run to exit, then flushes once
// more: anything enqueued between Run's shutdown flush and the close mark
// still reaches the gateway.
func (w *Writer) Stop() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	<-w.done
	w.drain(context.Background())
}

func (w *Writer) drain(ctx context.Context) {
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		o := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		w.applyWithRetry(ctx, o)
	}
}

func (w *Writer) applyWithRetry(ctx context.Context, o op) {
	backoff := w.backoff
	for attempt := 1; ; attempt++ {
		err := o.apply(ctx, w.gw)
		if err == nil {
			return
		}
		if attempt >= w.retries || ctx.Err() != nil {
			w.log.Error("writer_gave_up",
				zap.String("op", o.kind),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return
		}
		metrics.WriterRetried()
		w.log.Warn("writer_retry",
			zap.String("op", o.kind),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
		backoff *= 2
	}
}
