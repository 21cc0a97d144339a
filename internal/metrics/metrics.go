package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hamed0406/outagewatch/internal/domain"
)

var (
	cyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "outagewatch",
		Name:      "cycles_total",
		Help:      "Monitoring cycles completed.",
	})

	cycleSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "outagewatch",
		Name:      "cycle_seconds",
		Help:      "Wall time of one full cycle.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	checksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outagewatch",
		Name:      "checks_total",
		Help:      "Individual check results, partitioned by status.",
	}, []string{"status"})

	writerDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "outagewatch",
		Name:      "writer_dropped_total",
		Help:      "Persistence operations dropped because the outbound buffer was full.",
	})

	writerRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "outagewatch",
		Name:      "writer_retries_total",
		Help:      "Persistence operations retried after an error.",
	})

	openOutages = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "outagewatch",
		Name:      "open_outages",
		Help:      "Outage events currently open.",
	})
)

// Register attaches the collectors to reg, tolerating re-registration.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		cyclesTotal,
		cycleSeconds,
		checksTotal,
		writerDroppedTotal,
		writerRetriesTotal,
		openOutages,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func ObserveCycle(seconds float64) {
	cyclesTotal.Inc()
	if seconds < 0 {
		seconds = 0
	}
	cycleSeconds.Observe(seconds)
}

func ObserveCheck(status domain.Status) {
	checksTotal.WithLabelValues(string(status)).Inc()
}

func WriterDropped() { writerDroppedTotal.Inc() }

func WriterRetried() { writerRetriesTotal.Inc() }

func SetOpenOutages(n int) { openOutages.Set(float64(n)) }
