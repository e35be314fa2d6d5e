package obs

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	SubmitTotal  *prometheus.CounterVec // result=created|duplicate|error
	ProcessTotal *prometheus.CounterVec // outcome=completed|failed|lock_busy|already_terminal|error
	RetryTotal   *prometheus.CounterVec // outcome as above

	StageLatencyMS *prometheus.HistogramVec // stage=burn|mint|compensate

	LockAcquireTotal *prometheus.CounterVec // result=success|busy|error
	LockReleaseTotal *prometheus.CounterVec // result=success|lost|error
	LockExtendTotal  *prometheus.CounterVec // result=success|lost|error

	CompensationFailedTotal prometheus.Counter
	CompensatedTotal        prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		SubmitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlement_submit_total",
				Help: "Total settlement submissions by result",
			},
			[]string{"result"},
		),
		ProcessTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlement_process_total",
				Help: "Total process invocations by outcome",
			},
			[]string{"outcome"},
		),
		RetryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlement_retry_total",
				Help: "Total retry invocations by outcome",
			},
			[]string{"outcome"},
		),
		StageLatencyMS: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "settlement_stage_latency_ms",
				Help:    "Latency of ledger stages (ms)",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"stage"},
		),
		LockAcquireTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlement_lock_acquire_total",
				Help: "Total lock acquire attempts by result",
			},
			[]string{"result"},
		),
		LockReleaseTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlement_lock_release_total",
				Help: "Total lock release attempts by result",
			},
			[]string{"result"},
		),
		LockExtendTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlement_lock_extend_total",
				Help: "Total lock extend attempts by result",
			},
			[]string{"result"},
		),
		CompensationFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_compensation_failed_total",
			Help: "Compensation attempts that failed, leaving a settlement stuck in COMPENSATING",
		}),
		CompensatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_compensated_total",
			Help: "Settlements that were fully compensated after a mint failure",
		}),
	}

	prometheus.MustRegister(
		m.SubmitTotal,
		m.ProcessTotal,
		m.RetryTotal,
		m.StageLatencyMS,
		m.LockAcquireTotal,
		m.LockReleaseTotal,
		m.LockExtendTotal,
		m.CompensationFailedTotal,
		m.CompensatedTotal,
	)

	return m
}
