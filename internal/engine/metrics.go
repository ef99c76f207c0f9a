package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/releasegate-sh/verifier/internal/model"
)

var (
	tickCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "verifier_ticks_total",
		Help: "Number of completed verification ticks",
	})
	componentGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "verifier_components",
		Help: "Manifest components by verification status",
	}, []string{"status"})
	workloadGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "verifier_workloads",
		Help: "Audited workloads by stability verdict",
	}, []string{"verdict"})
	tickDurationGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "verifier_tick_duration_seconds",
		Help: "Wall-clock duration of the most recent tick",
	})

	metricsRegistered = false
)

func registerMetrics() {
	// Register metrics only once
	if metricsRegistered {
		return
	}
	prometheus.MustRegister(tickCounter, componentGauge, workloadGauge, tickDurationGauge)
	metricsRegistered = true
}

func recordTick(result *model.VerificationResult, duration time.Duration) {
	tickCounter.Inc()
	tickDurationGauge.Set(duration.Seconds())

	componentGauge.Reset()
	for _, c := range result.Components {
		componentGauge.WithLabelValues(string(c.Status)).Inc()
	}
	workloadGauge.Reset()
	for _, w := range result.Workloads {
		workloadGauge.WithLabelValues(string(w.Verdict)).Inc()
	}
}
