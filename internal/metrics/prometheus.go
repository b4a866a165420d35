package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PipelineDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "govmatrix_pipeline_duration_seconds",
			Help:    "End-to-end questionnaire pipeline duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	PipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govmatrix_pipeline_runs_total",
			Help: "Total questionnaire pipeline runs by outcome",
		},
		[]string{"status"},
	)

	GovernanceDegraded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "govmatrix_governance_degraded_total",
			Help: "Pipeline runs completed with a degraded governance report",
		},
	)

	RecalculationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govmatrix_recalculations_total",
			Help: "Governance score recalculations by outcome",
		},
		[]string{"status"},
	)

	RisksStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "govmatrix_risks_stored_total",
			Help: "Total risk records persisted by the pipeline",
		},
	)

	ControlsStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "govmatrix_controls_stored_total",
			Help: "Total control records persisted by the pipeline",
		},
	)
)

func Init() {
	prometheus.MustRegister(PipelineDuration)
	prometheus.MustRegister(PipelineRuns)
	prometheus.MustRegister(GovernanceDegraded)
	prometheus.MustRegister(RecalculationsTotal)
	prometheus.MustRegister(RisksStored)
	prometheus.MustRegister(ControlsStored)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
