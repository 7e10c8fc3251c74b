package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seopulse_jobs_processed_total",
			Help: "Jobs finished by the worker, by kind and outcome",
		},
		[]string{"kind", "outcome"}, // outcome: done, skipped, retry_scheduled, dead_lettered, abandoned
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seopulse_job_duration_seconds",
			Help:    "Time spent in a processor per job",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300, 900},
		},
		[]string{"kind"},
	)

	jobsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "seopulse_jobs_in_flight",
			Help: "Jobs currently leased by this worker",
		},
		[]string{"kind"},
	)

	leaseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seopulse_lease_errors_total",
			Help: "Job store errors while leasing",
		},
		[]string{"kind"},
	)

	panicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seopulse_worker_panics_total",
			Help: "Processor panics recovered by the worker",
		},
		[]string{"kind"},
	)
)
