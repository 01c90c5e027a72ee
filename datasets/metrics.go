package datasets

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segflow_batches_total",
		Help: "Total number of batches assembled, by split",
	}, []string{"split"})

	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segflow_records_total",
		Help: "Total number of records loaded into batches, by split",
	}, []string{"split"})

	decodeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "segflow_decode_errors_total",
		Help: "Total number of images that failed to decode",
	})

	patternMismatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segflow_pattern_mismatches_total",
		Help: "Label files skipped because their name does not follow the dataset convention",
	}, []string{"split"})

	batchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "segflow_batch_seconds",
		Help:    "Time spent loading and preprocessing one batch",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"split", "source"})
)
