package train

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pairsTrained = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bowyer_train_pairs_total",
		Help: "The total number of (center, context) pairs trained",
	})

	batchesTrained = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bowyer_train_batches_total",
		Help: "The total number of batches consumed by training workers",
	})

	checkpointsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bowyer_train_checkpoints_total",
		Help: "The total number of checkpoints written",
	})

	epochGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bowyer_train_epoch",
		Help: "Last completed training epoch",
	})

	learningRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bowyer_train_learning_rate",
		Help: "Current learning rate",
	})

	lastEpochLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bowyer_train_loss",
		Help: "Mean negative-sampling loss over the last completed epoch",
	})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bowyer_train_batch_duration_seconds",
		Help:    "Time spent training one batch",
		Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
	})
)
