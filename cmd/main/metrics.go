package main

import (
	"github.com/CTAG07/muse/pkg/markov"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	unitsTrained = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muse_training_units_total",
		Help: "Documents, or sentences when splitting is enabled, received for training, by result",
	}, []string{"result"})

	utterancesGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "muse_utterances_generated_total",
		Help: "Total number of generated utterances",
	})

	generationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "muse_generation_duration_seconds",
		Help:    "Time spent generating one utterance, including queueing behind other operations",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
	})

	utteranceLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "muse_utterance_length_chars",
		Help:    "Distribution of generated utterance lengths",
		Buckets: []float64{0, 10, 20, 40, 60, 80, 100, 120, 140, 200, 280},
	})

	snapshotOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muse_snapshot_operations_total",
		Help: "Snapshot saves and loads, by operation and result",
	}, []string{"operation", "result"})

	knowledgeContexts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "muse_knowledge_contexts",
		Help: "Number of contexts in the knowledge store",
	})

	knowledgeTransitions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "muse_knowledge_transitions",
		Help: "Number of unique context to next-token transitions in the knowledge store",
	})

	knowledgeStarts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "muse_knowledge_start_candidates",
		Help: "Number of unique start candidates in the knowledge store",
	})
)

func recordTraining(res markov.TrainResult) {
	unitsTrained.WithLabelValues("trained").Add(float64(res.Units - res.Skipped))
	unitsTrained.WithLabelValues("skipped").Add(float64(res.Skipped))
}

func recordSnapshot(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	snapshotOperations.WithLabelValues(operation, result).Inc()
}

func recordStats(stats markov.Stats) {
	knowledgeContexts.Set(float64(stats.Contexts))
	knowledgeTransitions.Set(float64(stats.Transitions))
	knowledgeStarts.Set(float64(stats.StartCandidates))
}
