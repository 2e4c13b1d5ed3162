package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quizbot"

var (
	// ExtractStrategyResults counts strategy outcomes: ok, empty, error, timeout, panic.
	ExtractStrategyResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "extract",
		Name:      "strategy_results_total",
		Help:      "Outcomes of quiz extraction strategies.",
	}, []string{"strategy", "outcome"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "active",
		Help:      "Sessions currently held in memory.",
	})

	ReapedSessions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "reaped_total",
		Help:      "Sessions dropped after the idle timeout.",
	})

	QuizzesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "delivery",
		Name:      "quizzes_total",
		Help:      "Quiz polls sent, by mode.",
	}, []string{"mode"})

	ActiveMarathons = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "delivery",
		Name:      "marathons_active",
		Help:      "Marathon runs currently scheduled.",
	})

	AnswersGraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "delivery",
		Name:      "answers_graded_total",
		Help:      "Graded poll answers, by result.",
	}, []string{"result"})

	UpdatesHandled = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "telegram",
		Name:      "update_duration_seconds",
		Help:      "Time spent handling one chat update.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})
)
