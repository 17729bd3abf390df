// Package metrics содержит метрики Prometheus сервиса.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "holidayd"

var (
	// LedgerTransactions считает записанные транзакции по виду токена и типу операции.
	LedgerTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "transactions_total",
		Help:      "Ledger transactions written, by token kind and type.",
	}, []string{"kind", "type"})

	// LedgerRejections считает отклонённые изменения баланса.
	LedgerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "rejections_total",
		Help:      "Balance changes rejected, by token kind and reason.",
	}, []string{"kind", "reason"})

	// SweepRuns считает запуски чистильщика по результату: success, failure, skipped.
	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweeper",
		Name:      "runs_total",
		Help:      "Sweep runs, by job and outcome.",
	}, []string{"job", "outcome"})

	// SweepEntities считает обработанные сущности по результату: processed, failed, notify_failed.
	SweepEntities = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweeper",
		Name:      "entities_total",
		Help:      "Entities handled by sweeps, by job and result.",
	}, []string{"job", "result"})

	// SweepDuration измеряет длительность запуска.
	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sweeper",
		Name:      "run_duration_seconds",
		Help:      "Sweep run duration.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"job"})

	// ClaimsProcessed считает обработанные заявки на выплату.
	ClaimsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "settlement",
		Name:      "claims_processed_total",
		Help:      "Claim requests processed, by resulting status.",
	}, []string{"status"})
)

// Handler возвращает HTTP-обработчик для выдачи метрик.
func Handler() http.Handler {
	return promhttp.Handler()
}
