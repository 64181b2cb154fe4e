package obs

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// QuoteOperationsTotal counts quote service operations by outcome kind.
	QuoteOperationsTotal *prometheus.CounterVec
	// QuoteOperationDuration records quote service latency in milliseconds.
	QuoteOperationDuration *prometheus.HistogramVec
	// QuoteRecalculationsTotal counts total recomputations that were persisted.
	QuoteRecalculationsTotal prometheus.Counter
	// QuoteEventsEmittedTotal counts lifecycle events handed to the bus.
	QuoteEventsEmittedTotal *prometheus.CounterVec
	// QuoteEventsProcessedTotal counts lifecycle events consumed by the worker.
	QuoteEventsProcessedTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers quote Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		QuoteOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_operations_total",
			Help:      "Count of quote operations by outcome.",
		}, []string{"operation", "result"})
		QuoteOperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quote_operation_duration_ms",
			Help:      "Latency of quote operations in milliseconds, lock wait included.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"operation"})
		QuoteRecalculationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_recalculations_total",
			Help:      "Number of persisted quote total recomputations.",
		})
		QuoteEventsEmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_events_emitted_total",
			Help:      "Quote lifecycle events emitted by topic and result.",
		}, []string{"topic", "result"})
		QuoteEventsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_events_processed_total",
			Help:      "Quote lifecycle events processed by the worker.",
		}, []string{"topic"})

		mustRegisterCollector(reg, QuoteOperationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				QuoteOperationsTotal = v
			}
		})
		mustRegisterCollector(reg, QuoteOperationDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				QuoteOperationDuration = v
			}
		})
		mustRegisterCollector(reg, QuoteRecalculationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				QuoteRecalculationsTotal = v
			}
		})
		mustRegisterCollector(reg, QuoteEventsEmittedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				QuoteEventsEmittedTotal = v
			}
		})
		mustRegisterCollector(reg, QuoteEventsProcessedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				QuoteEventsProcessedTotal = v
			}
		})
	})
}

// ObserveQuoteOperation records one quote operation. It is a no-op until
// MustRegisterDomainMetrics has run.
func ObserveQuoteOperation(operation, result string, elapsed time.Duration) {
	if QuoteOperationsTotal != nil {
		QuoteOperationsTotal.WithLabelValues(operation, result).Inc()
	}
	if QuoteOperationDuration != nil {
		QuoteOperationDuration.WithLabelValues(operation).Observe(DurationMillis(elapsed))
	}
}

// IncQuoteRecalculations counts a persisted recomputation.
func IncQuoteRecalculations() {
	if QuoteRecalculationsTotal != nil {
		QuoteRecalculationsTotal.Inc()
	}
}

// IncQuoteEventEmitted counts an emitted lifecycle event.
func IncQuoteEventEmitted(topic, result string) {
	if QuoteEventsEmittedTotal != nil {
		QuoteEventsEmittedTotal.WithLabelValues(topic, result).Inc()
	}
}

// IncQuoteEventProcessed counts a lifecycle event consumed by the worker.
func IncQuoteEventProcessed(topic string) {
	if QuoteEventsProcessedTotal != nil {
		QuoteEventsProcessedTotal.WithLabelValues(topic).Inc()
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
