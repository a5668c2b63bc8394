package obs

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// QuoteTotal counts quote calculations by outcome.
	QuoteTotal *prometheus.CounterVec
	// QuoteDuration records end-to-end quote calculation latency in milliseconds.
	QuoteDuration prometheus.Histogram
	// RateLookupTotal counts tax rate lookups by backend source.
	RateLookupTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		QuoteTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_total",
			Help:      "Count of quote calculations by outcome.",
		}, []string{"result"})
		QuoteDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quote_duration_ms",
			Help:      "Latency of quote calculations in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		})
		RateLookupTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tax_rate_lookup_total",
			Help:      "Count of tax rate lookups by source.",
		}, []string{"source"})

		mustRegisterCollector(reg, QuoteTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				QuoteTotal = v
			}
		})
		mustRegisterCollector(reg, QuoteDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				QuoteDuration = v
			}
		})
		mustRegisterCollector(reg, RateLookupTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				RateLookupTotal = v
			}
		})
	})
}

// RecordRateLookup counts one tax rate lookup against its backing source.
// Like RecordQuote it is a no-op until MustRegisterDomainMetrics has run.
func RecordRateLookup(source string) {
	if RateLookupTotal != nil {
		RateLookupTotal.WithLabelValues(source).Inc()
	}
}

// RecordQuote observes one quote calculation. It is a no-op until
// MustRegisterDomainMetrics has run, so handlers can call it unconditionally.
func RecordQuote(result string, d time.Duration) {
	if QuoteTotal != nil {
		QuoteTotal.WithLabelValues(result).Inc()
	}
	if QuoteDuration != nil {
		QuoteDuration.Observe(DurationMillis(d))
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
