package obs_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/noah-isme/toko-totals/internal/obs"
)

func TestRecordQuote(t *testing.T) {
	registry := prometheus.NewRegistry()
	obs.MustRegisterDomainMetrics("totals", registry)

	obs.RecordQuote("ok", 5*time.Millisecond)
	obs.RecordQuote("invalid", time.Millisecond)

	if got := testutil.ToFloat64(obs.QuoteTotal.WithLabelValues("ok")); got != 1 {
		t.Fatalf("expected ok counter to be 1, got %v", got)
	}
	if got := testutil.ToFloat64(obs.QuoteTotal.WithLabelValues("invalid")); got != 1 {
		t.Fatalf("expected invalid counter to be 1, got %v", got)
	}
	if samples := testutil.CollectAndCount(obs.QuoteDuration); samples == 0 {
		t.Fatalf("expected histogram samples")
	}
}
