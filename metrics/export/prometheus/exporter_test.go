package prometheus

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/guardian"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeSource struct {
	snapshot      guardian.MetricsSnapshot
	dropped       uint64
	notifyDropped uint64
}

func (f fakeSource) MetricsSnapshot() guardian.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }
func (f fakeSource) NotificationsDropped() uint64              { return f.notifyDropped }

func scrape(t *testing.T, exp *Exporter) string {
	t.Helper()
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestCollectEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: guardian.MetricsSnapshot{
			Counters:   map[guardian.MetricID]uint64{},
			Histograms: map[guardian.MetricID][]uint64{},
		},
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(exp)
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 0 {
		t.Fatalf("expected no families, got %d", len(families))
	}
}

func TestHandlerServesCountersAndHistogram(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: guardian.MetricsSnapshot{
			Counters: map[guardian.MetricID]uint64{
				guardian.MetricLoginSuccess:   7,
				guardian.MetricAccountLocked:  2,
				guardian.MetricRefreshInvalid: 1,
			},
			Histograms: map[guardian.MetricID][]uint64{
				guardian.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped:       2,
		notifyDropped: 3,
	})

	out := scrape(t, exp)
	for _, want := range []string{
		"guardian_login_success_total 7",
		"guardian_account_locked_total 2",
		"guardian_refresh_invalid_total 1",
		`guardian_validate_latency_seconds_bucket{le="0.005"} 1`,
		`guardian_validate_latency_seconds_bucket{le="+Inf"} 36`,
		"guardian_validate_latency_seconds_count 36",
		"guardian_audit_dropped_total 2",
		"guardian_notifications_dropped_total 3",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "guardian_login_latency_seconds") {
		t.Fatal("histograms absent from the snapshot must not be exported")
	}
}
