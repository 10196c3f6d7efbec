package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goIdentity "github.com/MrEthical07/goIdentity"
)

type fakeSource struct {
	snapshot goIdentity.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goIdentity.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                        { return f.dropped }

func sampleSource() fakeSource {
	return fakeSource{
		snapshot: goIdentity.MetricsSnapshot{
			Counters: map[goIdentity.MetricID]uint64{
				goIdentity.MetricLoginSuccess: 7,
				goIdentity.MetricAgentCreated: 2,
			},
			Histograms: map[goIdentity.MetricID][]uint64{
				goIdentity.MetricCommandLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	}
}

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goIdentity.MetricsSnapshot{
			Counters:   map[goIdentity.MetricID]uint64{},
			Histograms: map[goIdentity.MetricID][]uint64{},
		},
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderIncludesCounterAndHistogram(t *testing.T) {
	out := NewPrometheusExporterFromSource(sampleSource()).Render()
	for _, want := range []string{
		"identity_login_success_total 7",
		"identity_agent_created_total 2",
		`identity_command_latency_seconds_bucket{le="0.005"} 1`,
		`identity_command_latency_seconds_bucket{le="+Inf"} 36`,
		"identity_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestCollectorGathersFromPrivateRegistry(t *testing.T) {
	families, err := NewPrometheusExporterFromSource(sampleSource()).Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	got := map[string]float64{}
	var latencyCount uint64
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				got[mf.GetName()] = c.GetValue()
			}
			if h := m.GetHistogram(); h != nil {
				latencyCount = h.GetSampleCount()
			}
		}
	}
	if got["identity_login_success_total"] != 7 {
		t.Fatalf("login counter = %v", got["identity_login_success_total"])
	}
	if got["identity_audit_dropped_total"] != 2 {
		t.Fatalf("audit dropped = %v", got["identity_audit_dropped_total"])
	}
	if latencyCount != 36 {
		t.Fatalf("latency sample count = %d", latencyCount)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	exp := NewPrometheusExporterFromSource(sampleSource())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "identity_login_success_total 7") {
		t.Fatalf("expected login counter in body, got:\n%s", rec.Body.String())
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(sampleSource())

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
