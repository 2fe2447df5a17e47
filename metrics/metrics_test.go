package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegistryExposesCustomMetrics(t *testing.T) {
	m := NewMetrics("cuckoo-test")
	m.RegisterBuildInfo("cuckoo-test", "v1.2.3")
	ops := m.NewCounterVec(&prometheus.CounterOpts{
		Name: "cuckoo_test_ops_total",
		Help: "test counter",
	}, []string{"op"})
	ops.WithLabelValues("put").Add(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	if !strings.Contains(body, `cuckoo_test_ops_total{op="put"} 3`) {
		t.Errorf("custom counter missing from exposition")
	}
	if !strings.Contains(body, `build_info{service="cuckoo-test",version="v1.2.3"} 1`) {
		t.Errorf("build info missing from exposition")
	}
}

func TestRegisterBuildInfoIdempotent(t *testing.T) {
	m := NewMetrics("svc")
	m.RegisterBuildInfo("", "")
	m.RegisterBuildInfo("svc", "v2")

	families, err := m.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != "build_info" {
			continue
		}
		if n := len(f.GetMetric()); n != 1 {
			t.Fatalf("build_info series = %d, want 1", n)
		}
		for _, l := range f.GetMetric()[0].GetLabel() {
			if l.GetName() == "version" && l.GetValue() != "unknown" {
				t.Errorf("first registration should win, got version %q", l.GetValue())
			}
		}
		return
	}
	t.Fatalf("build_info not registered")
}
