package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew_RegistersWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.EvaluationsTotal.WithLabelValues("ok").Inc()
	m.AlertsRaised.WithLabelValues("maxDose", "high").Add(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`rxguard_evaluations_total{outcome="ok"} 1`,
		`rxguard_alerts_total{kind="maxDose",level="high"} 2`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNew_TwoRegistries(t *testing.T) {
	// separate registries must not collide
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
