package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func findFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric family %q not registered", name)
	return nil
}

func labelsOf(m *dto.Metric) map[string]string {
	out := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}

func TestPrometheusMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg, "dirhub")

	m.RecordWebhookEvent("session_completed", "applied")
	m.RecordWebhookEvent("session_completed", "applied")
	m.RecordWebhookEvent("subscription_updated", "unknown_company")
	m.RecordWebhookRejected("signature")
	m.RecordTierChange("basic", "premium")
	m.RecordCheckout("premium", "created")

	mf := findFamily(t, reg, "dirhub_billing_webhook_events_total")
	if got := len(mf.GetMetric()); got != 2 {
		t.Fatalf("webhook_events_total series = %d, want 2", got)
	}
	for _, metric := range mf.GetMetric() {
		l := labelsOf(metric)
		if l["kind"] == "session_completed" && metric.GetCounter().GetValue() != 2 {
			t.Errorf("session_completed count = %v, want 2", metric.GetCounter().GetValue())
		}
	}

	tc := findFamily(t, reg, "dirhub_billing_tier_changes_total").GetMetric()[0]
	if l := labelsOf(tc); l["from_tier"] != "basic" || l["to_tier"] != "premium" {
		t.Errorf("tier change labels = %v", l)
	}

	if v := findFamily(t, reg, "dirhub_billing_webhook_rejected_total").GetMetric()[0].GetCounter().GetValue(); v != 1 {
		t.Errorf("rejected count = %v, want 1", v)
	}
	if v := findFamily(t, reg, "dirhub_billing_checkouts_total").GetMetric()[0].GetCounter().GetValue(); v != 1 {
		t.Errorf("checkout count = %v, want 1", v)
	}
}

func TestPrometheusMetrics_Duration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg, "dirhub")

	m.RecordWebhookDuration("subscription_deleted", 40*time.Millisecond)
	m.RecordWebhookDuration("subscription_deleted", 2*time.Second)

	h := findFamily(t, reg, "dirhub_billing_webhook_duration_seconds").GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
	if sum := h.GetSampleSum(); sum < 2.03 || sum > 2.05 {
		t.Errorf("sample sum = %v, want ~2.04", sum)
	}
}

func TestNewPrometheusMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusMetrics(reg, "dirhub")

	defer func() {
		if recover() == nil {
			t.Error("expected panic registering the same collectors twice")
		}
	}()
	NewPrometheusMetrics(reg, "dirhub")
}

func TestHandler_ServesExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg, "dirhub")
	m.RecordTierChange("premium", "basic")

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), `dirhub_billing_tier_changes_total{from_tier="premium",to_tier="basic"} 1`) {
		t.Errorf("exposition missing tier change series:\n%s", body)
	}
}

func TestPrometheusMetrics_RecordRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg, "dirhub")

	m.RecordRequest("POST", "/webhooks/stripe", "200", 30*time.Millisecond)
	m.RecordRequest("POST", "/webhooks/stripe", "400", 5*time.Millisecond)

	mf := findFamily(t, reg, "dirhub_http_requests_total")
	if got := len(mf.GetMetric()); got != 2 {
		t.Fatalf("series = %d, want 2 (one per status)", got)
	}
	h := findFamily(t, reg, "dirhub_http_request_duration_seconds").GetMetric()[0]
	if l := labelsOf(h); l["route"] != "/webhooks/stripe" || l["method"] != "POST" {
		t.Errorf("duration labels = %v", l)
	}
	if h.GetHistogram().GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetHistogram().GetSampleCount())
	}
}
