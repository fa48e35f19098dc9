package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bridgex/internal/domain"
)

func TestRecordOutcomeCountsAndObserves(t *testing.T) {
	c := NewCollector()

	c.RecordOutcome(domain.Outcome{
		Target:   domain.Endpoint{Platform: domain.PlatformIRC, GroupID: "#test"},
		Status:   domain.OutcomeOK,
		Attempts: 2,
		Elapsed:  120 * time.Millisecond,
	})
	c.RecordOutcome(domain.Outcome{
		Target: domain.Endpoint{Platform: domain.PlatformIRC, GroupID: "#test"},
		Status: domain.OutcomeDropped,
	})

	body := render(t, c)
	if !strings.Contains(body, `bridgex_dispatches_total{platform="irc",status="ok"} 1`) {
		t.Fatalf("ok counter missing:\n%s", body)
	}
	if !strings.Contains(body, `bridgex_dispatches_total{platform="irc",status="dropped"} 1`) {
		t.Fatalf("dropped counter missing:\n%s", body)
	}
	if !strings.Contains(body, "bridgex_dispatch_retries_total 1") {
		t.Fatalf("retry counter missing:\n%s", body)
	}
	if !strings.Contains(body, "bridgex_dispatch_seconds_count 1") {
		t.Fatalf("latency histogram missing:\n%s", body)
	}
	// 0.12s lands in the 0.25 bucket but not the 0.1 one.
	if !strings.Contains(body, `bridgex_dispatch_seconds_bucket{le="0.25"} 1`) {
		t.Fatalf("latency bucket missing:\n%s", body)
	}
	if !strings.Contains(body, `bridgex_dispatch_seconds_bucket{le="0.1"} 0`) {
		t.Fatalf("lower bucket must stay empty:\n%s", body)
	}
}

func TestIdentityGaugeAndInbound(t *testing.T) {
	c := NewCollector()
	c.SetIdentitySize(42)
	c.RecordInbound(domain.PlatformTelegram, domain.KindEdit)

	body := render(t, c)
	if !strings.Contains(body, "bridgex_identity_entries 42") {
		t.Fatalf("identity gauge missing:\n%s", body)
	}
	if !strings.Contains(body, `bridgex_events_received_total{platform="telegram",kind="edit"} 1`) {
		t.Fatalf("inbound counter missing:\n%s", body)
	}
}

func TestHandlerContentType(t *testing.T) {
	c := NewCollector()
	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type: %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "bridgex_uptime_seconds") {
		t.Fatal("uptime metric missing")
	}
}

func render(t *testing.T, c *MetricsCollector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}
