package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilBroadcastIsNoop(t *testing.T) {
	t.Parallel()

	var m *Broadcast
	m.Delivery("success")
	m.RateLimited()
	m.RunStarted()
	m.RunFinished("done", time.Second)
	m.Rejected()
}

func TestHandlerExposesCounters(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())
	m.Delivery("success")
	m.Delivery("success")
	m.Delivery("blocked")
	m.RateLimited()
	m.RunStarted()
	m.RunFinished("done", 3*time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`castbot_deliveries_total{outcome="success"} 2`,
		`castbot_deliveries_total{outcome="blocked"} 1`,
		`castbot_rate_limited_total 1`,
		`castbot_runs_total{state="done"} 1`,
		`castbot_active_runs 0`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics output missing %q\n%s", want, out)
		}
	}
}
