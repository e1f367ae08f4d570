package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	m := New()

	m.BetPlaced("NUM", "ok", 100)
	m.BetPlaced("NUM", "ok", -20)
	m.BetPlaced("TIME", "invalid_step", 0)
	m.Settlement("ok", 3, 440, 10*time.Millisecond)
	m.Settlement("already_settled", 0, 0, 0)
	m.Notification(true)
	m.Notification(false)

	if got := testutil.ToFloat64(m.betsTotal.WithLabelValues("NUM", "ok")); got != 2 {
		t.Errorf("bets ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.pointsWagered); got != 100 {
		t.Errorf("points wagered = %v, want 100", got)
	}
	if got := testutil.ToFloat64(m.pointsCredited); got != 440 {
		t.Errorf("points credited = %v, want 440", got)
	}
	if got := testutil.ToFloat64(m.settledBets); got != 3 {
		t.Errorf("settled bets = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.settlementsTotal.WithLabelValues("already_settled")); got != 1 {
		t.Errorf("already settled = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.notificationsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed notifications = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.BetPlaced("NUM", "ok", 1)
	m.Settlement("ok", 1, 1, time.Second)
	m.Notification(false)
}

func TestHandler(t *testing.T) {
	m := New()
	m.Settlement("ok", 1, 5, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "forecastbot_points_credited_total 5") {
		t.Errorf("metrics output missing credited counter:\n%s", body)
	}
}
