package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dgruss/karaoked/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	promhttp.Handler().ServeHTTP(rec, req)
	return rec.Body.String()
}

func TestRoomOccupancyExposesRoomLabel(t *testing.T) {
	metrics.RoomOccupancy.WithLabelValues("mic1").Set(2)

	body := scrape(t)
	if !strings.Contains(body, "karaoked_room_occupancy") {
		t.Error("expected karaoked_room_occupancy metric to be present")
	}
	if !strings.Contains(body, `room="mic1"`) {
		t.Error("expected room label mic1 to be present")
	}
}

func TestRoomJoinsTotalTracksOutcomeLabel(t *testing.T) {
	metrics.RoomJoinsTotal.WithLabelValues("mic1", "room_full").Inc()

	body := scrape(t)
	if !strings.Contains(body, "karaoked_room_joins_total") {
		t.Error("expected karaoked_room_joins_total metric to be present")
	}
	if !strings.Contains(body, `outcome="room_full"`) {
		t.Error("expected outcome label room_full to be present")
	}
}

func TestAutomationPhaseTransitionsTotalTracksFromTo(t *testing.T) {
	metrics.AutomationPhaseTransitionsTotal.WithLabelValues("singing", "scores_countdown").Inc()

	body := scrape(t)
	if !strings.Contains(body, `from="singing"`) || !strings.Contains(body, `to="scores_countdown"`) {
		t.Error("expected from/to labels to be present")
	}
}

func TestScalarCountersAreExposed(t *testing.T) {
	metrics.SessionsStaleTotal.Inc()
	metrics.AutomationErrorsTotal.Inc()
	metrics.SubscribersDropped.Inc()

	body := scrape(t)
	for _, name := range []string{
		"karaoked_sessions_stale_evicted_total",
		"karaoked_automation_errors_total",
		"karaoked_event_hub_subscribers_dropped_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %s metric to be present", name)
		}
	}
}
