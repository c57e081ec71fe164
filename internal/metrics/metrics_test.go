package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.IncNotificationReceived()
		m.IncFeedback(false)
		m.IncDownload(true)
		m.IncNip05Check(true)
		m.SetRelayConnections(func() int { return 1 })
	})
}

func TestServeHTTP(t *testing.T) {
	m := New(func() int { return 3 })
	m.IncNotificationReceived()
	m.IncNotificationReceived()
	m.IncFeedback(true)
	m.IncFeedback(false)
	m.IncCacheHit()
	m.IncCacheMiss()
	m.IncTextNote()

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	require.Contains(t, body, "nostr_notifications_received_total 2\n")
	require.Contains(t, body, "nostr_feedback_offered_total 2\n")
	require.Contains(t, body, "nostr_feedback_dropped_total 1\n")
	require.Contains(t, body, "nostr_relay_connections_active 3\n")
	require.Contains(t, body, `nostr_records_emitted_total{kind="text_note"} 1`)
	require.Contains(t, body, "cache_hit_ratio 0.5000\n")
}
