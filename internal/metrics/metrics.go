// Package metrics keeps process counters and serves them in Prometheus text format.
package metrics

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics holds the counters. All increment methods are safe on a nil receiver,
// so components can run without metrics in tests.
type Metrics struct {
	startTime time.Time

	notificationsReceived atomic.Int64
	notificationsDropped  atomic.Int64

	textNotes       atomic.Int64
	reactions       atomic.Int64
	metadataUpdates atomic.Int64
	eventsDiscarded atomic.Int64

	feedbackOffered atomic.Int64
	feedbackDropped atomic.Int64
	feedbackSent    atomic.Int64

	downloadsTotal  atomic.Int64
	downloadsFailed atomic.Int64
	cacheHits       atomic.Int64
	cacheMisses     atomic.Int64

	nip05Checks   atomic.Int64
	nip05Verified atomic.Int64

	httpRequests atomic.Int64
	httpErrors   atomic.Int64

	relayConnections func() int
}

// New creates a Metrics. relayConnections reports the live relay connection
// count and may be nil.
func New(relayConnections func() int) *Metrics {
	return &Metrics{startTime: time.Now(), relayConnections: relayConnections}
}

// SetRelayConnections installs the relay connection gauge.
func (m *Metrics) SetRelayConnections(fn func() int) {
	if m != nil {
		m.relayConnections = fn
	}
}

func (m *Metrics) IncNotificationReceived() {
	if m != nil {
		m.notificationsReceived.Add(1)
	}
}

// IncNotificationDropped counts notifications lost to a full subscriber.
func (m *Metrics) IncNotificationDropped() {
	if m != nil {
		m.notificationsDropped.Add(1)
	}
}

func (m *Metrics) IncTextNote() {
	if m != nil {
		m.textNotes.Add(1)
	}
}

func (m *Metrics) IncReaction() {
	if m != nil {
		m.reactions.Add(1)
	}
}

func (m *Metrics) IncMetadataUpdate() {
	if m != nil {
		m.metadataUpdates.Add(1)
	}
}

// IncEventDiscarded counts events that produced no record.
func (m *Metrics) IncEventDiscarded() {
	if m != nil {
		m.eventsDiscarded.Add(1)
	}
}

// IncFeedback counts a feedback offer and whether it was queued.
func (m *Metrics) IncFeedback(queued bool) {
	if m == nil {
		return
	}
	m.feedbackOffered.Add(1)
	if !queued {
		m.feedbackDropped.Add(1)
	}
}

func (m *Metrics) IncFeedbackSent() {
	if m != nil {
		m.feedbackSent.Add(1)
	}
}

// IncDownload counts a resource download attempt.
func (m *Metrics) IncDownload(ok bool) {
	if m == nil {
		return
	}
	m.downloadsTotal.Add(1)
	if !ok {
		m.downloadsFailed.Add(1)
	}
}

func (m *Metrics) IncCacheHit() {
	if m != nil {
		m.cacheHits.Add(1)
	}
}

func (m *Metrics) IncCacheMiss() {
	if m != nil {
		m.cacheMisses.Add(1)
	}
}

// IncNip05Check counts a live NIP-05 check and its outcome.
func (m *Metrics) IncNip05Check(verified bool) {
	if m == nil {
		return
	}
	m.nip05Checks.Add(1)
	if verified {
		m.nip05Verified.Add(1)
	}
}

// IncHTTPRequest counts a served request; 5xx statuses also count as errors.
func (m *Metrics) IncHTTPRequest(status int) {
	if m == nil {
		return
	}
	m.httpRequests.Add(1)
	if status >= 500 {
		m.httpErrors.Add(1)
	}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	NotificationsReceived int64
	NotificationsDropped  int64
	TextNotes             int64
	Reactions             int64
	MetadataUpdates       int64
	EventsDiscarded       int64
	FeedbackOffered       int64
	FeedbackDropped       int64
	FeedbackSent          int64
	DownloadsTotal        int64
	DownloadsFailed       int64
	CacheHits             int64
	CacheMisses           int64
	Nip05Checks           int64
	Nip05Verified         int64
	HTTPRequests          int64
	HTTPErrors            int64
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		NotificationsReceived: m.notificationsReceived.Load(),
		NotificationsDropped:  m.notificationsDropped.Load(),
		TextNotes:             m.textNotes.Load(),
		Reactions:             m.reactions.Load(),
		MetadataUpdates:       m.metadataUpdates.Load(),
		EventsDiscarded:       m.eventsDiscarded.Load(),
		FeedbackOffered:       m.feedbackOffered.Load(),
		FeedbackDropped:       m.feedbackDropped.Load(),
		FeedbackSent:          m.feedbackSent.Load(),
		DownloadsTotal:        m.downloadsTotal.Load(),
		DownloadsFailed:       m.downloadsFailed.Load(),
		CacheHits:             m.cacheHits.Load(),
		CacheMisses:           m.cacheMisses.Load(),
		Nip05Checks:           m.nip05Checks.Load(),
		Nip05Verified:         m.nip05Verified.Load(),
		HTTPRequests:          m.httpRequests.Load(),
		HTTPErrors:            m.httpErrors.Load(),
	}
}

func writeMetric(w http.ResponseWriter, name, kind, help string, value interface{}) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(w, "%s %v\n\n", name, value)
}

// ServeHTTP serves Prometheus-compatible metrics
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	fmt.Fprintf(w, "# HELP nostr_lanes_build_info Build information\n")
	fmt.Fprintf(w, "# TYPE nostr_lanes_build_info gauge\n")
	fmt.Fprintf(w, "nostr_lanes_build_info{go_version=%q} 1\n\n", runtime.Version())

	writeMetric(w, "process_start_time_seconds", "gauge", "Unix timestamp of process start", m.startTime.Unix())
	writeMetric(w, "process_uptime_seconds", "gauge", "Time since process started", fmt.Sprintf("%.0f", time.Since(m.startTime).Seconds()))

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	writeMetric(w, "go_goroutines", "gauge", "Number of active goroutines", runtime.NumGoroutine())
	writeMetric(w, "go_memstats_alloc_bytes", "gauge", "Currently allocated memory in bytes", memStats.Alloc)
	writeMetric(w, "go_gc_cycles_total", "counter", "Number of completed GC cycles", memStats.NumGC)

	if m.relayConnections != nil {
		writeMetric(w, "nostr_relay_connections_active", "gauge", "Number of active relay connections", m.relayConnections())
	}

	s := m.Snapshot()
	writeMetric(w, "nostr_notifications_received_total", "counter", "Relay notifications received", s.NotificationsReceived)
	writeMetric(w, "nostr_notifications_dropped_total", "counter", "Notifications dropped due to full subscriber channels", s.NotificationsDropped)

	fmt.Fprintf(w, "# HELP nostr_records_emitted_total Enriched records emitted by kind\n")
	fmt.Fprintf(w, "# TYPE nostr_records_emitted_total counter\n")
	fmt.Fprintf(w, "nostr_records_emitted_total{kind=\"text_note\"} %d\n", s.TextNotes)
	fmt.Fprintf(w, "nostr_records_emitted_total{kind=\"reaction\"} %d\n", s.Reactions)
	fmt.Fprintf(w, "nostr_records_emitted_total{kind=\"metadata\"} %d\n\n", s.MetadataUpdates)

	writeMetric(w, "nostr_events_discarded_total", "counter", "Events that produced no record", s.EventsDiscarded)
	writeMetric(w, "nostr_feedback_offered_total", "counter", "Feedback requests offered", s.FeedbackOffered)
	writeMetric(w, "nostr_feedback_dropped_total", "counter", "Feedback requests dropped on a full or closed channel", s.FeedbackDropped)
	writeMetric(w, "nostr_feedback_sent_total", "counter", "Feedback requests sent to relays", s.FeedbackSent)
	writeMetric(w, "nostr_downloads_total", "counter", "Resource downloads attempted", s.DownloadsTotal)
	writeMetric(w, "nostr_downloads_failed_total", "counter", "Resource downloads failed", s.DownloadsFailed)
	writeMetric(w, "cache_hits_total", "counter", "Total cache hits", s.CacheHits)
	writeMetric(w, "cache_misses_total", "counter", "Total cache misses", s.CacheMisses)

	var hitRatio float64
	if total := s.CacheHits + s.CacheMisses; total > 0 {
		hitRatio = float64(s.CacheHits) / float64(total)
	}
	writeMetric(w, "cache_hit_ratio", "gauge", "Cache hit ratio (0-1)", fmt.Sprintf("%.4f", hitRatio))

	writeMetric(w, "nostr_nip05_checks_total", "counter", "Live NIP-05 verifications", s.Nip05Checks)
	writeMetric(w, "nostr_nip05_verified_total", "counter", "Live NIP-05 verifications that succeeded", s.Nip05Verified)

	writeMetric(w, "http_requests_total", "counter", "Total HTTP requests", s.HTTPRequests)
	writeMetric(w, "http_errors_total", "counter", "Total HTTP 5xx errors", s.HTTPErrors)
}
