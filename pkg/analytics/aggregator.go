// Package analytics records every moderation attempt and derives rolling
// statistics from a bounded event log.
package analytics

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/tinyland-inc/parley/pkg/logger"
	"github.com/tinyland-inc/parley/pkg/wire"
)

// Event is one append-only moderation log entry. Never mutated after
// creation.
type Event struct {
	Timestamp          time.Time             `json:"timestamp"`
	ThreadID           string                `json:"thread_id,omitempty"`
	MessageLength      int                   `json:"message_length"`
	Status             wire.ModerationStatus `json:"status"`
	LatencyMs          int64                 `json:"latency_ms"`
	HasLatency         bool                  `json:"has_latency"`
	IsRetry            bool                  `json:"is_retry"`
	IsEmergencyMessage bool                  `json:"is_emergency_message"`
	Error              string                `json:"error,omitempty"`
}

// Window holds the derived counts and rates for one time window.
type Window struct {
	Total        int     `json:"total"`
	Blocked      int     `json:"blocked"`
	Passed       int     `json:"passed"`
	Errors       int     `json:"errors"`
	Emergency    int     `json:"emergency"`
	BlockRate    float64 `json:"block_rate"`
	ErrorRate    float64 `json:"error_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Stats is the full derived view: trailing 24 hours plus all-time.
type Stats struct {
	Last24h Window `json:"last_24h"`
	AllTime Window `json:"all_time"`
}

// Aggregator owns the capped event ring. Oldest events are evicted first.
// All stats are derived from the buffer at call time; nothing is cached.
type Aggregator struct {
	mu       sync.Mutex
	events   []Event
	start    int
	count    int
	capacity int

	sinkURL    string
	sinkTokens oauth2.TokenSource
	sinkClient *http.Client

	now func() time.Time
}

// NewAggregator creates an aggregator with the given ring capacity.
func NewAggregator(capacity int) *Aggregator {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Aggregator{
		events:   make([]Event, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

// SetSink enables best-effort delivery of each event to an HTTP endpoint.
// Sink failures are swallowed and never surfaced to the user.
func (a *Aggregator) SetSink(url string, tokens oauth2.TokenSource) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sinkURL = url
	a.sinkTokens = tokens
	a.sinkClient = &http.Client{Timeout: 5 * time.Second}
}

// LogEvent stamps the current time (unless already set) and appends the
// event, evicting the oldest entry when the ring is full.
func (a *Aggregator) LogEvent(ev Event) {
	a.mu.Lock()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = a.now()
	}
	if a.count < a.capacity {
		a.events[(a.start+a.count)%a.capacity] = ev
		a.count++
	} else {
		a.events[a.start] = ev
		a.start = (a.start + 1) % a.capacity
	}
	url := a.sinkURL
	a.mu.Unlock()

	if url != "" {
		go a.ship(ev)
	}
}

// ship posts one event to the sink, fire and forget.
func (a *Aggregator) ship(ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	req, err := http.NewRequest(http.MethodPost, a.sinkURL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if a.sinkTokens != nil {
		if tok, err := a.sinkTokens.Token(); err == nil {
			tok.SetAuthHeader(req)
		}
	}
	resp, err := a.sinkClient.Do(req)
	if err != nil {
		logger.DebugCF("analytics", "Sink delivery failed", map[string]any{"error": err.Error()})
		return
	}
	resp.Body.Close()
}

// snapshot returns the buffered events oldest-first.
func (a *Aggregator) snapshot() []Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Event, 0, a.count)
	for i := 0; i < a.count; i++ {
		out = append(out, a.events[(a.start+i)%a.capacity])
	}
	return out
}

// Len returns the number of buffered events.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// Stats derives the trailing-24h and all-time windows from the buffer.
func (a *Aggregator) Stats() Stats {
	events := a.snapshot()
	cutoff := a.now().Add(-24 * time.Hour)

	var all, recent Window
	var allLatency, recentLatency latencyAcc
	for _, ev := range events {
		tally(&all, &allLatency, ev)
		if ev.Timestamp.After(cutoff) {
			tally(&recent, &recentLatency, ev)
		}
	}
	finish(&all, allLatency)
	finish(&recent, recentLatency)
	return Stats{Last24h: recent, AllTime: all}
}

// RecentBlocked returns up to limit blocked events, newest first.
func (a *Aggregator) RecentBlocked(limit int) []Event {
	events := a.snapshot()
	var out []Event
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		if events[i].Status == wire.StatusBlocked {
			out = append(out, events[i])
		}
	}
	return out
}

type latencyAcc struct {
	sum float64
	n   int
}

func tally(w *Window, lat *latencyAcc, ev Event) {
	w.Total++
	switch ev.Status {
	case wire.StatusBlocked:
		w.Blocked++
	case wire.StatusPassed:
		w.Passed++
	case wire.StatusError:
		w.Errors++
	}
	if ev.IsEmergencyMessage {
		w.Emergency++
	}
	if ev.HasLatency {
		lat.sum += float64(ev.LatencyMs)
		lat.n++
	}
}

func finish(w *Window, lat latencyAcc) {
	if w.Total > 0 {
		w.BlockRate = float64(w.Blocked) / float64(w.Total) * 100
		w.ErrorRate = float64(w.Errors) / float64(w.Total) * 100
	}
	if lat.n > 0 {
		w.AvgLatencyMs = lat.sum / float64(lat.n)
	}
}
