// Package moderation routes candidate outgoing messages through the
// external content classifier.
//
// Policy: emergency content bypasses the classifier entirely, transient
// classifier failures are retried with linear backoff, and when the
// classifier is unavailable the message fails open — communication is never
// silently dropped because moderation is down.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/tinyland-inc/parley/pkg/analytics"
	"github.com/tinyland-inc/parley/pkg/logger"
	"github.com/tinyland-inc/parley/pkg/wire"
)

// emergencyKeywords is the fixed set scanned (case-insensitive) before any
// classifier call. A match short-circuits to Passed.
var emergencyKeywords = []string{
	"emergency",
	"911",
	"hospital",
	"police",
	"accident",
	"abuse",
	"threat",
	"urgent",
	"ambulance",
	"injured",
	"danger",
}

// Request is one candidate outgoing message.
type Request struct {
	Message    string `json:"message"`
	SenderName string `json:"sender_name"`
	ThreadID   string `json:"thread_id,omitempty"`
	UserID     string `json:"user_id"`
}

// Outcome is the normalized moderation result for one send attempt. It is
// never persisted beyond the in-flight attempt and the analytics log.
type Outcome struct {
	Status       wire.ModerationStatus `json:"status"`
	Explanation  string                `json:"explanation,omitempty"`
	Tips         []string              `json:"tips,omitempty"`
	Alternatives []string              `json:"alternatives,omitempty"`
}

// Blocked reports whether the outcome withholds the message.
func (o Outcome) Blocked() bool { return o.Status == wire.StatusBlocked }

// Passed reports whether the message may be sent.
func (o Outcome) Passed() bool { return o.Status == wire.StatusPassed }

// RetryPolicy bounds the classifier retry loop. Delay grows linearly:
// attempt * BaseDelay between attempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy allows 3 attempts (2 retries) a second apart and
// growing.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
}

// Delay returns the pause before the attempt after attemptIndex (1-based).
func (p RetryPolicy) Delay(attemptIndex int) time.Duration {
	return time.Duration(attemptIndex) * p.BaseDelay
}

// Recorder receives one analytics event per moderation attempt.
// *analytics.Aggregator satisfies it.
type Recorder interface {
	LogEvent(analytics.Event)
}

// Client submits candidate messages to the external classifier.
type Client struct {
	endpoint   string
	httpClient *http.Client
	tokens     oauth2.TokenSource
	policy     RetryPolicy
	recorder   Recorder
	keywords   []string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithExtraEmergencyKeywords appends deployment-specific keywords to the
// built-in emergency set.
func WithExtraEmergencyKeywords(words []string) Option {
	return func(c *Client) {
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				c.keywords = append(c.keywords, w)
			}
		}
	}
}

// NewClient creates a moderation client posting to endpoint.
func NewClient(endpoint string, tokens oauth2.TokenSource, policy RetryPolicy, recorder Recorder, opts ...Option) *Client {
	if policy.MaxAttempts < 1 {
		policy = DefaultRetryPolicy()
	}
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tokens:     tokens,
		policy:     policy,
		recorder:   recorder,
		keywords:   emergencyKeywords,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsEmergency reports whether text contains a keyword from the emergency
// set, case-insensitive.
func (c *Client) IsEmergency(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range c.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Moderate runs the full pipeline for one candidate message and always
// returns a usable outcome.
func (c *Client) Moderate(ctx context.Context, req Request) Outcome {
	// Emergency bypass is purely local: urgent content must never wait on
	// the classifier.
	if c.IsEmergency(req.Message) {
		logger.InfoCF("moderation", "Emergency bypass", map[string]any{
			"thread_id": req.ThreadID,
		})
		c.record(analytics.Event{
			ThreadID:           req.ThreadID,
			MessageLength:      len(req.Message),
			Status:             wire.StatusPassed,
			HasLatency:         true,
			IsEmergencyMessage: true,
		})
		return Outcome{Status: wire.StatusPassed}
	}

	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(c.policy.Delay(attempt - 1)):
			case <-ctx.Done():
				lastErr = ctx.Err()
			}
			if ctx.Err() != nil {
				break
			}
		}

		start := time.Now()
		outcome, terminal, err := c.submit(ctx, req)
		latency := time.Since(start).Milliseconds()

		ev := analytics.Event{
			ThreadID:      req.ThreadID,
			MessageLength: len(req.Message),
			LatencyMs:     latency,
			HasLatency:    true,
			IsRetry:       attempt > 1,
		}
		if err != nil {
			ev.Status = wire.StatusError
			ev.Error = err.Error()
			c.record(ev)
			lastErr = err
			if terminal {
				logger.WarnCF("moderation", "Terminal classifier error", map[string]any{
					"error": err.Error(),
				})
				break
			}
			logger.WarnCF("moderation", "Classifier attempt failed", map[string]any{
				"attempt": attempt,
				"error":   err.Error(),
			})
			continue
		}

		ev.Status = outcome.Status
		c.record(ev)
		return outcome
	}

	// Fail open: availability of communication wins when the classifier is
	// down. One fallback event accounts for the final decision.
	errText := ""
	if lastErr != nil {
		errText = lastErr.Error()
	}
	c.record(analytics.Event{
		ThreadID:      req.ThreadID,
		MessageLength: len(req.Message),
		Status:        wire.StatusPassed,
		Error:         errText,
	})
	logger.WarnCF("moderation", "All attempts failed, failing open", map[string]any{
		"error": errText,
	})
	return Outcome{
		Status:      wire.StatusPassed,
		Explanation: "The moderation service is temporarily unavailable; your message was sent without review.",
	}
}

// classifierResponse is the external classifier's structured verdict.
type classifierResponse struct {
	Status       string   `json:"status"`
	Explanation  string   `json:"explanation"`
	Tips         []string `json:"tips"`
	Alternatives []string `json:"alternatives"`
}

// submit performs a single classifier call. terminal=true means the error
// class must not be retried (4xx-equivalent).
func (c *Client) submit(ctx context.Context, req Request) (Outcome, bool, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Outcome{}, true, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, true, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return Outcome{}, true, fmt.Errorf("credential: %w", err)
		}
		tok.SetAuthHeader(httpReq)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Outcome{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		terminal := resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusTooManyRequests
		return Outcome{}, terminal, fmt.Errorf("classifier returned %d", resp.StatusCode)
	}

	var cr classifierResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return Outcome{}, false, fmt.Errorf("decoding response: %w", err)
	}

	return normalize(cr), false, nil
}

// normalize converts the classifier's response into an Outcome, dropping
// empty alternative entries while preserving order.
func normalize(cr classifierResponse) Outcome {
	out := Outcome{Explanation: cr.Explanation}

	switch strings.ToLower(cr.Status) {
	case "blocked":
		out.Status = wire.StatusBlocked
	case "passed", "approved", "ok":
		out.Status = wire.StatusPassed
	default:
		out.Status = wire.StatusPassed
	}

	if out.Blocked() {
		out.Tips = append(out.Tips, cr.Tips...)
		for _, alt := range cr.Alternatives {
			if strings.TrimSpace(alt) == "" {
				continue
			}
			out.Alternatives = append(out.Alternatives, alt)
		}
	}
	return out
}

func (c *Client) record(ev analytics.Event) {
	if c.recorder != nil {
		c.recorder.LogEvent(ev)
	}
}
