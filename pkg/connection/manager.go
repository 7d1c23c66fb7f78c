// Package connection owns the single duplex channel to the parley server.
//
// The Manager dials one websocket, fans inbound events out to subscribers,
// and recovers from unexpected closes with capped exponential backoff. A
// deliberate Disconnect never triggers a reconnect.
package connection

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"

	"github.com/tinyland-inc/parley/pkg/logger"
	"github.com/tinyland-inc/parley/pkg/wire"
)

// ErrNotConnected is returned by Send when no channel is open.
var ErrNotConnected = errors.New("connection: channel not open")

// State is the channel lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StateGaveUp       State = "gave_up"
)

// Conn is the duplex channel surface the Manager needs. *websocket.Conn
// satisfies it; tests substitute fakes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a channel. Injectable so tests can supply a fake channel
// instead of a live websocket.
type Dialer func(ctx context.Context, url string, header http.Header) (Conn, error)

// GorillaDialer dials with the default gorilla websocket dialer.
func GorillaDialer(ctx context.Context, url string, header http.Header) (Conn, error) {
	c, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Options configures a Manager.
type Options struct {
	URL                  string
	ReconnectBase        time.Duration
	MaxReconnectAttempts int
	Tokens               oauth2.TokenSource
	Dialer               Dialer
}

type messageSub struct {
	id int
	fn func(wire.Event)
}

type stateSub struct {
	id int
	fn func(bool)
}

// Manager maintains the duplex channel. It has no knowledge of threads or
// moderation; it only moves frames.
type Manager struct {
	opts Options

	mu         sync.Mutex
	conn       Conn
	state      State
	identity   string
	attempts   int
	deliberate bool
	gen        int
	retryTimer *time.Timer

	nextSubID int
	msgSubs   []messageSub
	stateSubs []stateSub
}

// NewManager creates a Manager. It does not dial until Connect is called.
func NewManager(opts Options) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = GorillaDialer
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = time.Second
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 5
	}
	return &Manager{
		opts:  opts,
		state: StateIdle,
	}
}

// Connect opens the channel as the given identity. It is idempotent: a
// no-op when a channel is already open. On success the reconnect attempt
// counter resets and connection subscribers are notified with true.
func (m *Manager) Connect(ctx context.Context, identity string) error {
	m.mu.Lock()
	if m.conn != nil {
		m.mu.Unlock()
		return nil
	}
	m.identity = identity
	m.deliberate = false
	m.stopRetryLocked()
	m.mu.Unlock()

	return m.dial(ctx)
}

// Disconnect deliberately closes the channel, clears the identity, and
// resets the reconnect counter. No reconnect is attempted afterwards.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.deliberate = true
	m.identity = ""
	m.attempts = 0
	m.gen++
	m.stopRetryLocked()
	wasOpen := m.conn != nil
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.state = StateIdle
	subs := m.stateSubsSnapshotLocked()
	m.mu.Unlock()

	if wasOpen {
		logger.InfoC("connection", "Channel closed (deliberate)")
		notifyState(subs, false)
	}
}

// IsConnected reports a point-in-time snapshot of channel readiness.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateOpen
}

// CurrentState returns the lifecycle state.
func (m *Manager) CurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Send writes a JSON frame to the channel.
func (m *Manager) Send(v any) error {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}
	return c.WriteJSON(v)
}

// SubscribeMessages registers fn for every inbound event, invoked in
// registration order. It returns a token for Unsubscribe.
func (m *Manager) SubscribeMessages(fn func(wire.Event)) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSubID++
	m.msgSubs = append(m.msgSubs, messageSub{id: m.nextSubID, fn: fn})
	return m.nextSubID
}

// UnsubscribeMessages removes a message subscription.
func (m *Manager) UnsubscribeMessages(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.msgSubs {
		if s.id == id {
			m.msgSubs = append(m.msgSubs[:i], m.msgSubs[i+1:]...)
			return
		}
	}
}

// SubscribeState registers fn for every Connected/Disconnected transition.
func (m *Manager) SubscribeState(fn func(bool)) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSubID++
	m.stateSubs = append(m.stateSubs, stateSub{id: m.nextSubID, fn: fn})
	return m.nextSubID
}

// UnsubscribeState removes a state subscription.
func (m *Manager) UnsubscribeState(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.stateSubs {
		if s.id == id {
			m.stateSubs = append(m.stateSubs[:i], m.stateSubs[i+1:]...)
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context) error {
	header := http.Header{}
	if m.opts.Tokens != nil {
		tok, err := m.opts.Tokens.Token()
		if err != nil {
			return err
		}
		tok.SetAuthHeader(&http.Request{Header: header})
	}

	c, err := m.opts.Dialer(ctx, m.opts.URL, header)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.deliberate {
		// Disconnect raced the dial; drop the fresh channel.
		m.mu.Unlock()
		c.Close()
		return nil
	}
	m.conn = c
	m.state = StateOpen
	m.attempts = 0
	m.gen++
	gen := m.gen
	subs := m.stateSubsSnapshotLocked()
	m.mu.Unlock()

	logger.InfoCF("connection", "Channel opened", map[string]any{"url": m.opts.URL})
	notifyState(subs, true)

	go m.readPump(c, gen)
	return nil
}

// readPump reads frames until the channel dies. gen guards against a stale
// pump (from a superseded channel) mutating current state.
func (m *Manager) readPump(c Conn, gen int) {
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}

		ev, ok := wire.DecodeEvent(data)
		if !ok {
			// Malformed frames are swallowed; never crash the channel.
			logger.DebugC("connection", "Dropping malformed frame")
			continue
		}

		if ev.Type == wire.EventAuthenticated {
			logger.DebugC("connection", "Channel authenticated")
			continue
		}

		m.mu.Lock()
		subs := make([]messageSub, len(m.msgSubs))
		copy(subs, m.msgSubs)
		m.mu.Unlock()
		for _, s := range subs {
			s.fn(ev)
		}
	}
}

func (m *Manager) handleClose(gen int, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.deliberate {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = StateReconnecting
	subs := m.stateSubsSnapshotLocked()
	m.scheduleReconnectLocked()
	m.mu.Unlock()

	logger.WarnCF("connection", "Channel closed unexpectedly", map[string]any{"error": cause.Error()})
	notifyState(subs, false)
}

// scheduleReconnectLocked arms the next backoff retry: base * 2^(attempt-1)
// with attempt starting at 1, until the cap is reached.
func (m *Manager) scheduleReconnectLocked() {
	m.attempts++
	if m.attempts > m.opts.MaxReconnectAttempts {
		m.state = StateGaveUp
		logger.ErrorCF("connection", "Reconnect attempts exhausted", map[string]any{
			"max_attempts": m.opts.MaxReconnectAttempts,
		})
		return
	}

	delay := m.opts.ReconnectBase << (m.attempts - 1)
	logger.InfoCF("connection", "Scheduling reconnect", map[string]any{
		"attempt": m.attempts,
		"delay":   delay.String(),
	})
	m.retryTimer = time.AfterFunc(delay, m.tryReconnect)
}

func (m *Manager) tryReconnect() {
	m.mu.Lock()
	if m.deliberate || m.conn != nil {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := m.dial(context.Background()); err != nil {
		m.mu.Lock()
		if !m.deliberate && m.conn == nil {
			m.scheduleReconnectLocked()
		}
		m.mu.Unlock()
		logger.WarnCF("connection", "Reconnect failed", map[string]any{"error": err.Error()})
	}
}

func (m *Manager) stopRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Manager) stateSubsSnapshotLocked() []stateSub {
	subs := make([]stateSub, len(m.stateSubs))
	copy(subs, m.stateSubs)
	return subs
}

func notifyState(subs []stateSub, connected bool) {
	for _, s := range subs {
		s.fn(connected)
	}
}
