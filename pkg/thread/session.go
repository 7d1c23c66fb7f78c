// Package thread orchestrates one open two-party conversation: it resolves
// the thread for the selected counterpart, merges polled history with push
// events, drives outgoing sends through moderation, and exposes a
// consolidated view to the presentation layer.
package thread

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinyland-inc/parley/pkg/api"
	"github.com/tinyland-inc/parley/pkg/logger"
	"github.com/tinyland-inc/parley/pkg/moderation"
	"github.com/tinyland-inc/parley/pkg/notify"
	"github.com/tinyland-inc/parley/pkg/wire"
)

// State is the session state machine.
type State string

const (
	StateNoThread        State = "no_thread"
	StateResolvingThread State = "resolving_thread"
	StateThreadReady     State = "thread_ready"
	StateSendingMessage  State = "sending_message"
)

// Badge is the transient moderation status shown next to the composer.
type Badge string

const (
	BadgeNone       Badge = ""
	BadgeProcessing Badge = "processing"
	BadgePassed     Badge = "passed"
	BadgeBlocked    Badge = "blocked"
)

// Feedback is the structured, actionable result of a blocked send. The
// original text is preserved so the user can edit it or pick an
// alternative.
type Feedback struct {
	Explanation  string
	Tips         []string
	Alternatives []string
	OriginalText string
}

// ThreadAPI is the server surface the session needs. *api.Client
// satisfies it.
type ThreadAPI interface {
	ResolveThread(ctx context.Context, counterpartID string) (string, error)
	FetchMessages(ctx context.Context, threadID string) ([]wire.Message, error)
	SendMessage(ctx context.Context, req api.SendRequest) (wire.Message, error)
}

// Channel is the duplex-channel surface the session needs.
// *connection.Manager satisfies it.
type Channel interface {
	SubscribeMessages(fn func(wire.Event)) int
	UnsubscribeMessages(id int)
	SubscribeState(fn func(bool)) int
	UnsubscribeState(id int)
	IsConnected() bool
	Send(v any) error
}

// Moderator checks candidate outgoing messages. *moderation.Client
// satisfies it.
type Moderator interface {
	Moderate(ctx context.Context, req moderation.Request) moderation.Outcome
}

// Options tunes the session timers.
type Options struct {
	PollInterval   time.Duration
	TypingDebounce time.Duration
	BadgeReset     time.Duration
}

func (o *Options) fill() {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.TypingDebounce <= 0 {
		o.TypingDebounce = 2 * time.Second
	}
	if o.BadgeReset <= 0 {
		o.BadgeReset = 2 * time.Second
	}
}

// correlationWindow bounds the fallback heuristic that matches an
// optimistic message to its confirmed copy when the server did not echo
// the correlation id.
const correlationWindow = 2 * time.Minute

// Session owns the live message list for the currently open thread.
type Session struct {
	viewerID   string
	viewerName string
	server     ThreadAPI
	channel    Channel
	moderator  Moderator
	bus        *notify.Bus
	opts       Options

	mu            sync.Mutex
	state         State
	counterpartID string
	threadID      string
	confirmed     []wire.Message
	pending       map[string]wire.Message
	compose       string
	badge         Badge
	feedback      *Feedback
	typing        bool
	typingTimer   *time.Timer
	badgeTimer    *time.Timer
	started       bool
	closed        bool

	msgSubID   int
	stateSubID int
	cancelPoll context.CancelFunc
}

// Snapshot is the consolidated view-model handed to the presentation
// layer.
type Snapshot struct {
	State         State
	Connected     bool
	CounterpartID string
	ThreadID      string
	Messages      []wire.Message
	Badge         Badge
	Feedback      *Feedback
	Compose       string
	Typing        bool
}

// NewSession wires a session for the given viewer. Counterpart selection
// and polling start separately via SelectCounterpart and Start.
func NewSession(viewerID, viewerName string, server ThreadAPI, channel Channel, mod Moderator, bus *notify.Bus, opts Options) *Session {
	opts.fill()
	s := &Session{
		viewerID:   viewerID,
		viewerName: viewerName,
		server:     server,
		channel:    channel,
		moderator:  mod,
		bus:        bus,
		opts:       opts,
		state:      StateNoThread,
		pending:    make(map[string]wire.Message),
	}
	s.msgSubID = channel.SubscribeMessages(s.handleEvent)
	s.stateSubID = channel.SubscribeState(s.handleConnectivity)
	return s
}

// Start launches the background poll loop. The list is also refreshed on
// demand via Refresh (e.g. when the app regains foreground focus).
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	pollCtx, cancel := context.WithCancel(ctx)
	s.cancelPoll = cancel
	s.mu.Unlock()

	go s.pollLoop(pollCtx)
}

func (s *Session) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.DebugCF("thread", "Poll failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

// SelectCounterpart switches the conversation to the given counterpart.
// The message list is cleared and the thread id re-resolved; a counterpart
// with no prior thread yields ThreadReady with an empty thread id (the
// first successful send mints one).
func (s *Session) SelectCounterpart(ctx context.Context, counterpartID string) error {
	s.mu.Lock()
	s.counterpartID = counterpartID
	s.threadID = ""
	s.confirmed = nil
	s.pending = make(map[string]wire.Message)
	s.feedback = nil
	s.badge = BadgeNone
	s.state = StateResolvingThread
	s.mu.Unlock()

	threadID, err := s.server.ResolveThread(ctx, counterpartID)
	switch {
	case errors.Is(err, api.ErrNoThread):
		threadID = ""
	case errors.Is(err, api.ErrUnauthorized):
		s.setState(StateNoThread)
		s.publish(notify.Notification{Kind: notify.KindReauthRequired})
		return err
	case err != nil:
		s.setState(StateNoThread)
		return fmt.Errorf("resolving thread: %w", err)
	}

	s.mu.Lock()
	if s.counterpartID != counterpartID {
		// Counterpart switched again while resolving; drop this result.
		s.mu.Unlock()
		return nil
	}
	s.threadID = threadID
	s.state = StateThreadReady
	s.mu.Unlock()

	logger.InfoCF("thread", "Thread resolved", map[string]any{
		"counterpart": counterpartID,
		"thread_id":   threadID,
	})

	if threadID != "" {
		return s.Refresh(ctx)
	}
	return nil
}

// Refresh re-fetches the message list from the server and replaces the
// confirmed set. Results are keyed by thread and counterpart so a switch
// mid-flight never shows stale data.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	threadID := s.threadID
	counterpartID := s.counterpartID
	s.mu.Unlock()

	if threadID == "" || counterpartID == "" {
		return nil
	}

	msgs, err := s.server.FetchMessages(ctx, threadID)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			s.publish(notify.Notification{Kind: notify.KindReauthRequired})
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threadID != threadID || s.counterpartID != counterpartID {
		return nil
	}
	sortMessages(msgs)
	s.confirmed = msgs
	s.reconcilePendingLocked()
	return nil
}

// handleEvent receives every inbound channel event. Push and poll are
// idempotent alternates: a message id already present is deduplicated.
func (s *Session) handleEvent(ev wire.Event) {
	if ev.Type != wire.EventNewMessage || ev.Message == nil {
		return
	}
	msg := *ev.Message

	s.mu.Lock()
	if s.counterpartID == "" || s.closed {
		s.mu.Unlock()
		return
	}
	involved := (msg.SenderID == s.counterpartID && msg.RecipientID == s.viewerID) ||
		(msg.SenderID == s.viewerID && msg.RecipientID == s.counterpartID)
	if !involved {
		s.mu.Unlock()
		return
	}
	if s.threadID == "" && msg.ThreadID != "" {
		// First traffic on a freshly minted thread.
		s.threadID = msg.ThreadID
	}
	if msg.ThreadID != s.threadID {
		s.mu.Unlock()
		return
	}
	s.applyConfirmedLocked(msg)
	fromCounterpart := msg.SenderID != s.viewerID
	s.mu.Unlock()

	if fromCounterpart {
		s.publish(notify.Notification{
			Kind:     notify.KindIncomingMessage,
			ThreadID: msg.ThreadID,
			SenderID: msg.SenderID,
			Text:     msg.Content,
		})
	}
}

func (s *Session) handleConnectivity(connected bool) {
	s.publish(notify.Notification{Kind: notify.KindConnectivity, Connected: connected})
}

// Send moderates and submits the composed content. Empty content, a
// missing counterpart, or a missing viewer identity make it a silent
// no-op.
func (s *Session) Send(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" || s.viewerID == "" {
		return nil
	}

	s.mu.Lock()
	if s.counterpartID == "" || s.closed {
		s.mu.Unlock()
		return nil
	}
	counterpartID := s.counterpartID
	threadID := s.threadID
	s.state = StateSendingMessage
	s.badge = BadgeProcessing
	s.feedback = nil
	s.mu.Unlock()

	defer s.setState(StateThreadReady)

	outcome := s.moderator.Moderate(ctx, moderation.Request{
		Message:    content,
		SenderName: s.viewerName,
		ThreadID:   threadID,
		UserID:     s.viewerID,
	})

	if outcome.Blocked() {
		s.mu.Lock()
		s.badge = BadgeBlocked
		s.feedback = &Feedback{
			Explanation:  outcome.Explanation,
			Tips:         outcome.Tips,
			Alternatives: outcome.Alternatives,
			OriginalText: content,
		}
		s.compose = ""
		s.mu.Unlock()
		logger.InfoCF("thread", "Send blocked by moderation", map[string]any{
			"thread_id": threadID,
		})
		return nil
	}

	// Optimistic append: show the message immediately instead of waiting
	// for the round trip.
	correlationID := uuid.New().String()
	now := time.Now()
	optimistic := wire.Message{
		ID:            fmt.Sprintf("tmp-%d", now.UnixNano()),
		CorrelationID: correlationID,
		SenderID:      s.viewerID,
		RecipientID:   counterpartID,
		Content:       content,
		ThreadID:      threadID,
		CreatedAt:     now,
		IsRead:        false,
	}

	s.mu.Lock()
	s.pending[correlationID] = optimistic
	s.compose = ""
	s.badge = BadgePassed
	s.mu.Unlock()
	s.armBadgeReset()

	confirmed, err := s.server.SendMessage(ctx, api.SendRequest{
		RecipientID:   counterpartID,
		Content:       content,
		ThreadID:      threadID,
		CorrelationID: correlationID,
	})
	if err != nil {
		// Persistence failure is distinct from a moderation block: the
		// user's input must not be lost.
		s.mu.Lock()
		delete(s.pending, correlationID)
		s.compose = content
		s.badge = BadgeNone
		s.mu.Unlock()

		if errors.Is(err, api.ErrUnauthorized) {
			s.publish(notify.Notification{Kind: notify.KindReauthRequired})
		} else {
			s.publish(notify.Notification{
				Kind: notify.KindError,
				Text: "Your message could not be sent. Please try again.",
			})
		}
		return err
	}

	s.mu.Lock()
	if confirmed.ThreadID != "" {
		s.threadID = confirmed.ThreadID
	}
	if confirmed.CorrelationID == "" {
		confirmed.CorrelationID = correlationID
	}
	s.applyConfirmedLocked(confirmed)
	s.mu.Unlock()
	return nil
}

// PickAlternative copies the i-th offered rephrasing into the compose
// buffer and clears the feedback panel. It never auto-sends; the user
// must submit again.
func (s *Session) PickAlternative(i int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feedback == nil || i < 0 || i >= len(s.feedback.Alternatives) {
		return ""
	}
	alt := s.feedback.Alternatives[i]
	s.compose = alt
	s.feedback = nil
	s.badge = BadgeNone
	return alt
}

// SetCompose updates the compose buffer and drives the typing indicator:
// true on the first keystroke of non-empty content, false after the
// debounce window of inactivity or when the content becomes empty.
func (s *Session) SetCompose(content string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.compose = content
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}

	empty := strings.TrimSpace(content) == ""
	var emit *bool
	switch {
	case empty && s.typing:
		s.typing = false
		f := false
		emit = &f
	case !empty && !s.typing:
		s.typing = true
		tr := true
		emit = &tr
	}
	if !empty {
		s.typingTimer = time.AfterFunc(s.opts.TypingDebounce, s.typingExpired)
	}
	threadID := s.threadID
	s.mu.Unlock()

	if emit != nil {
		s.relayTyping(threadID, *emit)
	}
}

func (s *Session) typingExpired() {
	s.mu.Lock()
	if s.closed || !s.typing {
		s.mu.Unlock()
		return
	}
	s.typing = false
	threadID := s.threadID
	s.mu.Unlock()
	s.relayTyping(threadID, false)
}

// relayTyping is best-effort; a down channel just skips the indicator.
func (s *Session) relayTyping(threadID string, isTyping bool) {
	err := s.channel.Send(wire.TypingFrame{
		Type:     wire.EventTyping,
		ThreadID: threadID,
		IsTyping: isTyping,
	})
	if err != nil {
		logger.DebugCF("thread", "Typing relay skipped", map[string]any{"error": err.Error()})
	}
}

// View returns the consolidated snapshot: merged messages in created_at
// order plus connectivity, moderation status, and feedback.
func (s *Session) View() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make([]wire.Message, 0, len(s.confirmed)+len(s.pending))
	merged = append(merged, s.confirmed...)
	for _, m := range s.pending {
		merged = append(merged, m)
	}
	sortMessages(merged)

	var fb *Feedback
	if s.feedback != nil {
		copyFb := *s.feedback
		fb = &copyFb
	}

	return Snapshot{
		State:         s.state,
		Connected:     s.channel.IsConnected(),
		CounterpartID: s.counterpartID,
		ThreadID:      s.threadID,
		Messages:      merged,
		Badge:         s.badge,
		Feedback:      fb,
		Compose:       s.compose,
		Typing:        s.typing,
	}
}

// Close tears the session down. Any pending typing timer is cancelled
// and, if the viewer was typing, one final stop notification is emitted —
// the counterpart must never be left with a stuck indicator.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.cancelPoll != nil {
		s.cancelPoll()
	}
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	if s.badgeTimer != nil {
		s.badgeTimer.Stop()
		s.badgeTimer = nil
	}
	wasTyping := s.typing
	s.typing = false
	threadID := s.threadID
	s.mu.Unlock()

	s.channel.UnsubscribeMessages(s.msgSubID)
	s.channel.UnsubscribeState(s.stateSubID)
	if wasTyping {
		s.relayTyping(threadID, false)
	}
}

// armBadgeReset clears a passed badge back to neutral after the display
// delay. Last write wins when sends overlap.
func (s *Session) armBadgeReset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.badgeTimer != nil {
		s.badgeTimer.Stop()
	}
	s.badgeTimer = time.AfterFunc(s.opts.BadgeReset, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.badge == BadgePassed {
			s.badge = BadgeNone
		}
	})
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if !s.closed {
		s.state = st
	}
	s.mu.Unlock()
}

func (s *Session) publish(n notify.Notification) {
	if s.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.bus.Publish(ctx, n); err != nil {
		logger.DebugCF("thread", "Notification dropped", map[string]any{"kind": string(n.Kind)})
	}
}

// applyConfirmedLocked folds one server-confirmed message into the list:
// it first retires the matching optimistic copy (by correlation id, then
// by the legacy content+sender+time heuristic), then inserts unless the id
// is already present.
func (s *Session) applyConfirmedLocked(msg wire.Message) {
	s.retirePendingLocked(msg)

	for i, existing := range s.confirmed {
		if existing.ID == msg.ID {
			s.confirmed[i] = msg
			return
		}
	}
	s.confirmed = append(s.confirmed, msg)
	sortMessages(s.confirmed)
}

// reconcilePendingLocked drops every optimistic message that the freshly
// polled confirmed list already covers.
func (s *Session) reconcilePendingLocked() {
	for _, msg := range s.confirmed {
		s.retirePendingLocked(msg)
	}
}

func (s *Session) retirePendingLocked(msg wire.Message) {
	if msg.CorrelationID != "" {
		if _, ok := s.pending[msg.CorrelationID]; ok {
			delete(s.pending, msg.CorrelationID)
			return
		}
	}
	for cid, p := range s.pending {
		if p.SenderID == msg.SenderID && p.Content == msg.Content &&
			absDuration(p.CreatedAt.Sub(msg.CreatedAt)) <= correlationWindow {
			delete(s.pending, cid)
			return
		}
	}
}

// sortMessages keeps non-decreasing created_at order; ties keep their
// existing relative order.
func sortMessages(msgs []wire.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
