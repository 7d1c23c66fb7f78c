package connection

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/tinyland-inc/parley/pkg/wire"
)

// fakeConn is a scriptable channel: frames pushed to inbound come out of
// ReadMessage, and closing it makes ReadMessage fail like a dropped socket.
type fakeConn struct {
	inbound chan []byte
	done    chan struct{}
	once    sync.Once

	mu     sync.Mutex
	writes []any
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 10),
		done:    make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.inbound:
		return 1, data, nil
	case <-c.done:
		return 0, nil, errors.New("connection dropped")
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// fakeDialer counts dials and can be scripted to fail.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	fail  func(attempt int) bool
}

func (d *fakeDialer) dial(_ context.Context, _ string, _ http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	attempt := len(d.conns) + 1
	if d.fail != nil && d.fail(attempt) {
		d.conns = append(d.conns, nil)
		return nil, errors.New("dial refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.conns) - 1; i >= 0; i-- {
		if d.conns[i] != nil {
			return d.conns[i]
		}
	}
	return nil
}

func newTestManager(d *fakeDialer, maxAttempts int) *Manager {
	return NewManager(Options{
		URL:                  "ws://test",
		ReconnectBase:        5 * time.Millisecond,
		MaxReconnectAttempts: maxAttempts,
		Dialer:               d.dial,
	})
}

func TestConnect_Idempotent(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, 3)

	if err := m.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := m.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if d.count() != 1 {
		t.Errorf("dials: got %d, want 1", d.count())
	}
	if !m.IsConnected() {
		t.Error("expected connected")
	}
}

func TestSend_NotConnected(t *testing.T) {
	m := newTestManager(&fakeDialer{}, 3)
	if err := m.Send(map[string]string{"type": "typing"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestReadPump_FansOutAndSwallowsMalformed(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, 3)

	var mu sync.Mutex
	var got []wire.Event
	m.SubscribeMessages(func(ev wire.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	if err := m.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	conn := d.last()
	conn.inbound <- []byte(`not json at all`)
	conn.inbound <- []byte(`{"no_type":"here"}`)
	conn.inbound <- []byte(`{"type":"new_message","message":{"id":"m1","content":"hi"}}`)

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("events delivered: got %d, want 1", len(got))
	}
	if got[0].Message == nil || got[0].Message.ID != "m1" {
		t.Errorf("unexpected event: %+v", got[0])
	}
	if !m.IsConnected() {
		t.Error("malformed frames must not kill the channel")
	}
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, 3)

	var mu sync.Mutex
	count := 0
	id := m.SubscribeMessages(func(wire.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	if err := m.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := d.last()
	conn.inbound <- []byte(`{"type":"new_message","message":{"id":"m1"}}`)
	time.Sleep(30 * time.Millisecond)

	m.UnsubscribeMessages(id)
	conn.inbound <- []byte(`{"type":"new_message","message":{"id":"m2"}}`)
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("deliveries: got %d, want 1", count)
	}
}

func TestReconnect_AfterUnexpectedClose(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, 5)

	var mu sync.Mutex
	var transitions []bool
	m.SubscribeState(func(connected bool) {
		mu.Lock()
		transitions = append(transitions, connected)
		mu.Unlock()
	})

	if err := m.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Simulate the server dropping the socket.
	d.last().Close()
	time.Sleep(60 * time.Millisecond)

	if d.count() < 2 {
		t.Fatalf("dials: got %d, want at least 2", d.count())
	}
	if !m.IsConnected() {
		t.Error("expected reconnected")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []bool{true, false, true}
	if len(transitions) != len(want) {
		t.Fatalf("transitions: got %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions: got %v, want %v", transitions, want)
		}
	}
}

func TestReconnect_GivesUpAfterMaxAttempts(t *testing.T) {
	d := &fakeDialer{}
	d.fail = func(attempt int) bool { return attempt > 1 }
	m := newTestManager(d, 3)

	if err := m.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	d.last().Close()

	// Backoff 5+10+20ms, then the cap.
	time.Sleep(150 * time.Millisecond)

	if m.CurrentState() != StateGaveUp {
		t.Errorf("state: got %s, want %s", m.CurrentState(), StateGaveUp)
	}
	// Initial dial plus 3 failed retries.
	if d.count() != 4 {
		t.Errorf("dials: got %d, want 4", d.count())
	}
}

func TestDisconnect_NeverReconnects(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, 5)

	if err := m.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	m.Disconnect()

	time.Sleep(60 * time.Millisecond)

	if d.count() != 1 {
		t.Errorf("dials after deliberate disconnect: got %d, want 1", d.count())
	}
	if m.CurrentState() != StateIdle {
		t.Errorf("state: got %s, want %s", m.CurrentState(), StateIdle)
	}
}

func TestReconnect_CounterResetsOnSuccess(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, 2)

	if err := m.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Two separate drops, each recovered on the first retry. If the
	// counter did not reset, the second drop would exhaust the cap.
	for i := 0; i < 2; i++ {
		d.last().Close()
		time.Sleep(40 * time.Millisecond)
		if !m.IsConnected() {
			t.Fatalf("drop %d: expected reconnected", i+1)
		}
	}
	if m.CurrentState() != StateOpen {
		t.Errorf("state: got %s, want %s", m.CurrentState(), StateOpen)
	}
}
