package wire

import (
	"testing"
)

func TestDecodeEvent_NewMessage(t *testing.T) {
	data := []byte(`{"type":"new_message","message":{"id":"m1","sender_id":"u1","content":"hi","thread_id":"t1"}}`)
	ev, ok := DecodeEvent(data)
	if !ok {
		t.Fatal("expected ok")
	}
	if ev.Type != EventNewMessage {
		t.Errorf("type: got %q", ev.Type)
	}
	if ev.Message == nil || ev.Message.ID != "m1" || ev.Message.Content != "hi" {
		t.Errorf("message: got %+v", ev.Message)
	}
	if len(ev.Payload) == 0 {
		t.Error("expected raw payload preserved")
	}
}

func TestDecodeEvent_Malformed(t *testing.T) {
	cases := []string{
		`{{{not json`,
		`{"message":{"id":"m1"}}`, // no type tag
		`"just a string"`,
	}
	for _, data := range cases {
		if _, ok := DecodeEvent([]byte(data)); ok {
			t.Errorf("expected not ok for %q", data)
		}
	}
}

func TestDecodeEvent_UnknownTypeStillDecodes(t *testing.T) {
	ev, ok := DecodeEvent([]byte(`{"type":"presence_update","user_id":"u2"}`))
	if !ok {
		t.Fatal("unknown types must still pass through for future subscribers")
	}
	if ev.Type != "presence_update" {
		t.Errorf("type: got %q", ev.Type)
	}
}
