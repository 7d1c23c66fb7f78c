package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveThread(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threads/with/u2" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"thread_id": "t-42"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	id, err := c.ResolveThread(context.Background(), "u2")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != "t-42" {
		t.Errorf("thread id: got %q", id)
	}
}

func TestResolveThread_NoThread(t *testing.T) {
	for _, mode := range []string{"empty", "404"} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if mode == "404" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"thread_id": ""})
		}))

		c := NewClient(srv.URL, nil)
		_, err := c.ResolveThread(context.Background(), "stranger")
		if !errors.Is(err, ErrNoThread) {
			t.Errorf("mode %s: expected ErrNoThread, got %v", mode, err)
		}
		srv.Close()
	}
}

func TestDoJSON_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	_, err := c.FetchMessages(context.Background(), "t-1")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestFetchMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threads/t-1/messages" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		w.Write([]byte(`[
			{"id":"m1","content":"hello","created_at":"2026-03-10T12:00:00Z"},
			{"id":"m2","content":"hi","created_at":"2026-03-10T12:00:05Z"}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	msgs, err := c.FetchMessages(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].Content != "hi" {
		t.Errorf("unexpected messages: %+v", msgs)
	}
}

func TestSendMessage_FillsCorrelationID(t *testing.T) {
	var received SendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		json.NewEncoder(w).Encode(map[string]string{
			"id":             "m-server",
			"correlation_id": received.CorrelationID,
			"content":        received.Content,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	msg, err := c.SendMessage(context.Background(), SendRequest{RecipientID: "u2", Content: "hey"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if received.CorrelationID == "" {
		t.Error("expected a generated correlation id on the wire")
	}
	if msg.CorrelationID != received.CorrelationID {
		t.Errorf("correlation id not echoed: got %q, sent %q", msg.CorrelationID, received.CorrelationID)
	}
	if msg.ID != "m-server" {
		t.Errorf("server id: got %q", msg.ID)
	}
}
