package main

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
)

func TestDecodeEvent(t *testing.T) {
	msg := kafka.Message{
		Key:     []byte("sess-1-seg-2"),
		Value:   []byte(`{"sessionId":"sess-1","sequence":2,"text":"Hello there."}`),
		Headers: []kafka.Header{{Key: "eventType", Value: []byte("enhanced")}},
	}

	event, err := decodeEvent(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.EventType != "enhanced" {
		t.Errorf("expected header event type, got %q", event.EventType)
	}
	if event.SessionID != "sess-1" || event.Sequence != 2 || event.Text != "Hello there." {
		t.Errorf("unexpected event: %+v", event)
	}
}

func TestDecodeEvent_PayloadTypeWins(t *testing.T) {
	msg := kafka.Message{
		Value:   []byte(`{"eventType":"session.transcript.final","text":"hi"}`),
		Headers: []kafka.Header{{Key: "eventType", Value: []byte("final")}},
	}

	event, err := decodeEvent(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.EventType != "session.transcript.final" {
		t.Errorf("expected payload event type, got %q", event.EventType)
	}
}

func TestDecodeEvent_InvalidJSON(t *testing.T) {
	if _, err := decodeEvent(kafka.Message{Value: []byte("{")}); err == nil {
		t.Error("expected error")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Errorf("got %q", got)
	}
	if got := truncate("hello world", 5); got != "hello..." {
		t.Errorf("got %q", got)
	}
}

func TestHub_Broadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newHub()
	go hub.run(ctx)

	srv := httptest.NewServer(wsHandler(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Registration is asynchronous; keep broadcasting until one arrives.
	received := make(chan TranscriptEvent, 1)
	go func() {
		var ev TranscriptEvent
		if err := conn.ReadJSON(&ev); err == nil {
			received <- ev
		}
	}()

	deadline := time.After(2 * time.Second)
	for {
		hub.broadcast <- TranscriptEvent{EventType: "final", Text: "hi"}
		select {
		case ev := <-received:
			if ev.Text != "hi" {
				t.Errorf("expected 'hi', got %q", ev.Text)
			}
			return
		case <-deadline:
			t.Fatal("no event received")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
