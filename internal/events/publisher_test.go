package events

import (
	"context"
	"testing"
)

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			defer p.Close()
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.writerFinal != nil {
				t.Error("expected nil final writer when disabled")
			}
			if p.writerEnhanced != nil {
				t.Error("expected nil enhanced writer when disabled")
			}
		})
	}
}

func TestNew_ConfigValues(t *testing.T) {
	cfg := &Config{
		Enabled:       false,
		Brokers:       []string{"localhost:9092"},
		TopicFinal:    "test.final",
		TopicEnhanced: "test.enhanced",
		Principal:     "test-principal",
		QueueSize:     8,
	}

	p := New(cfg)
	defer p.Close()

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicFinal != "test.final" {
		t.Errorf("expected topic final 'test.final', got %s", p.topicFinal)
	}
	if p.topicEnhanced != "test.enhanced" {
		t.Errorf("expected topic enhanced 'test.enhanced', got %s", p.topicEnhanced)
	}
	if cap(p.queue) != 8 {
		t.Errorf("expected queue size 8, got %d", cap(p.queue))
	}
}

func TestNew_EnabledCreatesWriters(t *testing.T) {
	p := New(&Config{
		Enabled:       true,
		Brokers:       []string{"localhost:9092"},
		TopicFinal:    "test.final",
		TopicEnhanced: "test.enhanced",
	})
	defer p.Close()

	if !p.enabled {
		t.Fatal("expected publisher to be enabled")
	}
	if p.writerFinal == nil || p.writerFinal.Topic != "test.final" {
		t.Error("expected final writer on test.final")
	}
	if p.writerEnhanced == nil || p.writerEnhanced.Topic != "test.enhanced" {
		t.Error("expected enhanced writer on test.enhanced")
	}
}

func TestPublisher_PublishFinal_InvalidJSON(t *testing.T) {
	p := New(&Config{Enabled: false})
	defer p.Close()

	// Create an unmarshalable value (channel)
	event := make(chan int)
	err := p.PublishFinal(context.Background(), "test-key", event)

	if err == nil {
		t.Error("expected error for unmarshalable event")
	}
}

func TestPublisher_PublishEnhanced_InvalidJSON(t *testing.T) {
	p := New(&Config{Enabled: false})
	defer p.Close()

	event := make(chan int)
	err := p.PublishEnhanced(context.Background(), "test-key", event)

	if err == nil {
		t.Error("expected error for unmarshalable event")
	}
}

type testEvent struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

func TestPublisher_Publish_ValidEvent(t *testing.T) {
	p := New(&Config{
		Enabled:       false,
		TopicFinal:    "test.final",
		TopicEnhanced: "test.enhanced",
		Principal:     "test-svc",
	})
	defer p.Close()

	event := testEvent{
		EventType: "session.transcript.final",
		SessionID: "sess-123",
		Text:      "hello world",
	}

	if err := p.PublishFinal(context.Background(), "sess-123-seg-1", event); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if err := p.PublishEnhanced(context.Background(), "sess-123-seg-1", event); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestPublisher_Emit_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false})

	if !p.EmitFinal("k", testEvent{Text: "final"}) {
		t.Error("expected final emit to be queued")
	}
	if !p.EmitEnhanced("k", testEvent{Text: "enhanced"}) {
		t.Error("expected enhanced emit to be queued")
	}
	if err := p.Close(); err != nil {
		t.Errorf("expected no error on close, got %v", err)
	}
	if len(p.queue) != 0 {
		t.Errorf("expected queue drained on close, got %d", len(p.queue))
	}
}

func TestPublisher_Emit_DropsWhenFull(t *testing.T) {
	// No sender loop, so the queue never drains.
	p := newPublisher(&Config{Enabled: false, QueueSize: 1})

	if !p.EmitFinal("k", testEvent{}) {
		t.Fatal("expected first emit to be queued")
	}
	if p.EmitFinal("k", testEvent{}) {
		t.Error("expected second emit to be dropped")
	}
	p.Close()
}

func TestPublisher_Emit_AfterClose(t *testing.T) {
	p := New(&Config{Enabled: false})
	p.Close()

	if p.EmitFinal("k", testEvent{}) {
		t.Error("expected emit after close to be dropped")
	}
}

func TestPublisher_Close_Idempotent(t *testing.T) {
	p := New(&Config{Enabled: false})

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("expected no error on second close, got %v", err)
	}
}

func TestPublisher_Close_NilPublisher(t *testing.T) {
	p := &Publisher{
		writerFinal:    nil,
		writerEnhanced: nil,
	}

	err := p.Close()
	if err != nil {
		t.Errorf("expected no error closing publisher with nil writers, got %v", err)
	}
}
