package mock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"speech-relay-service/internal/service/stt"
)

func newTestProvider() *Provider {
	return &Provider{
		Utterances: []SimulatedUtterance{
			{Partials: []string{"Yes", "Yes please"}, Final: "Yes please go ahead"},
			{Partials: []string{"Thank you"}, Final: "Thank you very much"},
		},
	}
}

// sendAndReceive sends one frame and waits for the resulting event.
func sendAndReceive(t *testing.T, tr stt.Transcriber) stt.Event {
	t.Helper()
	if err := tr.Send([]byte("audio")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case ev := <-tr.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return stt.Event{}
}

func TestProvider_Name(t *testing.T) {
	if got := New().Name(); got != "mock" {
		t.Errorf("expected mock, got %s", got)
	}
}

func TestTranscriber_ProgressesThroughUtterance(t *testing.T) {
	tr, err := newTestProvider().Open(context.Background(), stt.Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer tr.Close()

	expected := []struct {
		kind stt.EventKind
		text string
	}{
		{stt.EventInterim, "Yes"},
		{stt.EventInterim, "Yes please"},
		{stt.EventFinal, "Yes please go ahead"},
		{stt.EventInterim, "Thank you"},
		{stt.EventFinal, "Thank you very much"},
		{stt.EventInterim, "Yes"}, // cycles
	}
	for i, want := range expected {
		ev := sendAndReceive(t, tr)
		if ev.Kind != want.kind || ev.Text != want.text {
			t.Errorf("event %d: got %s %q, want %s %q", i, ev.Kind, ev.Text, want.kind, want.text)
		}
	}
}

func TestProvider_CyclesStartingUtterance(t *testing.T) {
	p := newTestProvider()

	tr1, _ := p.Open(context.Background(), stt.Config{})
	defer tr1.Close()
	tr2, _ := p.Open(context.Background(), stt.Config{})
	defer tr2.Close()

	if ev := sendAndReceive(t, tr1); ev.Text != "Yes" {
		t.Errorf("first session: expected 'Yes', got %q", ev.Text)
	}
	if ev := sendAndReceive(t, tr2); ev.Text != "Thank you" {
		t.Errorf("second session: expected 'Thank you', got %q", ev.Text)
	}
}

func TestTranscriber_Close_Idempotent(t *testing.T) {
	tr, _ := newTestProvider().Open(context.Background(), stt.Config{})

	if err := tr.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("unexpected error on second close: %v", err)
	}
}

func TestTranscriber_SendAfterClose(t *testing.T) {
	tr, _ := newTestProvider().Open(context.Background(), stt.Config{})
	tr.Close()

	err := tr.Send([]byte("audio"))
	if !errors.Is(err, stt.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestTranscriber_EventsEndAfterClose(t *testing.T) {
	tr, _ := newTestProvider().Open(context.Background(), stt.Config{})
	tr.Close()

	select {
	case _, ok := <-tr.Events():
		if ok {
			// A buffered event may precede the end; drain the rest.
			for range tr.Events() {
			}
		}
	case <-time.After(time.Second):
		t.Fatal("event sequence did not end after close")
	}
}

func TestDefaultUtterances(t *testing.T) {
	if len(DefaultUtterances) != 5 {
		t.Errorf("expected 5 default utterances, got %d", len(DefaultUtterances))
	}

	for i, utt := range DefaultUtterances {
		if len(utt.Partials) == 0 {
			t.Errorf("utterance %d has no partials", i)
		}
		if utt.Final == "" {
			t.Errorf("utterance %d has empty final", i)
		}
	}
}

func TestTranscriber_ThreadSafety(t *testing.T) {
	p := newTestProvider()
	tr, _ := p.Open(context.Background(), stt.Config{})

	go func() {
		for range tr.Events() {
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				tr.Send([]byte("audio"))
				time.Sleep(time.Millisecond)
			}
		}()
	}

	wg.Wait()
	tr.Close()

	// Should not panic - just verify it completes
}
