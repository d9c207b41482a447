// Package mock provides a mock STT provider for running without cloud credentials.
// It simulates realistic speech-to-text behavior with progressive interim transcripts
// and exactly one final transcript per utterance.
package mock

import (
	"context"
	"sync"
	"time"

	"speech-relay-service/internal/service/stt"
)

const (
	eventBuffer = 32
	tickBuffer  = 64
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials []string // Progressive interim transcripts
	Final    string   // Final transcript text
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials: []string{"I want", "I want to", "I want to cancel"},
		Final:    "I want to cancel my subscription",
	},
	{
		Partials: []string{"Yes", "Yes please"},
		Final:    "Yes please go ahead",
	},
	{
		Partials: []string{"Can you", "Can you help", "Can you help me with"},
		Final:    "Can you help me with my account",
	},
	{
		Partials: []string{"I've been", "I've been waiting", "I've been waiting for"},
		Final:    "I've been waiting for over an hour",
	},
	{
		Partials: []string{"Thank you"},
		Final:    "Thank you very much",
	},
}

// Provider implements stt.Provider with scripted responses.
// Each audio frame advances the current utterance by one step:
// one interim per partial, then the final, then the next utterance.
type Provider struct {
	Utterances []SimulatedUtterance
	// Delay simulates processing latency before each event.
	Delay time.Duration

	mu   sync.Mutex
	next int // cycles the starting utterance across sessions
}

// New creates a mock provider over DefaultUtterances.
func New() *Provider {
	return &Provider{
		Utterances: DefaultUtterances,
		Delay:      50 * time.Millisecond,
	}
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "mock" }

// Open starts a simulated stream. It never fails.
func (p *Provider) Open(ctx context.Context, cfg stt.Config) (stt.Transcriber, error) {
	p.mu.Lock()
	start := 0
	if len(p.Utterances) > 0 {
		start = p.next % len(p.Utterances)
	}
	p.next++
	p.mu.Unlock()

	t := &transcriber{
		utterances: p.Utterances,
		index:      start,
		delay:      p.Delay,
		ticks:      make(chan struct{}, tickBuffer),
		pipe:       stt.NewPipe(eventBuffer),
	}
	go t.run()
	return t, nil
}

type transcriber struct {
	utterances []SimulatedUtterance
	index      int // current utterance
	step       int // next partial, or len(Partials) for the final
	delay      time.Duration

	ticks chan struct{}
	pipe  *stt.Pipe

	mu     sync.Mutex
	closed bool
}

func (t *transcriber) Events() <-chan stt.Event {
	return t.pipe.Events()
}

// Send counts one audio frame. Frames arriving faster than the simulation
// consumes them are coalesced.
func (t *transcriber) Send(audio []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return stt.ErrInvalidState
	}
	select {
	case t.ticks <- struct{}{}:
	default:
	}
	return nil
}

// Close ends the simulated stream. Idempotent.
func (t *transcriber) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.pipe.Stop()
	return nil
}

func (t *transcriber) run() {
	defer t.pipe.Finish()
	for {
		select {
		case <-t.ticks:
		case <-t.pipe.Done():
			return
		}
		if len(t.utterances) == 0 {
			continue
		}
		if t.delay > 0 {
			select {
			case <-time.After(t.delay):
			case <-t.pipe.Done():
				return
			}
		}
		if !t.pipe.Emit(t.advance()) {
			return
		}
	}
}

// advance returns the next event of the current utterance and moves on.
func (t *transcriber) advance() stt.Event {
	utt := t.utterances[t.index]
	if t.step < len(utt.Partials) {
		text := utt.Partials[t.step]
		t.step++
		return stt.Interim(text)
	}
	t.step = 0
	t.index = (t.index + 1) % len(t.utterances)
	return stt.Final(utt.Final)
}
