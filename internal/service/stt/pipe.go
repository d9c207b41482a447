package stt

import (
	"strings"
	"sync"
)

// Pipe is the event side of a Transcriber. Exactly one goroutine emits into
// it and calls Finish when done; Stop may be called from anywhere and
// unblocks a pending Emit.
type Pipe struct {
	events chan Event
	done   chan struct{}
	once   sync.Once
}

// NewPipe creates a pipe with the given event buffer.
func NewPipe(buffer int) *Pipe {
	return &Pipe{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

// Events returns the receive side of the pipe.
func (p *Pipe) Events() <-chan Event {
	return p.events
}

// Emit delivers ev unless the pipe was stopped. Transcript events with
// blank text are suppressed; other text is forwarded as is. Returns false
// once the pipe is stopped.
func (p *Pipe) Emit(ev Event) bool {
	if ev.Kind != EventError && strings.TrimSpace(ev.Text) == "" {
		return !p.Stopped()
	}
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.events <- ev:
		return true
	case <-p.done:
		return false
	}
}

// Stop marks the pipe as stopped. Idempotent.
func (p *Pipe) Stop() {
	p.once.Do(func() { close(p.done) })
}

// Done is closed when the pipe is stopped.
func (p *Pipe) Done() <-chan struct{} {
	return p.done
}

// Stopped reports whether Stop was called.
func (p *Pipe) Stopped() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Finish closes the event channel. Only the emitting goroutine calls it.
func (p *Pipe) Finish() {
	close(p.events)
}
