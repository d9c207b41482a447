// Package stt defines the upstream speech-to-text transcriber contract.
//
// A Transcriber is opened once per client session. Audio goes in through
// Send; transcript and error events come out of the Events channel, which
// is closed when the transcriber is closed or the transport fails.
package stt

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUpstreamUnavailable means the provider could not be reached or
	// rejected the credentials. Fatal to the session.
	ErrUpstreamUnavailable = errors.New("transcription service unavailable")

	// ErrInvalidState is returned by Send after Close.
	ErrInvalidState = errors.New("transcriber is closed")
)

// EventKind tags an Event.
type EventKind int

const (
	EventInterim EventKind = iota
	EventFinal
	EventError
)

// String returns the string representation of the kind.
func (k EventKind) String() string {
	switch k {
	case EventInterim:
		return "INTERIM"
	case EventFinal:
		return "FINAL"
	case EventError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", k)
	}
}

// Event is one item of the transcriber event sequence.
type Event struct {
	Kind EventKind
	Text string
	Err  error
	// Fatal marks an error after which the sequence ends.
	Fatal bool
}

// Interim builds an interim transcript event.
func Interim(text string) Event { return Event{Kind: EventInterim, Text: text} }

// Final builds a final transcript event.
func Final(text string) Event { return Event{Kind: EventFinal, Text: text} }

// Transient builds a recoverable provider error event.
func Transient(err error) Event { return Event{Kind: EventError, Err: err} }

// Unrecoverable builds an error event that terminates the sequence.
func Unrecoverable(err error) Event { return Event{Kind: EventError, Err: err, Fatal: true} }

// Config is the streaming configuration passed to the provider.
type Config struct {
	Model          string
	Language       string
	SmartFormat    bool
	Punctuate      bool
	InterimResults bool
	UtteranceEndMs int
	VADEvents      bool

	// Audio format of the frames passed to Send.
	Encoding   string
	SampleRate int
	Channels   int
}

// Transcriber is one live upstream transcription stream.
type Transcriber interface {
	// Send forwards one audio frame. Returns ErrInvalidState after Close.
	Send(audio []byte) error

	// Events returns the event sequence. It is not restartable.
	Events() <-chan Event

	// Close ends the stream. Idempotent and safe during Send.
	Close() error
}

// Provider opens transcribers. Implementations are constructed once at
// startup and shared across sessions.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Open establishes a stream, failing with an error wrapping
	// ErrUpstreamUnavailable when the provider cannot be reached.
	Open(ctx context.Context, cfg Config) (Transcriber, error)
}

// Unavailable wraps cause as an ErrUpstreamUnavailable error.
func Unavailable(cause error) error {
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, cause)
}
