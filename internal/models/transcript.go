// Package models defines the wire messages sent to clients and the
// transcript events published downstream.
package models

// Outbound message types.
const (
	TypeTranscription = "transcription"
	TypeEnhanced      = "enhanced"
	TypeError         = "error"
)

// OutboundMessage is the JSON message written to the client connection.
// Exactly one of the transcription/enhanced or error shapes is populated.
type OutboundMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	IsFinal *bool  `json:"is_final,omitempty"`
	Message string `json:"message,omitempty"`
}

// Transcription builds an interim or final transcription message.
func Transcription(text string, isFinal bool) OutboundMessage {
	return OutboundMessage{Type: TypeTranscription, Text: text, IsFinal: &isFinal}
}

// Enhanced builds an enhanced transcript message. Enhanced text is always final.
func Enhanced(text string) OutboundMessage {
	final := true
	return OutboundMessage{Type: TypeEnhanced, Text: text, IsFinal: &final}
}

// Error builds an error message.
func Error(message string) OutboundMessage {
	return OutboundMessage{Type: TypeError, Message: message}
}

// Final reports whether the message carries is_final=true.
func (m OutboundMessage) Final() bool {
	return m.IsFinal != nil && *m.IsFinal
}

// TranscriptFinal is published when the provider finalizes an utterance.
type TranscriptFinal struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
	Sequence  uint64 `json:"sequence"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// TranscriptEnhanced is published when an enhancement for a final transcript succeeds.
type TranscriptEnhanced struct {
	EventType   string  `json:"eventType"`
	SessionID   string  `json:"sessionId"`
	UserID      string  `json:"userId,omitempty"`
	Sequence    uint64  `json:"sequence"`
	SourceText  string  `json:"sourceText"`
	Text        string  `json:"text"`
	LatencyMs   int64   `json:"latencyMs"`
	Temperature float32 `json:"temperature"`
	Timestamp   int64   `json:"timestamp"`
}
