package session

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// NewID returns a fresh session id.
func NewID() string {
	return uuid.NewString()
}

// Sequence numbers final transcripts within a session. Enhancement results
// carry the number of the final they were produced from.
type Sequence struct {
	counter uint64
}

func NewSequence() *Sequence {
	return &Sequence{}
}

// Next returns the next sequence number, starting at 1.
func (s *Sequence) Next() uint64 {
	return atomic.AddUint64(&s.counter, 1)
}

// Last returns the most recently issued number, or 0.
func (s *Sequence) Last() uint64 {
	return atomic.LoadUint64(&s.counter)
}

// Key formats a transcript key used to partition published events.
func Key(sessionId string, seq uint64) string {
	return fmt.Sprintf("%s-seg-%d", sessionId, seq)
}
