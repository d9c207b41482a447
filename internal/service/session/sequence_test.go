package session

import (
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestSequence_Next(t *testing.T) {
	seq := NewSequence()

	if seq.Last() != 0 {
		t.Errorf("expected 0 before first Next, got %d", seq.Last())
	}
	for want := uint64(1); want <= 3; want++ {
		if got := seq.Next(); got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	}
	if seq.Last() != 3 {
		t.Errorf("expected Last 3, got %d", seq.Last())
	}
}

func TestSequence_ThreadSafety(t *testing.T) {
	seq := NewSequence()
	numGoroutines := 100
	resultsPerGoroutine := 10

	var wg sync.WaitGroup
	results := make(chan uint64, numGoroutines*resultsPerGoroutine)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < resultsPerGoroutine; j++ {
				results <- seq.Next()
			}
		}()
	}

	wg.Wait()
	close(results)

	seen := make(map[uint64]bool)
	for n := range results {
		if seen[n] {
			t.Errorf("duplicate sequence number generated: %d", n)
		}
		seen[n] = true
	}

	expectedCount := numGoroutines * resultsPerGoroutine
	if len(seen) != expectedCount {
		t.Errorf("expected %d unique sequence numbers, got %d", expectedCount, len(seen))
	}
}

func TestKey(t *testing.T) {
	if got := Key("sess-123", 7); got != "sess-123-seg-7" {
		t.Errorf("expected 'sess-123-seg-7', got %s", got)
	}
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	if a == b {
		t.Error("expected unique session ids")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("expected a UUID, got %s", a)
	}
}
