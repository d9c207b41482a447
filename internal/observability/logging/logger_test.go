package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestInitWriter_JSONWithLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(Config{Level: "warn", Format: "json"}, &buf)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Info().Msg("dropped")
	l := WithSession("sess-1", "user-1")
	l.Warn().Msg("kept")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %s", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal(lines[0], &entry); err != nil {
		t.Fatalf("invalid json log line: %v", err)
	}
	if entry["sessionId"] != "sess-1" || entry["userId"] != "user-1" {
		t.Errorf("missing session fields: %v", entry)
	}
	if entry["message"] != "kept" {
		t.Errorf("unexpected message: %v", entry["message"])
	}
}

func TestInitWriter_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(Config{Level: "loud"}, &buf)

	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("expected info level, got %v", zerolog.GlobalLevel())
	}
}

func TestWithTask(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(DefaultConfig(), &buf)

	l := WithTask("sess-2", 7)
	l.Info().Msg("enhancing")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("invalid json log line: %v", err)
	}
	if entry["seq"] != float64(7) {
		t.Errorf("expected seq 7, got %v", entry["seq"])
	}
}
