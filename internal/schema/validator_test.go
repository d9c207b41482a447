package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"speech-relay-service/internal/models"
)

func TestValidate(t *testing.T) {
	v := New()
	tests := []struct {
		name    string
		msg     models.OutboundMessage
		wantErr error
	}{
		{"interim", models.Transcription("hel", false), nil},
		{"final", models.Transcription("hello there", true), nil},
		{"enhanced", models.Enhanced("Hello there."), nil},
		{"error", models.Error("transcription service unavailable"), nil},
		{"transcription without final", models.OutboundMessage{Type: models.TypeTranscription, Text: "x"}, ErrMissingFinal},
		{"enhanced interim", models.OutboundMessage{Type: models.TypeEnhanced, Text: "x"}, ErrEnhancedInterim},
		{"empty error", models.Error(""), ErrEmptyError},
		{"unknown", models.OutboundMessage{Type: "audio"}, ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.msg)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestOutboundMessage_WireShape(t *testing.T) {
	tests := []struct {
		msg  models.OutboundMessage
		want string
	}{
		{models.Transcription("hel", false), `{"type":"transcription","text":"hel","is_final":false}`},
		{models.Transcription("hello there", true), `{"type":"transcription","text":"hello there","is_final":true}`},
		{models.Enhanced("Hello there."), `{"type":"enhanced","text":"Hello there.","is_final":true}`},
		{models.Error("boom"), `{"type":"error","message":"boom"}`},
	}

	for _, tt := range tests {
		got, err := json.Marshal(tt.msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(got) != tt.want {
			t.Errorf("got %s, want %s", got, tt.want)
		}
	}
}
