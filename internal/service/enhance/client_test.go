package enhance

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type chatRequest struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

func fakeAzure(t *testing.T, reply string, got *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"code":"401","message":"Access denied"}}`))
			return
		}
		if !strings.HasSuffix(r.URL.Path, "/openai/deployments/gpt-4o-mini/chat/completions") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if v := r.URL.Query().Get("api-version"); v != "2025-01-01-preview" {
			t.Errorf("unexpected api-version: %s", v)
		}
		if got != nil {
			json.NewDecoder(r.Body).Decode(got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": reply}, "finish_reason": "stop"}},
		})
	}))
}

var testOptions = Options{Deployment: "gpt-4o-mini", Temperature: 0.3, MaxTokens: 500}

func TestClient_Enhance(t *testing.T) {
	var req chatRequest
	srv := fakeAzure(t, " Hello there. ", &req)
	defer srv.Close()

	c := NewAzureClient(srv.URL, "test-key", "2025-01-01-preview", testOptions)
	out, err := c.Enhance(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Hello there." {
		t.Errorf("expected trimmed 'Hello there.', got %q", out)
	}

	if len(req.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(req.Messages))
	}
	if req.Messages[0].Role != "system" || req.Messages[0].Content != Instruction {
		t.Errorf("unexpected system message: %+v", req.Messages[0])
	}
	if req.Messages[1].Role != "user" || req.Messages[1].Content != "hello there" {
		t.Errorf("unexpected user message: %+v", req.Messages[1])
	}
	if math.Abs(req.Temperature-0.3) > 1e-6 {
		t.Errorf("expected temperature 0.3, got %v", req.Temperature)
	}
	if req.MaxTokens != 500 {
		t.Errorf("expected max_tokens 500, got %d", req.MaxTokens)
	}
}

func TestClient_EmptyResponse(t *testing.T) {
	srv := fakeAzure(t, "   ", nil)
	defer srv.Close()

	c := NewAzureClient(srv.URL, "test-key", "2025-01-01-preview", testOptions)
	_, err := c.Enhance(context.Background(), "hello")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestClient_ProviderError(t *testing.T) {
	srv := fakeAzure(t, "unused", nil)
	defer srv.Close()

	c := NewAzureClient(srv.URL, "wrong-key", "2025-01-01-preview", testOptions)
	if _, err := c.Enhance(context.Background(), "hello"); err == nil {
		t.Error("expected error for rejected credentials")
	}
}
