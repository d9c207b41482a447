package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"speech-relay-service/internal/app"
	"speech-relay-service/internal/config"
)

type fakeSessions struct {
	hits int
}

func (f *fakeSessions) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	f.hits++
	w.WriteHeader(http.StatusTeapot)
}

func (f *fakeSessions) ActiveSessions() int { return 3 }

func TestRouter_Health(t *testing.T) {
	a := app.New(config.Default())
	router := NewRouter(a, &fakeSessions{})

	tests := []struct {
		name  string
		path  string
		start bool
		want  int
	}{
		{"liveness", "/v1/liveness", false, http.StatusOK},
		{"readiness before start", "/v1/readiness", false, http.StatusServiceUnavailable},
		{"readiness after start", "/v1/readiness", true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.start {
				_ = a.Start()
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestRouter_TranscribeRoute(t *testing.T) {
	sessions := &fakeSessions{}
	router := NewRouter(app.New(config.Default()), sessions)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, TranscribePath, nil))

	if sessions.hits != 1 {
		t.Errorf("expected gateway to handle the request, hits=%d", sessions.hits)
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("expected gateway status, got %d", rec.Code)
	}
}

func TestRouter_Status(t *testing.T) {
	router := NewRouter(app.New(config.Default()), &fakeSessions{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["sttProvider"] != "mock" {
		t.Errorf("expected mock provider, got %v", body["sttProvider"])
	}
	if body["activeSessions"] != float64(3) {
		t.Errorf("expected 3 active sessions, got %v", body["activeSessions"])
	}
}
