package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSessionLifecycleMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordSessionStart()
	m.RecordSessionStart()
	m.RecordSessionEnd("client_disconnected", 1.5)

	if got := testutil.ToFloat64(m.SessionsTotal); got != 2 {
		t.Errorf("expected 2 sessions total, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsActive); got != 1 {
		t.Errorf("expected 1 active session, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsClosed.WithLabelValues("client_disconnected")); got != 1 {
		t.Errorf("expected 1 closed session, got %v", got)
	}
}

func TestEnhancementMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordEnhancementStart()
	m.RecordEnhancementStart()
	m.RecordEnhancementEnd("success", 0.4)
	m.RecordEnhancementEnd("cancelled", 0)

	if got := testutil.ToFloat64(m.EnhancementsInFlight); got != 0 {
		t.Errorf("expected 0 in flight, got %v", got)
	}
	if got := testutil.ToFloat64(m.EnhancementsTotal.WithLabelValues("cancelled")); got != 1 {
		t.Errorf("expected 1 cancelled, got %v", got)
	}
	if got := testutil.CollectAndCount(m.EnhancementLatency); got != 1 {
		t.Errorf("expected latency histogram to be collected once, got %d", got)
	}
}

func TestRecordKafkaPublish(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordKafkaPublish("final", "final", nil, 0.01)
	m.RecordKafkaPublish("final", "final", errors.New("broker down"), 0.02)

	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("final", "final")); got != 2 {
		t.Errorf("expected 2 publishes, got %v", got)
	}
	if got := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("final", "final")); got != 1 {
		t.Errorf("expected 1 publish error, got %v", got)
	}
}

func TestNewMetrics_NilRegistry(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordAudioReceived(320)

	if got := testutil.ToFloat64(m.AudioBytesReceived); got != 320 {
		t.Errorf("expected 320 bytes, got %v", got)
	}
}

func TestRecordGRPCRequest(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordGRPCRequest("/grpc.health.v1.Health/Check", "OK", 0.001)

	if got := testutil.ToFloat64(m.GRPCRequestsTotal.WithLabelValues("/grpc.health.v1.Health/Check", "OK")); got != 1 {
		t.Errorf("expected 1 request, got %v", got)
	}
}
