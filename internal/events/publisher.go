// Package events provides event publishing functionality.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"speech-relay-service/internal/observability/metrics"
)

const (
	defaultQueueSize = 256
	emitTimeout      = 10 * time.Second
)

// ErrQueueFull is recorded when an async emit is dropped.
var ErrQueueFull = errors.New("publish queue full")

// Publisher publishes transcript events to separate Kafka topics.
type Publisher struct {
	writerFinal    *kafka.Writer
	writerEnhanced *kafka.Writer
	principal      string
	topicFinal     string
	topicEnhanced  string
	enabled        bool
	metrics        *metrics.Metrics

	// Async emits are handed to a single background sender.
	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

type job struct {
	writer    *kafka.Writer
	topic     string
	eventType string
	key       string
	event     any
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers       []string
	TopicFinal    string
	TopicEnhanced string
	Principal     string
	Enabled       bool
	QueueSize     int
}

// New creates a new Kafka event publisher with separate topics for final and enhanced transcripts.
func New(cfg *Config) *Publisher {
	p := newPublisher(cfg)
	p.wg.Add(1)
	go p.sendLoop()
	return p
}

func newPublisher(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	// Handle nil config case
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
			queue:   make(chan job, defaultQueueSize),
		}
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:     cfg.Principal,
			topicFinal:    cfg.TopicFinal,
			topicEnhanced: cfg.TopicEnhanced,
			enabled:       false,
			metrics:       m,
			queue:         make(chan job, queueSize),
		}
	}

	// Create a custom dialer with longer timeouts for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicFinal", cfg.TopicFinal).
		Str("topicEnhanced", cfg.TopicEnhanced).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerFinal:    newWriter(cfg.Brokers, cfg.TopicFinal, transport),
		writerEnhanced: newWriter(cfg.Brokers, cfg.TopicEnhanced, transport),
		principal:      cfg.Principal,
		topicFinal:     cfg.TopicFinal,
		topicEnhanced:  cfg.TopicEnhanced,
		enabled:        true,
		metrics:        m,
		queue:          make(chan job, queueSize),
	}
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// PublishFinal publishes a final transcript event to the final topic.
func (p *Publisher) PublishFinal(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerFinal, p.topicFinal, "final", key, event)
}

// PublishEnhanced publishes an enhanced transcript event to the enhanced topic.
func (p *Publisher) PublishEnhanced(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerEnhanced, p.topicEnhanced, "enhanced", key, event)
}

// EmitFinal queues a final transcript event without blocking.
// Returns false if the event was dropped.
func (p *Publisher) EmitFinal(key string, event any) bool {
	return p.emit(job{p.writerFinal, p.topicFinal, "final", key, event})
}

// EmitEnhanced queues an enhanced transcript event without blocking.
// Returns false if the event was dropped.
func (p *Publisher) EmitEnhanced(key string, event any) bool {
	return p.emit(job{p.writerEnhanced, p.topicEnhanced, "enhanced", key, event})
}

func (p *Publisher) emit(j job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- j:
		return true
	default:
		log.Warn().Str("topic", j.topic).Str("key", j.key).Msg("Publish queue full, dropping event")
		p.metrics.RecordKafkaPublish(j.topic, j.eventType, ErrQueueFull, 0)
		return false
	}
}

func (p *Publisher) sendLoop() {
	defer p.wg.Done()
	for j := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		_ = p.publish(ctx, j.writer, j.topic, j.eventType, j.key, j.event)
		cancel()
	}
}

// publish is the internal method that writes to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	// Log the event
	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close drains queued events and closes both Kafka writers. Idempotent.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.queue != nil {
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()

	var err error
	if p.writerFinal != nil {
		if e := p.writerFinal.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing final writer")
			err = e
		}
	}
	if p.writerEnhanced != nil {
		if e := p.writerEnhanced.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing enhanced writer")
			err = e
		}
	}
	return err
}
