package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	grpcapi "speech-relay-service/internal/api/grpc"
	"speech-relay-service/internal/api/ws"
	"speech-relay-service/internal/app"
	"speech-relay-service/internal/auth"
	"speech-relay-service/internal/config"
	"speech-relay-service/internal/events"
	httpapi "speech-relay-service/internal/http"
	"speech-relay-service/internal/observability"
	"speech-relay-service/internal/observability/logging"
	"speech-relay-service/internal/observability/metrics"
	"speech-relay-service/internal/schema"
	"speech-relay-service/internal/service/enhance"
	"speech-relay-service/internal/service/relay"
	"speech-relay-service/internal/service/stt"
	"speech-relay-service/internal/service/stt/deepgram"
	"speech-relay-service/internal/service/stt/google"
	"speech-relay-service/internal/service/stt/mock"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.Load()

	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})

	application := app.New(cfg)
	m := metrics.DefaultMetrics

	provider, closeProvider := newProvider(cfg.STT)
	defer closeProvider()

	// Create Kafka publisher with separate topics for final and enhanced transcripts
	publisher := events.New(&events.Config{
		Enabled:       cfg.Kafka.Enabled,
		Brokers:       cfg.Kafka.Brokers,
		TopicFinal:    cfg.Kafka.TopicFinal,
		TopicEnhanced: cfg.Kafka.TopicEnhanced,
		Principal:     cfg.Kafka.Principal,
	})

	deps := relay.Deps{
		Provider:  provider,
		Tap:       publisher,
		Validator: schema.New(),
		Metrics:   m,
	}
	if worker := newEnhancer(cfg.Enhancement, m); worker != nil {
		deps.Enhancer = worker
	}

	var authorizer auth.Authorizer = auth.AllowAll{}
	if cfg.Auth.Enabled {
		authorizer = auth.NewStaticTokens(cfg.Auth.Tokens)
	}

	origins := cfg.Service.CORSOrigins
	if cfg.Service.IsDevelopment() {
		origins = []string{"*"}
	}

	gateway := ws.New(ws.Config{
		IdleTimeout:    cfg.Session.IdleTimeout,
		WriteTimeout:   cfg.Session.WriteTimeout,
		MaxFrameBytes:  cfg.Session.MaxFrameBytes,
		AllowedOrigins: origins,
		Relay: relay.Config{
			STT:            sttConfig(cfg.STT),
			ConnectTimeout: cfg.STT.ConnectTimeout,
			OutboundQueue:  cfg.Session.OutboundQueue,
			Temperature:    cfg.Enhancement.Temperature,
		},
	}, deps, authorizer)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           httpapi.NewRouter(application, gateway),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpcapi.New(m)
	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Service.GRPCPort).Msg("failed to listen")
	}

	obsServer := observability.NewServer(":"+cfg.Observability.MetricsPort, application.Ready)
	obsServer.Start()

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC serve failed")
		}
	}()

	go func() {
		log.Info().Str("addr", httpServer.Addr).Str("path", httpapi.TranscribePath).Msg("Speech relay service started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http serve failed")
		}
	}()

	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("application start failed")
	}
	grpcServer.SetServing(true)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	application.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop accepting first, then let open sessions tear down.
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := gateway.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("gateway shutdown")
	}
	grpcServer.Stop()
	if err := publisher.Close(); err != nil {
		log.Error().Err(err).Msg("publisher close")
	}
	if err := obsServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("observability shutdown")
	}
}

// newProvider selects the upstream transcription provider.
func newProvider(cfg config.STTConfig) (stt.Provider, func()) {
	switch cfg.Provider {
	case "deepgram":
		if cfg.DeepgramAPIKey == "" {
			log.Warn().Msg("DEEPGRAM_API_KEY not set, falling back to mock provider")
			return mock.New(), func() {}
		}
		log.Info().Str("url", cfg.DeepgramURL).Msg("Using Deepgram STT provider")
		return deepgram.New(cfg.DeepgramAPIKey, cfg.DeepgramURL), func() {}
	case "google":
		p, err := google.New(context.Background())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create Google STT client")
		}
		log.Info().Msg("Using Google STT provider")
		return p, func() { _ = p.Close() }
	default:
		log.Info().Msg("Using mock STT provider")
		return mock.New(), func() {}
	}
}

// newEnhancer returns nil when enhancement is disabled or unconfigured.
func newEnhancer(cfg config.EnhancementConfig, m *metrics.Metrics) *enhance.Worker {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Endpoint == "" || cfg.APIKey == "" {
		log.Warn().Msg("Enhancement enabled but Azure OpenAI endpoint or key missing, disabling")
		return nil
	}
	client := enhance.NewAzureClient(cfg.Endpoint, cfg.APIKey, cfg.APIVersion, enhance.Options{
		Deployment:  cfg.Deployment,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	return enhance.NewWorker(client, enhance.WorkerConfig{
		MaxConcurrent: int64(cfg.MaxConcurrent),
		Timeout:       cfg.RequestTimeout,
	}, m)
}

func sttConfig(cfg config.STTConfig) stt.Config {
	return stt.Config{
		Model:          cfg.Model,
		Language:       cfg.LanguageCode,
		SmartFormat:    cfg.SmartFormat,
		Punctuate:      cfg.Punctuate,
		InterimResults: cfg.InterimResults,
		UtteranceEndMs: cfg.UtteranceEndMs,
		VADEvents:      cfg.VADEvents,
		Encoding:       cfg.AudioEncoding,
		SampleRate:     cfg.SampleRateHz,
		Channels:       cfg.Channels,
	}
}
