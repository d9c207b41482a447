// Package config loads service configuration from the environment,
// optionally layered over a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	STT           STTConfig           `yaml:"stt"`
	Enhancement   EnhancementConfig   `yaml:"enhancement"`
	Session       SessionConfig       `yaml:"session"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServiceConfig holds listener and identity settings.
type ServiceConfig struct {
	Principal   string   `yaml:"principal"`
	Environment string   `yaml:"environment"` // development, staging, production
	HTTPPort    string   `yaml:"http_port"`
	GRPCPort    string   `yaml:"grpc_port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// IsDevelopment reports whether the service runs in development mode.
func (s ServiceConfig) IsDevelopment() bool {
	return s.Environment == "development"
}

// STTConfig holds upstream speech-to-text settings.
type STTConfig struct {
	Provider       string        `yaml:"provider"` // deepgram, google, mock
	DeepgramAPIKey string        `yaml:"deepgram_api_key"`
	DeepgramURL    string        `yaml:"deepgram_url"`
	Model          string        `yaml:"model"`
	LanguageCode   string        `yaml:"language_code"`
	SmartFormat    bool          `yaml:"smart_format"`
	Punctuate      bool          `yaml:"punctuate"`
	InterimResults bool          `yaml:"interim_results"`
	UtteranceEndMs int           `yaml:"utterance_end_ms"`
	VADEvents      bool          `yaml:"vad_events"`
	AudioEncoding  string        `yaml:"audio_encoding"`
	SampleRateHz   int           `yaml:"sample_rate_hz"`
	Channels       int           `yaml:"channels"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// EnhancementConfig holds text-enhancement provider settings.
type EnhancementConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Endpoint       string        `yaml:"endpoint"`
	APIKey         string        `yaml:"api_key"`
	APIVersion     string        `yaml:"api_version"`
	Deployment     string        `yaml:"deployment"`
	Temperature    float32       `yaml:"temperature"`
	MaxTokens      int           `yaml:"max_tokens"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SessionConfig holds per-connection limits.
type SessionConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	MaxFrameBytes int64         `yaml:"max_frame_bytes"`
	OutboundQueue int           `yaml:"outbound_queue"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

// KafkaConfig holds transcript event publishing settings.
type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	TopicFinal    string   `yaml:"topic_final"`
	TopicEnhanced string   `yaml:"topic_enhanced"`
	Principal     string   `yaml:"principal"`
}

// AuthConfig holds accept-time authorization settings.
type AuthConfig struct {
	Enabled bool     `yaml:"enabled"`
	Tokens  []string `yaml:"tokens"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort string `yaml:"metrics_port"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Principal:   "svc-speech-relay",
			Environment: "development",
			HTTPPort:    "8000",
			GRPCPort:    "50051",
			CORSOrigins: []string{"tauri://localhost"},
		},
		STT: STTConfig{
			Provider:       "mock",
			DeepgramURL:    "wss://api.deepgram.com/v1/listen",
			Model:          "nova-2",
			LanguageCode:   "en-US",
			SmartFormat:    true,
			Punctuate:      true,
			InterimResults: true,
			UtteranceEndMs: 1000,
			VADEvents:      true,
			AudioEncoding:  "LINEAR16",
			SampleRateHz:   16000,
			Channels:       1,
			ConnectTimeout: 10 * time.Second,
		},
		Enhancement: EnhancementConfig{
			Enabled:        true,
			APIVersion:     "2025-01-01-preview",
			Deployment:     "gpt-4o-mini",
			Temperature:    0.3,
			MaxTokens:      500,
			MaxConcurrent:  4,
			RequestTimeout: 30 * time.Second,
		},
		Session: SessionConfig{
			IdleTimeout:   60 * time.Second,
			MaxFrameBytes: 1 << 20,
			OutboundQueue: 64,
			WriteTimeout:  10 * time.Second,
		},
		Kafka: KafkaConfig{
			TopicFinal:    "speech.transcript.final",
			TopicEnhanced: "speech.transcript.enhanced",
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPort: "9090",
		},
	}
}

// Load builds the configuration from defaults, the optional CONFIG_FILE
// overlay and finally environment variables.
func Load() *Config {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "config: ignoring %s: %v\n", path, err)
		}
	}
	cfg.applyEnv()
	return cfg
}

// LoadFile builds the configuration from defaults and the given YAML file,
// then applies environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.overlayFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", c.Service.Principal)
	c.Service.Environment = strings.ToLower(envOrDefault("ENVIRONMENT", c.Service.Environment))
	c.Service.HTTPPort = envOrDefault("HTTP_PORT", c.Service.HTTPPort)
	c.Service.GRPCPort = envOrDefault("GRPC_PORT", c.Service.GRPCPort)
	c.Service.CORSOrigins = envOrDefaultList("CORS_ORIGINS", c.Service.CORSOrigins)

	c.STT.Provider = envOrDefault("STT_PROVIDER", c.STT.Provider)
	c.STT.DeepgramAPIKey = envOrDefault("DEEPGRAM_API_KEY", c.STT.DeepgramAPIKey)
	c.STT.DeepgramURL = envOrDefault("DEEPGRAM_URL", c.STT.DeepgramURL)
	c.STT.Model = envOrDefault("STT_MODEL", c.STT.Model)
	c.STT.LanguageCode = envOrDefault("STT_LANGUAGE_CODE", c.STT.LanguageCode)
	c.STT.SmartFormat = envOrDefaultBool("STT_SMART_FORMAT", c.STT.SmartFormat)
	c.STT.Punctuate = envOrDefaultBool("STT_PUNCTUATE", c.STT.Punctuate)
	c.STT.InterimResults = envOrDefaultBool("STT_INTERIM_RESULTS", c.STT.InterimResults)
	c.STT.UtteranceEndMs = envOrDefaultInt("STT_UTTERANCE_END_MS", c.STT.UtteranceEndMs)
	c.STT.VADEvents = envOrDefaultBool("STT_VAD_EVENTS", c.STT.VADEvents)
	c.STT.AudioEncoding = envOrDefault("STT_AUDIO_ENCODING", c.STT.AudioEncoding)
	c.STT.SampleRateHz = envOrDefaultInt("STT_SAMPLE_RATE_HZ", c.STT.SampleRateHz)
	c.STT.Channels = envOrDefaultInt("STT_CHANNELS", c.STT.Channels)
	c.STT.ConnectTimeout = envOrDefaultDuration("STT_CONNECT_TIMEOUT", c.STT.ConnectTimeout)

	c.Enhancement.Enabled = envOrDefaultBool("ENHANCEMENT_ENABLED", c.Enhancement.Enabled)
	c.Enhancement.Endpoint = envOrDefault("AZURE_OPENAI_ENDPOINT_URL", c.Enhancement.Endpoint)
	c.Enhancement.APIKey = envOrDefault("AZURE_OPENAI_API_KEY", c.Enhancement.APIKey)
	c.Enhancement.APIVersion = envOrDefault("OPENAI_API_VERSION", c.Enhancement.APIVersion)
	c.Enhancement.Deployment = envOrDefault("AZURE_OPENAI_DEPLOYMENT_NAME", c.Enhancement.Deployment)
	c.Enhancement.Temperature = envOrDefaultFloat32("OPENAI_ENHANCEMENT_TEMPERATURE", c.Enhancement.Temperature)
	c.Enhancement.MaxTokens = envOrDefaultInt("OPENAI_ENHANCEMENT_MAX_TOKENS", c.Enhancement.MaxTokens)
	c.Enhancement.MaxConcurrent = envOrDefaultInt("ENHANCEMENT_MAX_CONCURRENT", c.Enhancement.MaxConcurrent)
	c.Enhancement.RequestTimeout = envOrDefaultDuration("ENHANCEMENT_REQUEST_TIMEOUT", c.Enhancement.RequestTimeout)

	c.Session.IdleTimeout = envOrDefaultDuration("SESSION_IDLE_TIMEOUT", c.Session.IdleTimeout)
	c.Session.MaxFrameBytes = envOrDefaultInt64("SESSION_MAX_FRAME_BYTES", c.Session.MaxFrameBytes)
	c.Session.OutboundQueue = envOrDefaultInt("SESSION_OUTBOUND_QUEUE", c.Session.OutboundQueue)
	c.Session.WriteTimeout = envOrDefaultDuration("SESSION_WRITE_TIMEOUT", c.Session.WriteTimeout)

	c.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", c.Kafka.Enabled)
	c.Kafka.Brokers = envOrDefaultList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.TopicFinal = envOrDefault("KAFKA_TOPIC_FINAL", c.Kafka.TopicFinal)
	c.Kafka.TopicEnhanced = envOrDefault("KAFKA_TOPIC_ENHANCED", c.Kafka.TopicEnhanced)
	// Kafka principal falls back to the service principal
	if c.Kafka.Principal == "" {
		c.Kafka.Principal = c.Service.Principal
	}
	c.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", c.Kafka.Principal)

	c.Auth.Enabled = envOrDefaultBool("AUTH_ENABLED", c.Auth.Enabled)
	c.Auth.Tokens = envOrDefaultList("AUTH_TOKENS", c.Auth.Tokens)

	c.Observability.LogLevel = envOrDefault("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = envOrDefault("LOG_FORMAT", c.Observability.LogFormat)
	c.Observability.MetricsPort = envOrDefault("METRICS_PORT", c.Observability.MetricsPort)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultFloat32(key string, def float32) float32 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return def
	}
	return float32(f)
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// envOrDefaultList parses a comma separated list, dropping empty entries.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
