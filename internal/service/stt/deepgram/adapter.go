// Package deepgram provides a Deepgram live transcription adapter speaking
// the streaming websocket protocol directly.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-relay-service/internal/observability/logging"
	"speech-relay-service/internal/service/stt"
)

const (
	// DefaultURL is the Deepgram live listen endpoint.
	DefaultURL = "wss://api.deepgram.com/v1/listen"

	// Deepgram closes idle streams after ~10s without audio.
	keepAliveInterval = 5 * time.Second
	writeWait         = 5 * time.Second
	eventBuffer       = 32
)

var (
	keepAliveMsg   = []byte(`{"type":"KeepAlive"}`)
	closeStreamMsg = []byte(`{"type":"CloseStream"}`)
)

// Provider opens Deepgram live streams. Safe for concurrent use.
type Provider struct {
	apiKey    string
	baseURL   string
	dialer    *websocket.Dialer
	keepAlive time.Duration
}

// New creates a Deepgram provider. An empty baseURL selects DefaultURL.
func New(apiKey, baseURL string) *Provider {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Provider{
		apiKey:  apiKey,
		baseURL: baseURL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		keepAlive: keepAliveInterval,
	}
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "deepgram" }

// Open dials the live endpoint with cfg encoded as query options.
func (p *Provider) Open(ctx context.Context, cfg stt.Config) (stt.Transcriber, error) {
	endpoint, err := ListenURL(p.baseURL, cfg)
	if err != nil {
		return nil, stt.Unavailable(err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, resp, err := p.dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		if resp != nil {
			return nil, stt.Unavailable(fmt.Errorf("handshake status %d: %w", resp.StatusCode, err))
		}
		return nil, stt.Unavailable(err)
	}

	t := &transcriber{
		conn:   conn,
		pipe:   stt.NewPipe(eventBuffer),
		logger: logging.WithComponent("deepgram"),
	}
	go t.readLoop()
	if p.keepAlive > 0 {
		go t.keepAliveLoop(p.keepAlive)
	}
	return t, nil
}

// ListenURL encodes the streaming options onto base.
func ListenURL(base string, cfg stt.Config) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid deepgram URL: %w", err)
	}

	q := u.Query()
	if cfg.Model != "" {
		q.Set("model", cfg.Model)
	}
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	q.Set("smart_format", strconv.FormatBool(cfg.SmartFormat))
	q.Set("punctuate", strconv.FormatBool(cfg.Punctuate))
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	if cfg.UtteranceEndMs > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(cfg.UtteranceEndMs))
	}
	q.Set("vad_events", strconv.FormatBool(cfg.VADEvents))
	if cfg.Encoding != "" {
		q.Set("encoding", strings.ToLower(cfg.Encoding))
		if cfg.SampleRate > 0 {
			q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
		}
		if cfg.Channels > 0 {
			q.Set("channels", strconv.Itoa(cfg.Channels))
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// message covers the server message types we act on.
type message struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	Description string `json:"description"`
	Message     string `json:"message"`
	Variant     string `json:"variant"`
}

type transcriber struct {
	conn   *websocket.Conn
	pipe   *stt.Pipe
	logger zerolog.Logger

	writeMu sync.Mutex
	closed  bool
	once    sync.Once
}

func (t *transcriber) Events() <-chan stt.Event {
	return t.pipe.Events()
}

func (t *transcriber) Send(audio []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.closed {
		return stt.ErrInvalidState
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.BinaryMessage, audio)
}

// Close asks Deepgram to close the stream and tears down the socket.
func (t *transcriber) Close() error {
	var err error
	t.once.Do(func() {
		t.pipe.Stop()

		t.writeMu.Lock()
		t.closed = true
		_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = t.conn.WriteMessage(websocket.TextMessage, closeStreamMsg)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		t.writeMu.Unlock()

		err = t.conn.Close()
	})
	return err
}

func (t *transcriber) keepAliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.writeMu.Lock()
			if t.closed {
				t.writeMu.Unlock()
				return
			}
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := t.conn.WriteMessage(websocket.TextMessage, keepAliveMsg)
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-t.pipe.Done():
			return
		}
	}
}

func (t *transcriber) readLoop() {
	defer t.pipe.Finish()
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			if t.pipe.Stopped() {
				return
			}
			t.pipe.Emit(stt.Unrecoverable(fmt.Errorf("deepgram stream lost: %w", err)))
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.logger.Warn().Err(err).Msg("Undecodable Deepgram message")
			continue
		}
		if !t.pipe.Emit(t.toEvent(msg)) {
			return
		}
	}
}

// toEvent maps a server message to an event. Non-transcript messages map to
// an empty interim event, which the pipe suppresses.
func (t *transcriber) toEvent(msg message) stt.Event {
	switch msg.Type {
	case "Results":
		if len(msg.Channel.Alternatives) == 0 {
			return stt.Interim("")
		}
		text := msg.Channel.Alternatives[0].Transcript
		if msg.IsFinal {
			return stt.Final(text)
		}
		return stt.Interim(text)
	case "Error":
		desc := msg.Description
		if desc == "" {
			desc = msg.Message
		}
		return stt.Transient(fmt.Errorf("deepgram error %s: %s", msg.Variant, desc))
	case "UtteranceEnd", "SpeechStarted", "Metadata":
		t.logger.Debug().Str("type", msg.Type).Msg("Deepgram event")
	default:
		t.logger.Warn().Str("type", msg.Type).Msg("Unhandled Deepgram message")
	}
	return stt.Interim("")
}
