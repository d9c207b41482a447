// Package ws is the client-facing websocket gateway. Each accepted
// connection gets exactly one relay, driven until it is closed.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-relay-service/internal/auth"
	"speech-relay-service/internal/models"
	"speech-relay-service/internal/observability/logging"
	"speech-relay-service/internal/observability/metrics"
	"speech-relay-service/internal/service/relay"
	"speech-relay-service/internal/service/session"
)

const (
	defaultIdleTimeout  = 60 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultMaxFrame     = 1 << 20
)

// Config holds gateway settings.
type Config struct {
	// IdleTimeout is how long a connection may go without any inbound
	// frame before it is treated as disconnected.
	IdleTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxFrameBytes int64
	// AllowedOrigins lists accepted Origin values. Empty or "*" accepts all.
	AllowedOrigins []string
	Relay          relay.Config
}

// control is an inbound text frame.
type control struct {
	Type string `json:"type"`
}

// Gateway upgrades connections and runs a relay per connection.
type Gateway struct {
	cfg        Config
	deps       relay.Deps
	authorizer auth.Authorizer
	upgrader   websocket.Upgrader
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	baseCtx  context.Context
	shutdown context.CancelFunc
	sessions sync.WaitGroup
	active   atomic.Int64
}

// New creates a gateway. deps are shared by every session.
func New(cfg Config, deps relay.Deps, authorizer auth.Authorizer) *Gateway {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = defaultMaxFrame
	}
	if authorizer == nil {
		authorizer = auth.AllowAll{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		cfg:        cfg,
		deps:       deps,
		authorizer: authorizer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		metrics:  deps.Metrics,
		logger:   logging.WithComponent("ws-gateway"),
		baseCtx:  ctx,
		shutdown: cancel,
	}
}

// ActiveSessions returns the number of connections currently served.
func (g *Gateway) ActiveSessions() int {
	return int(g.active.Load())
}

// Shutdown closes every session and waits for them, or for ctx.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdown()
	done := make(chan struct{})
	go func() {
		g.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP authorizes, upgrades and serves one session.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.baseCtx.Err() != nil {
		g.metrics.RecordSessionRejected("shutting_down")
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	principal, err := g.authorizer.Authorize(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		g.metrics.RecordSessionRejected("unauthorized")
		g.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Rejected connection")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		g.metrics.RecordSessionRejected("upgrade_failed")
		g.logger.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("Websocket upgrade failed")
		return
	}

	g.sessions.Add(1)
	g.active.Add(1)
	defer func() {
		g.active.Add(-1)
		g.sessions.Done()
	}()

	id := session.NewID()
	client := &clientConn{conn: conn, writeTimeout: g.cfg.WriteTimeout}
	rel := relay.New(id, principal.UserID, client, g.deps, g.cfg.Relay)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		g.readLoop(conn, rel)
	}()

	err = rel.Run(g.baseCtx)
	switch {
	case err == nil, errors.Is(err, relay.ErrClientDisconnected):
	default:
		sessionLog := logging.WithSession(id, principal.UserID)
		sessionLog.Warn().Err(err).Msg("Session ended with error")
	}

	// The relay closed the client, which ends the read loop.
	conn.Close()
	<-readDone
}

// readLoop decodes inbound frames until the connection fails or goes idle.
func (g *Gateway) readLoop(conn *websocket.Conn, rel *relay.Relay) {
	conn.SetReadLimit(g.cfg.MaxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(g.cfg.IdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(g.cfg.IdleTimeout))
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				rel.CloseRequested()
				return
			}
			rel.Disconnect(fmt.Errorf("%w: %v", relay.ErrClientDisconnected, err))
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(g.cfg.IdleTimeout))

		switch mt {
		case websocket.BinaryMessage:
			if err := rel.Audio(data); err != nil {
				// Teardown has begun. Keep reading until the relay closes us.
				continue
			}
		case websocket.TextMessage:
			var c control
			if err := json.Unmarshal(data, &c); err != nil {
				g.logger.Debug().Err(err).Msg("Ignoring undecodable text frame")
				continue
			}
			if c.Type == "close" {
				rel.CloseRequested()
			}
		}
	}
}

// clientConn adapts a websocket connection to relay.ClientConn.
type clientConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	once         sync.Once
}

func (c *clientConn) WriteMessage(msg models.OutboundMessage) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(msg)
}

// Close sends a normal close frame and closes the socket.
func (c *clientConn) Close() error {
	var err error
	c.once.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.writeTimeout))
		err = c.conn.Close()
	})
	return err
}

func originChecker(allowed []string) func(*http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}
