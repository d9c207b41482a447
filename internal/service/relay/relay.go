// Package relay implements the per-connection session relay: a single actor
// goroutine that owns the upstream transcriber and the outstanding
// enhancement tasks, and multiplexes transcripts, enhancements and errors
// onto one ordered outbound queue drained by a single writer.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"speech-relay-service/internal/models"
	"speech-relay-service/internal/observability/logging"
	"speech-relay-service/internal/observability/metrics"
	"speech-relay-service/internal/schema"
	"speech-relay-service/internal/service/enhance"
	"speech-relay-service/internal/service/session"
	"speech-relay-service/internal/service/stt"
)

var (
	// ErrClientDisconnected is the expected terminal condition when the
	// client goes away.
	ErrClientDisconnected = errors.New("client disconnected")

	// ErrClosed is returned by Audio once teardown has begun.
	ErrClosed = errors.New("session is closing")
)

// Close reasons recorded on the lifecycle and in metrics.
const (
	ReasonClientDisconnected  = "client_disconnected"
	ReasonClientClosed        = "client_closed"
	ReasonClientWriteFailed   = "client_write_failed"
	ReasonUpstreamUnavailable = "upstream_unavailable"
	ReasonUpstreamLost        = "upstream_lost"
	ReasonInvalidState        = "invalid_state"
	ReasonShutdown            = "shutdown"
)

// Client-facing error texts.
const (
	msgUpstreamUnavailable = "Transcription service unavailable"
	msgUpstreamLost        = "Transcription service connection lost"
	msgInternal            = "Internal session error"
)

const (
	defaultOutboundQueue = 64
	defaultAudioQueue    = 32
)

// ClientConn is the outbound half of the client connection. The relay's
// writer goroutine is its only caller.
type ClientConn interface {
	WriteMessage(msg models.OutboundMessage) error
	// Close closes the connection gracefully.
	Close() error
}

// Enhancer submits enhancement tasks.
type Enhancer interface {
	Submit(ctx context.Context, seq uint64, text string, results chan<- enhance.Result) *enhance.Task
}

// Tap receives final and enhanced transcripts for publishing. It must not block.
type Tap interface {
	EmitFinal(key string, event any) bool
	EmitEnhanced(key string, event any) bool
}

// Config holds per-session settings.
type Config struct {
	STT            stt.Config
	ConnectTimeout time.Duration
	OutboundQueue  int
	AudioQueue     int
	// Temperature is recorded on published enhanced events.
	Temperature float32
}

// Deps are the process-wide collaborators shared by every relay.
type Deps struct {
	Provider stt.Provider
	// Enhancer may be nil when enhancement is disabled.
	Enhancer  Enhancer
	Tap       Tap
	Validator *schema.Validator
	Metrics   *metrics.Metrics
}

// Relay drives one client session from Starting to Closed.
type Relay struct {
	id     string
	userId string
	cfg    Config
	deps   Deps
	client ClientConn
	logger zerolog.Logger

	// streamLogger adds the upstream provider once start has run.
	streamLogger zerolog.Logger

	lifecycle *session.Lifecycle
	seq       *session.Sequence

	outbound chan models.OutboundMessage
	audio    chan []byte
	results  chan enhance.Result
	pumpErr  chan error

	// stop is closed by the first external stop request.
	stop       chan struct{}
	stopOnce   sync.Once
	stopReason string
	stopCause  error

	// closing is closed when teardown begins.
	closing chan struct{}
	done    chan struct{}

	// Actor-owned state.
	transcriber stt.Transcriber
	tasks       map[uint64]*enhance.Task
	finals      map[uint64]time.Time
	taskCtx     context.Context
	cancelTasks context.CancelFunc

	outstanding atomic.Int64
	writerWG    sync.WaitGroup
	pumpWG      sync.WaitGroup
	startedAt   time.Time
}

// New creates a relay for one accepted connection.
func New(id, userId string, client ClientConn, deps Deps, cfg Config) *Relay {
	if cfg.OutboundQueue <= 0 {
		cfg.OutboundQueue = defaultOutboundQueue
	}
	if cfg.AudioQueue <= 0 {
		cfg.AudioQueue = defaultAudioQueue
	}
	if deps.Validator == nil {
		deps.Validator = schema.New()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	return &Relay{
		id:        id,
		userId:    userId,
		cfg:       cfg,
		deps:      deps,
		client:    client,
		logger:    logging.WithSession(id, userId),
		lifecycle: session.NewLifecycle(id),
		seq:       session.NewSequence(),
		outbound:  make(chan models.OutboundMessage, cfg.OutboundQueue),
		audio:     make(chan []byte, cfg.AudioQueue),
		results:   make(chan enhance.Result),
		pumpErr:   make(chan error, 1),
		stop:      make(chan struct{}),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
		tasks:     make(map[uint64]*enhance.Task),
		finals:    make(map[uint64]time.Time),
	}
}

// ID returns the session id.
func (r *Relay) ID() string { return r.id }

// State returns the current lifecycle state.
func (r *Relay) State() session.State { return r.lifecycle.State() }

// Outstanding returns the number of enhancement tasks not yet resolved.
func (r *Relay) Outstanding() int { return int(r.outstanding.Load()) }

// Done is closed once the relay reaches Closed.
func (r *Relay) Done() <-chan struct{} { return r.done }

// Audio hands one inbound audio frame to the relay. It blocks while the
// audio queue is full and fails with ErrClosed once teardown has begun.
func (r *Relay) Audio(frame []byte) error {
	if len(frame) == 0 {
		return nil
	}
	select {
	case <-r.closing:
		return ErrClosed
	case <-r.stop:
		return ErrClosed
	default:
	}
	select {
	case r.audio <- frame:
		r.deps.Metrics.RecordAudioReceived(len(frame))
		return nil
	case <-r.closing:
		return ErrClosed
	case <-r.stop:
		return ErrClosed
	}
}

// Disconnect reports that the client connection is gone.
func (r *Relay) Disconnect(cause error) {
	if cause == nil {
		cause = ErrClientDisconnected
	}
	r.requestStop(ReasonClientDisconnected, cause)
}

// CloseRequested reports that the client asked to end the session.
func (r *Relay) CloseRequested() {
	r.requestStop(ReasonClientClosed, nil)
}

func (r *Relay) requestStop(reason string, cause error) {
	r.stopOnce.Do(func() {
		r.stopReason = reason
		r.stopCause = cause
		close(r.stop)
	})
}

// Run drives the session until Closed. Cancelling ctx is an explicit
// shutdown. The returned error is the cause of the close, or nil for a
// client-initiated close or shutdown.
func (r *Relay) Run(ctx context.Context) error {
	r.startedAt = time.Now()
	r.deps.Metrics.RecordSessionStart()
	r.logger.Info().Str("state", r.lifecycle.State().String()).Msg("Session starting")

	r.taskCtx, r.cancelTasks = context.WithCancel(ctx)
	r.writerWG.Add(1)
	go r.writeLoop()

	cause := r.start(ctx)
	if cause == nil {
		cause = r.loop(ctx)
	}
	r.teardown()
	return cause
}

// start opens the upstream transcriber and moves to Active.
func (r *Relay) start(ctx context.Context) error {
	openCtx := ctx
	if r.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, r.cfg.ConnectTimeout)
		defer cancel()
	}

	provider := r.deps.Provider.Name()
	r.streamLogger = logging.WithStream(r.id, provider)
	begin := time.Now()
	tr, err := r.deps.Provider.Open(openCtx, r.cfg.STT)
	if err != nil {
		r.deps.Metrics.RecordSTTError(provider, ReasonUpstreamUnavailable)
		r.streamLogger.Error().Err(err).Msg("Failed to open upstream transcriber")
		if ctx.Err() != nil {
			r.beginClosing(ReasonShutdown)
			return nil
		}
		r.enqueue(models.Error(msgUpstreamUnavailable))
		r.beginClosing(ReasonUpstreamUnavailable)
		return err
	}
	r.deps.Metrics.RecordSTTConnect(provider, time.Since(begin).Seconds())
	r.transcriber = tr

	if err := r.lifecycle.Activate(); err != nil {
		r.enqueue(models.Error(msgInternal))
		r.beginClosing(ReasonInvalidState)
		return err
	}
	r.pumpWG.Add(1)
	go r.pumpAudio(tr)
	r.streamLogger.Info().Msg("Session active")
	return nil
}

// loop is the actor. All per-session state is mutated here.
func (r *Relay) loop(ctx context.Context) error {
	events := r.transcriber.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				r.enqueue(models.Error(msgUpstreamLost))
				r.beginClosing(ReasonUpstreamLost)
				return fmt.Errorf("%w: event stream ended", stt.ErrUpstreamUnavailable)
			}
			if err := r.handleEvent(ev); err != nil {
				return err
			}

		case res := <-r.results:
			r.handleResult(res)

		case err := <-r.pumpErr:
			if errors.Is(err, stt.ErrInvalidState) {
				r.enqueue(models.Error(msgInternal))
				r.beginClosing(ReasonInvalidState)
				return err
			}
			r.enqueue(models.Error(msgUpstreamLost))
			r.beginClosing(ReasonUpstreamLost)
			return fmt.Errorf("%w: %v", stt.ErrUpstreamUnavailable, err)

		case <-r.stop:
			r.beginClosing(r.stopReason)
			return r.stopCause

		case <-ctx.Done():
			r.beginClosing(ReasonShutdown)
			return nil
		}
	}
}

func (r *Relay) handleEvent(ev stt.Event) error {
	switch ev.Kind {
	case stt.EventInterim:
		r.deps.Metrics.RecordInterimTranscript()
		r.enqueue(models.Transcription(ev.Text, false))

	case stt.EventFinal:
		r.deps.Metrics.RecordFinalTranscript()
		// The transcription message is queued before the task exists, so it
		// always precedes the enhanced message.
		r.enqueue(models.Transcription(ev.Text, true))
		seq := r.seq.Next()
		r.publishFinal(seq, ev.Text)
		r.submit(seq, ev.Text)

	case stt.EventError:
		provider := r.deps.Provider.Name()
		msg := "Transcription error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		if ev.Fatal {
			r.deps.Metrics.RecordSTTError(provider, "fatal")
			r.streamLogger.Error().Err(ev.Err).Msg("Upstream transcriber failed")
			r.enqueue(models.Error(msg))
			r.beginClosing(ReasonUpstreamLost)
			return fmt.Errorf("%w: %v", stt.ErrUpstreamUnavailable, ev.Err)
		}
		r.deps.Metrics.RecordSTTError(provider, "transient")
		r.streamLogger.Warn().Err(ev.Err).Msg("Upstream transcriber error")
		r.enqueue(models.Error(msg))
	}
	return nil
}

func (r *Relay) submit(seq uint64, text string) {
	if r.deps.Enhancer == nil || strings.TrimSpace(text) == "" {
		return
	}
	r.outstanding.Add(1)
	r.finals[seq] = time.Now()
	r.tasks[seq] = r.deps.Enhancer.Submit(r.taskCtx, seq, text, r.results)
}

func (r *Relay) handleResult(res enhance.Result) {
	if _, ok := r.tasks[res.Seq]; !ok {
		return
	}
	submitted := r.finals[res.Seq]
	delete(r.tasks, res.Seq)
	delete(r.finals, res.Seq)
	r.outstanding.Add(-1)

	if res.Failed {
		taskLog := logging.WithTask(r.id, res.Seq)
		taskLog.Debug().Err(res.Err).Msg("Enhancement dropped")
		return
	}
	r.enqueue(models.Enhanced(res.EnhancedText))
	r.publishEnhanced(res, time.Since(submitted))
}

func (r *Relay) publishFinal(seq uint64, text string) {
	if r.deps.Tap == nil {
		return
	}
	r.deps.Tap.EmitFinal(session.Key(r.id, seq), models.TranscriptFinal{
		EventType: "session.transcript.final",
		SessionID: r.id,
		UserID:    r.userId,
		Sequence:  seq,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (r *Relay) publishEnhanced(res enhance.Result, latency time.Duration) {
	if r.deps.Tap == nil {
		return
	}
	r.deps.Tap.EmitEnhanced(session.Key(r.id, res.Seq), models.TranscriptEnhanced{
		EventType:   "session.transcript.enhanced",
		SessionID:   r.id,
		UserID:      r.userId,
		Sequence:    res.Seq,
		SourceText:  res.SourceText,
		Text:        res.EnhancedText,
		LatencyMs:   latency.Milliseconds(),
		Temperature: r.cfg.Temperature,
		Timestamp:   time.Now().UnixMilli(),
	})
}

// enqueue validates msg and queues it for the writer. Only the actor calls
// it, and never after teardown has begun.
func (r *Relay) enqueue(msg models.OutboundMessage) {
	if err := r.deps.Validator.Validate(msg); err != nil {
		r.logger.Error().Err(err).Str("type", msg.Type).Msg("Dropping invalid outbound message")
		return
	}
	r.outbound <- msg
}

func (r *Relay) beginClosing(reason string) {
	if r.lifecycle.BeginClosing(reason) {
		close(r.closing)
		r.logger.Info().Str("reason", reason).Msg("Session closing")
	}
}

// teardown releases everything the session owns, in order: upstream, audio
// pump, enhancement tasks, then the writer, which drains what was already
// queued and closes the client.
func (r *Relay) teardown() {
	if r.transcriber != nil {
		if err := r.transcriber.Close(); err != nil {
			r.logger.Debug().Err(err).Msg("Error closing upstream transcriber")
		}
	}
	r.pumpWG.Wait()

	r.cancelTasks()
	for seq, task := range r.tasks {
		<-task.Done()
		delete(r.tasks, seq)
		delete(r.finals, seq)
		r.outstanding.Add(-1)
	}

	close(r.outbound)
	r.writerWG.Wait()

	if err := r.lifecycle.Close(); err != nil {
		r.logger.Error().Err(err).Msg("Unexpected lifecycle state at teardown")
	}
	reason := r.lifecycle.Reason()
	r.deps.Metrics.RecordSessionEnd(reason, time.Since(r.startedAt).Seconds())
	r.logger.Info().
		Str("reason", reason).
		Dur("duration", time.Since(r.startedAt)).
		Uint64("finals", r.seq.Last()).
		Msg("Session closed")
	close(r.done)
}

// pumpAudio forwards queued audio to the upstream so a slow Send never
// blocks the actor.
func (r *Relay) pumpAudio(tr stt.Transcriber) {
	defer r.pumpWG.Done()
	for {
		select {
		case frame := <-r.audio:
			if err := tr.Send(frame); err != nil {
				select {
				case <-r.closing:
				case r.pumpErr <- err:
				}
				return
			}
		case <-r.closing:
			return
		}
	}
}

// writeLoop is the single writer to the client connection. After a write
// failure it keeps draining without writing so enqueue never blocks.
func (r *Relay) writeLoop() {
	defer r.writerWG.Done()
	var writeErr error
	for msg := range r.outbound {
		if writeErr != nil {
			continue
		}
		if err := r.client.WriteMessage(msg); err != nil {
			writeErr = err
			r.logger.Debug().Err(err).Msg("Client write failed")
			r.requestStop(ReasonClientWriteFailed, fmt.Errorf("%w: %v", ErrClientDisconnected, err))
			continue
		}
		r.deps.Metrics.RecordMessageSent(msg.Type)
	}
	if err := r.client.Close(); err != nil {
		r.logger.Debug().Err(err).Msg("Error closing client connection")
	}
}
