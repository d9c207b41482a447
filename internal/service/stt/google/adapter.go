// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"speech-relay-service/internal/service/stt"
)

const eventBuffer = 32

// Provider opens Google streaming recognition sessions over one shared client.
type Provider struct {
	client *speech.Client
}

// New creates a new Google STT provider.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context) (*Provider, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, stt.Unavailable(err)
	}
	return &Provider{client: c}, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "google" }

// Close releases the shared client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Open begins a streaming recognition session and sends the initial config.
func (p *Provider) Open(ctx context.Context, cfg stt.Config) (stt.Transcriber, error) {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := p.client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		return nil, stt.Unavailable(err)
	}

	// Send streaming config as the first message
	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: StreamingConfig(cfg),
		},
	})
	if err != nil {
		cancel()
		return nil, stt.Unavailable(err)
	}

	return newTranscriber(stream, cancel), nil
}

// StreamingConfig maps the provider-neutral options onto Google's config.
// Smart formatting and utterance-end timing have no Google equivalent.
func StreamingConfig(cfg stt.Config) *speechpb.StreamingRecognitionConfig {
	return &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   parseAudioEncoding(cfg.Encoding),
			SampleRateHertz:            int32(cfg.SampleRate),
			AudioChannelCount:          int32(cfg.Channels),
			LanguageCode:               cfg.Language,
			Model:                      googleModel(cfg.Model),
			EnableAutomaticPunctuation: cfg.Punctuate,
		},
		InterimResults: cfg.InterimResults,
	}
}

// googleModel drops model names that belong to other providers.
func googleModel(model string) string {
	switch model {
	case "latest_long", "latest_short", "command_and_search", "phone_call", "video", "default", "telephony", "medical_dictation", "medical_conversation":
		return model
	default:
		return ""
	}
}

// parseAudioEncoding converts a string encoding name to the Google Speech API enum.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

type transcriber struct {
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc
	pipe   *stt.Pipe

	// sendMu serializes stream.Send; the stream allows one sender.
	sendMu sync.Mutex
	closed atomic.Bool
	once   sync.Once
}

func newTranscriber(stream speechpb.Speech_StreamingRecognizeClient, cancel context.CancelFunc) *transcriber {
	t := &transcriber{
		stream: stream,
		cancel: cancel,
		pipe:   stt.NewPipe(eventBuffer),
	}
	go t.listen()
	return t
}

func (t *transcriber) Events() <-chan stt.Event {
	return t.pipe.Events()
}

// Send sends audio bytes to Google Speech-to-Text.
func (t *transcriber) Send(audio []byte) error {
	if t.closed.Load() {
		return stt.ErrInvalidState
	}
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if t.closed.Load() {
		return stt.ErrInvalidState
	}
	return t.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Close ends the streaming session. Cancelling the stream context releases
// a Send blocked on flow control, so Close never waits behind one.
func (t *transcriber) Close() error {
	t.once.Do(func() {
		t.closed.Store(true)
		t.pipe.Stop()
		t.cancel()

		// Wait out any in-flight Send so none outlives Close.
		t.sendMu.Lock()
		t.sendMu.Unlock()
	})
	return nil
}

// listen receives transcript responses from Google and emits events.
func (t *transcriber) listen() {
	defer t.pipe.Finish()
	for {
		resp, err := t.stream.Recv()
		if err != nil {
			if t.pipe.Stopped() || errors.Is(err, io.EOF) {
				return
			}
			t.pipe.Emit(stt.Unrecoverable(fmt.Errorf("google stream lost: %w", err)))
			return
		}

		if st := resp.GetError(); st != nil && st.GetCode() != 0 {
			if !t.pipe.Emit(stt.Transient(fmt.Errorf("google error %d: %s", st.GetCode(), st.GetMessage()))) {
				return
			}
			continue
		}

		for _, r := range resp.GetResults() {
			if len(r.GetAlternatives()) == 0 {
				continue
			}
			text := r.GetAlternatives()[0].GetTranscript()
			ev := stt.Interim(text)
			if r.GetIsFinal() {
				ev = stt.Final(text)
			}
			if !t.pipe.Emit(ev) {
				return
			}
		}
	}
}
