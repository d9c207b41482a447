// Command audioclient streams a PCM WAV file to the relay over a websocket
// and prints every transcript the relay sends back.
package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"speech-relay-service/internal/models"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// Stream audio in chunks to simulate real-time streaming
// At 8kHz 16-bit mono = 16000 bytes/second
// 100ms chunks = 1600 bytes
const chunkSize = 1600
const chunkIntervalMs = 100

type wavFormat struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
}

func parseWAVHeader(header []byte) (wavFormat, error) {
	if len(header) < wavHeaderSize {
		return wavFormat{}, errors.New("short WAV header")
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return wavFormat{}, errors.New("not a valid WAV file")
	}
	return wavFormat{
		AudioFormat:   binary.LittleEndian.Uint16(header[20:22]),
		Channels:      binary.LittleEndian.Uint16(header[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(header[24:28]),
		BitsPerSample: binary.LittleEndian.Uint16(header[34:36]),
	}, nil
}

func main() {
	audioFile := flag.String("audio", "../../testdata/sample-8khz.wav", "Path to WAV file (16-bit PCM)")
	serverURL := flag.String("server", "ws://localhost:8000/v1/transcribe", "Relay websocket URL")
	token := flag.String("token", "", "Bearer token")
	linger := flag.Duration("linger", 10*time.Second, "How long to wait for transcripts after the audio ends")
	flag.Parse()

	// Open audio file
	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}
	format, err := parseWAVHeader(header)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		format.AudioFormat, format.Channels, format.SampleRate, format.BitsPerSample)
	if format.AudioFormat != 1 { // PCM
		log.Fatal("Only PCM format supported")
	}

	reqHeader := http.Header{}
	if *token != "" {
		reqHeader.Set("Authorization", "Bearer "+*token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, reqHeader)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", *serverURL)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg models.OutboundMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("Read ended: %v", err)
				}
				return
			}
			fmt.Println(describe(msg))
		}
	}()

	audioChunk := make([]byte, chunkSize)
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()

	for {
		n, err := f.Read(audioChunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}

		chunkNum++
		totalBytes += int64(n)
		if err := conn.WriteMessage(websocket.BinaryMessage, audioChunk[:n]); err != nil {
			log.Fatalf("Failed to send frame: %v", err)
		}
		if chunkNum%10 == 0 {
			log.Printf("Sent chunk %d (%d bytes total)", chunkNum, totalBytes)
		}

		// Simulate real-time streaming
		time.Sleep(chunkIntervalMs * time.Millisecond)
	}
	log.Printf("Finished streaming: %d chunks, %d bytes in %v", chunkNum, totalBytes, time.Since(startTime))

	// Give pending enhancements a chance before asking the relay to close.
	select {
	case <-done:
		return
	case <-time.After(*linger):
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
}

func describe(msg models.OutboundMessage) string {
	switch msg.Type {
	case models.TypeTranscription:
		if msg.Final() {
			return "[final]    " + msg.Text
		}
		return "[interim]  " + msg.Text
	case models.TypeEnhanced:
		return "[enhanced] " + msg.Text
	case models.TypeError:
		return "[error]    " + msg.Message
	default:
		return "[" + msg.Type + "]"
	}
}
