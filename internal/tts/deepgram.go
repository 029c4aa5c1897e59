// Package tts adapts Deepgram's speak websocket to the synthesis contract.
package tts

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"

	"github.com/chadiek/phone-agent/internal/audio"
)

type DeepgramClient struct {
	apiKey     string
	model      string
	sampleRate int
	encoding   string
}

func NewDeepgramClient(apiKey, model string, sampleRate int) *DeepgramClient {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &DeepgramClient{apiKey: apiKey, model: model, sampleRate: sampleRate, encoding: "linear16"}
}

func (d *DeepgramClient) SampleRate() int { return d.sampleRate }

// Synthesize renders the text to linear16 PCM at the client's sample
// rate. Deepgram streams audio over a websocket with no explicit end
// marker, so completion is detected by an idle window after the flush.
func (d *DeepgramClient) Synthesize(ctx context.Context, text string) ([]float32, error) {
	if d.apiKey == "" {
		return nil, fmt.Errorf("deepgram: API key missing")
	}
	if text == "" {
		return nil, nil
	}

	options := &clientinterfaces.WSSpeakOptions{
		Model:      d.model,
		Encoding:   d.encoding,
		SampleRate: d.sampleRate,
	}

	var mu sync.Mutex
	var raw []byte
	var lastRecvUnix int64
	var seenAudio int32

	cb := &speakCallback{onBinary: func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		atomic.StoreInt64(&lastRecvUnix, time.Now().UnixNano())
		atomic.StoreInt32(&seenAudio, 1)
		mu.Lock()
		raw = append(raw, data...)
		mu.Unlock()
		return nil
	}}

	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return nil, fmt.Errorf("deepgram: create ws client: %w", err)
	}

	stopped := false
	stopClient := func() {
		if !stopped {
			stopped = true
			dg.Stop()
		}
	}
	defer stopClient()

	if ok := dg.Connect(); !ok {
		return nil, fmt.Errorf("deepgram: connect failed")
	}

	if err := dg.SpeakWithText(text); err != nil {
		return nil, fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		return nil, fmt.Errorf("deepgram: flush: %w", err)
	}

	idleWindow := 400 * time.Millisecond
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(12 * time.Second)
	for {
		select {
		case <-ctx.Done():
			stopClient()
			return nil, ctx.Err()
		case <-ticker.C:
			if atomic.LoadInt32(&seenAudio) == 1 {
				last := time.Unix(0, atomic.LoadInt64(&lastRecvUnix))
				if time.Since(last) > idleWindow {
					stopClient()
					return d.collect(&mu, &raw)
				}
			}
			if time.Now().After(deadline) {
				stopClient()
				return d.collect(&mu, &raw)
			}
		}
	}
}

func (d *DeepgramClient) collect(mu *sync.Mutex, raw *[]byte) ([]float32, error) {
	mu.Lock()
	b := *raw
	mu.Unlock()
	// A torn final byte can arrive when the stream is cut at the deadline.
	b = b[:len(b)&^1]
	if len(b) == 0 {
		return nil, fmt.Errorf("deepgram: no audio received")
	}
	pcm, err := audio.PCM16FromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}
	return audio.ToFloat32(pcm), nil
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
