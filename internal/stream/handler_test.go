package stream

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chadiek/phone-agent/internal/agent"
	"github.com/chadiek/phone-agent/internal/endpoint"
)

type countingSTT struct {
	calls int32
}

func (f *countingSTT) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	return "hello", nil
}

func (f *countingSTT) count() int32 { return atomic.LoadInt32(&f.calls) }

type staticDialogue struct{}

func (staticDialogue) Respond(ctx context.Context, history []agent.Message) (agent.Reply, error) {
	return agent.Reply{Text: "hi there", Action: agent.ActionContinue}, nil
}

type slowSynth struct {
	delay   time.Duration
	samples int
}

func (f *slowSynth) Synthesize(ctx context.Context, text string) ([]float32, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return make([]float32, f.samples), nil
}

func (f *slowSynth) SampleRate() int { return 8000 }

type capturingRecorder struct {
	mu        sync.Mutex
	summaries []agent.CallSummary
}

func (f *capturingRecorder) CallStarted(ctx context.Context, s *agent.Session) error { return nil }

func (f *capturingRecorder) CallEnded(ctx context.Context, summary agent.CallSummary) error {
	f.mu.Lock()
	f.summaries = append(f.summaries, summary)
	f.mu.Unlock()
	return nil
}

func (f *capturingRecorder) awaitSummary(t *testing.T) agent.CallSummary {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		n := len(f.summaries)
		f.mu.Unlock()
		if n > 0 {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.summaries[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session never retired")
	return agent.CallSummary{}
}

type streamRig struct {
	handler  *Handler
	stt      *countingSTT
	synth    *slowSynth
	recorder *capturingRecorder
	server   *httptest.Server
}

func newStreamRig(t *testing.T, synth *slowSynth) *streamRig {
	t.Helper()
	rig := &streamRig{
		stt:      &countingSTT{},
		synth:    synth,
		recorder: &capturingRecorder{},
	}
	cfg := agent.Config{
		STTSampleRate:  16000,
		SpeakingMargin: 50 * time.Millisecond,
		Greeting:       "hello caller",
	}
	orch := agent.NewOrchestrator(cfg, agent.NewRegistry(), endpoint.NewDetector(),
		rig.stt, staticDialogue{}, rig.synth, nil, rig.recorder, nil)
	rig.handler = NewHandler(orch, nil)

	rig.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rig.handler.ServeStream(w, r, "CA1")
	}))
	t.Cleanup(rig.server.Close)
	return rig
}

func dialStream(t *testing.T, rig *streamRig) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(rig.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func mediaFrame(fill byte) string {
	b := make([]byte, 160)
	for i := range b {
		b[i] = fill
	}
	return `{"event":"media","media":{"payload":"` + base64.StdEncoding.EncodeToString(b) + `"}}`
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	ev, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("decode outbound frame: %v", err)
	}
	return ev
}

// Media already queued behind the start event must not reach the
// session before the greeting's suppression window is open. A full
// utterance sent immediately after start is swallowed by the window
// and transcription never runs.
func TestServeStream_NoTurnBeforeGreeting(t *testing.T) {
	// 24000 samples at 8k: a 3s greeting, so every queued frame lands
	// inside the suppression window.
	rig := newStreamRig(t, &slowSynth{delay: 50 * time.Millisecond, samples: 24000})
	conn := dialStream(t, rig)

	sendJSON(t, conn, `{"event":"start","start":{"streamSid":"MZ1","callSid":"CA1"}}`)
	for i := 0; i < 30; i++ {
		sendJSON(t, conn, mediaFrame(0x10))
	}
	for i := 0; i < 20; i++ {
		sendJSON(t, conn, mediaFrame(0xFF))
	}

	ev := readEvent(t, conn)
	if ev.Type != EventMedia || ev.StreamSID != "MZ1" {
		t.Fatalf("first outbound frame = %+v, want greeting media", ev)
	}
	if len(ev.Audio) == 0 {
		t.Fatalf("greeting audio empty")
	}

	// Give the read loop time to drain every queued inbound frame.
	time.Sleep(300 * time.Millisecond)
	if n := rig.stt.count(); n != 0 {
		t.Fatalf("transcription calls = %d before the greeting window expired", n)
	}
}

// After the greeting window passes, an utterance runs exactly one
// pipeline cycle and the reply comes back on the stream.
func TestServeStream_TurnAfterGreetingWindow(t *testing.T) {
	// 80 samples at 8k: a 10ms greeting, window ~60ms with the margin.
	rig := newStreamRig(t, &slowSynth{samples: 80})
	conn := dialStream(t, rig)

	sendJSON(t, conn, `{"event":"start","start":{"streamSid":"MZ1","callSid":"CA1"}}`)

	ev := readEvent(t, conn)
	if ev.Type != EventMedia {
		t.Fatalf("expected greeting media, got %+v", ev)
	}
	if ev = readEvent(t, conn); ev.Type != EventMark {
		t.Fatalf("expected greeting mark, got %+v", ev)
	}

	time.Sleep(150 * time.Millisecond) // let the suppression window lapse

	for i := 0; i < 30; i++ {
		sendJSON(t, conn, mediaFrame(0x10))
	}
	for i := 0; i < 20; i++ {
		sendJSON(t, conn, mediaFrame(0xFF))
	}

	if ev = readEvent(t, conn); ev.Type != EventMedia {
		t.Fatalf("expected reply media, got %+v", ev)
	}
	if n := rig.stt.count(); n != 1 {
		t.Fatalf("transcription calls = %d, want 1", n)
	}
}

func TestServeStream_StopRetiresCompleted(t *testing.T) {
	rig := newStreamRig(t, &slowSynth{samples: 80})
	conn := dialStream(t, rig)

	sendJSON(t, conn, `{"event":"start","start":{"streamSid":"MZ1","callSid":"CA1"}}`)
	sendJSON(t, conn, `{"event":"stop"}`)

	sum := rig.recorder.awaitSummary(t)
	if sum.Status != "completed" {
		t.Fatalf("status = %q after stop, want completed", sum.Status)
	}
}

// A transport drop without a stop event is not a finished call.
func TestServeStream_DisconnectRetiresFailed(t *testing.T) {
	rig := newStreamRig(t, &slowSynth{samples: 80})
	conn := dialStream(t, rig)

	sendJSON(t, conn, `{"event":"start","start":{"streamSid":"MZ1","callSid":"CA1"}}`)
	// Wait for the greeting so the session is registered and active.
	readEvent(t, conn)
	_ = conn.Close()

	sum := rig.recorder.awaitSummary(t)
	if sum.Status != "failed" {
		t.Fatalf("status = %q after disconnect, want failed", sum.Status)
	}
}
