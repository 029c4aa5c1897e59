package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chadiek/phone-agent/internal/audio"
	"github.com/chadiek/phone-agent/internal/endpoint"
	"github.com/chadiek/phone-agent/internal/metrics"
)

// Pipeline stage labels, shared with the metrics instruments.
const (
	stageTranscription = "transcription"
	stageDialogue      = "dialogue"
	stageSynthesis     = "synthesis"
)

// Config holds the orchestrator's tunables. The transcription sample
// rate is an explicit contract parameter, not a constant: the speech
// model's required rate differs per provider.
type Config struct {
	STTSampleRate  int
	SpeakingMargin time.Duration
	Greeting       string
}

// DefaultConfig returns the rates and margins used in production.
func DefaultConfig() Config {
	return Config{
		STTSampleRate:  16000,
		SpeakingMargin: time.Second,
		Greeting:       "Hello, thanks for calling! How can I help you today?",
	}
}

// Orchestrator wires the codec, endpointing, session registry and the
// external collaborators into the per-call turn pipeline.
type Orchestrator struct {
	cfg      Config
	registry *Registry
	detector *endpoint.Detector
	stt      Transcriber
	dialogue Dialogue
	synth    Synthesizer
	phone    Telephony
	recorder Recorder
	log      *zap.Logger

	hangupMu sync.Mutex
	hangups  map[string]*time.Timer
}

func NewOrchestrator(
	cfg Config,
	registry *Registry,
	detector *endpoint.Detector,
	stt Transcriber,
	dialogue Dialogue,
	synth Synthesizer,
	phone Telephony,
	recorder Recorder,
	log *zap.Logger,
) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		detector: detector,
		stt:      stt,
		dialogue: dialogue,
		synth:    synth,
		phone:    phone,
		recorder: recorder,
		log:      log,
		hangups:  make(map[string]*time.Timer),
	}
}

// Registry exposes the injected session store.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// StartCall creates (or finds) the session for a call and records the
// start. Safe to call from both the webhook and the stream handler;
// whichever arrives first wins and the other sees the same session.
func (o *Orchestrator) StartCall(ctx context.Context, callSID, from, to string, dir Direction) *Session {
	s, created := o.registry.Start(callSID, from, to, dir)
	if !created {
		return s
	}
	metrics.CallsStarted.Inc()
	o.log.Info("call session started",
		zap.String("call_sid", callSID),
		zap.String("from", from),
		zap.String("direction", string(dir)))
	if o.recorder != nil {
		if err := o.recorder.CallStarted(ctx, s); err != nil {
			o.log.Warn("call record insert failed", zap.String("call_sid", callSID), zap.Error(err))
		}
	}
	return s
}

// Absorb feeds one inbound frame through the session's turn machine.
func (o *Orchestrator) Absorb(s *Session, frame []byte) ([]byte, bool) {
	return s.AbsorbFrame(frame, o.detector)
}

// Greeting synthesizes the opening line and opens the echo-suppression
// window, exactly as for a normal reply, so the caller's audio during
// the greeting is suppressed identically. Returns outbound mu-law.
func (o *Orchestrator) Greeting(ctx context.Context, s *Session) ([]byte, error) {
	out, dur, err := o.renderSpeech(ctx, s, o.cfg.Greeting)
	if err != nil {
		return nil, fmt.Errorf("greeting: %w", err)
	}
	o.log.Info("greeting rendered",
		zap.String("call_sid", s.CallSID),
		zap.Duration("audio", dur))
	return out, nil
}

// RunTurn drives one completed utterance through the
// decode -> transcribe -> respond -> synthesize -> encode pipeline and
// returns the outbound mu-law audio, or nil when the turn yields no
// reply. Collaborator failures degrade to no reply; the call stays
// open and listening resumes. The caller delivers the audio and then
// calls FinishTurn on the session.
func (o *Orchestrator) RunTurn(ctx context.Context, s *Session, raw []byte) ([]byte, error) {
	log := o.log.With(zap.String("call_sid", s.CallSID))

	pcm := audio.DecodeMulaw(raw)
	in := audio.Resample(audio.ToFloat32(pcm), audio.LineRate, o.cfg.STTSampleRate)

	done := metrics.Time(stageTranscription)
	text, err := o.stt.Transcribe(ctx, in, o.cfg.STTSampleRate)
	done()
	if err != nil {
		s.RecordFailure()
		metrics.TurnFailures.WithLabelValues(stageTranscription).Inc()
		return nil, fmt.Errorf("transcription: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		// No speech detected; not a failure.
		log.Debug("utterance transcribed empty", zap.Int("mulaw_bytes", len(raw)))
		return nil, nil
	}
	log.Info("utterance transcribed", zap.String("text", text))

	s.AppendMessage(Message{Role: RoleUser, Text: text})

	done = metrics.Time(stageDialogue)
	reply, err := o.dialogue.Respond(ctx, s.History())
	done()
	if err != nil {
		s.RecordFailure()
		metrics.TurnFailures.WithLabelValues(stageDialogue).Inc()
		return nil, fmt.Errorf("dialogue: %w", err)
	}
	reply.Text = strings.TrimSpace(reply.Text)
	if reply.Text == "" {
		return nil, nil
	}
	s.AppendMessage(Message{Role: RoleAgent, Text: reply.Text})

	out, dur, err := o.renderSpeech(ctx, s, reply.Text)
	if err != nil {
		s.RecordFailure()
		metrics.TurnFailures.WithLabelValues(stageSynthesis).Inc()
		return nil, fmt.Errorf("synthesis: %w", err)
	}
	s.ResetFailures()
	metrics.Turns.Inc()
	log.Info("reply rendered",
		zap.String("action", string(reply.Action)),
		zap.Duration("audio", dur))

	switch reply.Action {
	case ActionEnd:
		// Let the farewell play out before hanging up.
		o.scheduleHangup(s.CallSID, dur+o.cfg.SpeakingMargin)
	case ActionTransfer:
		if o.phone != nil {
			if terr := o.phone.TransferCall(ctx, s.CallSID); terr != nil {
				log.Warn("transfer failed", zap.Error(terr))
			}
		}
	}
	return out, nil
}

// renderSpeech synthesizes text, resamples it to the line rate,
// encodes mu-law, and opens the suppression window atomically with
// producing the audio so no inbound window exists where the agent
// could hear itself.
func (o *Orchestrator) renderSpeech(ctx context.Context, s *Session, text string) ([]byte, time.Duration, error) {
	done := metrics.Time(stageSynthesis)
	samples, err := o.synth.Synthesize(ctx, text)
	done()
	if err != nil {
		return nil, 0, err
	}
	if len(samples) == 0 {
		return nil, 0, nil
	}
	line := audio.Resample(samples, o.synth.SampleRate(), audio.LineRate)
	out := audio.EncodeMulaw(audio.FromFloat32(line))
	dur := audio.Duration(len(out), audio.LineRate)
	s.BeginSpeaking(dur + o.cfg.SpeakingMargin)
	return out, dur, nil
}

// scheduleHangup arms a cancellable per-call timer that terminates the
// call leg and retires the session once the farewell has played.
func (o *Orchestrator) scheduleHangup(callSID string, delay time.Duration) {
	o.hangupMu.Lock()
	defer o.hangupMu.Unlock()
	if _, armed := o.hangups[callSID]; armed {
		return
	}
	o.hangups[callSID] = time.AfterFunc(delay, func() {
		o.hangupMu.Lock()
		delete(o.hangups, callSID)
		o.hangupMu.Unlock()

		s, ok := o.registry.Get(callSID)
		if !ok {
			// Session retired independently; hangup is a no-op.
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if o.phone != nil {
			if err := o.phone.EndCall(ctx, callSID); err != nil {
				o.log.Warn("hangup failed", zap.String("call_sid", callSID), zap.Error(err))
			}
		}
		o.Retire(ctx, s, "completed", "dialogue ended call")
	})
	o.log.Info("hangup scheduled", zap.String("call_sid", callSID), zap.Duration("delay", delay))
}

// cancelHangup disarms a pending delayed hangup, if any.
func (o *Orchestrator) cancelHangup(callSID string) {
	o.hangupMu.Lock()
	if t, ok := o.hangups[callSID]; ok {
		t.Stop()
		delete(o.hangups, callSID)
	}
	o.hangupMu.Unlock()
}

// Retire removes the session from the registry, finalizes it, and
// persists whatever transcript was accumulated. Idempotent; safe to
// call from the stream handler, status webhook, and hangup timer.
func (o *Orchestrator) Retire(ctx context.Context, s *Session, status, reason string) {
	o.cancelHangup(s.CallSID)
	o.registry.Remove(s.CallSID)
	if !s.End() {
		return
	}
	dur := s.EndedAt().Sub(s.StartedAt)
	metrics.CallsEnded.WithLabelValues(status).Inc()
	o.log.Info("call session retired",
		zap.String("call_sid", s.CallSID),
		zap.String("status", status),
		zap.String("reason", reason),
		zap.Duration("duration", dur))

	if o.recorder == nil {
		return
	}
	summary := CallSummary{
		CallSID:    s.CallSID,
		From:       s.From,
		To:         s.To,
		Direction:  s.Direction,
		Status:     status,
		Duration:   dur,
		Transcript: s.Transcript(),
		StartedAt:  s.StartedAt,
		EndedAt:    s.EndedAt(),
	}
	if err := o.recorder.CallEnded(ctx, summary); err != nil {
		o.log.Warn("call record persist failed", zap.String("call_sid", s.CallSID), zap.Error(err))
	}
}
