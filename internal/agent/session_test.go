package agent

import (
	"testing"
	"time"

	"github.com/chadiek/phone-agent/internal/endpoint"
)

func speechFrame() []byte {
	b := make([]byte, 160)
	for i := range b {
		b[i] = 0x10
	}
	return b
}

func silenceFrame() []byte {
	b := make([]byte, 160)
	for i := range b {
		b[i] = 0xFF
	}
	return b
}

// feed pushes frames through the session and returns the first ready
// snapshot, or nil when no turn completed.
func feed(s *Session, det *endpoint.Detector, frames ...[]byte) []byte {
	for _, f := range frames {
		if snap, ready := s.AbsorbFrame(f, det); ready {
			return snap
		}
	}
	return nil
}

func repeat(frame []byte, n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = frame
	}
	return out
}

func TestAbsorbFrame_TurnCompletesAfterSilence(t *testing.T) {
	det := endpoint.NewDetector()
	s := newSession("CA1", "+15550001", "+15550002", DirectionInbound)
	s.Activate()

	frames := append(repeat(speechFrame(), 25), repeat(silenceFrame(), 15)...)
	snap := feed(s, det, frames...)
	if snap == nil {
		t.Fatalf("expected turn to complete after sustained silence")
	}
	if len(snap) != 40*160 {
		t.Fatalf("snapshot size = %d, want %d", len(snap), 40*160)
	}
	if s.BufferedBytes() != 0 {
		t.Fatalf("buffer not cleared after snapshot: %d bytes", s.BufferedBytes())
	}
	if s.SilentFrames() != 0 {
		t.Fatalf("silent run not cleared after snapshot: %d", s.SilentFrames())
	}
	if got := s.State(); got != StateProcessing {
		t.Fatalf("state = %q, want %q", got, StateProcessing)
	}
}

func TestAbsorbFrame_ShortUtteranceDoesNotComplete(t *testing.T) {
	det := endpoint.NewDetector()
	s := newSession("CA1", "", "", DirectionInbound)
	s.Activate()

	// Under the minimum buffered bytes, any amount of silence is not a turn.
	frames := append(repeat(speechFrame(), 10), repeat(silenceFrame(), 30)...)
	if snap := feed(s, det, frames...); snap != nil {
		t.Fatalf("turn completed on sub-minimum utterance")
	}
}

func TestAbsorbFrame_EchoSuppressionWindow(t *testing.T) {
	det := endpoint.NewDetector()
	s := newSession("CA1", "", "", DirectionInbound)
	s.Activate()

	base := time.Now()
	s.now = func() time.Time { return base }

	s.BeginSpeaking(time.Second)

	if _, ready := s.AbsorbFrame(speechFrame(), det); ready {
		t.Fatalf("turn completed from a suppressed frame")
	}
	if s.BufferedBytes() != 0 {
		t.Fatalf("suppressed frame was buffered: %d bytes", s.BufferedBytes())
	}

	// Window expires: the next frame opens a fresh listening window.
	s.now = func() time.Time { return base.Add(2 * time.Second) }
	if _, ready := s.AbsorbFrame(speechFrame(), det); ready {
		t.Fatalf("single frame should not complete a turn")
	}
	if s.BufferedBytes() != 160 {
		t.Fatalf("buffered = %d after window expiry, want 160", s.BufferedBytes())
	}
	if !s.SpeakingUntil().IsZero() {
		t.Fatalf("suppression deadline not cleared on expiry")
	}
}

func TestAbsorbFrame_FreshWindowDropsStaleBuffer(t *testing.T) {
	det := endpoint.NewDetector()
	s := newSession("CA1", "", "", DirectionInbound)
	s.Activate()

	base := time.Now()
	s.now = func() time.Time { return base }

	feed(s, det, repeat(speechFrame(), 10)...)
	if s.BufferedBytes() == 0 {
		t.Fatalf("setup: expected buffered audio")
	}

	s.BeginSpeaking(time.Second)
	s.now = func() time.Time { return base.Add(2 * time.Second) }

	s.AbsorbFrame(silenceFrame(), det)
	if s.BufferedBytes() != 160 {
		t.Fatalf("stale buffer survived window expiry: %d bytes", s.BufferedBytes())
	}
	if s.SilentFrames() != 1 {
		t.Fatalf("silent run = %d, want 1", s.SilentFrames())
	}
}

func TestAbsorbFrame_MutualExclusion(t *testing.T) {
	det := endpoint.NewDetector()
	s := newSession("CA1", "", "", DirectionInbound)
	s.Activate()

	frames := append(repeat(speechFrame(), 25), repeat(silenceFrame(), 15)...)
	if snap := feed(s, det, frames...); snap == nil {
		t.Fatalf("setup: first turn did not complete")
	}
	if !s.TurnInProgress() {
		t.Fatalf("turn flag not set after snapshot")
	}

	// A full second utterance arrives while the pipeline is running:
	// it accumulates but never triggers a second snapshot.
	if snap := feed(s, det, frames...); snap != nil {
		t.Fatalf("second turn completed while one was in flight")
	}
	if s.BufferedBytes() == 0 {
		t.Fatalf("frames during processing were not accumulated")
	}

	s.FinishTurn()
	if s.TurnInProgress() {
		t.Fatalf("turn flag not cleared by FinishTurn")
	}

	// With the flag released, one more silent frame re-evaluates the
	// policy against the accumulated buffer.
	if snap := feed(s, det, silenceFrame()); snap == nil {
		t.Fatalf("accumulated utterance did not complete after FinishTurn")
	}
}

func TestBeginSpeaking_MonotonicDeadline(t *testing.T) {
	s := newSession("CA1", "", "", DirectionInbound)
	base := time.Now()
	s.now = func() time.Time { return base }

	s.BeginSpeaking(2 * time.Second)
	want := s.SpeakingUntil()
	s.BeginSpeaking(1 * time.Second)
	if got := s.SpeakingUntil(); !got.Equal(want) {
		t.Fatalf("deadline moved backwards: %v -> %v", want, got)
	}
	s.BeginSpeaking(3 * time.Second)
	if got := s.SpeakingUntil(); !got.After(want) {
		t.Fatalf("deadline did not extend: %v", got)
	}
}

func TestEnd_Idempotent(t *testing.T) {
	det := endpoint.NewDetector()
	s := newSession("CA1", "", "", DirectionInbound)
	s.Activate()

	if !s.End() {
		t.Fatalf("first End returned false")
	}
	if s.End() {
		t.Fatalf("second End returned true")
	}
	if s.Status() != StatusEnded {
		t.Fatalf("status = %q, want %q", s.Status(), StatusEnded)
	}
	if _, ready := s.AbsorbFrame(speechFrame(), det); ready {
		t.Fatalf("ended session absorbed a frame")
	}
}

func TestSessionClock_DrivesAllTimestamps(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newSessionWithClock("CA1", "", "", DirectionInbound, func() time.Time { return base })

	if !s.StartedAt.Equal(base) {
		t.Fatalf("StartedAt = %v, want clock time %v", s.StartedAt, base)
	}
	s.End()
	if !s.EndedAt().Equal(base) {
		t.Fatalf("EndedAt = %v, want clock time %v", s.EndedAt(), base)
	}
	if d := s.EndedAt().Sub(s.StartedAt); d != 0 {
		t.Fatalf("duration = %v under a frozen clock", d)
	}
}

func TestTranscript_Format(t *testing.T) {
	s := newSession("CA1", "", "", DirectionInbound)
	s.AppendMessage(Message{Role: RoleUser, Text: "hello"})
	s.AppendMessage(Message{Role: RoleAgent, Text: "hi there"})

	want := "User: hello\nAgent: hi there"
	if got := s.Transcript(); got != want {
		t.Fatalf("transcript = %q, want %q", got, want)
	}
}

func TestRegistry_StartIdempotent(t *testing.T) {
	r := NewRegistry()

	a, created := r.Start("CA1", "+1", "+2", DirectionInbound)
	if !created {
		t.Fatalf("first Start reported existing session")
	}
	b, created := r.Start("CA1", "+9", "+9", DirectionOutbound)
	if created {
		t.Fatalf("second Start created a duplicate")
	}
	if a != b {
		t.Fatalf("second Start returned a different session")
	}
	if b.From != "+1" || b.Direction != DirectionInbound {
		t.Fatalf("duplicate Start overwrote session fields")
	}
	if r.Active() != 1 {
		t.Fatalf("active = %d, want 1", r.Active())
	}

	if _, ok := r.Remove("CA1"); !ok {
		t.Fatalf("Remove did not find the session")
	}
	if _, ok := r.Get("CA1"); ok {
		t.Fatalf("session still present after Remove")
	}
}
