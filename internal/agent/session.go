package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/chadiek/phone-agent/internal/endpoint"
)

// Direction of the call leg, immutable after session creation.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Session lifecycle status.
type Status string

const (
	StatusInitiated Status = "initiated"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
)

// Turn-taking states.
const (
	StateListening  = "listening"
	StateBuffering  = "buffering"
	StateProcessing = "processing"
	StateSpeaking   = "speaking"
	StateEnded      = "ended"
)

// Turn-taking events.
const (
	eventFrame    = "frame"
	eventComplete = "complete"
	eventReply    = "reply"
	eventResume   = "resume"
	eventHangup   = "hangup"
)

func newTurnFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateListening,
		fsm.Events{
			{Name: eventFrame, Src: []string{StateListening, StateBuffering}, Dst: StateBuffering},
			{Name: eventComplete, Src: []string{StateBuffering}, Dst: StateProcessing},
			{Name: eventReply, Src: []string{StateProcessing}, Dst: StateSpeaking},
			{Name: eventResume, Src: []string{StateSpeaking, StateProcessing, StateBuffering}, Dst: StateListening},
			{Name: eventHangup, Src: []string{StateListening, StateBuffering, StateProcessing, StateSpeaking}, Dst: StateEnded},
		}, nil,
	)
}

// Session is the mutable record of one call: buffers, history,
// counters, timestamps. It is owned by the Registry for its lifetime
// and mutated only under its own mutex.
type Session struct {
	CallSID   string
	From      string
	To        string
	Direction Direction
	StartedAt time.Time

	mu             sync.Mutex
	turn           *fsm.FSM
	status         Status
	history        []Message
	inbound        []byte
	silentFrames   int
	turnInProgress bool
	speakingUntil  time.Time
	endedAt        time.Time
	failures       int

	now func() time.Time // swapped in tests
}

func newSession(callSID, from, to string, dir Direction) *Session {
	return newSessionWithClock(callSID, from, to, dir, time.Now)
}

// newSessionWithClock lets tests pin every session timestamp,
// StartedAt included, to one time source.
func newSessionWithClock(callSID, from, to string, dir Direction, clock func() time.Time) *Session {
	return &Session{
		CallSID:   callSID,
		From:      from,
		To:        to,
		Direction: dir,
		StartedAt: clock(),
		turn:      newTurnFSM(),
		status:    StatusInitiated,
		now:       clock,
	}
}

// Activate marks the session live once the media stream is up.
func (s *Session) Activate() {
	s.mu.Lock()
	if s.status == StatusInitiated {
		s.status = StatusActive
	}
	s.mu.Unlock()
}

// AbsorbFrame feeds one inbound mu-law frame through the turn-taking
// machine. While the agent is speaking the frame is discarded. When
// the turn-complete policy fires and no turn is already in flight, the
// buffered utterance is snapshotted, the buffer cleared, and
// (snapshot, true) returned; the caller must run the pipeline and then
// call FinishTurn.
func (s *Session) AbsorbFrame(frame []byte, det *endpoint.Detector) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusEnded || len(frame) == 0 {
		return nil, false
	}

	if !s.speakingUntil.IsZero() {
		if s.now().Before(s.speakingUntil) {
			// Echo suppression: our own audio is still playing.
			return nil, false
		}
		// Fresh listening window.
		s.speakingUntil = time.Time{}
		s.inbound = s.inbound[:0]
		s.silentFrames = 0
		if s.turn.Current() == StateBuffering {
			_ = s.turn.Event(context.Background(), eventResume)
		}
	}

	s.inbound = append(s.inbound, frame...)
	if det.IsSilent(frame) {
		s.silentFrames++
	} else {
		s.silentFrames = 0
	}
	if s.turn.Current() == StateListening {
		_ = s.turn.Event(context.Background(), eventFrame)
	}

	if !s.turnInProgress && det.TurnComplete(len(s.inbound), s.silentFrames) {
		s.turnInProgress = true
		snapshot := make([]byte, len(s.inbound))
		copy(snapshot, s.inbound)
		s.inbound = s.inbound[:0]
		s.silentFrames = 0
		_ = s.turn.Event(context.Background(), eventComplete)
		return snapshot, true
	}
	return nil, false
}

// BeginSpeaking opens (or extends) the echo-suppression window. The
// deadline is monotonically non-decreasing until it is cleared by a
// fresh listening window.
func (s *Session) BeginSpeaking(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until := s.now().Add(d)
	if until.After(s.speakingUntil) {
		s.speakingUntil = until
	}
	if s.turn.Current() == StateProcessing {
		_ = s.turn.Event(context.Background(), eventReply)
		// Suppression is time-based, not a blocking wait.
		_ = s.turn.Event(context.Background(), eventResume)
	}
}

// FinishTurn releases the mutual-exclusion flag after the pipeline
// result (if any) has been delivered to the transport.
func (s *Session) FinishTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnInProgress = false
	if s.turn.Current() == StateProcessing {
		_ = s.turn.Event(context.Background(), eventResume)
	}
}

// TurnInProgress reports whether a pipeline cycle is outstanding.
func (s *Session) TurnInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnInProgress
}

// SpeakingUntil returns the echo-suppression deadline (zero when clear).
func (s *Session) SpeakingUntil() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speakingUntil
}

// BufferedBytes reports the inbound buffer size; used by tests and logs.
func (s *Session) BufferedBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inbound)
}

// SilentFrames reports the current consecutive-silent-frame run.
func (s *Session) SilentFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.silentFrames
}

// State returns the current turn-taking state.
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn.Current()
}

// Status returns the lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// AppendMessage adds one turn to the conversation history.
func (s *Session) AppendMessage(m Message) {
	s.mu.Lock()
	s.history = append(s.history, m)
	s.mu.Unlock()
}

// History returns a copy of the conversation so collaborators can't
// race the session's own appends.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// RecordFailure bumps the consecutive pipeline failure counter and
// returns the new count. Reset by ResetFailures on any successful turn.
func (s *Session) RecordFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	return s.failures
}

// ResetFailures clears the consecutive failure counter.
func (s *Session) ResetFailures() {
	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()
}

// Transcript renders the history in the flat form persisted with the
// call record.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for i, m := range s.history {
		if i > 0 {
			b.WriteByte('\n')
		}
		switch m.Role {
		case RoleUser:
			b.WriteString("User: ")
		default:
			b.WriteString("Agent: ")
		}
		b.WriteString(m.Text)
	}
	return b.String()
}

// End marks the session terminated. Returns false if it already was,
// so retirement stays idempotent. An in-flight pipeline may still
// finish; its result is discarded because the transport is gone.
func (s *Session) End() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusEnded {
		return false
	}
	s.status = StatusEnded
	s.endedAt = s.now()
	_ = s.turn.Event(context.Background(), eventHangup)
	return true
}

// EndedAt returns the retirement timestamp (zero while live).
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}
