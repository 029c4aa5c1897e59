package agent

import (
	"context"
	"time"
)

// Message roles recorded in the conversation history.
const (
	RoleUser  = "user"
	RoleAgent = "assistant"
)

// Message is one turn of the conversation, passed opaquely to the
// dialogue collaborator.
type Message struct {
	Role string
	Text string
}

// Action is the dialogue collaborator's verdict on how the call proceeds.
type Action string

const (
	ActionContinue Action = "continue"
	ActionTransfer Action = "transfer"
	ActionEnd      Action = "end"
)

// Reply is the structured dialogue result. The core never parses
// markers out of natural-language text; adapters do that at their
// boundary if the underlying model can only emit text.
type Reply struct {
	Text   string
	Action Action
}

// Transcriber converts a complete utterance to text. An empty string
// is a valid, meaningful result (no speech detected).
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error)
}

// Dialogue produces the agent's reply for a history whose last message
// is the caller's newest utterance.
type Dialogue interface {
	Respond(ctx context.Context, history []Message) (Reply, error)
}

// Synthesizer renders text as normalized PCM at a fixed output rate.
// Empty text yields empty audio, not an error.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]float32, error)
	SampleRate() int
}

// Telephony drives the call leg itself. Both operations are
// best-effort from the controller's perspective.
type Telephony interface {
	EndCall(ctx context.Context, callSID string) error
	TransferCall(ctx context.Context, callSID string) error
}

// CallSummary is handed to the Recorder when a session retires.
type CallSummary struct {
	CallSID    string
	From       string
	To         string
	Direction  Direction
	Status     string
	Duration   time.Duration
	Transcript string
	StartedAt  time.Time
	EndedAt    time.Time
}

// Recorder persists call records; fire-and-forget from the core's
// perspective, failures are logged not propagated.
type Recorder interface {
	CallStarted(ctx context.Context, s *Session) error
	CallEnded(ctx context.Context, summary CallSummary) error
}
