// Package endpoint decides, frame by frame, whether the caller is
// still talking. It works directly on mu-law bytes so no decode is
// needed on the hot path.
package endpoint

// Default thresholds. Tuned for 8kHz mu-law telephony frames
// (Twilio sends 160-byte / 20ms media frames).
const (
	// Mu-law stores the sign in the top bit and inverts the rest, so
	// near-zero magnitudes encode as 0x78-0x7F (negative) and
	// 0xF8-0xFF (positive). A 7-bit code at or above QuietCode decodes
	// to a magnitude of at most 56 out of 32124.
	DefaultQuietCode = 0x78

	// A frame is silent when this fraction of its bytes are quiet.
	DefaultSilenceRatio = 0.8

	// Frames shorter than this carry too little evidence to classify.
	DefaultMinFrameBytes = 100

	// An utterance needs at least this much audio before it can complete.
	DefaultMinTurnBytes = 4000 // 0.5s at 8kHz

	// Hard cap that forces a turn boundary even on noisy lines.
	DefaultMaxTurnBytes = 24000 // 3s at 8kHz

	// Consecutive silent frames that close a turn.
	DefaultSilenceFrames = 15
)

// Detector classifies frames and applies the turn-complete policy.
type Detector struct {
	QuietCode     byte
	SilenceRatio  float64
	MinFrameBytes int
	MinTurnBytes  int
	MaxTurnBytes  int
	SilenceFrames int
}

// NewDetector returns a detector with the default thresholds.
func NewDetector() *Detector {
	return &Detector{
		QuietCode:     DefaultQuietCode,
		SilenceRatio:  DefaultSilenceRatio,
		MinFrameBytes: DefaultMinFrameBytes,
		MinTurnBytes:  DefaultMinTurnBytes,
		MaxTurnBytes:  DefaultMaxTurnBytes,
		SilenceFrames: DefaultSilenceFrames,
	}
}

// IsSilent reports whether the mu-law frame is background silence.
// The sign bit is masked off so positive and negative dither around
// the zero level classify the same.
func (d *Detector) IsSilent(frame []byte) bool {
	if len(frame) < d.MinFrameBytes {
		return false
	}
	quiet := 0
	for _, b := range frame {
		if b&0x7F >= d.QuietCode {
			quiet++
		}
	}
	return float64(quiet) > d.SilenceRatio*float64(len(frame))
}

// TurnComplete reports whether a buffered utterance should be closed.
// Requires the minimum duration, then either a long enough silence run
// or the hard maximum, whichever comes first.
func (d *Detector) TurnComplete(bufferedBytes, silentRun int) bool {
	if bufferedBytes < d.MinTurnBytes {
		return false
	}
	return silentRun >= d.SilenceFrames || bufferedBytes > d.MaxTurnBytes
}
