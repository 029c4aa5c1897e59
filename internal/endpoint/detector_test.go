package endpoint

import "testing"

func quietFrame(n int) []byte {
	f := make([]byte, n)
	for i := range f {
		f[i] = 0xFF // mu-law positive zero, inside the silence band
	}
	return f
}

func loudFrame(n int) []byte {
	f := make([]byte, n)
	for i := range f {
		f[i] = 0x10 // large negative magnitude, well outside the band
	}
	return f
}

func TestIsSilent(t *testing.T) {
	d := NewDetector()

	if !d.IsSilent(quietFrame(160)) {
		t.Fatal("all-quiet frame should be silent")
	}
	if d.IsSilent(loudFrame(160)) {
		t.Fatal("loud frame should not be silent")
	}
	// Short frames are never silent regardless of content.
	if d.IsSilent(quietFrame(80)) {
		t.Fatal("frame under MinFrameBytes must not classify silent")
	}
}

// The quiet band must track decoded magnitude, not raw byte order:
// codes just above the sign-bit boundary (0x80 and up) decode to the
// loudest magnitudes in the codec.
func TestIsSilent_BandSemantics(t *testing.T) {
	d := NewDetector()

	for _, code := range []byte{0x78, 0x7F, 0xF8, 0xFF} {
		f := make([]byte, 160)
		for i := range f {
			f[i] = code
		}
		if !d.IsSilent(f) {
			t.Fatalf("near-zero code %#x should classify silent", code)
		}
	}
	for _, code := range []byte{0x00, 0x10, 0x80, 0x84, 0x88, 0xF7, 0x77} {
		f := make([]byte, 160)
		for i := range f {
			f[i] = code
		}
		if d.IsSilent(f) {
			t.Fatalf("loud code %#x should not classify silent", code)
		}
	}
}

func TestIsSilent_RatioBoundary(t *testing.T) {
	d := NewDetector()
	// Exactly 80% quiet is not enough; the count must exceed the ratio.
	f := quietFrame(160)
	for i := 0; i < 32; i++ {
		f[i] = 0x10
	}
	if d.IsSilent(f) {
		t.Fatal("exactly 80% quiet bytes should not be silent")
	}
	f[31] = 0xFF // 129/160 quiet
	if !d.IsSilent(f) {
		t.Fatal("over 80% quiet bytes should be silent")
	}
}

func TestTurnComplete_Thresholds(t *testing.T) {
	d := NewDetector()

	if d.TurnComplete(d.MinTurnBytes, d.SilenceFrames-1) {
		t.Fatal("one frame short of the silence run must not complete")
	}
	if !d.TurnComplete(d.MinTurnBytes, d.SilenceFrames) {
		t.Fatal("silence run at threshold must complete")
	}
	if d.TurnComplete(d.MinTurnBytes-1, d.SilenceFrames) {
		t.Fatal("under the minimum duration must never complete")
	}
	// The hard maximum forces completion with no silence at all.
	if !d.TurnComplete(d.MaxTurnBytes+1, 0) {
		t.Fatal("exceeding the maximum duration must complete")
	}
	if d.TurnComplete(d.MaxTurnBytes, 0) {
		t.Fatal("at the maximum without silence must not complete yet")
	}
}
