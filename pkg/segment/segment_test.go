package segment

import (
	"testing"
	"time"
)

const testSampleRate = 16000
const testChunkMs = 80

// frameBytes mirrors audio.FrameAligner's contract: 80ms @ 16kHz mono
// 16-bit = 1280 samples = 2560 bytes.
const frameBytes = testSampleRate * testChunkMs / 1000 * 2

func silentFrame() []byte {
	return make([]byte, frameBytes)
}

func loudFrame() []byte {
	b := make([]byte, frameBytes)
	for i := 0; i+1 < len(b); i += 2 {
		b[i] = 0xFF
		b[i+1] = 0x7F // int16 max, loud
	}
	return b
}

func TestSegmenter_HangoverBridgesShortGap(t *testing.T) {
	s := NewSegmenter(testSampleRate, testChunkMs)

	s.PushFrame(loudFrame(), true)
	for i := 0; i < VADHangoverFrames-1; i++ {
		if _, done, _ := s.PushFrame(silentFrame(), false); done {
			t.Fatalf("segment finalized too early at silent frame %d", i)
		}
	}
	// Speech resumes within the hangover window: still one segment.
	if _, done, _ := s.PushFrame(loudFrame(), true); done {
		t.Fatal("unexpected finalize on resumed speech")
	}
	if !s.InSegment() {
		t.Fatal("expected segment still open")
	}
}

func TestSegmenter_TrailingSilenceFinalizes(t *testing.T) {
	s := NewSegmenter(testSampleRate, testChunkMs)
	s.PushFrame(loudFrame(), true)

	var seg Segment
	var done bool
	// hangover frames first, then the terminator count.
	for i := 0; i < VADHangoverFrames+SegmentEndSilenceFrames; i++ {
		seg, done, _ = s.PushFrame(silentFrame(), false)
		if done {
			break
		}
	}
	if !done {
		t.Fatal("expected segment to finalize")
	}
	wantFrames := 1 + VADHangoverFrames + SegmentEndSilenceFrames
	if len(seg.PCM) != wantFrames*frameBytes {
		t.Fatalf("got %d bytes, want %d", len(seg.PCM), wantFrames*frameBytes)
	}
	if s.InSegment() {
		t.Fatal("expected segment closed after finalize")
	}
}

func TestSegmenter_NoSpeechNeverOpensSegment(t *testing.T) {
	s := NewSegmenter(testSampleRate, testChunkMs)
	for i := 0; i < 20; i++ {
		if _, done, _ := s.PushFrame(silentFrame(), false); done {
			t.Fatal("unexpected finalize with no speech ever seen")
		}
	}
	if s.InSegment() {
		t.Fatal("expected no segment open")
	}
}

func TestSegment_DurationBoundary(t *testing.T) {
	frames := 2 // 160ms
	seg := Segment{PCM: make([]byte, frames*frameBytes), SampleRate: testSampleRate}
	got := seg.Duration()
	want := 0.16
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSegment_RMSDBFS_SilentFloorsAtMinus120(t *testing.T) {
	seg := Segment{PCM: silentFrame(), SampleRate: testSampleRate}
	if got := seg.RMSDBFS(); got != -120 {
		t.Fatalf("got %v, want -120", got)
	}
}

func TestSegment_RMSDBFS_FullScaleIsNearZero(t *testing.T) {
	seg := Segment{PCM: loudFrame(), SampleRate: testSampleRate}
	got := seg.RMSDBFS()
	if got < -1 || got > 1 {
		t.Fatalf("full-scale tone should be near 0 dBFS, got %v", got)
	}
}

func TestFilter_DurationGateBoundary(t *testing.T) {
	f := NewFilter(FilterConfig{MinSegmentSec: 0.35})

	// Build a segment at exactly min_segment_sec using loud samples so
	// only the duration gate is under test.
	n := int(0.35 * testSampleRate)
	pcm := make([]byte, n*2)
	for i := 0; i+1 < len(pcm); i += 2 {
		pcm[i] = 0xFF
		pcm[i+1] = 0x7F
	}
	atBoundary := Segment{PCM: pcm, SampleRate: testSampleRate}
	if reason := f.Admit(atBoundary, false); reason != DropNone {
		t.Fatalf("expected exact-boundary segment to pass, got drop reason %q", reason)
	}

	shortOne := Segment{PCM: pcm[:len(pcm)-2], SampleRate: testSampleRate}
	if reason := f.Admit(shortOne, false); reason != DropDuration {
		t.Fatalf("expected short segment to drop for duration, got %q", reason)
	}
}

func TestFilter_LoudnessGateDropsQuietSegment(t *testing.T) {
	f := NewFilter(FilterConfig{MinSegmentSec: 0.0})
	n := int(1.0 * testSampleRate)
	pcm := make([]byte, n*2)
	if reason := f.Admit(Segment{PCM: pcm, SampleRate: testSampleRate}, false); reason != DropLoudness {
		t.Fatalf("expected silent segment to drop for loudness, got %q", reason)
	}
}

func TestFilter_OFFCooldownGate(t *testing.T) {
	f := NewFilter(FilterConfig{MinSegmentSec: 0.0, OffTranscribeCooldownS: 10})
	n := int(1.0 * testSampleRate)
	pcm := make([]byte, n*2)
	for i := 0; i+1 < len(pcm); i += 2 {
		pcm[i] = 0xFF
		pcm[i+1] = 0x7F
	}
	seg := Segment{PCM: pcm, SampleRate: testSampleRate}

	f.NoteOFFTranscription(time.Now())
	if reason := f.Admit(seg, true); reason != DropOFFCooldown {
		t.Fatalf("expected cooldown to drop segment right after a transcription, got %q", reason)
	}
	if reason := f.Admit(seg, false); reason != DropNone {
		t.Fatalf("cooldown gate should not apply when state is ON, got %q", reason)
	}
}
