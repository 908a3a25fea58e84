// Package segment turns a stream of (frame, is_speech) pairs into
// bounded speech segments and gates them before transcription.
package segment

import "math"

// Fixed constants, not configurable.
const (
	SegmentEndSilenceFrames = 5
	VADHangoverFrames       = 6
	MinTranscribeRMSDBFS    = -50.0
)

// Segment is an append-only byte buffer of consecutive frames that
// began on a speech frame and ended after the trailing-silence
// terminator fired.
type Segment struct {
	PCM        []byte
	SampleRate int
	ChunkMs    int
}

// Duration reports the segment's length in seconds, derived from byte
// length rather than a stored frame count.
func (s Segment) Duration() float64 {
	samples := len(s.PCM) / 2
	return float64(samples) / float64(s.SampleRate)
}

// RMSDBFS computes loudness in dBFS: 20*log10(sqrt(mean(x^2))) with x
// in [-1, 1], floored at -120 when the signal is effectively silent.
func (s Segment) RMSDBFS() float64 {
	n := len(s.PCM) / 2
	if n == 0 {
		return -120
	}
	var sumSquares float64
	for i := 0; i+1 < len(s.PCM); i += 2 {
		sample := int16(uint16(s.PCM[i]) | uint16(s.PCM[i+1])<<8)
		x := float64(sample) / 32768.0
		sumSquares += x * x
	}
	rms := math.Sqrt(sumSquares / float64(n))
	if rms <= 1e-9 {
		return -120
	}
	return 20 * math.Log10(rms)
}

// Segmenter accumulates frames into segments using a hangover policy
// that bridges brief sub-threshold dips inside a phrase, and a
// trailing-silence terminator that closes the segment once silence has
// been sustained.
type Segmenter struct {
	sampleRate int
	chunkMs    int

	inSegment             bool
	trailingSilenceFrames int
	hangoverRemaining     int
	buf                   []byte
}

// NewSegmenter builds a Segmenter for frames at the given sample rate
// and chunk duration.
func NewSegmenter(sampleRate, chunkMs int) *Segmenter {
	return &Segmenter{sampleRate: sampleRate, chunkMs: chunkMs}
}

// PushFrame feeds one frame's PCM bytes and speech verdict. It returns
// a finalized Segment and true when the trailing-silence terminator
// fires this call, plus a countsAsVoice flag: true when this frame is
// either direct speech or hangover-bridged silence, the two cases that
// should reset the shared last-voice timer the state machine's idle
// checks depend on.
func (s *Segmenter) PushFrame(pcm []byte, speech bool) (seg Segment, finalized bool, countsAsVoice bool) {
	switch {
	case speech:
		s.inSegment = true
		s.trailingSilenceFrames = 0
		s.buf = append(s.buf, pcm...)
		s.hangoverRemaining = VADHangoverFrames
		return Segment{}, false, true

	case s.inSegment && s.hangoverRemaining > 0:
		s.hangoverRemaining--
		s.buf = append(s.buf, pcm...)
		s.trailingSilenceFrames = 0
		return Segment{}, false, true

	case s.inSegment:
		s.buf = append(s.buf, pcm...)
		s.trailingSilenceFrames++
		if s.trailingSilenceFrames >= SegmentEndSilenceFrames {
			seg, finalized = s.finalize()
			return seg, finalized, false
		}
		return Segment{}, false, false

	default:
		return Segment{}, false, false
	}
}

// InSegment reports whether a segment is currently accumulating.
func (s *Segmenter) InSegment() bool {
	return s.inSegment
}

// FinalizeNow force-closes an in-progress segment, used for the
// shutdown flush. No-op if not currently in a segment.
func (s *Segmenter) FinalizeNow() (Segment, bool) {
	if !s.inSegment {
		return Segment{}, false
	}
	return s.finalize()
}

func (s *Segmenter) finalize() (Segment, bool) {
	seg := Segment{PCM: s.buf, SampleRate: s.sampleRate, ChunkMs: s.chunkMs}
	s.reset()
	return seg, true
}

// Reset clears all in-progress segment state, used on stream
// reconnects.
func (s *Segmenter) Reset() {
	s.reset()
}

func (s *Segmenter) reset() {
	s.inSegment = false
	s.trailingSilenceFrames = 0
	s.hangoverRemaining = 0
	s.buf = nil
}
