package audio

import "github.com/kurogane-voice/yatagarasu-gate/internal/logging"

// FrameAligner accumulates arbitrary-sized byte reads from the decoder
// pipe and emits fixed-size PCM frames on exact sample boundaries. Only
// the single control loop ever touches it, so there is no lock.
type FrameAligner struct {
	frameBytes int
	buf        []byte
	log        logging.Logger
}

// NewFrameAligner builds an aligner that emits frames of exactly
// frameBytes length.
func NewFrameAligner(frameBytes int, log logging.Logger) *FrameAligner {
	if log == nil {
		log = &logging.NoOpLogger{}
	}
	return &FrameAligner{frameBytes: frameBytes, log: log}
}

// Push appends newly read bytes to the internal tail buffer.
func (f *FrameAligner) Push(b []byte) {
	f.buf = append(f.buf, b...)
}

// Next slices one fixed-size frame off the front of the buffer, if
// enough bytes have accumulated. The second return value is false when
// fewer than frameBytes are currently buffered.
func (f *FrameAligner) Next() ([]byte, bool) {
	if len(f.buf) < f.frameBytes {
		return nil, false
	}
	frame := make([]byte, f.frameBytes)
	copy(frame, f.buf[:f.frameBytes])
	f.buf = f.buf[f.frameBytes:]
	return frame, true
}

// Reset discards any partial tail buffer. Called on stream break or
// reconnect so a dropped byte from the old connection never gets spliced
// onto the head of the new one.
func (f *FrameAligner) Reset() {
	if len(f.buf) > 0 {
		f.log.Debug("dropping partial frame tail on stream reset", "bytes", len(f.buf))
	}
	f.buf = nil
}

// Buffered reports how many bytes are currently held in the tail buffer.
func (f *FrameAligner) Buffered() int {
	return len(f.buf)
}
