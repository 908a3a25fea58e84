package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeWAV_HeaderFieldsForGateSegment(t *testing.T) {
	// A typical finalized segment: 0.4s of 16kHz mono 16-bit PCM.
	pcm := make([]byte, 12800)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	wav := EncodeWAV(pcm, 16000)

	if len(wav) != wavHeaderSize+len(pcm) {
		t.Fatalf("total length = %d, want %d", len(wav), wavHeaderSize+len(pcm))
	}

	le := binary.LittleEndian
	if got := le.Uint32(wav[4:8]); got != uint32(wavHeaderSize-8+len(pcm)) {
		t.Errorf("RIFF chunk size = %d, want %d", got, wavHeaderSize-8+len(pcm))
	}
	if got := le.Uint16(wav[22:24]); got != 1 {
		t.Errorf("channel count = %d, want 1 (mono)", got)
	}
	if got := le.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate field = %d, want 16000", got)
	}
	if got := le.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate field = %d, want 32000 (16kHz mono 16-bit)", got)
	}
	if got := le.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data chunk length = %d, want %d", got, len(pcm))
	}
	if !bytes.Equal(wav[wavHeaderSize:], pcm) {
		t.Error("PCM payload does not survive encoding")
	}
}

func TestEncodeWAV_EmptyPCMIsHeaderOnly(t *testing.T) {
	wav := EncodeWAV(nil, 16000)
	if len(wav) != wavHeaderSize {
		t.Fatalf("total length = %d, want bare %d-byte header", len(wav), wavHeaderSize)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != 0 {
		t.Errorf("data chunk length = %d, want 0", got)
	}
}
