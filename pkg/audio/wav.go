// Package audio holds the RTSP ingest pipeline's byte-level plumbing:
// frame alignment, the decoder subprocess supervisor, and the WAV
// container helper used to hand segments to HTTP-based transcription
// backends.
package audio

import "encoding/binary"

// wavHeaderSize is the byte length of a canonical PCM WAV header: the
// RIFF chunk descriptor, the fmt sub-chunk, and the data sub-chunk
// preamble.
const wavHeaderSize = 44

// EncodeWAV wraps raw 16-bit little-endian mono PCM in a minimal WAV
// container for backends that expect a file upload rather than a raw
// body. The container is always mono 16-bit; only the sample rate
// varies.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	const (
		fmtChunkSize  = 16
		pcmFormat     = 1
		channels      = 1
		bitsPerSample = 16
		blockAlign    = channels * bitsPerSample / 8
	)

	out := make([]byte, wavHeaderSize, wavHeaderSize+len(pcm))
	le := binary.LittleEndian

	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], uint32(wavHeaderSize-8+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], fmtChunkSize)
	le.PutUint16(out[20:22], pcmFormat)
	le.PutUint16(out[22:24], channels)
	le.PutUint32(out[24:28], uint32(sampleRate))
	le.PutUint32(out[28:32], uint32(sampleRate*blockAlign))
	le.PutUint16(out[32:34], blockAlign)
	le.PutUint16(out[34:36], bitsPerSample)

	copy(out[36:40], "data")
	le.PutUint32(out[40:44], uint32(len(pcm)))

	return append(out, pcm...)
}
