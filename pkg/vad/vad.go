// Package vad wraps a frame-level voice activity detector behind a small
// synchronous interface so the gate's own hangover and trailing-silence
// policy, not the backend's internal smoothing, decides segment
// boundaries.
package vad

import "fmt"

// Backend is implemented by a voice activity detector. ProcessFrame is
// called once per fixed-size PCM frame in stream order; implementations
// must not block and must be safe to call from a single goroutine only.
type Backend interface {
	// ProcessFrame reports the speech probability for one PCM frame.
	ProcessFrame(pcm []int16) (probability float32, err error)
	// Reset clears accumulated detector state, used on stream reconnect.
	Reset() error
	// Close releases backend resources.
	Close() error
}

// Detector gates a Backend's raw probability against a fixed threshold,
// giving the caller a plain voiced/unvoiced verdict per frame. All
// hangover and trailing-silence bridging lives one layer up, in the
// segmenter.
type Detector struct {
	backend   Backend
	threshold float32
}

// NewDetector builds a Detector. threshold must be in (0, 1).
func NewDetector(backend Backend, threshold float32) (*Detector, error) {
	if backend == nil {
		return nil, fmt.Errorf("vad: backend is required")
	}
	if threshold <= 0 || threshold >= 1 {
		return nil, fmt.Errorf("vad: threshold must be in (0, 1), got %v", threshold)
	}
	return &Detector{backend: backend, threshold: threshold}, nil
}

// IsVoiced reports whether the frame's speech probability meets the
// configured threshold.
func (d *Detector) IsVoiced(pcm []int16) (bool, error) {
	prob, err := d.backend.ProcessFrame(pcm)
	if err != nil {
		return false, err
	}
	return prob >= d.threshold, nil
}

func (d *Detector) Reset() error { return d.backend.Reset() }
func (d *Detector) Close() error { return d.backend.Close() }
