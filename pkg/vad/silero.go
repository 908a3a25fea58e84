package vad

import (
	"fmt"

	"github.com/streamer45/silero-vad-go/speech"
)

// silenceHangoverMs is kept small: the gate's own segmenter owns the
// real hangover/trailing-silence policy, so the library's internal
// smoothing is limited to a 30 ms window.
const (
	silenceHangoverMs = 30
	speechPadMs       = 0
)

// SileroBackend adapts streamer45/silero-vad-go's streaming detector to
// the Backend interface. The underlying detector emits segment
// start/end events rather than a per-window probability, so this type
// tracks voiced state from those events and reports 1.0/0.0 to the
// threshold gate in Detector.
type SileroBackend struct {
	detector *speech.Detector
	voiced   bool
}

// NewSileroBackend loads the ONNX model at modelPath and configures the
// detector for the given sample rate and threshold.
func NewSileroBackend(modelPath string, sampleRate int, threshold float32) (*SileroBackend, error) {
	detector, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            modelPath,
		SampleRate:           sampleRate,
		Threshold:            threshold,
		MinSilenceDurationMs: silenceHangoverMs,
		SpeechPadMs:          speechPadMs,
	})
	if err != nil {
		return nil, fmt.Errorf("vad: loading silero model: %w", err)
	}
	return &SileroBackend{detector: detector}, nil
}

// ProcessFrame feeds one PCM frame into the streaming detector and
// returns 1.0 if voiced state is active after this frame, else 0.0.
// Segment events that start or end within this frame update the voiced
// state before it is reported.
func (s *SileroBackend) ProcessFrame(pcm []int16) (float32, error) {
	samples := make([]float32, len(pcm))
	for i, v := range pcm {
		samples[i] = float32(v) / 32768.0
	}

	segments, err := s.detector.Detect(samples)
	if err != nil {
		return 0, fmt.Errorf("vad: detect: %w", err)
	}

	for _, seg := range segments {
		if seg.SpeechEndAt == 0 {
			s.voiced = true
		} else {
			s.voiced = false
		}
	}

	if s.voiced {
		return 1.0, nil
	}
	return 0.0, nil
}

func (s *SileroBackend) Reset() error {
	return s.detector.Reset()
}

func (s *SileroBackend) Close() error {
	return s.detector.Destroy()
}
