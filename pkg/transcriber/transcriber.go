// Package transcriber provides a backend-agnostic speech-to-text
// façade that supplies anti-hallucination parameters for a general ASR
// backend and segment splitting for a domain-tuned one.
package transcriber

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kurogane-voice/yatagarasu-gate/internal/logging"
)

// MaxSegmentSec bounds a single transcription call: segments longer
// than this are split for the domain-tuned backend.
const MaxSegmentSec = 28

// Params carries the request-shaped options a Backend needs for one
// transcription call. Not every backend honors every field.
type Params struct {
	BeamSize                  int
	BestOf                    int
	ConditionOnPreviousText   bool
	NoSpeechThreshold         float64
	LogProbThreshold          float64
	CompressionRatioThreshold float64
	Temperature               []float64
	Language                  string
	InitialPrompt             string
	Hotwords                  string
}

// Backend performs one transcription call against raw PCM samples
// already decoded to float32 in [-1, 1].
type Backend interface {
	Transcribe(ctx context.Context, pcm []float32, sampleRate int, params Params) (string, error)
	Name() string
}

// Config holds the façade's tunables, mirroring the recognized
// configuration keys.
type Config struct {
	ConfiguredBeamSize int
	Language           string
	WakeWords          []string
	StopWords          []string
}

// Facade dispatches to whichever Backend was selected at init,
// applying the general backend's two-pass retry or the domain
// backend's long-segment splitting as appropriate.
type Facade struct {
	backend   Backend
	isGeneral bool
	cfg       Config
	log       logging.Logger
}

// New builds a Facade. isGeneral selects the two-pass retry path; when
// false, the long-segment splitting path is used instead.
func New(backend Backend, isGeneral bool, cfg Config, log logging.Logger) *Facade {
	if log == nil {
		log = &logging.NoOpLogger{}
	}
	return &Facade{backend: backend, isGeneral: isGeneral, cfg: cfg, log: log}
}

// BackendName reports the wrapped backend's name, for metrics labels.
func (f *Facade) BackendName() string { return f.backend.Name() }

// Transcribe converts pcmI16 to float32 and routes to the selected
// backend's strategy. stateIsOff controls whether hotwords are
// supplied on the general backend's recovery pass. A backend error is
// logged and reported as an empty string (no speech recognized).
func (f *Facade) Transcribe(ctx context.Context, pcmI16 []byte, sampleRate int, stateIsOff bool) string {
	pcm := toFloat32(pcmI16)

	var text string
	var err error
	if f.isGeneral {
		text, err = f.transcribeGeneral(ctx, pcm, sampleRate, stateIsOff)
	} else {
		text, err = f.transcribeDomain(ctx, pcm, sampleRate)
	}
	if err != nil {
		f.log.Warn("transcription failed, treating as no speech", "backend", f.backend.Name(), "error", err)
		return ""
	}
	return strings.TrimSpace(text)
}

func toFloat32(pcmI16 []byte) []float32 {
	samples := make([]float32, len(pcmI16)/2)
	for i := range samples {
		v := int16(uint16(pcmI16[2*i]) | uint16(pcmI16[2*i+1])<<8)
		samples[i] = float32(v) / 32768.0
	}
	return samples
}

// transcribeGeneral runs the two-pass retry. Pass 1 favors precision
// with a wake-word initial prompt; pass 2 relaxes thresholds and
// supplies hotwords when state is OFF.
func (f *Facade) transcribeGeneral(ctx context.Context, pcm []float32, sampleRate int, stateIsOff bool) (string, error) {
	beam := f.cfg.ConfiguredBeamSize
	if beam < 1 {
		beam = 1
	}

	pass1 := Params{
		BeamSize:                  beam,
		ConditionOnPreviousText:   false,
		NoSpeechThreshold:         0.70,
		LogProbThreshold:          -1.5,
		CompressionRatioThreshold: 2.8,
		InitialPrompt:             "次の単語を聞き取ってください: " + strings.Join(f.cfg.WakeWords, "、"),
	}
	if f.cfg.Language != "" && f.cfg.Language != "auto" {
		pass1.Language = f.cfg.Language
	}

	text, err := f.backend.Transcribe(ctx, pcm, sampleRate, pass1)
	if err != nil {
		return "", fmt.Errorf("transcriber: pass 1: %w", err)
	}
	if strings.TrimSpace(text) != "" {
		return text, nil
	}

	pass2 := Params{
		BeamSize:                  maxInt(2, beam),
		BestOf:                    maxInt(5, beam),
		Temperature:               []float64{0.0, 0.2, 0.4, 0.6},
		NoSpeechThreshold:         0.85,
		LogProbThreshold:          -2.5,
		CompressionRatioThreshold: 4.0,
		Language:                  pass1.Language,
	}
	if stateIsOff {
		pass2.Hotwords = strings.Join(dedupeWords(f.cfg.WakeWords, f.cfg.StopWords), ",")
	}

	text, err = f.backend.Transcribe(ctx, pcm, sampleRate, pass2)
	if err != nil {
		return "", fmt.Errorf("transcriber: pass 2: %w", err)
	}
	return text, nil
}

// transcribeDomain splits segments longer than MaxSegmentSec into
// consecutive non-overlapping ranges, transcribing each independently
// and joining the non-empty results with a single space.
func (f *Facade) transcribeDomain(ctx context.Context, pcm []float32, sampleRate int) (string, error) {
	maxSamples := MaxSegmentSec * sampleRate
	if len(pcm) <= maxSamples {
		text, err := f.backend.Transcribe(ctx, pcm, sampleRate, Params{})
		if err != nil {
			return "", fmt.Errorf("transcriber: %w", err)
		}
		return text, nil
	}

	var parts []string
	for start := 0; start < len(pcm); start += maxSamples {
		end := start + maxSamples
		if end > len(pcm) {
			end = len(pcm)
		}
		text, err := f.backend.Transcribe(ctx, pcm[start:end], sampleRate, Params{})
		if err != nil {
			return "", fmt.Errorf("transcriber: segment [%d:%d]: %w", start, end, err)
		}
		if t := strings.TrimSpace(text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " "), nil
}

func dedupeWords(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, w := range list {
			if _, ok := seen[w]; ok || w == "" {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// formatTemperature renders the temperature escalation list the way an
// HTTP form field expects it: comma-joined floats.
func formatTemperature(temps []float64) string {
	parts := make([]string, len(temps))
	for i, t := range temps {
		parts[i] = strconv.FormatFloat(t, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}
