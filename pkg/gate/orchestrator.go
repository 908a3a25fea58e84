package gate

import (
	"fmt"

	"github.com/kurogane-voice/yatagarasu-gate/internal/config"
	"github.com/kurogane-voice/yatagarasu-gate/internal/logging"
	"github.com/kurogane-voice/yatagarasu-gate/internal/metrics"
	"github.com/kurogane-voice/yatagarasu-gate/pkg/audio"
	"github.com/kurogane-voice/yatagarasu-gate/pkg/segment"
	"github.com/kurogane-voice/yatagarasu-gate/pkg/transcriber"
	"github.com/kurogane-voice/yatagarasu-gate/pkg/vad"
)

// Orchestrator holds the wired, stateless dependencies and config for
// one daemon run: it resolves the configured VAD and STT backends,
// constructs every pipeline stage, and builds a single Gate. It does
// not itself hold any per-run mutable state -- that lives entirely in
// the Gate it returns.
type Orchestrator struct {
	cfg config.Config
	log logging.Logger
	met *metrics.Registry
}

// NewOrchestrator builds an Orchestrator for the given resolved config.
func NewOrchestrator(cfg config.Config, log logging.Logger, met *metrics.Registry) *Orchestrator {
	if log == nil {
		log = &logging.NoOpLogger{}
	}
	return &Orchestrator{cfg: cfg, log: log, met: met}
}

// Build constructs every pipeline stage and wires them into a Gate.
// Failures here are model-init errors and should cause the caller to
// exit 2.
func (o *Orchestrator) Build() (*Gate, error) {
	source := audio.New(audio.Config{
		RTSPURL:              o.cfg.RTSPURL,
		Transport:            o.cfg.RTSPTransport,
		SampleRate:           o.cfg.SampleRate,
		Channels:             o.cfg.Channels,
		ReconnectDelaySec:    o.cfg.ReconnectDelaySec,
		MaxReconnectAttempts: o.cfg.MaxReconnectAttempts,
		NoDataTimeoutSec:     o.cfg.NoDataTimeoutSec,
		HeartbeatSec:         o.cfg.HeartbeatSec,
	}, o.log, o.met)

	aligner := audio.NewFrameAligner(o.cfg.FrameBytes(), o.log)

	vadBackend, err := vad.NewSileroBackend(o.cfg.VADModelPath, o.cfg.SampleRate, float32(o.cfg.VADThreshold))
	if err != nil {
		return nil, fmt.Errorf("gate: initializing VAD model: %w", err)
	}
	vadDet, err := vad.NewDetector(vadBackend, float32(o.cfg.VADThreshold))
	if err != nil {
		return nil, fmt.Errorf("gate: building VAD detector: %w", err)
	}

	segr := segment.NewSegmenter(o.cfg.SampleRate, o.cfg.ChunkMs)
	filter := segment.NewFilter(segment.FilterConfig{
		MinSegmentSec:          o.cfg.MinSegmentSec,
		OffTranscribeCooldownS: o.cfg.OffTranscribeCooldownS,
	})

	tr, err := o.buildTranscriber()
	if err != nil {
		return nil, err
	}

	dispatcher := NewDispatcher(DispatchConfig{
		Command:       o.cfg.DispatchCmd,
		TimeoutSec:    o.cfg.DispatchTimeoutSec,
		WorkspacePath: o.cfg.WorkspacePath,
	}, o.log)

	speaker := NewFeedbackSpeaker(FeedbackConfig{
		ZundaBin:     o.cfg.ZundaBin,
		TapovoiceBin: o.cfg.TapovoiceBin,
		SpeakerID:    o.cfg.WakeAckSpeakerID,
		TimeoutSec:   o.cfg.WakeAckTimeoutSec,
	}, o.log)

	sm := NewStateMachine(StateMachineConfig{
		WakeWords:            o.cfg.WakeWords,
		StopWords:            o.cfg.StopWords,
		WakeAckWord:          o.cfg.WakeAckWord,
		StandbyWord:          o.cfg.StandbyWord,
		SessionEndSilenceSec: o.cfg.SessionEndSilenceSec,
		SilenceTimeoutSec:    o.cfg.SilenceTimeoutSec,
	}, dispatcher, speaker, o.log)
	sm.SetMetrics(o.met)

	return New(source, aligner, vadDet, segr, filter, tr, sm, o.log, o.met, o.cfg.SampleRate), nil
}

// buildTranscriber selects the general (faster-whisper) or domain-tuned
// (reazonspeech-k2) backend per cfg.STTBackend and wraps it in the
// Facade that applies the anti-hallucination retry / long-segment
// splitting policy.
func (o *Orchestrator) buildTranscriber() (*transcriber.Facade, error) {
	facadeCfg := transcriber.Config{
		ConfiguredBeamSize: o.cfg.BeamSize,
		Language:           o.cfg.Language,
		WakeWords:          o.cfg.WakeWords,
		StopWords:          o.cfg.StopWords,
	}

	switch o.cfg.STTBackend {
	case "faster-whisper":
		backend := transcriber.NewGeneralBackend(o.cfg.GeneralSTTURL)
		return transcriber.New(backend, true, facadeCfg, o.log), nil
	case "reazonspeech-k2":
		backend := transcriber.NewDomainBackend(o.cfg.DomainSTTURL)
		return transcriber.New(backend, false, facadeCfg, o.log), nil
	default:
		return nil, fmt.Errorf("gate: unknown stt_backend %q", o.cfg.STTBackend)
	}
}
