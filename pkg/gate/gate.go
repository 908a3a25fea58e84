package gate

import (
	"context"
	"time"

	"github.com/kurogane-voice/yatagarasu-gate/internal/metrics"
	"github.com/kurogane-voice/yatagarasu-gate/pkg/audio"
	"github.com/kurogane-voice/yatagarasu-gate/pkg/segment"
	"github.com/kurogane-voice/yatagarasu-gate/pkg/transcriber"
	"github.com/kurogane-voice/yatagarasu-gate/pkg/vad"
)

const readBatchBytes = 32 * 1024

// Gate is the single cooperative run loop: one owned struct, advanced
// once per read/poll iteration, wiring AudioSource -> FrameAligner ->
// VoiceDetector -> Segmenter -> SegmentFilter -> Transcriber ->
// MatchNormalizer+StateMachine -> {Dispatcher, FeedbackSpeaker}. No
// frame is processed concurrently with another; subprocess calls block
// the loop, bounded by their own timeouts.
type Gate struct {
	source  *audio.AudioSource
	aligner *audio.FrameAligner
	vadDet  *vad.Detector
	segr    *segment.Segmenter
	filter  *segment.Filter
	tr      *transcriber.Facade
	sm      *StateMachine
	log     Logger
	met     *metrics.Registry

	sampleRate int
}

// New builds a Gate from its already-constructed pipeline stages.
func New(source *audio.AudioSource, aligner *audio.FrameAligner, vadDet *vad.Detector, segr *segment.Segmenter, filter *segment.Filter, tr *transcriber.Facade, sm *StateMachine, log Logger, met *metrics.Registry, sampleRate int) *Gate {
	if log == nil {
		log = NoOpLogger{}
	}
	return &Gate{
		source: source, aligner: aligner, vadDet: vadDet, segr: segr,
		filter: filter, tr: tr, sm: sm, log: log, met: met,
		sampleRate: sampleRate,
	}
}

// Run drives the read-poll-process loop until ctx is cancelled or
// stopRequested reports true, reconnecting the AudioSource as needed.
// It returns audio.ErrReconnectExhausted if the reconnect budget runs
// out (caller exits 1), or nil on a clean stop-requested shutdown
// (caller exits 0).
func (g *Gate) Run(ctx context.Context, stopRequested func() bool) error {
	if err := g.source.Connect(ctx, stopRequested); err != nil {
		if stopRequested() || ctx.Err() != nil {
			return nil
		}
		return err
	}

	for {
		if stopRequested() || ctx.Err() != nil {
			break
		}

		chunk, err := g.source.Read(readBatchBytes)
		if err != nil {
			g.log.Warn("audio stream interrupted, reconnecting", "error", err)
			if err := g.reconnect(ctx, stopRequested); err != nil {
				if stopRequested() || ctx.Err() != nil {
					break
				}
				return err
			}
			continue
		}
		if g.source.CheckNoDataTimeout() {
			g.log.Warn("no-data timeout, reconnecting")
			if err := g.reconnect(ctx, stopRequested); err != nil {
				if stopRequested() || ctx.Err() != nil {
					break
				}
				return err
			}
			continue
		}

		if len(chunk) > 0 {
			g.aligner.Push(chunk)
		}

		for {
			frame, ok := g.aligner.Next()
			if !ok {
				break
			}
			g.processFrame(frame)
		}

		if g.met != nil {
			g.met.BufferedBytes.Set(float64(g.aligner.Buffered()))
			if g.sm.State() == StateON {
				g.met.State.Set(1)
			} else {
				g.met.State.Set(0)
			}
		}
		g.source.MaybeHeartbeat(g.sm.State().String(), g.aligner.Buffered())
	}

	g.shutdownFlush()
	g.source.Teardown()
	return nil
}

// reconnect drops the partial frame tail and any in-progress segment,
// clears accumulated VAD state, and re-runs transport fallback. State
// (OFF/ON) and session text survive the reconnect untouched.
func (g *Gate) reconnect(ctx context.Context, stopRequested func() bool) error {
	g.aligner.Reset()
	g.segr.Reset()
	if err := g.vadDet.Reset(); err != nil {
		g.log.Warn("vad reset failed", "error", err)
	}
	g.source.Teardown()
	return g.source.Connect(ctx, stopRequested)
}

// processFrame runs one PCM frame through VAD, the segmenter, and --
// on finalization -- the filter/transcriber/match/state-machine chain.
func (g *Gate) processFrame(frame []byte) {
	now := time.Now()
	g.source.NoteFrame()

	speech, err := g.vadDet.IsVoiced(bytesToInt16(frame))
	if err != nil {
		g.log.Warn("vad error, treating frame as silence", "error", err)
		speech = false
	}

	seg, finalized, countsAsVoice := g.segr.PushFrame(frame, speech)
	if countsAsVoice {
		g.sm.NoteVoice(now)
	}

	if finalized {
		if g.met != nil {
			g.met.SegmentsTotal.Inc()
		}
		g.handleSegment(seg)
	} else if !g.segr.InSegment() {
		g.sm.OnIdleTick(now)
	}
}

// handleSegment applies SegmentFilter's gates and, if the segment
// passes, transcribes it and feeds the result into the state machine.
func (g *Gate) handleSegment(seg segment.Segment) {
	stateIsOff := g.sm.State() == StateOFF
	if reason := g.filter.Admit(seg, stateIsOff); reason != segment.DropNone {
		g.log.Debug("segment dropped", "reason", reason, "duration_sec", seg.Duration(), "rms_dbfs", seg.RMSDBFS())
		if g.met != nil {
			g.met.SegmentsDroppedTotal.WithLabelValues(string(reason)).Inc()
		}
		return
	}

	text := g.tr.Transcribe(context.Background(), seg.PCM, seg.SampleRate, stateIsOff)
	if g.met != nil {
		outcome := "empty"
		if text != "" {
			outcome = "ok"
		}
		g.met.TranscriptionsTotal.WithLabelValues(g.tr.BackendName(), outcome).Inc()
	}
	if stateIsOff && text != "" {
		g.filter.NoteOFFTranscription(time.Now())
	}
	if text == "" {
		return
	}
	g.sm.OnTranscription(text)
}

// shutdownFlush finalizes any in-progress segment through the normal
// pipeline first, then lets the state machine flush its own session
// dispatch.
func (g *Gate) shutdownFlush() {
	if seg, ok := g.segr.FinalizeNow(); ok {
		g.handleSegment(seg)
	}
	g.sm.Shutdown()
}

func bytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return out
}
