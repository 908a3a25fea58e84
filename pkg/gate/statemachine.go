package gate

import (
	"fmt"
	"strings"
	"time"

	"github.com/kurogane-voice/yatagarasu-gate/internal/metrics"
	"github.com/kurogane-voice/yatagarasu-gate/pkg/match"
)

// StateMachineConfig holds the subset of daemon configuration the
// StateMachine needs.
type StateMachineConfig struct {
	WakeWords            []string
	StopWords            []string
	WakeAckWord          string
	StandbyWord          string
	SessionEndSilenceSec float64
	SilenceTimeoutSec    float64
}

func (c StateMachineConfig) sessionEndSilence() time.Duration {
	return time.Duration(c.SessionEndSilenceSec * float64(time.Second))
}

func (c StateMachineConfig) silenceTimeout() time.Duration {
	return time.Duration(c.SilenceTimeoutSec * float64(time.Second))
}

// StateMachine is the OFF<->ON machine: session text accumulation,
// session-end and cancel silence timers, the anti-self-wake guard,
// stop-word cancellation, and TTS feedback hooks. It is a plain struct
// advanced once per loop iteration by the single control thread, so it
// carries no lock.
type StateMachine struct {
	cfg        StateMachineConfig
	log        Logger
	dispatcher Dispatcher
	speaker    FeedbackSpeaker
	now        func() time.Time
	events     chan Event
	met        *metrics.Registry

	state          State
	sessionText    []string
	everHadText    bool
	lastVoiceAt    time.Time
	wakeAckPending bool
}

// NewStateMachine builds a StateMachine in state OFF. dispatcher and
// speaker may be nil for tests that only exercise pure transition
// logic; in that case Dispatch/Speak calls are skipped and treated as
// no-ops rather than panicking.
func NewStateMachine(cfg StateMachineConfig, dispatcher Dispatcher, speaker FeedbackSpeaker, log Logger) *StateMachine {
	if log == nil {
		log = NoOpLogger{}
	}
	return &StateMachine{
		cfg:        cfg,
		log:        log,
		dispatcher: dispatcher,
		speaker:    speaker,
		now:        time.Now,
		events:     make(chan Event, 64),
	}
}

// SetMetrics attaches the Prometheus registry dispatch outcomes are
// recorded against. May be left unset (nil) for tests that only
// exercise transition logic.
func (sm *StateMachine) SetMetrics(met *metrics.Registry) { sm.met = met }

// Events returns the channel Gate events are published on. Callers that
// don't drain it simply stop receiving events once the buffer fills;
// the state machine never blocks on it (sends are best-effort, see
// emit).
func (sm *StateMachine) Events() <-chan Event { return sm.events }

// State reports the current OFF/ON state.
func (sm *StateMachine) State() State { return sm.state }

// SessionText returns a copy of the accumulated session text.
func (sm *StateMachine) SessionText() []string {
	out := make([]string, len(sm.sessionText))
	copy(out, sm.sessionText)
	return out
}

// WakeAckPending reports whether the last wake-ack TTS attempt failed
// and is still owed a retry.
func (sm *StateMachine) WakeAckPending() bool { return sm.wakeAckPending }

// NoteVoice updates the shared last-voice timer. Gate calls this for
// every frame the segmenter counts as voiced (direct speech or
// hangover-bridged silence).
func (sm *StateMachine) NoteVoice(now time.Time) {
	sm.lastVoiceAt = now
}

// OnTranscription processes one filtered, transcribed segment. rawText
// is the full transcription text, already past the SegmentFilter's
// gates.
func (sm *StateMachine) OnTranscription(rawText string) {
	now := sm.now()
	if strings.TrimSpace(rawText) == "" {
		return
	}

	switch sm.state {
	case StateOFF:
		hit := match.Match(rawText, sm.cfg.WakeWords)
		if !hit.Matched {
			return
		}
		residue := match.StripAll(rawText, sm.cfg.WakeWords)
		if residue == "" {
			sm.log.Debug("wake word transcription has empty residue, ignoring (anti-self-wake loop guard)", "text", rawText)
			return
		}

		sm.transitionOffToOn()
		sm.appendSessionText(rawText)
		// Next idle tick should dispatch promptly after a short grace
		// window rather than waiting a full session_end_silence_sec
		// from *now*.
		sm.lastVoiceAt = now.Add(-sm.cfg.sessionEndSilence()).Add(500 * time.Millisecond)
		sm.emit(EventWakeDetected, rawText)

	case StateON:
		if stopHit := match.Match(rawText, sm.cfg.StopWords); stopHit.Matched {
			sm.emit(EventStopDetected, rawText)
			sm.transitionOnToOff("stop word detected")
			return
		}
		if wakeHit := match.Match(rawText, sm.cfg.WakeWords); wakeHit.Matched {
			// Ack suppression while ON is intentional: playing the wake
			// ack mid-session would interrupt the audio stream the user
			// is actively talking over.
			sm.log.Info("wake word matched while already ON, suppressing ack", "text", rawText)
		}
		sm.appendSessionText(rawText)
		sm.emit(EventSessionAppended, rawText)
	}
}

func (sm *StateMachine) appendSessionText(text string) {
	sm.sessionText = append(sm.sessionText, text)
	sm.everHadText = true
}

// OnIdleTick runs the per-silence-frame checks while ON. Gate calls
// this once per frame when no segment is currently accumulating. It is
// a no-op in state OFF.
//
// A dispatch clears session_text, but that alone must not end the
// session: the user may keep talking and dispatch again. everHadText
// (cleared on the OFF->ON and ON->OFF transitions, never on dispatch) tracks
// whether the session ever accumulated text, so only a session that
// never did takes the fast-cancel path; one that has dispatched at
// least once ends only via idle >= silence_timeout_sec or a stop word.
func (sm *StateMachine) OnIdleTick(now time.Time) {
	if sm.state != StateON {
		return
	}
	idle := now.Sub(sm.lastVoiceAt)

	if len(sm.sessionText) > 0 && idle >= sm.cfg.sessionEndSilence() {
		sm.dispatchSession(fmt.Sprintf("session end silence %.1fs elapsed", idle.Seconds()))
	}

	if (!sm.everHadText && idle >= sm.cfg.sessionEndSilence()) || idle >= sm.cfg.silenceTimeout() {
		sm.transitionOnToOff(fmt.Sprintf("cancel session: idle %.1fs", idle.Seconds()))
	}
}

// Shutdown runs the shutdown flush: if state is ON with non-empty
// session text, dispatch once with reason "shutdown flush".
// Segment-level flushing (finalizing any in-progress segment through
// the normal pipeline) is Gate's responsibility, run before this call.
func (sm *StateMachine) Shutdown() {
	if sm.state == StateON && len(sm.sessionText) > 0 {
		sm.dispatchSession("shutdown flush")
	}
}

// dispatchSession joins session_text with a single space and hands it
// to the Dispatcher. If a wake-ack TTS attempt is still owed
// (wakeAckPending), it is retried once before the dispatch is invoked.
func (sm *StateMachine) dispatchSession(reason string) {
	text := strings.Join(sm.sessionText, " ")
	sm.sessionText = nil

	if sm.wakeAckPending && sm.speaker != nil {
		if sm.speaker.Speak(sm.cfg.WakeAckWord) {
			sm.wakeAckPending = false
		}
	}

	sm.log.Info("dispatching session", "reason", reason, "text", text)
	result := "ok"
	if sm.dispatcher != nil {
		if err := sm.dispatcher.Dispatch(text); err != nil {
			sm.log.Warn("dispatch failed, continuing to listen", "error", err)
			result = "error"
		}
	}
	if sm.met != nil {
		sm.met.DispatchesTotal.WithLabelValues(result).Inc()
	}
	sm.emit(EventSessionDispatched, text)
}

// transitionOffToOn clears session_text, attempts the wake-ack TTS,
// and sets last_voice_at *after* the TTS call so its latency does not
// count as user silence. The caller (OnTranscription) overwrites
// last_voice_at again afterwards with the grace-window value.
func (sm *StateMachine) transitionOffToOn() {
	sm.sessionText = nil
	sm.everHadText = false
	sm.wakeAckPending = false

	if sm.speaker != nil {
		if !sm.speaker.Speak(sm.cfg.WakeAckWord) {
			sm.wakeAckPending = true
		}
	}
	sm.lastVoiceAt = sm.now()

	sm.state = StateON
	sm.log.Info("state transition OFF -> ON")
}

// transitionOnToOff clears all in-session state, and if reason names a
// stop word, speaks the standby word.
func (sm *StateMachine) transitionOnToOff(reason string) {
	sm.state = StateOFF
	sm.sessionText = nil
	sm.everHadText = false
	sm.wakeAckPending = false

	sm.log.Info("state transition ON -> OFF", "reason", reason)
	if strings.Contains(reason, "stop word detected") && sm.speaker != nil {
		sm.speaker.Speak(sm.cfg.StandbyWord)
	}
	sm.emit(EventSessionCancelled, reason)
}

func (sm *StateMachine) emit(t EventType, data interface{}) {
	select {
	case sm.events <- Event{Type: t, Time: sm.now(), Data: data}:
	default:
	}
}
