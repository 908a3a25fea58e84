package gate

import (
	"strings"
	"testing"
	"time"
)

// fakeClock lets tests advance StateMachine's notion of "now"
// deterministically instead of sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) time.Time {
	c.t = c.t.Add(d)
	return c.t
}

type fakeDispatcher struct {
	dispatched []string
}

func (f *fakeDispatcher) Dispatch(text string) error {
	f.dispatched = append(f.dispatched, text)
	return nil
}

type fakeSpeaker struct {
	spoken []string
	fail   bool
}

func (f *fakeSpeaker) Speak(word string) bool {
	f.spoken = append(f.spoken, word)
	return !f.fail
}

func testConfig() StateMachineConfig {
	return StateMachineConfig{
		WakeWords:            []string{"ヤタガラス"},
		StopWords:            []string{"ストップ"},
		WakeAckWord:          "はい",
		StandbyWord:          "待機します。",
		SessionEndSilenceSec: 3.0,
		SilenceTimeoutSec:    30.0,
	}
}

func newTestMachine() (*StateMachine, *fakeClock, *fakeDispatcher, *fakeSpeaker) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	disp := &fakeDispatcher{}
	speaker := &fakeSpeaker{}
	sm := NewStateMachine(testConfig(), disp, speaker, NoOpLogger{})
	sm.now = clock.now
	return sm, clock, disp, speaker
}

// Wake word + residue transcribed, then 3.2s of silence. Expect one
// OFF->ON transition, session_text holding exactly that transcription,
// one dispatch with exactly that string, and no ON->OFF transition yet.
func TestScenario1_WakeThenDispatchStaysOn(t *testing.T) {
	sm, clock, disp, _ := newTestMachine()

	sm.OnTranscription("ヤタガラス 天気を教えて")
	if sm.State() != StateON {
		t.Fatalf("expected ON after wake word, got %v", sm.State())
	}
	if got := sm.SessionText(); len(got) != 1 || got[0] != "ヤタガラス 天気を教えて" {
		t.Fatalf("unexpected session text: %v", got)
	}

	// advance 3.2s of silence, ticking per 80ms frame as the real loop would
	for i := 0; i < 40; i++ { // 40*80ms = 3.2s
		sm.OnIdleTick(clock.advance(80 * time.Millisecond))
	}

	if len(disp.dispatched) != 1 || disp.dispatched[0] != "ヤタガラス 天気を教えて" {
		t.Fatalf("expected exactly one dispatch with the session text, got %v", disp.dispatched)
	}
	if sm.State() != StateON {
		t.Fatalf("expected to remain ON after dispatch (no ON->OFF yet), got %v", sm.State())
	}
}

// Scenario 2: ON with session_text=["こんにちは"], a segment transcribed
// "ストップ" arrives. Expect ON->OFF, no dispatch, standby TTS invoked.
func TestScenario2_StopWordCancelsWithoutDispatch(t *testing.T) {
	sm, _, disp, speaker := newTestMachine()
	sm.state = StateON
	sm.sessionText = []string{"こんにちは"}

	sm.OnTranscription("ストップ")

	if sm.State() != StateOFF {
		t.Fatalf("expected OFF after stop word, got %v", sm.State())
	}
	if len(disp.dispatched) != 0 {
		t.Fatalf("expected no dispatch on stop-word cancel, got %v", disp.dispatched)
	}
	found := false
	for _, w := range speaker.spoken {
		if w == "待機します。" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected standby word spoken, got %v", speaker.spoken)
	}
}

// Scenario 3: OFF state, segment transcribed "ヤタガラス" alone (no
// residue after stripping the wake word). Expect: remain OFF.
func TestScenario3_WakeWordAloneIsLoopGuarded(t *testing.T) {
	sm, _, disp, _ := newTestMachine()

	sm.OnTranscription("ヤタガラス")

	if sm.State() != StateOFF {
		t.Fatalf("expected to remain OFF (anti-self-wake guard), got %v", sm.State())
	}
	if len(disp.dispatched) != 0 {
		t.Fatalf("expected no dispatch, got %v", disp.dispatched)
	}
}

// Scenario 4: ON, silent for 30s with empty session_text. Expect
// ON->OFF with a cancel reason, no TTS invoked.
func TestScenario4_EmptySessionCancelsOnSilenceTimeout(t *testing.T) {
	sm, clock, _, speaker := newTestMachine()
	sm.state = StateON
	sm.lastVoiceAt = clock.now()

	for i := 0; i < 400; i++ { // 400*80ms = 32s > 30s timeout
		sm.OnIdleTick(clock.advance(80 * time.Millisecond))
		if sm.State() == StateOFF {
			break
		}
	}

	if sm.State() != StateOFF {
		t.Fatal("expected ON->OFF after sustained silence with empty session text")
	}
	if len(speaker.spoken) != 0 {
		t.Fatalf("expected no TTS on a plain cancel, got %v", speaker.spoken)
	}
}

// Scenario 5: ON, user speaks "明日の" -> 3.5s silence -> "予定" -> 3.5s
// silence. Expect two dispatches in order: "明日の" then "予定".
func TestScenario5_TwoUtterancesDispatchInOrder(t *testing.T) {
	sm, clock, disp, _ := newTestMachine()
	sm.state = StateON
	sm.lastVoiceAt = clock.now()

	sm.appendSessionText("明日の")
	for i := 0; i < 44; i++ { // 3.52s
		sm.OnIdleTick(clock.advance(80 * time.Millisecond))
	}

	sm.NoteVoice(clock.now())
	sm.appendSessionText("予定")
	for i := 0; i < 44; i++ {
		sm.OnIdleTick(clock.advance(80 * time.Millisecond))
	}

	if len(disp.dispatched) != 2 {
		t.Fatalf("expected two dispatches, got %v", disp.dispatched)
	}
	if disp.dispatched[0] != "明日の" || disp.dispatched[1] != "予定" {
		t.Fatalf("unexpected dispatch order: %v", disp.dispatched)
	}
	if sm.State() != StateON {
		t.Fatalf("expected to remain ON between dispatches, got %v", sm.State())
	}
}

func TestWakeAckPending_RetriedBeforeDispatch(t *testing.T) {
	sm, clock, disp, speaker := newTestMachine()
	speaker.fail = true

	sm.OnTranscription("ヤタガラス hello")
	if !sm.WakeAckPending() {
		t.Fatal("expected wake ack to be marked pending after a failed Speak")
	}

	speaker.fail = false
	for i := 0; i < 40; i++ {
		sm.OnIdleTick(clock.advance(80 * time.Millisecond))
	}

	if len(disp.dispatched) != 1 {
		t.Fatalf("expected dispatch to proceed despite earlier ack failure, got %v", disp.dispatched)
	}
	if sm.WakeAckPending() {
		t.Fatal("expected wake ack pending to clear after a successful retry")
	}
	if len(speaker.spoken) < 2 {
		t.Fatalf("expected at least two Speak attempts (initial failure + retry), got %v", speaker.spoken)
	}
}

func TestOnTranscription_WakeWordWhileOnDoesNotSuppressAppend(t *testing.T) {
	sm, _, _, speaker := newTestMachine()
	sm.state = StateON
	sm.sessionText = []string{"hello"}
	speakCountBefore := len(speaker.spoken)

	sm.OnTranscription("ヤタガラス again")

	if len(speaker.spoken) != speakCountBefore {
		t.Fatal("expected no ack TTS while ON (ack suppression)")
	}
	if got := sm.SessionText(); len(got) != 2 || got[1] != "ヤタガラス again" {
		t.Fatalf("expected wake-word transcription to still be appended while ON, got %v", got)
	}
}

func TestDispatchSession_JoinsWithSingleSpace(t *testing.T) {
	sm, clock, disp, _ := newTestMachine()
	sm.state = StateON
	sm.lastVoiceAt = clock.now()
	sm.sessionText = []string{"a", "b", "c"}

	sm.dispatchSession("test")

	if len(disp.dispatched) != 1 || !strings.Contains(disp.dispatched[0], "a b c") {
		t.Fatalf("expected joined dispatch text, got %v", disp.dispatched)
	}
}
