package audio

import (
	"errors"
	"os"
	"testing"
	"time"
)

func deadlineInPast() time.Time {
	return time.Now().Add(-time.Second)
}

func TestTransportOrder_AutoTriesTCPThenUDP(t *testing.T) {
	got := transportOrder("auto")
	want := []string{"tcp", "udp"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestTransportOrder_ExplicitTransportIsSingleton(t *testing.T) {
	got := transportOrder("udp_multicast")
	if len(got) != 1 || got[0] != "udp_multicast" {
		t.Fatalf("got %v", got)
	}
}

func TestIsTimeout_DetectsOSTimeoutError(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	if err := r.SetReadDeadline(deadlineInPast()); err != nil {
		t.Skip("SetReadDeadline not supported on this platform")
	}
	_, readErr := r.Read(make([]byte, 1))
	if readErr == nil {
		t.Fatal("expected a deadline-exceeded error")
	}
	if !isTimeout(readErr) {
		t.Fatalf("expected isTimeout(%v) to be true", readErr)
	}
}

func TestIsTimeout_PlainErrorIsNotTimeout(t *testing.T) {
	if isTimeout(errors.New("boom")) {
		t.Fatal("expected plain error to not be classified as a timeout")
	}
}

func TestAudioSource_CheckNoDataTimeout(t *testing.T) {
	a := New(Config{NoDataTimeoutSec: 0}, nil, nil)
	a.lastDataAt = deadlineInPast()
	if !a.CheckNoDataTimeout() {
		t.Fatal("expected timeout to have tripped")
	}
}
