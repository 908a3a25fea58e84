package vad

import "testing"

func TestNewDetector_RejectsOutOfRangeThreshold(t *testing.T) {
	if _, err := NewDetector(&fakeBackend{}, 0); err == nil {
		t.Fatal("expected error for threshold 0")
	}
	if _, err := NewDetector(&fakeBackend{}, 1); err == nil {
		t.Fatal("expected error for threshold 1")
	}
	if _, err := NewDetector(&fakeBackend{}, -0.1); err == nil {
		t.Fatal("expected error for negative threshold")
	}
}

func TestNewDetector_RejectsNilBackend(t *testing.T) {
	if _, err := NewDetector(nil, 0.5); err == nil {
		t.Fatal("expected error for nil backend")
	}
}

func TestDetector_IsVoiced_GatesOnThreshold(t *testing.T) {
	fb := &fakeBackend{probs: []float32{0.2, 0.8, 0.49, 0.5}}
	d, err := NewDetector(fb, 0.5)
	if err != nil {
		t.Fatal(err)
	}

	cases := []bool{false, true, false, true}
	for i, want := range cases {
		got, err := d.IsVoiced(make([]int16, 4))
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("frame %d: got %v, want %v", i, got, want)
		}
	}
}

func TestDetector_ResetAndClose_DelegateToBackend(t *testing.T) {
	fb := &fakeBackend{}
	d, err := NewDetector(fb, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Reset(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if fb.resetHits != 1 || fb.closeHits != 1 {
		t.Fatalf("expected one reset and one close, got reset=%d close=%d", fb.resetHits, fb.closeHits)
	}
}

type fakeBackend struct {
	probs     []float32
	i         int
	resetHits int
	closeHits int
}

func (f *fakeBackend) ProcessFrame(pcm []int16) (float32, error) {
	if f.i >= len(f.probs) {
		return 0, nil
	}
	p := f.probs[f.i]
	f.i++
	return p, nil
}

func (f *fakeBackend) Reset() error {
	f.resetHits++
	return nil
}

func (f *fakeBackend) Close() error {
	f.closeHits++
	return nil
}
