package segment

import "time"

// DropReason names which gate rejected a segment, for metrics and debug
// logging.
type DropReason string

const (
	DropNone        DropReason = ""
	DropDuration    DropReason = "duration"
	DropLoudness    DropReason = "loudness"
	DropOFFCooldown DropReason = "off_cooldown"
)

// FilterConfig holds the gate thresholds.
type FilterConfig struct {
	MinSegmentSec          float64
	OffTranscribeCooldownS float64
}

// Filter applies the duration, loudness, and OFF-state cooldown gates
// in order, dropping whichever segment fails first.
type Filter struct {
	cfg                 FilterConfig
	lastOffTranscribeAt time.Time
}

// NewFilter builds a Filter with the given gate configuration.
func NewFilter(cfg FilterConfig) *Filter {
	return &Filter{cfg: cfg}
}

// Admit reports whether seg passes all gates for the current state. A
// DropReason of DropNone means it passed.
func (f *Filter) Admit(seg Segment, stateIsOff bool) DropReason {
	if seg.Duration() < f.cfg.MinSegmentSec {
		return DropDuration
	}
	if seg.RMSDBFS() < MinTranscribeRMSDBFS {
		return DropLoudness
	}
	if stateIsOff && f.cfg.OffTranscribeCooldownS > 0 {
		if time.Since(f.lastOffTranscribeAt) < time.Duration(f.cfg.OffTranscribeCooldownS*float64(time.Second)) {
			return DropOFFCooldown
		}
	}
	return DropNone
}

// NoteOFFTranscription records that a non-empty transcription happened
// while state was OFF, arming the cooldown gate for subsequent
// segments.
func (f *Filter) NoteOFFTranscription(now time.Time) {
	f.lastOffTranscribeAt = now
}
