package audio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/kurogane-voice/yatagarasu-gate/internal/logging"
	"github.com/kurogane-voice/yatagarasu-gate/internal/metrics"
)

// Fixed internal constants, not configurable.
const (
	AudioFilter         = "highpass=f=120,lowpass=f=5000"
	InitialDataProbeSec = 5
	readinessPollMs     = 500
)

// transportOrder expands the configured transport strategy into the
// ordered list of ffmpeg -rtsp_transport values to try.
func transportOrder(configured string) []string {
	if configured == "auto" {
		return []string{"tcp", "udp"}
	}
	return []string{configured}
}

// Config is the subset of daemon configuration AudioSource needs.
type Config struct {
	RTSPURL              string
	Transport            string
	SampleRate           int
	Channels             int
	ReconnectDelaySec    float64
	MaxReconnectAttempts int
	NoDataTimeoutSec     float64
	HeartbeatSec         float64
	FFmpegBin            string
}

// signalTerm is the graceful-teardown signal sent to the decoder before
// escalating to Kill.
var signalTerm os.Signal = syscall.SIGTERM

// ErrReconnectExhausted is returned from Connect when
// max_reconnect_attempts has been exceeded; the caller exits 1.
var ErrReconnectExhausted = fmt.Errorf("audio source: exceeded max reconnect attempts")

// AudioSource launches and supervises the ffmpeg decoder subprocess,
// handling transport fallback, the initial-data probe, steady-state
// reads, the no-data timeout, and reconnection. One process runs
// exactly one RTSP source, owned by the single control loop.
type AudioSource struct {
	cfg Config
	log logging.Logger
	met *metrics.Registry

	cmd          *exec.Cmd
	exited       chan error
	stdout       *os.File
	bufferedPeek *bufio.Reader
	stderrFile   *os.File

	lastDataAt           time.Time
	lastHeartbeatAt      time.Time
	reconnectAttempts    int
	framesSinceHeartbeat int
	totalFrames          int
	activeTransport      string
}

// New builds an AudioSource. met may be nil (metrics become no-ops).
func New(cfg Config, log logging.Logger, met *metrics.Registry) *AudioSource {
	if cfg.FFmpegBin == "" {
		cfg.FFmpegBin = "ffmpeg"
	}
	if log == nil {
		log = &logging.NoOpLogger{}
	}
	return &AudioSource{cfg: cfg, log: log, met: met}
}

// Connect performs transport fallback and the initial-data probe,
// leaving the source ready for steady-state Read calls. It retries the
// whole transport list, sleeping ReconnectDelaySec between rounds, until
// one transport succeeds or MaxReconnectAttempts is exhausted.
func (a *AudioSource) Connect(ctx context.Context, stopRequested func() bool) error {
	for {
		if stopRequested() {
			return context.Canceled
		}

		for _, transport := range transportOrder(a.cfg.Transport) {
			if stopRequested() {
				return context.Canceled
			}
			if err := a.spawn(transport); err != nil {
				a.log.Warn("decoder spawn failed", "transport", transport, "error", err)
				continue
			}
			if a.probeInitialData(ctx) {
				a.activeTransport = transport
				a.lastDataAt = time.Now()
				a.lastHeartbeatAt = time.Now()
				a.log.Info("audio source connected", "transport", transport)
				return nil
			}
			a.log.Warn("initial-data probe failed, trying next transport", "transport", transport)
			a.teardown()
		}

		a.reconnectAttempts++
		if a.met != nil {
			a.met.ReconnectsTotal.Inc()
		}
		if a.cfg.MaxReconnectAttempts > 0 && a.reconnectAttempts > a.cfg.MaxReconnectAttempts {
			return ErrReconnectExhausted
		}

		select {
		case <-time.After(time.Duration(a.cfg.ReconnectDelaySec * float64(time.Second))):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// spawn starts the ffmpeg decoder for the given transport, wiring its
// stdout to a pipe and its stderr to a temp file whose tail is read on
// failure for diagnostics.
func (a *AudioSource) spawn(transport string) error {
	stderrFile, err := os.CreateTemp("", "yatagarasu-ffmpeg-stderr-*.log")
	if err != nil {
		return fmt.Errorf("creating stderr temp file: %w", err)
	}

	args := []string{"-hide_banner", "-loglevel", "error"}
	if transport != "" {
		args = append(args, "-rtsp_transport", transport)
	}
	args = append(args,
		"-i", a.cfg.RTSPURL,
		"-vn",
		"-af", AudioFilter,
		"-f", "s16le",
		"-ac", fmt.Sprintf("%d", a.cfg.Channels),
		"-ar", fmt.Sprintf("%d", a.cfg.SampleRate),
		"pipe:1",
	)

	cmd := exec.Command(a.cfg.FFmpegBin, args...)
	cmd.Stderr = stderrFile

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stderrFile.Close()
		os.Remove(stderrFile.Name())
		return fmt.Errorf("wiring decoder stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stderrFile.Close()
		os.Remove(stderrFile.Name())
		return fmt.Errorf("starting decoder: %w", err)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	osFile, ok := stdout.(*os.File)
	if !ok {
		killCmd(cmd, exited)
		stderrFile.Close()
		os.Remove(stderrFile.Name())
		return fmt.Errorf("decoder stdout is not a pollable file")
	}

	a.cmd = cmd
	a.exited = exited
	a.stdout = osFile
	a.stderrFile = stderrFile
	return nil
}

// probeInitialData waits up to InitialDataProbeSec for stdout to become
// readable, without consuming any bytes (a single byte read would break
// 16-bit sample alignment). Returns false if the process exits first or
// the deadline lapses.
func (a *AudioSource) probeInitialData(ctx context.Context) bool {
	deadline := time.Now().Add(InitialDataProbeSec * time.Second)

	peek := bufio.NewReaderSize(a.stdout, 1)
	for time.Now().Before(deadline) {
		select {
		case err := <-a.exited:
			a.exited = nil
			a.log.Warn("decoder exited during initial-data probe", "error", err, "stderr", a.tailStderr())
			return false
		default:
		}

		_ = a.stdout.SetReadDeadline(time.Now().Add(readinessPollMs * time.Millisecond))
		if _, err := peek.Peek(1); err == nil {
			_ = a.stdout.SetReadDeadline(time.Time{})
			a.bufferedPeek = peek
			return true
		}
	}
	return false
}

// Read performs one non-blocking (500ms poll) read from the decoder
// pipe, updates last-data bookkeeping, and returns the bytes read. A
// zero-length, nil-error return means the poll simply timed out with no
// data; callers should treat that as "no progress this tick", not EOF.
func (a *AudioSource) Read(maxBytes int) ([]byte, error) {
	_ = a.stdout.SetReadDeadline(time.Now().Add(readinessPollMs * time.Millisecond))
	buf := make([]byte, maxBytes)
	n, err := a.bufferedPeek.Read(buf)
	if n > 0 {
		a.lastDataAt = time.Now()
		a.reconnectAttempts = 0
		return buf[:n], nil
	}
	if err != nil && isTimeout(err) {
		return nil, nil
	}
	if err == io.EOF {
		return nil, io.EOF
	}
	return nil, err
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	t, ok := err.(timeouter)
	return ok && t.Timeout()
}

// CheckNoDataTimeout reports whether the no-data watchdog has tripped.
func (a *AudioSource) CheckNoDataTimeout() bool {
	return time.Since(a.lastDataAt) >= time.Duration(a.cfg.NoDataTimeoutSec*float64(time.Second))
}

// MaybeHeartbeat logs a heartbeat every HeartbeatSec regardless of
// traffic, reporting frames since the last heartbeat, total frames, and
// currently buffered bytes (supplied by the caller, since buffering
// lives in FrameAligner).
func (a *AudioSource) MaybeHeartbeat(state string, bufferedBytes int) {
	if time.Since(a.lastHeartbeatAt) < time.Duration(a.cfg.HeartbeatSec*float64(time.Second)) {
		return
	}
	a.log.Info("audio source heartbeat",
		"state", state,
		"transport", a.activeTransport,
		"frames_since_heartbeat", a.framesSinceHeartbeat,
		"total_frames", a.totalFrames,
		"buffered_bytes", bufferedBytes,
	)
	a.framesSinceHeartbeat = 0
	a.lastHeartbeatAt = time.Now()
}

// NoteFrame records that one more frame was produced, for heartbeat
// reporting and metrics.
func (a *AudioSource) NoteFrame() {
	a.framesSinceHeartbeat++
	a.totalFrames++
	if a.met != nil {
		a.met.FramesTotal.Inc()
	}
}

// tailStderr reads the last 3 non-empty lines of the decoder's stderr
// temp file for diagnostics.
func (a *AudioSource) tailStderr() string {
	if a.stderrFile == nil {
		return ""
	}
	data, err := os.ReadFile(a.stderrFile.Name())
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	var nonEmpty []string
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			nonEmpty = append(nonEmpty, l)
		}
	}
	if len(nonEmpty) > 3 {
		nonEmpty = nonEmpty[len(nonEmpty)-3:]
	}
	return strings.Join(nonEmpty, " | ")
}

// Teardown terminates the decoder (SIGTERM, 3s grace, then SIGKILL) and
// deletes the stderr temp file. Safe to call on an already-torn-down
// source.
func (a *AudioSource) Teardown() {
	a.teardown()
}

func (a *AudioSource) teardown() {
	if a.cmd != nil {
		killCmd(a.cmd, a.exited)
		a.cmd = nil
		a.exited = nil
	}
	if a.stdout != nil {
		a.stdout.Close()
		a.stdout = nil
	}
	a.bufferedPeek = nil
	if a.stderrFile != nil {
		a.stderrFile.Close()
		os.Remove(a.stderrFile.Name())
		a.stderrFile = nil
	}
}

// killCmd terminates a running decoder. exited carries the result of
// the single cmd.Wait started at spawn; a nil channel means the process
// is already known to have exited.
func killCmd(cmd *exec.Cmd, exited chan error) {
	if cmd.Process == nil || exited == nil {
		return
	}
	_ = cmd.Process.Signal(signalTerm)
	select {
	case <-exited:
		return
	case <-time.After(3 * time.Second):
	}
	_ = cmd.Process.Kill()
	<-exited
}
