// Package config loads and validates the daemon's configuration from an
// optional YAML file, environment variables, and CLI flags, in that order
// of increasing precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// ErrConfig wraps every configuration-time failure; callers exit(2) on it
// per the error taxonomy.
type ErrConfig struct {
	Msg string
}

func (e *ErrConfig) Error() string { return "config: " + e.Msg }

func errConfig(format string, args ...interface{}) error {
	return &ErrConfig{Msg: fmt.Sprintf(format, args...)}
}

// Config is the full set of recognized configuration keys.
type Config struct {
	RTSPURL       string
	RTSPTransport string // auto|tcp|udp|udp_multicast|http|https

	STTBackend    string // faster-whisper|reazonspeech-k2
	GeneralSTTURL string // faster-whisper HTTP server URL
	DomainSTTURL  string // reazonspeech-k2 HTTP server URL

	WakeWords []string
	StopWords []string
	Language  string // ISO language code, or "auto"
	BeamSize  int

	VADModelPath           string
	VADThreshold           float64
	MinSegmentSec          float64
	OffTranscribeCooldownS float64
	SessionEndSilenceSec   float64
	SilenceTimeoutSec      float64

	ChunkMs    int
	SampleRate int
	Channels   int

	DispatchCmd        string
	DispatchTimeoutSec float64

	WakeAckWord       string
	StandbyWord       string
	WakeAckSpeakerID  string
	WakeAckTimeoutSec float64
	ZundaBin          string
	TapovoiceBin      string

	ReconnectDelaySec    float64
	MaxReconnectAttempts int
	NoDataTimeoutSec     float64
	HeartbeatSec         float64

	LogLevel string

	MetricsAddr   string // empty disables the metrics listener
	WorkspacePath string
	DryRun        bool
}

// Default returns the built-in defaults, before env/flag/file overrides
// are applied.
func Default() Config {
	return Config{
		RTSPTransport:          "auto",
		STTBackend:             "faster-whisper",
		GeneralSTTURL:          "http://127.0.0.1:8765/transcribe",
		DomainSTTURL:           "http://127.0.0.1:8766/transcribe",
		VADModelPath:           "./models/silero_vad.onnx",
		VADThreshold:           0.5,
		Language:               "auto",
		BeamSize:               5,
		MinSegmentSec:          0.35,
		OffTranscribeCooldownS: 0.0,
		SessionEndSilenceSec:   3.0,
		SilenceTimeoutSec:      30.0,
		ChunkMs:                80,
		SampleRate:             16000,
		Channels:               1,
		DispatchTimeoutSec:     20.0,
		StandbyWord:            "待機します。",
		WakeAckSpeakerID:       "68",
		WakeAckTimeoutSec:      8.0,
		ZundaBin:               "zunda",
		TapovoiceBin:           "tapovoice",
		ReconnectDelaySec:      3.0,
		MaxReconnectAttempts:   0,
		NoDataTimeoutSec:       10.0,
		HeartbeatSec:           5.0,
		LogLevel:               "info",
	}
}

// Load resolves configuration from (lowest to highest precedence): the
// built-in default, an optional YAML file, the process environment (via
// godotenv for a .env file plus os.Getenv), then CLI flags. The only
// command is `run`, which may be omitted. It returns an *ErrConfig on
// any missing required key or invalid enum.
func Load(args []string) (Config, error) {
	cfg := Default()

	if len(args) > 0 && args[0] == "run" {
		args = args[1:]
	}

	flags := pflag.NewFlagSet("yatagarasu-gate", pflag.ContinueOnError)
	configFile := flags.StringP("config", "c", "", "Path to an optional YAML config file.")
	logLevel := flags.String("log-level", "", "Log level: debug|info|warn|error.")
	dryRun := flags.Bool("dry-run", false, "Validate configuration and exit without connecting.")
	metricsAddr := flags.String("metrics-addr", "", "Loopback address to serve Prometheus metrics on (empty disables it).")
	if err := flags.Parse(args); err != nil {
		return Config{}, errConfig("parsing flags: %v", err)
	}
	if rest := flags.Args(); len(rest) > 0 {
		return Config{}, errConfig("unknown command %q", rest[0])
	}

	// A missing .env file is not fatal; system env vars still apply.
	_ = godotenv.Load()

	if *configFile != "" {
		if err := loadYAMLFile(*configFile, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	cfg.DryRun = *dryRun

	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errConfig("reading config file %s: %v", path, err)
	}
	var overlay map[string]interface{}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return errConfig("parsing config file %s: %v", path, err)
	}
	for key, val := range overlay {
		applyKey(cfg, key, fmt.Sprintf("%v", val))
	}
	return nil
}

func applyEnv(cfg *Config) {
	for _, key := range []string{
		"rtsp_url", "rtsp_transport", "stt_backend", "general_stt_url", "domain_stt_url",
		"wake_words", "stop_words",
		"language", "beam_size",
		"vad_model_path", "vad_threshold", "min_segment_sec", "off_transcribe_cooldown_sec",
		"session_end_silence_sec", "silence_timeout_sec",
		"chunk_ms", "sample_rate", "channels",
		"dispatch_cmd", "dispatch_timeout_sec",
		"wake_ack_word", "standby_word", "wake_ack_speaker_id", "wake_ack_timeout_sec",
		"zunda_bin", "tapovoice_bin",
		"reconnect_delay_sec", "max_reconnect_attempts", "no_data_timeout_sec", "heartbeat_sec",
		"log_level", "metrics_addr", "workspace_path",
	} {
		envKey := "YATAGARASU_" + strings.ToUpper(key)
		if v := os.Getenv(envKey); v != "" {
			applyKey(cfg, key, v)
		}
	}
}

func applyKey(cfg *Config, key, val string) {
	switch key {
	case "rtsp_url":
		cfg.RTSPURL = val
	case "rtsp_transport":
		cfg.RTSPTransport = val
	case "stt_backend":
		cfg.STTBackend = normalizeBackendAlias(val)
	case "general_stt_url":
		cfg.GeneralSTTURL = val
	case "domain_stt_url":
		cfg.DomainSTTURL = val
	case "vad_model_path":
		cfg.VADModelPath = val
	case "language":
		cfg.Language = val
	case "beam_size":
		cfg.BeamSize = mustInt(val, cfg.BeamSize)
	case "wake_words":
		cfg.WakeWords = splitWords(val)
	case "stop_words":
		cfg.StopWords = splitWords(val)
	case "vad_threshold":
		cfg.VADThreshold = mustFloat(val, cfg.VADThreshold)
	case "min_segment_sec":
		cfg.MinSegmentSec = mustFloat(val, cfg.MinSegmentSec)
	case "off_transcribe_cooldown_sec":
		cfg.OffTranscribeCooldownS = mustFloat(val, cfg.OffTranscribeCooldownS)
	case "session_end_silence_sec":
		cfg.SessionEndSilenceSec = mustFloat(val, cfg.SessionEndSilenceSec)
	case "silence_timeout_sec":
		cfg.SilenceTimeoutSec = mustFloat(val, cfg.SilenceTimeoutSec)
	case "chunk_ms":
		cfg.ChunkMs = mustInt(val, cfg.ChunkMs)
	case "sample_rate":
		cfg.SampleRate = mustInt(val, cfg.SampleRate)
	case "channels":
		cfg.Channels = mustInt(val, cfg.Channels)
	case "dispatch_cmd":
		cfg.DispatchCmd = val
	case "dispatch_timeout_sec":
		cfg.DispatchTimeoutSec = mustFloat(val, cfg.DispatchTimeoutSec)
	case "wake_ack_word":
		cfg.WakeAckWord = val
	case "standby_word":
		cfg.StandbyWord = val
	case "wake_ack_speaker_id":
		cfg.WakeAckSpeakerID = val
	case "wake_ack_timeout_sec":
		cfg.WakeAckTimeoutSec = mustFloat(val, cfg.WakeAckTimeoutSec)
	case "zunda_bin":
		cfg.ZundaBin = val
	case "tapovoice_bin":
		cfg.TapovoiceBin = val
	case "reconnect_delay_sec":
		cfg.ReconnectDelaySec = mustFloat(val, cfg.ReconnectDelaySec)
	case "max_reconnect_attempts":
		cfg.MaxReconnectAttempts = mustInt(val, cfg.MaxReconnectAttempts)
	case "no_data_timeout_sec":
		cfg.NoDataTimeoutSec = mustFloat(val, cfg.NoDataTimeoutSec)
	case "heartbeat_sec":
		cfg.HeartbeatSec = mustFloat(val, cfg.HeartbeatSec)
	case "log_level":
		cfg.LogLevel = val
	case "metrics_addr":
		cfg.MetricsAddr = val
	case "workspace_path":
		cfg.WorkspacePath = val
	}
}

func normalizeBackendAlias(v string) string {
	switch strings.ToLower(v) {
	case "faster-whisper", "faster_whisper", "whisper":
		return "faster-whisper"
	case "reazonspeech-k2", "reazonspeech", "reazon":
		return "reazonspeech-k2"
	default:
		return v
	}
}

// splitWords accepts both "," and the full-width "、" as separators.
func splitWords(v string) []string {
	v = strings.ReplaceAll(v, "、", ",")
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func mustFloat(v string, fallback float64) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustInt(v string, fallback int) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

var validTransports = map[string]bool{
	"auto": true, "tcp": true, "udp": true, "udp_multicast": true, "http": true, "https": true,
}

func validate(cfg *Config) error {
	if cfg.RTSPURL == "" {
		return errConfig("rtsp_url is required")
	}
	if !validTransports[cfg.RTSPTransport] {
		return errConfig("rtsp_transport %q is not one of auto|tcp|udp|udp_multicast|http|https", cfg.RTSPTransport)
	}
	if cfg.STTBackend != "faster-whisper" && cfg.STTBackend != "reazonspeech-k2" {
		return errConfig("stt_backend %q is not one of faster-whisper|reazonspeech-k2", cfg.STTBackend)
	}
	if len(cfg.WakeWords) == 0 {
		return errConfig("wake_words must be non-empty")
	}
	if len(cfg.StopWords) == 0 {
		return errConfig("stop_words must be non-empty")
	}
	if cfg.ChunkMs <= 0 || cfg.SampleRate <= 0 || cfg.Channels <= 0 {
		return errConfig("chunk_ms, sample_rate and channels must all be positive")
	}
	if cfg.WorkspacePath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return errConfig("resolving workspace_path: %v", err)
		}
		cfg.WorkspacePath = wd
	}
	if cfg.DispatchCmd == "" {
		cfg.DispatchCmd = cfg.WorkspacePath + "/../bin/yatagarasu"
	}
	return nil
}

// FrameBytes is the fixed per-frame byte count implied by ChunkMs,
// SampleRate and Channels (always 16-bit PCM).
func (c Config) FrameBytes() int {
	samplesPerFrame := c.SampleRate * c.ChunkMs / 1000
	return samplesPerFrame * c.Channels * 2
}
