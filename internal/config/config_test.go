package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range os.Environ() {
		if len(k) > len("YATAGARASU_") && k[:len("YATAGARASU_")] == "YATAGARASU_" {
			name := k
			for i, c := range k {
				if c == '=' {
					name = k[:i]
					break
				}
			}
			os.Unsetenv(name)
		}
	}
}

func TestLoad_MissingRTSPURLIsConfigError(t *testing.T) {
	clearEnv(t)
	os.Setenv("YATAGARASU_WAKE_WORDS", "ヤタガラス")
	os.Setenv("YATAGARASU_STOP_WORDS", "ストップ")
	defer clearEnv(t)

	_, err := Load(nil)
	if err == nil {
		t.Fatal("expected error for missing rtsp_url")
	}
	if _, ok := err.(*ErrConfig); !ok {
		t.Fatalf("expected *ErrConfig, got %T", err)
	}
}

func TestLoad_DefaultsAndWakeWordSplit(t *testing.T) {
	clearEnv(t)
	os.Setenv("YATAGARASU_RTSP_URL", "rtsp://example/stream")
	os.Setenv("YATAGARASU_WAKE_WORDS", "ヤタガラス、からす")
	os.Setenv("YATAGARASU_STOP_WORDS", "ストップ,やめて")
	defer clearEnv(t)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.WakeWords) != 2 || cfg.WakeWords[0] != "ヤタガラス" || cfg.WakeWords[1] != "からす" {
		t.Errorf("unexpected wake words: %v", cfg.WakeWords)
	}
	if len(cfg.StopWords) != 2 {
		t.Errorf("unexpected stop words: %v", cfg.StopWords)
	}
	if cfg.VADThreshold != 0.5 {
		t.Errorf("expected default vad threshold 0.5, got %f", cfg.VADThreshold)
	}
	if cfg.FrameBytes() != 2560 {
		t.Errorf("expected 2560 frame bytes at defaults, got %d", cfg.FrameBytes())
	}
}

func TestLoad_InvalidTransportRejected(t *testing.T) {
	clearEnv(t)
	os.Setenv("YATAGARASU_RTSP_URL", "rtsp://example/stream")
	os.Setenv("YATAGARASU_WAKE_WORDS", "hi")
	os.Setenv("YATAGARASU_STOP_WORDS", "bye")
	os.Setenv("YATAGARASU_RTSP_TRANSPORT", "carrier-pigeon")
	defer clearEnv(t)

	_, err := Load(nil)
	if err == nil {
		t.Fatal("expected error for invalid transport")
	}
}

func TestLoad_STTBackendAlias(t *testing.T) {
	clearEnv(t)
	os.Setenv("YATAGARASU_RTSP_URL", "rtsp://example/stream")
	os.Setenv("YATAGARASU_WAKE_WORDS", "hi")
	os.Setenv("YATAGARASU_STOP_WORDS", "bye")
	os.Setenv("YATAGARASU_STT_BACKEND", "reazonspeech")
	defer clearEnv(t)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.STTBackend != "reazonspeech-k2" {
		t.Errorf("expected alias to resolve to reazonspeech-k2, got %s", cfg.STTBackend)
	}
}

func TestLoad_RunSubcommandIsAccepted(t *testing.T) {
	clearEnv(t)
	os.Setenv("YATAGARASU_RTSP_URL", "rtsp://example/stream")
	os.Setenv("YATAGARASU_WAKE_WORDS", "hi")
	os.Setenv("YATAGARASU_STOP_WORDS", "bye")
	defer clearEnv(t)

	cfg, err := Load([]string{"run", "--log-level", "debug"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level flag to apply after the run command, got %s", cfg.LogLevel)
	}
}

func TestLoad_UnknownCommandRejected(t *testing.T) {
	clearEnv(t)
	os.Setenv("YATAGARASU_RTSP_URL", "rtsp://example/stream")
	os.Setenv("YATAGARASU_WAKE_WORDS", "hi")
	os.Setenv("YATAGARASU_STOP_WORDS", "bye")
	defer clearEnv(t)

	if _, err := Load([]string{"walk"}); err == nil {
		t.Fatal("expected error for an unknown command")
	}
}
