// Command yatagarasu-gate runs the voice-gate daemon: it taps an RTSP
// audio stream, detects spoken wake and stop phrases, transcribes
// intervening speech, and hands each confirmed utterance-group to an
// external command.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/kurogane-voice/yatagarasu-gate/internal/config"
	"github.com/kurogane-voice/yatagarasu-gate/internal/logging"
	"github.com/kurogane-voice/yatagarasu-gate/internal/metrics"
	"github.com/kurogane-voice/yatagarasu-gate/pkg/audio"
	"github.com/kurogane-voice/yatagarasu-gate/pkg/gate"
)

// Exit codes: 0 normal stop, 1 exceeded reconnect attempts, 2
// configuration or model-init error.
const (
	exitNormal        = 0
	exitReconnectFail = 1
	exitConfigError   = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}

	log := logging.New(cfg.LogLevel)

	if cfg.DryRun {
		log.Info("configuration valid, exiting (--dry-run)")
		return exitNormal
	}

	met := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := met.Serve(cfg.MetricsAddr); err != nil {
				log.Warn("metrics listener stopped", "error", err)
			}
		}()
	}

	orch := gate.NewOrchestrator(cfg, log, met)
	g, err := orch.Build()
	if err != nil {
		log.Error("failed to build gate", "error", err)
		return exitConfigError
	}

	var stopRequested atomic.Bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sigCh
		log.Info("signal received, stopping")
		stopRequested.Store(true)
		cancel()
	}()

	log.Info("yatagarasu-gate starting", "rtsp_url", cfg.RTSPURL, "stt_backend", cfg.STTBackend)
	err = g.Run(ctx, stopRequested.Load)
	if err == audio.ErrReconnectExhausted {
		log.Error("exceeded max reconnect attempts, exiting")
		return exitReconnectFail
	}
	if err != nil && err != context.Canceled {
		log.Error("run loop exited with error", "error", err)
		return exitReconnectFail
	}
	log.Info("yatagarasu-gate stopped")
	return exitNormal
}
