package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/normanking/lipsync/internal/bus"
	"github.com/normanking/lipsync/internal/config"
	"github.com/normanking/lipsync/internal/lipsync"
	"github.com/normanking/lipsync/internal/metrics"
	"github.com/normanking/lipsync/internal/server"
	"github.com/normanking/lipsync/internal/stt"
	"github.com/normanking/lipsync/internal/tts"
	"github.com/normanking/lipsync/internal/viseme"
)

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cfgMgr.Config()
			if port > 0 {
				cfg.Server.Port = port
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}

func runServe(cfg *config.Config) error {
	logger := log.Component("main")

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)
	eventBus := bus.NewEventBus()
	m.Subscribe(eventBus)

	transcriber, err := buildTranscriber(cfg, logger)
	if err != nil {
		return err
	}

	deps := server.Deps{
		Engine:      lipsync.NewEngine(cfg.LipSync.Options(), log.Component("lipsync")),
		Segmenter:   viseme.NewSegmenter(registry, log.Zerolog()),
		Transcriber: transcriber,
		History:     log,
		Bus:         eventBus,
		Metrics:     m,
		Gatherer:    promReg,
		Logger:      log.Zerolog(),
	}
	if el := cfg.TTS.ElevenLabs(); el != nil {
		client := tts.NewElevenLabsClient(log.Zerolog(), el)
		if client.IsAvailable() {
			deps.Speaker = client
		} else {
			logger.Warn().Msg("ElevenLabs API key not set, timestamped speech disabled")
		}
	}

	srv := server.New(cfg, deps)

	cfgMgr.Watch(func(next *config.Config, e fsnotify.Event, err error) {
		if err != nil {
			logger.Error().Err(err).Str("file", e.Name).Msg("Config reload failed")
			return
		}
		reloadTables(registry, next, logger)
		eventBus.PublishSync(bus.Event{Type: bus.EventTypeConfigReloaded, Data: map[string]any{"path": e.Name}})
		logger.Info().Str("file", e.Name).Msg("Configuration reloaded")
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	fmt.Printf("lipsync v%s listening on %s\n", version, cfg.Server.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildTranscriber returns nil when transcription is disabled or has no key.
func buildTranscriber(cfg *config.Config, logger zerolog.Logger) (lipsync.Transcriber, error) {
	wc := cfg.STT.Whisper()
	if wc == nil {
		return nil, nil
	}

	whisper := stt.NewWhisperTranscriber(log.Zerolog(), wc)
	if !whisper.IsAvailable() {
		logger.Warn().Str("env", wc.APIKeyEnv).Msg("Whisper API key not set, precise timing disabled")
		return nil, nil
	}
	if wc.CacheSize <= 0 {
		return whisper, nil
	}
	cached, err := stt.NewCachedTranscriber(whisper, wc.CacheSize, log.Zerolog())
	if err != nil {
		return nil, err
	}
	return cached, nil
}
