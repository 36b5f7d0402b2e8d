package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/whoamihappyhacking/just-talk/internal/audio"
	"github.com/whoamihappyhacking/just-talk/internal/config"
	"github.com/whoamihappyhacking/just-talk/internal/delivery"
	"github.com/whoamihappyhacking/just-talk/internal/metrics"
	"github.com/whoamihappyhacking/just-talk/internal/server"
	"github.com/whoamihappyhacking/just-talk/internal/session"
	"github.com/whoamihappyhacking/just-talk/internal/transport"
)

const serviceName = "just-talk"

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	inputPath := flag.String("input", "", "WAV file to transcribe (16-bit PCM)")
	mode := flag.String("mode", "", "Recognition mode override (bidi, bidi_async, nostream)")
	flag.Parse()

	// Credentials may live in a .env file next to the binary.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Recognition.Mode = *mode
		if err := cfg.Recognition.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid mode override: %v\n", err)
			os.Exit(1)
		}
	}

	logger := initLogger(cfg.Logging)
	logger.Info("service starting",
		slog.String("service", serviceName),
		slog.String("mode", cfg.Recognition.Mode),
		slog.Bool("trial_credentials", cfg.UsingTrialCredentials()),
	)

	appMetrics := metrics.NewMetrics()

	deliverer := delivery.New(logger, delivery.Options{
		Mode:       cfg.Delivery.Mode,
		PasteCombo: cfg.Delivery.PasteCombo,
	}, delivery.RankedBackends())
	defer deliverer.Close()

	history := session.NewHistory(&historyLogger{logger: logger})
	stats := session.NewStats()

	// The transport and the engine reference each other, so the
	// transport's callbacks forward to a binding filled in below.
	var engineCallbacks transport.Callbacks
	client := transport.NewClient(logger, transport.Callbacks{
		OnConnected:     func() { engineCallbacks.OnConnected() },
		OnDisconnected:  func() { engineCallbacks.OnDisconnected() },
		OnError:         func(err error) { engineCallbacks.OnError(err) },
		OnBinaryMessage: func(payload []byte) { engineCallbacks.OnBinaryMessage(payload) },
		OnTextMessage:   func(text string) { engineCallbacks.OnTextMessage(text) },
	}, appMetrics)

	engine := session.New(logger, session.Options{
		Mode:               session.Mode(cfg.Recognition.Mode),
		BaseURL:            cfg.Connection.BaseURL,
		AppID:              cfg.Connection.AppID,
		AccessToken:        cfg.Connection.AccessToken,
		ResourceID:         cfg.Connection.ResourceID,
		UID:                cfg.Connection.UID,
		UseGzip:            cfg.Connection.UseGzip,
		EnablePunc:         cfg.Recognition.EnablePunc,
		EnableDDC:          cfg.Recognition.EnableDDC,
		Hotwords:           cfg.Recognition.Hotwords,
		ChunkMS:            cfg.Audio.ChunkMS,
		FinalizeTimeout:    cfg.Finalize.FinalizeTimeout(),
		DefaultCredentials: cfg.UsingTrialCredentials(),
		RecordingLimit:     cfg.Finalize.RecordingLimit(),
	}, client, history, stats, deliverer, appMetrics, session.Events{
		OnStateChanged: func(state string) {
			logger.Info("session state", slog.String("state", state))
		},
		OnErrorMessage: func(msg string) {
			logger.Error("session error", slog.String("error", msg))
		},
	})
	engineCallbacks = engine.Callbacks()

	client.Start()
	engine.Start()

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(logger, cfg, engine, history, stats, appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("failed to start status API", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if *inputPath != "" {
		if err := transcribeFile(logger, engine, *inputPath, sigChan); err != nil {
			logger.Error("transcription failed", slog.String("error", err.Error()))
		}
	} else {
		logger.Info("no input file, serving status API until interrupted")
		<-sigChan
	}

	logger.Info("shutting down")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("error stopping status API", slog.String("error", err.Error()))
		}
	}

	engine.Shutdown()
	client.Stop()

	snap := stats.Snapshot()
	logger.Info("dictation totals",
		slog.String("duration", snap.DurationText),
		slog.Int("chars", snap.TotalChars),
		slog.Int("speed_chars_per_min", snap.Speed),
	)
}

// transcribeFile streams a WAV file through the engine at the pace the
// chunker expects, then stops and waits for the session to finalize.
func transcribeFile(logger *slog.Logger, engine *session.Engine, path string, sigChan <-chan os.Signal) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	wav, err := audio.DecodeWAV(raw)
	if err != nil {
		return fmt.Errorf("decode input: %w", err)
	}
	logger.Info("input loaded",
		slog.String("path", path),
		slog.Int("sample_rate", wav.SampleRate),
		slog.Int("channels", wav.Channels),
		slog.Float64("duration_s", wav.Duration()),
	)

	engine.StartRecognition()

	// Feed in 100ms slices of interleaved frames so the resampler and
	// chunker see the same cadence a live capture would produce.
	frameStep := wav.SampleRate / 10
	sampleStep := frameStep * wav.Channels
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for offset := 0; offset < len(wav.Samples); offset += sampleStep {
		end := offset + sampleStep
		if end > len(wav.Samples) {
			end = len(wav.Samples)
		}
		engine.OnAudioReady(samplesToBytes(wav.Samples[offset:end]), wav.SampleRate, wav.Channels)

		select {
		case <-ticker.C:
		case <-sigChan:
			logger.Info("interrupted, cancelling session")
			engine.Cancel()
			return nil
		}
	}

	engine.StopRecognition()
	return waitForIdle(engine, sigChan, 30*time.Second)
}

// waitForIdle polls the engine until the session finalizes.
func waitForIdle(engine *session.Engine, sigChan <-chan os.Signal, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if engine.CurrentSnapshot().State == "idle" {
				return nil
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("session did not finalize within %s", timeout)
			}
		case <-sigChan:
			engine.Cancel()
			return nil
		}
	}
}

func samplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// historyLogger prints finalized transcripts to the log as rows settle.
type historyLogger struct {
	logger *slog.Logger
}

func (h *historyLogger) RowInserted(index int, entry session.HistoryEntry) {}

func (h *historyLogger) RowUpdated(index int, entry session.HistoryEntry) {
	if !entry.Partial {
		h.logger.Info("transcript",
			slog.String("timestamp", entry.Timestamp),
			slog.String("text", entry.Text),
		)
	}
}

func (h *historyLogger) RowRemoved(index int) {}

// initLogger creates the structured logger from configuration.
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
