package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"ghostquant/internal/audio"
	"ghostquant/internal/config"
	"ghostquant/internal/corrections"
	"ghostquant/internal/dialogue"
	"ghostquant/internal/domain"
	"ghostquant/internal/expansion"
	"ghostquant/internal/interrupt"
	"ghostquant/internal/ports"
	"ghostquant/internal/providers/elevenlabs"
	"ghostquant/internal/providers/ollama"
	"ghostquant/internal/providers/scribe"
	"ghostquant/internal/usecase"
	"ghostquant/internal/wake"
	"ghostquant/internal/watchdog"
	"ghostquant/internal/watchdog/detectors"
)

// Runtime is the assembled copilot graph.
type Runtime struct {
	Config    config.Config
	Settings  *dialogue.Settings
	Wake      *wake.Normalizer
	Listener  *usecase.Listener
	Speaker   *usecase.Speaker
	Copilot   *usecase.Copilot
	Interrupt *interrupt.Engine
	Watchdog  *watchdog.Orchestrator
	Responder *ollama.Responder

	closers []func() error
}

// Close releases the settings database and anything else Build opened.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// OpenPlayer opens the default playback device.
func OpenPlayer(cfg config.Config, logger zerolog.Logger) (*audio.Player, error) {
	return audio.NewPlayer(uint32(cfg.TTS.PlaybackBuffer), logger)
}

// OpenSettings opens the persisted voice settings. The caller closes the store.
func OpenSettings(cfg config.Config, logger zerolog.Logger) (*dialogue.Settings, *dialogue.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Settings.Path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create settings dir: %w", err)
	}
	store, err := dialogue.OpenSQLiteStore(cfg.Settings.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open settings %s: %w", cfg.Settings.Path, err)
	}
	return dialogue.NewSettings(store, logger), store, nil
}

// LoadWake builds the wake normalizer from the configured alias table.
func LoadWake(cfg config.Config, logger zerolog.Logger) (*wake.Normalizer, error) {
	table, err := wake.LoadTable(cfg.Wake.AliasFile)
	if err != nil {
		return nil, err
	}
	return wake.NewNormalizer(table, logger), nil
}

// BuildOption overrides a device-facing dependency of Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	capture ports.AudioCapture
}

// WithCapture replaces the microphone.
func WithCapture(capture ports.AudioCapture) BuildOption {
	return func(o *buildOptions) { o.capture = capture }
}

// Build wires all backend dependencies. The player is injected so callers
// without an audio device can still assemble the graph.
func Build(cfg config.Config, events ports.EventSink, player ports.AudioPlayer, logger zerolog.Logger, opts ...BuildOption) (*Runtime, error) {
	var options buildOptions
	for _, opt := range opts {
		opt(&options)
	}
	if options.capture == nil {
		options.capture = audio.NewMicrophone(cfg.Audio.RecorderCommand, logger)
	}
	rt := &Runtime{Config: cfg}

	normalizer, err := LoadWake(cfg, logger)
	if err != nil {
		return nil, err
	}
	rt.Wake = normalizer

	corrector, err := corrections.Load(cfg.Corrections.Path, cfg.Corrections.PassLimit, logger)
	if err != nil {
		return nil, err
	}

	settings, store, err := OpenSettings(cfg, logger)
	if err != nil {
		return nil, err
	}
	rt.Settings = settings
	rt.closers = append(rt.closers, store.Close)

	responder, err := ollama.NewResponder(ollama.Config{
		Host:        cfg.Responder.Host,
		Model:       cfg.Responder.Model,
		Temperature: cfg.Responder.Temperature,
		MaxTokens:   cfg.Responder.MaxTokens,
		Timeout:     cfg.Responder.Timeout,
	}, logger)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Responder = responder

	synth := elevenlabs.NewSynthesizer(elevenlabs.Config{
		APIKey:  cfg.TTS.APIKey,
		BaseURL: cfg.TTS.BaseURL,
		VoiceID: cfg.TTS.VoiceID,
		ModelID: cfg.TTS.ModelID,
		Settings: elevenlabs.VoiceSettings{
			Stability:       cfg.TTS.Stability,
			SimilarityBoost: cfg.TTS.SimilarityBoost,
			Style:           cfg.TTS.Style,
			SpeakerBoost:    cfg.TTS.SpeakerBoost,
		},
		Timeout: cfg.TTS.Timeout,
	}, logger)

	// The engine, speaker and copilot reference each other; the callbacks
	// resolve once all three exist.
	var (
		speaker *usecase.Speaker
		copilot *usecase.Copilot
	)
	engine := interrupt.New(interruptConfig(cfg), logger,
		interrupt.WithStopTTS(func() { speaker.Stop() }),
		interrupt.WithCancelQueue(func() { copilot.CancelQueue() }),
	)
	engine.Subscribe(events.Interruption)
	rt.Interrupt = engine

	speaker = usecase.NewSpeaker(synth, player, events, logger, usecase.WithPlaybackObserver(engine))
	rt.Speaker = speaker

	expander := expansion.New(expansion.Config{
		SynonymRate:      cfg.Expansion.SynonymRate,
		OpeningRate:      cfg.Expansion.OpeningRate,
		OverlapThreshold: cfg.Expansion.OverlapThreshold,
	}, expansion.DefaultPhrasebook(), logger)

	copilot = usecase.NewCopilot(speaker, responder, expander, settings, dialogue.NewConversation(0), engine, events,
		usecase.CopilotConfig{
			QueueSize:       cfg.Responder.QueueSize,
			ResponseTimeout: cfg.Responder.Timeout,
			RepeatWindow:    cfg.Watchdog.DedupWindow,
		}, logger)
	rt.Copilot = copilot

	rt.Listener = usecase.NewListener(
		options.capture,
		scribe.NewProvider(scribe.Config{
			APIKey:      cfg.STT.APIKey,
			BaseURL:     cfg.STT.BaseURL,
			Model:       cfg.STT.Model,
			Language:    cfg.STT.Language,
			DialTimeout: cfg.STT.DialTimeout,
		}, logger),
		corrector,
		normalizer,
		events,
		listenerConfig(cfg),
		logger,
		usecase.WithUtteranceHandler(copilot.HandleUtterance),
		usecase.WithSpeechHandler(copilot.HandleSpeech),
		usecase.WithSpeechDetector(func() usecase.SpeechDetector {
			return audio.NewVAD(audio.VADConfig{
				SampleRate:      cfg.Audio.SampleRate,
				Channels:        cfg.Audio.Channels,
				SpeechThreshold: cfg.Audio.SpeechThreshold,
			})
		}),
	)

	rt.Watchdog = NewWatchdog(cfg, logger,
		watchdog.WithFeed(watchdog.NewFileFeed(cfg.Watchdog.InputsFile)),
		watchdog.WithAnnouncer(copilot.Announce),
		watchdog.WithObserver(events.WatchdogSynthesis),
	)

	return rt, nil
}

// NewWatchdog builds the orchestrator over the full detector set.
func NewWatchdog(cfg config.Config, logger zerolog.Logger, opts ...watchdog.Option) *watchdog.Orchestrator {
	wcfg := watchdog.DefaultConfig()
	wcfg.ScanInterval = cfg.Watchdog.ScanInterval
	wcfg.AutoSpeakThreshold = cfg.Watchdog.AutoSpeakThreshold
	wcfg.DedupWindow = cfg.Watchdog.DedupWindow
	wcfg.AlertTTL = cfg.Watchdog.AlertTTL
	if len(cfg.Watchdog.Weights) > 0 {
		weights := make(map[domain.Component]float64, len(cfg.Watchdog.Weights))
		for name, weight := range cfg.Watchdog.Weights {
			weights[domain.Component(name)] = weight
		}
		wcfg.Weights = weights
	}

	var detectorOpts []detectors.Option
	if cfg.Watchdog.AlertTTL > 0 {
		detectorOpts = append(detectorOpts, detectors.WithAlertTTL(cfg.Watchdog.AlertTTL))
	}
	return watchdog.New(wcfg, detectors.All(detectorOpts...), logger, opts...)
}

func interruptConfig(cfg config.Config) interrupt.Config {
	// A configured zero disables the minimum speech gate.
	minSpeech := cfg.Interrupt.MinSpeechDuration
	if minSpeech == 0 {
		minSpeech = interrupt.NoMinSpeech
	}
	return interrupt.Config{
		DebounceDelay:     cfg.Interrupt.DebounceDelay,
		MinSpeechDuration: minSpeech,
	}
}

func listenerConfig(cfg config.Config) usecase.ListenerConfig {
	// A configured zero means no reconnects; the listener treats zero as unset.
	reconnects := cfg.STT.MaxReconnects
	if reconnects == 0 {
		reconnects = -1
	}
	return usecase.ListenerConfig{
		Audio: ports.AudioConfig{
			SampleRate:  cfg.Audio.SampleRate,
			Channels:    cfg.Audio.Channels,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
		},
		Streaming: ports.StreamingConfig{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
			Encoding:   "pcm_s16le",
			Language:   cfg.STT.Language,
			Model:      cfg.STT.Model,
		},
		ChunkSize:        cfg.Audio.ChunkSize,
		ReadyTimeout:     cfg.STT.ReadyTimeout,
		MaxReconnects:    reconnects,
		ReconnectBackoff: cfg.STT.ReconnectBackoff,
		StreamGrace:      cfg.STT.StreamGrace,
	}
}
