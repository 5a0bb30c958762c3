package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"ghostquant/internal/bootstrap"
	"ghostquant/internal/config"
	"ghostquant/internal/domain"
	"ghostquant/internal/logging"
	"ghostquant/internal/ports"
)

// App is the process root. It owns the runtime graph and is the event sink
// every component reports to.
type App struct {
	cfg    config.Config
	root   zerolog.Logger
	logger zerolog.Logger

	outMu sync.Mutex
	out   io.Writer

	rt      *bootstrap.Runtime
	bootErr error

	voiceMu  sync.Mutex
	voiceErr error
}

func NewApp(cfg config.Config, logger zerolog.Logger, out io.Writer) *App {
	if out == nil {
		out = io.Discard
	}
	return &App{
		cfg:    cfg,
		root:   logger,
		logger: logging.Component(logger, "app"),
		out:    out,
	}
}

func (a *App) startup(player ports.AudioPlayer, opts ...bootstrap.BuildOption) {
	rt, err := bootstrap.Build(a.cfg, a, player, a.root, opts...)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}
	a.rt = rt
	a.ListenerStateChanged(domain.ListenerStateIdle, domain.ListenerReasonMicCold)
}

// Run starts the copilot, the watchdog and the listener, and blocks until
// ctx is done. A listener that fails to start leaves the app running without
// voice input.
func (a *App) Run(ctx context.Context) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	defer a.shutdown()

	if _, err := a.rt.Settings.Load(ctx); err != nil {
		a.SessionError(domain.ErrorCodeSettings, err.Error())
	}
	if err := a.rt.Copilot.Start(ctx); err != nil {
		return err
	}
	if a.cfg.Watchdog.Enabled {
		if err := a.rt.Watchdog.Start(ctx); err != nil {
			a.SessionError(domain.ErrorCodeWatchdog, err.Error())
		}
	}
	if err := a.rt.Listener.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		a.setVoiceErr(err)
		a.SessionError(domain.ErrorCodeTranscription, fmt.Sprintf("voice input unavailable, watchdog and speech continue: %v", err))
	}

	<-ctx.Done()
	return nil
}

// Say speaks text once and waits for playback to finish.
func (a *App) Say(ctx context.Context, text string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	defer a.shutdown()
	return a.rt.Speaker.Speak(ctx, text)
}

func (a *App) shutdown() {
	if a.rt == nil {
		return
	}
	if err := a.rt.Listener.Stop(); err != nil {
		a.logger.Warn().Err(err).Msg("listener stop failed")
	}
	a.rt.Watchdog.Stop()
	a.rt.Copilot.Stop()
	a.rt.Interrupt.Reset()
	if err := a.rt.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("runtime close failed")
	}
	a.rt = nil
}

// GetStatus returns the current listener status.
func (a *App) GetStatus() domain.Status {
	if a.rt == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.ListenerStateError, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.ListenerStateIdle, Active: false}
	}
	status := a.rt.Listener.Status()
	if status.State == domain.ListenerStateIdle {
		if err := a.getVoiceErr(); err != nil {
			return domain.Status{State: domain.ListenerStateError, Message: err.Error()}
		}
	}
	return status
}

func (a *App) setVoiceErr(err error) {
	a.voiceMu.Lock()
	defer a.voiceMu.Unlock()
	a.voiceErr = err
}

func (a *App) getVoiceErr() error {
	a.voiceMu.Lock()
	defer a.voiceMu.Unlock()
	return a.voiceErr
}

// GetRuntimeInfo returns non-sensitive config for display.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	return map[string]string{
		"sttModel":    a.cfg.STT.Model,
		"language":    a.cfg.STT.Language,
		"voice":       a.cfg.TTS.VoiceID,
		"responder":   a.cfg.Responder.Model,
		"corrections": a.cfg.Corrections.Path,
		"audioInput":  a.cfg.Audio.InputDevice,
		"configFile":  a.cfg.File,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.rt == nil {
		return errors.New("backend not initialized")
	}
	return nil
}

func (a *App) printf(format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}

// ListenerStateChanged logs listener transitions.
func (a *App) ListenerStateChanged(state domain.ListenerState, reason domain.ListenerReason) {
	event := a.logger.Info()
	if state == domain.ListenerStateError {
		event = a.logger.Warn()
	}
	event.Str("state", string(state)).Str("reason", string(reason)).Msg(listenerReasonMessage(reason))
}

func (a *App) PartialTranscript(text string) {
	a.logger.Debug().Str("text", text).Msg("partial transcript")
}

func (a *App) FinalTranscript(utterance domain.Utterance) {
	a.logger.Info().
		Str("text", utterance.Corrected).
		Bool("wake", utterance.WakeDetected).
		Str("alias", utterance.WakeAlias).
		Float64("confidence", utterance.WakeConfidence).
		Msg("final transcript")
	a.printf("you: %s\n", utterance.Corrected)
}

func (a *App) UserSpeech(active bool) {
	a.logger.Debug().Bool("active", active).Msg("user speech")
}

func (a *App) SpeakingStarted(id string, text string) {
	a.logger.Info().Str("utterance", id).Msg("speaking")
	a.printf("ghostquant: %s\n", text)
}

func (a *App) SpeakingEnded(id string, err error) {
	event := a.logger.Debug()
	if err != nil {
		event = a.logger.Info().Err(err)
	}
	event.Str("utterance", id).Msg("speaking ended")
}

func (a *App) Interruption(event domain.InterruptionEvent) {
	if event.Type == domain.InterruptionEventTriggered {
		a.logger.Info().Dur("speech", event.SpeechDuration).Msg("interrupted by user")
		return
	}
	a.logger.Debug().Str("type", string(event.Type)).Str("from", string(event.From)).Str("to", string(event.To)).Msg("interruption event")
}

func (a *App) WatchdogSynthesis(synthesis domain.Synthesis) {
	event := a.logger.Debug()
	if synthesis.State == domain.ThreatStateAlert || synthesis.State == domain.ThreatStateCritical {
		event = a.logger.Info()
	}
	event.
		Float64("threatLevel", synthesis.ThreatLevel).
		Str("state", string(synthesis.State)).
		Int("activeThreats", synthesis.ActiveThreats).
		Bool("speak", synthesis.ShouldSpeak).
		Msg("watchdog scan")
}

// SessionError logs a backend error with its display message.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.logger.Error().Str("code", string(code)).Str("detail", detail).Msg(errorMessage(code, detail))
}

func listenerReasonMessage(reason domain.ListenerReason) string {
	switch reason {
	case domain.ListenerReasonMicCold:
		return "Mic cold"
	case domain.ListenerReasonConnecting:
		return "Connecting to transcription"
	case domain.ListenerReasonReady:
		return "Listening"
	case domain.ListenerReasonRestarted:
		return "Listening restarted; previous session discarded"
	case domain.ListenerReasonReconnecting:
		return "Transcription stream lost. Reconnecting..."
	case domain.ListenerReasonReconnected:
		return "Transcription stream reconnected"
	case domain.ListenerReasonStopped:
		return "Listening stopped"
	case domain.ListenerReasonReadyTimeout:
		return "Transcription did not become ready"
	case domain.ListenerReasonCaptureFailed:
		return "Microphone capture failed"
	case domain.ListenerReasonConnectFailed:
		return "Could not connect to transcription"
	case domain.ListenerReasonRetriesExhausted:
		return "Transcription stream lost"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeAudioCapture:
		return "Audio capture issue"
	case domain.ErrorCodeAudioStream:
		return "Audio streaming issue"
	case domain.ErrorCodeTranscription:
		return "Transcription error"
	case domain.ErrorCodeProtocol:
		return "Transcription protocol error"
	case domain.ErrorCodeSynthesis:
		return "Speech synthesis failed"
	case domain.ErrorCodePlayback:
		return "Audio playback failed"
	case domain.ErrorCodeResponder:
		return "Answer engine unavailable"
	case domain.ErrorCodeWatchdog:
		return "Watchdog issue"
	case domain.ErrorCodeSettings:
		return "Settings issue"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
