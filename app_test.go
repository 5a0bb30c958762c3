package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghostquant/internal/bootstrap"
	"ghostquant/internal/config"
	"ghostquant/internal/domain"
	"ghostquant/internal/ports"
	"ghostquant/internal/providers/scribe"
)

func TestListenerReasonMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.ListenerReason]string{
		domain.ListenerReasonMicCold:          "Mic cold",
		domain.ListenerReasonConnecting:       "Connecting to transcription",
		domain.ListenerReasonReady:            "Listening",
		domain.ListenerReasonRestarted:        "Listening restarted; previous session discarded",
		domain.ListenerReasonReconnecting:     "Transcription stream lost. Reconnecting...",
		domain.ListenerReasonReconnected:      "Transcription stream reconnected",
		domain.ListenerReasonStopped:          "Listening stopped",
		domain.ListenerReasonReadyTimeout:     "Transcription did not become ready",
		domain.ListenerReasonCaptureFailed:    "Microphone capture failed",
		domain.ListenerReasonConnectFailed:    "Could not connect to transcription",
		domain.ListenerReasonRetriesExhausted: "Transcription stream lost",
	}

	for reason, want := range cases {
		t.Run(string(reason), func(t *testing.T) {
			t.Parallel()
			if got := listenerReasonMessage(reason); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := listenerReasonMessage("unknown"); got != "" {
		t.Fatalf("expected empty unknown reason message, got %q", got)
	}
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.ErrorCode]string{
		domain.ErrorCodeStartup:       "Startup failed",
		domain.ErrorCodeAudioCapture:  "Audio capture issue",
		domain.ErrorCodeAudioStream:   "Audio streaming issue",
		domain.ErrorCodeTranscription: "Transcription error",
		domain.ErrorCodeProtocol:      "Transcription protocol error",
		domain.ErrorCodeSynthesis:     "Speech synthesis failed",
		domain.ErrorCodePlayback:      "Audio playback failed",
		domain.ErrorCodeResponder:     "Answer engine unavailable",
		domain.ErrorCodeWatchdog:      "Watchdog issue",
		domain.ErrorCodeSettings:      "Settings issue",
	}
	for code, want := range cases {
		t.Run(string(code), func(t *testing.T) {
			t.Parallel()
			if got := errorMessage(code, "ignored"); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := errorMessage("unknown", "detail"); got != "detail" {
		t.Fatalf("expected detail fallback, got %q", got)
	}
	if got := errorMessage("unknown", ""); got != "Unknown error" {
		t.Fatalf("expected unknown fallback, got %q", got)
	}
}

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := NewApp(config.Config{}, zerolog.Nop(), nil)
	if err := app.requireReady(); err == nil {
		t.Fatalf("expected uninitialized error")
	}

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	if err := app.requireReady(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error, got %v", err)
	}
}

func TestGetStatusWhenNotInitialized(t *testing.T) {
	t.Parallel()

	app := NewApp(config.Config{}, zerolog.Nop(), nil)
	status := app.GetStatus()
	if status.State != domain.ListenerStateIdle || status.Active {
		t.Fatalf("unexpected status: %+v", status)
	}

	app.bootErr = errors.New("boot")
	status = app.GetStatus()
	if status.State != domain.ListenerStateError || status.Active || status.Message != "boot" {
		t.Fatalf("unexpected boot status: %+v", status)
	}
	if info := app.GetRuntimeInfo(); info["error"] != "boot" {
		t.Fatalf("unexpected runtime info: %v", info)
	}
}

func TestStartupBuildsRuntime(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)

	app := NewApp(cfg, zerolog.Nop(), nil)
	app.startup(silentPlayer{})
	require.NoError(t, app.requireReady())
	assert.Equal(t, domain.ListenerStateIdle, app.GetStatus().State)

	app.shutdown()
	assert.Nil(t, app.rt)
}

func TestRunKeepsWatchdogWhenTranscriptionUnavailable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("GHOSTQUANT_STT_API_KEY", "")
	t.Setenv("SCRIBE_API_KEY", "")
	t.Setenv("ELEVENLABS_API_KEY", "")
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Empty(t, cfg.STT.APIKey)
	cfg.Watchdog.Enabled = true
	cfg.Watchdog.ScanInterval = 10 * time.Millisecond

	app := NewApp(cfg, zerolog.Nop(), nil)
	app.startup(silentPlayer{}, bootstrap.WithCapture(silentCapture{}))
	require.NoError(t, app.requireReady())
	rt := app.rt

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		return app.GetStatus().State == domain.ListenerStateError
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, app.GetStatus().Message, scribe.ErrMissingAPIKey.Error())

	require.Eventually(t, func() bool {
		return len(rt.Watchdog.History()) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, rt.Watchdog.Running())

	select {
	case err := <-done:
		t.Fatalf("run returned while voice input was down: %v", err)
	default:
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	assert.False(t, rt.Watchdog.Running())
}

func TestFinalTranscriptAndSpeechArePrinted(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	app := NewApp(config.Config{}, zerolog.Nop(), &out)
	app.FinalTranscript(domain.Utterance{Corrected: "ghostquant what is btc doing"})
	app.SpeakingStarted("u1", "Bitcoin is flat.")

	assert.Equal(t, "you: ghostquant what is btc doing\nghostquant: Bitcoin is flat.\n", out.String())
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "off"))
	err := cmd.Execute()
	return out.String(), err
}

func TestWakeCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	out, err := runCommand(t, "wake", "hey", "ghostquant,", "what's", "moving")
	require.NoError(t, err)
	assert.Contains(t, out, "confidence: 1.00")
	assert.Contains(t, out, "query:      what's moving")

	out, err = runCommand(t, "wake", "nothing", "here")
	require.NoError(t, err)
	assert.Contains(t, out, "no wake phrase")
}

func TestModeCommandPersists(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	out, err := runCommand(t, "mode", "mission")
	require.NoError(t, err)
	assert.Equal(t, "mission", strings.TrimSpace(out))

	out, err = runCommand(t, "mode")
	require.NoError(t, err)
	assert.Equal(t, "mission", strings.TrimSpace(out))

	_, err = runCommand(t, "mode", "stealth")
	assert.Error(t, err)
}

func TestWatchOnceCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "inputs.json")
	inputs := `{"manipulation":[{"symbol":"XYZ","totalVolume":100,"selfMatchedVolume":60,"ordersPlaced":100,"ordersCancelled":98}]}`
	require.NoError(t, os.WriteFile(path, []byte(inputs), 0o600))

	out, err := runCommand(t, "watch", "--once", "--inputs", path)
	require.NoError(t, err)

	var synthesis domain.Synthesis
	require.NoError(t, json.Unmarshal([]byte(out), &synthesis))
	assert.Contains(t, synthesis.Components, domain.ComponentManipulation)
	assert.Greater(t, synthesis.ThreatLevel, 0.0)
	assert.True(t, synthesis.ShouldSpeak)
}

type silentPlayer struct{}

func (silentPlayer) Play(context.Context, ports.SynthesizedAudio) error { return nil }

type silentCapture struct{}

func (silentCapture) Start(context.Context, ports.AudioConfig) (ports.AudioSession, error) {
	return silentSession{}, nil
}

type silentSession struct{}

func (silentSession) Read([]byte) (int, error) { return 0, io.EOF }
func (silentSession) Close() error             { return nil }
func (silentSession) Stop() error              { return nil }
