// Package audio captures microphone PCM, detects voice activity and plays synthesized speech.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ghostquant/internal/ports"
)

// ErrCaptureUnavailable marks acquisition failures: missing binary, denied or absent device.
var ErrCaptureUnavailable = errors.New("microphone capture unavailable")

const (
	defaultStartupGrace = 250 * time.Millisecond
	defaultStopGrace    = 1200 * time.Millisecond
	stderrLimit         = 4096
)

// Microphone streams PCM16 little-endian audio from an ffmpeg subprocess.
type Microphone struct {
	command      string
	startupGrace time.Duration
	stopGrace    time.Duration
	logger       zerolog.Logger
}

// MicrophoneOption customizes a Microphone.
type MicrophoneOption func(*Microphone)

// WithStartupGrace sets how long ffmpeg must survive before capture counts as started.
func WithStartupGrace(d time.Duration) MicrophoneOption {
	return func(m *Microphone) {
		if d > 0 {
			m.startupGrace = d
		}
	}
}

func NewMicrophone(command string, logger zerolog.Logger, opts ...MicrophoneOption) *Microphone {
	if command == "" {
		command = "ffmpeg"
	}
	m := &Microphone{
		command:      command,
		startupGrace: defaultStartupGrace,
		stopGrace:    defaultStopGrace,
		logger:       logger.With().Str("component", "microphone").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func withCaptureDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}

func captureArgs(cfg ports.AudioConfig) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

// Start launches ffmpeg and returns once it has survived the startup grace period.
func (m *Microphone) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cfg = withCaptureDefaults(cfg)

	cmd := exec.CommandContext(ctx, m.command, captureArgs(cfg)...)
	stderr := &cappedBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create capture pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start %s: %v", ErrCaptureUnavailable, m.command, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		detail := stderr.String()
		m.logger.Warn().Err(err).Str("stderr", detail).Msg("capture exited during startup")
		if err != nil {
			return nil, fmt.Errorf("%w: capture exited before start: %v: %s", ErrCaptureUnavailable, err, detail)
		}
		return nil, fmt.Errorf("%w: capture exited before start", ErrCaptureUnavailable)
	case <-time.After(m.startupGrace):
	}

	m.logger.Debug().
		Int("sampleRate", cfg.SampleRate).
		Int("channels", cfg.Channels).
		Str("format", cfg.InputFormat).
		Str("device", cfg.InputDevice).
		Msg("capture started")

	return &captureSession{
		stdout:    stdout,
		stderr:    stderr,
		process:   cmd.Process,
		waitErr:   waitErr,
		stopGrace: m.stopGrace,
	}, nil
}

type captureSession struct {
	stdout io.ReadCloser
	stderr *cappedBuffer

	process   *os.Process
	waitErr   <-chan error
	stopGrace time.Duration

	stopOnce sync.Once
	stopErr  error
}

func (s *captureSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *captureSession) Close() error {
	return s.Stop()
}

// Stop interrupts ffmpeg, escalating to kill after the stop grace period.
func (s *captureSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		var err error
		select {
		case err = <-s.waitErr:
		case <-time.After(s.stopGrace):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err = <-s.waitErr
		}
		s.stopErr = ignoreExitStatus(err)

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = closeErr
		}
		if s.stopErr != nil {
			if detail := s.stderr.String(); detail != "" {
				s.stopErr = fmt.Errorf("%w: %s", s.stopErr, detail)
			}
		}
	})

	return s.stopErr
}

// ignoreExitStatus drops the non-zero exit ffmpeg reports after SIGINT.
func ignoreExitStatus(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// cappedBuffer keeps the first limit bytes of stderr; exec writes to it from its own goroutine.
type cappedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(b.buf.String())
}
