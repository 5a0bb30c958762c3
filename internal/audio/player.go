package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/hajimehoshi/go-mp3"
	"github.com/rs/zerolog"

	"ghostquant/internal/ports"
)

// ErrUnsupportedFormat is returned for audio the player cannot decode.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// PCM is decoded signed 16-bit little-endian audio.
type PCM struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// Decode turns synthesized audio into PCM. mp3 is decoded to stereo; pcm is taken as mono.
func Decode(audio ports.SynthesizedAudio) (PCM, error) {
	switch audio.Format {
	case "mp3", "":
		decoder, err := mp3.NewDecoder(bytes.NewReader(audio.Data))
		if err != nil {
			return PCM{}, fmt.Errorf("failed to open mp3 stream: %w", err)
		}
		data, err := io.ReadAll(decoder)
		if err != nil {
			return PCM{}, fmt.Errorf("failed to decode mp3 stream: %w", err)
		}
		return PCM{Data: data, SampleRate: decoder.SampleRate(), Channels: 2}, nil
	case "pcm":
		if audio.SampleRate <= 0 {
			return PCM{}, fmt.Errorf("%w: pcm without sample rate", ErrUnsupportedFormat)
		}
		return PCM{Data: audio.Data, SampleRate: audio.SampleRate, Channels: 1}, nil
	default:
		return PCM{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, audio.Format)
	}
}

// pcmStream feeds the device callback and signals when the buffer is drained.
type pcmStream struct {
	mu   sync.Mutex
	data []byte
	pos  int
	done chan struct{}
	once sync.Once
}

func newPCMStream(data []byte) *pcmStream {
	return &pcmStream{data: data, done: make(chan struct{})}
}

// fill copies the next chunk into out, padding with silence once drained.
func (s *pcmStream) fill(out []byte) {
	s.mu.Lock()
	n := copy(out, s.data[s.pos:])
	s.pos += n
	drained := s.pos >= len(s.data)
	s.mu.Unlock()

	clear(out[n:])
	if drained {
		s.once.Do(func() { close(s.done) })
	}
}

// Player plays PCM through the default output device using malgo.
// One device is opened per Play call and torn down when it returns.
type Player struct {
	logger   zerolog.Logger
	bufferMs uint32

	mu   sync.Mutex
	mctx *malgo.AllocatedContext
}

func NewPlayer(bufferMs uint32, logger zerolog.Logger) (*Player, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	if bufferMs == 0 {
		bufferMs = 100
	}
	return &Player{
		logger:   logger.With().Str("component", "player").Logger(),
		bufferMs: bufferMs,
		mctx:     mctx,
	}, nil
}

// Play blocks until the audio has been played or ctx is cancelled.
func (p *Player) Play(ctx context.Context, audio ports.SynthesizedAudio) error {
	pcm, err := Decode(audio)
	if err != nil {
		return err
	}
	if len(pcm.Data) == 0 {
		return nil
	}

	p.mu.Lock()
	mctx := p.mctx
	p.mu.Unlock()
	if mctx == nil {
		return errors.New("player is closed")
	}

	stream := newPCMStream(pcm.Data)
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(pcm.Channels)
	cfg.SampleRate = uint32(pcm.SampleRate)
	cfg.PeriodSizeInMilliseconds = p.bufferMs

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) {
			stream.fill(output)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	p.logger.Debug().
		Int("bytes", len(pcm.Data)).
		Int("sampleRate", pcm.SampleRate).
		Int("channels", pcm.Channels).
		Msg("playback started")

	select {
	case <-stream.done:
		_ = device.Stop()
		return nil
	case <-ctx.Done():
		_ = device.Stop()
		p.logger.Debug().Msg("playback cancelled")
		return ctx.Err()
	}
}

// Close releases the audio context.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mctx == nil {
		return nil
	}
	err := p.mctx.Uninit()
	p.mctx.Free()
	p.mctx = nil
	return err
}
