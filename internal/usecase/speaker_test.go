package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghostquant/internal/domain"
	"ghostquant/internal/interrupt"
)

func TestSpeakerMissingCredentials(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	player := newFakePlayer(0)
	speaker := NewSpeaker(&fakeSynth{unavailable: true}, player, events, zerolog.Nop())

	err := speaker.Speak(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrMissingCredentials)
	assert.Empty(t, events.snapshotLog())
	assert.Empty(t, player.started)
}

func TestSpeakerRejectsEmptyText(t *testing.T) {
	t.Parallel()

	speaker := NewSpeaker(&fakeSynth{}, newFakePlayer(0), &fakeEventSink{}, zerolog.Nop())
	assert.ErrorIs(t, speaker.Speak(context.Background(), "  "), ErrEmptySpeech)
}

func TestSpeakerSpeakSuccess(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	synth := &fakeSynth{}
	observer := &observerCounts{}
	speaker := NewSpeaker(synth, newFakePlayer(0), events, zerolog.Nop(), WithPlaybackObserver(observer))

	require.NoError(t, speaker.Speak(context.Background(), "Funding is flat."))

	assert.Equal(t, []string{"started:Funding is flat.", "ended"}, events.snapshotLog())
	assert.Equal(t, []error{nil}, events.snapshotEnded())
	assert.Equal(t, []string{"Funding is flat."}, synth.snapshotTexts())
	started, ended := observer.snapshot()
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, ended)
	assert.False(t, speaker.Speaking())
}

func TestSpeakerPreemptsCurrentUtterance(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	player := newFakePlayer(1)
	speaker := NewSpeaker(&fakeSynth{}, player, events, zerolog.Nop())

	firstErr := make(chan error, 1)
	go func() { firstErr <- speaker.Speak(context.Background(), "first") }()
	require.Equal(t, "first", <-player.started)
	assert.True(t, speaker.Speaking())

	require.NoError(t, speaker.Speak(context.Background(), "second"))
	assert.ErrorIs(t, <-firstErr, ErrInterrupted)

	assert.Equal(t, []string{"started:first", "ended", "started:second", "ended"}, events.snapshotLog())
	ended := events.snapshotEnded()
	require.Len(t, ended, 2)
	assert.ErrorIs(t, ended[0], ErrInterrupted)
	assert.NoError(t, ended[1])
}

func TestSpeakerStopInterruptsPlayback(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	player := newFakePlayer(1)
	speaker := NewSpeaker(&fakeSynth{}, player, events, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- speaker.Speak(context.Background(), "long answer") }()
	<-player.started

	speaker.Stop()
	assert.ErrorIs(t, <-done, ErrInterrupted)
	assert.Empty(t, events.snapshotErrors())
}

func TestSpeakerSynthesisFailureStillEndsSpeaking(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	speaker := NewSpeaker(&fakeSynth{err: errors.New("503")}, newFakePlayer(0), events, zerolog.Nop())

	err := speaker.Speak(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, []string{"started:hello", "ended"}, events.snapshotLog())
	errs := events.snapshotErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, domain.ErrorCodeSynthesis, errs[0].code)
}

func TestSpeakerPlaybackFailure(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	player := newFakePlayer(0)
	player.err = errors.New("no output device")
	speaker := NewSpeaker(&fakeSynth{}, player, events, zerolog.Nop())

	require.Error(t, speaker.Speak(context.Background(), "hello"))
	errs := events.snapshotErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, domain.ErrorCodePlayback, errs[0].code)
}

func TestSpeakerInterruptedByUserSpeech(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	player := newFakePlayer(1)

	var speaker *Speaker
	engine := interrupt.New(
		interrupt.Config{DebounceDelay: 5 * time.Millisecond, MinSpeechDuration: 10 * time.Millisecond},
		zerolog.Nop(),
		interrupt.WithStopTTS(func() { speaker.Stop() }),
	)
	engine.Subscribe(events.Interruption)
	speaker = NewSpeaker(&fakeSynth{}, player, events, zerolog.Nop(), WithPlaybackObserver(engine))

	done := make(chan error, 1)
	go func() { done <- speaker.Speak(context.Background(), "the market is") }()
	<-player.started
	require.Eventually(t, func() bool {
		return engine.State() == domain.InterruptionSpeaking
	}, waitFor, time.Millisecond)

	engine.SpeechStarted()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrInterrupted)
	case <-time.After(waitFor):
		t.Fatal("expected playback to be interrupted")
	}
	require.Eventually(t, func() bool {
		return engine.State() == domain.InterruptionListening
	}, waitFor, time.Millisecond)
}
