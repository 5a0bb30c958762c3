package interrupt

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghostquant/internal/domain"
)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward, firing due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at.Before(c.timers[j].at) })
		var due *fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				due = t
				break
			}
		}
		if due == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		due.fired = true
		c.now = due.at
		c.mu.Unlock()
		due.f()
	}
}

type recorder struct {
	mu      sync.Mutex
	events  []domain.InterruptionEvent
	stops   int
	cancels int
}

func (r *recorder) listen(ev domain.InterruptionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(kind domain.InterruptionEventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == kind {
			n++
		}
	}
	return n
}

func (r *recorder) states() []domain.InterruptionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.InterruptionState
	for _, ev := range r.events {
		if ev.Type == domain.InterruptionEventStateChanged {
			out = append(out, ev.To)
		}
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *fakeClock, *recorder) {
	t.Helper()

	clock := newFakeClock()
	rec := &recorder{}
	engine := New(Config{}, zerolog.Nop(),
		WithClock(clock),
		WithStopTTS(func() { rec.mu.Lock(); rec.stops++; rec.mu.Unlock() }),
		WithCancelQueue(func() { rec.mu.Lock(); rec.cancels++; rec.mu.Unlock() }),
	)
	engine.Subscribe(rec.listen)
	return engine, clock, rec
}

func TestSustainedSpeechInterruptsOnce(t *testing.T) {
	t.Parallel()

	engine, clock, rec := newTestEngine(t)

	engine.TTSStarted()
	require.Equal(t, domain.InterruptionSpeaking, engine.State())

	engine.SpeechStarted()
	clock.Advance(DefaultDebounceDelay + DefaultMinSpeechDuration + 50*time.Millisecond)

	assert.Equal(t, 1, rec.count(domain.InterruptionEventTriggered))
	assert.Equal(t, 1, rec.stops)
	assert.Equal(t, 1, rec.cancels)
	assert.Equal(t, domain.InterruptionListening, engine.State())
	assert.False(t, engine.Snapshot().TTSActive)

	// playback teardown after the interruption does not re-trigger
	engine.TTSEnded()
	clock.Advance(time.Second)
	assert.Equal(t, 1, rec.count(domain.InterruptionEventTriggered))

	assert.Equal(t, []domain.InterruptionState{
		domain.InterruptionSpeaking,
		domain.InterruptionInterrupted,
		domain.InterruptionListening,
	}, rec.states())
}

func TestBriefNoiseDoesNotInterrupt(t *testing.T) {
	t.Parallel()

	engine, clock, rec := newTestEngine(t)

	engine.TTSStarted()
	engine.SpeechStarted()
	clock.Advance(DefaultDebounceDelay / 2)
	engine.SpeechEnded()
	clock.Advance(time.Second)

	assert.Zero(t, rec.count(domain.InterruptionEventTriggered))
	assert.Zero(t, rec.stops)
	assert.Zero(t, rec.cancels)
	assert.Equal(t, domain.InterruptionSpeaking, engine.State())
}

func TestSpeechShorterThanMinimumDoesNotInterrupt(t *testing.T) {
	t.Parallel()

	engine, clock, rec := newTestEngine(t)

	engine.TTSStarted()
	engine.SpeechStarted()
	clock.Advance(150 * time.Millisecond)
	engine.SpeechEnded()
	clock.Advance(time.Second)

	assert.Zero(t, rec.count(domain.InterruptionEventTriggered))
}

func TestTriggerWaitsForMinimumSpeechDuration(t *testing.T) {
	t.Parallel()

	engine, clock, rec := newTestEngine(t)

	engine.TTSStarted()
	engine.SpeechStarted()
	clock.Advance(DefaultMinSpeechDuration - time.Millisecond)
	assert.Zero(t, rec.count(domain.InterruptionEventTriggered))

	clock.Advance(time.Millisecond)
	assert.Equal(t, 1, rec.count(domain.InterruptionEventTriggered))
}

func TestNoMinSpeechTriggersAfterDebounce(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	rec := &recorder{}
	engine := New(Config{MinSpeechDuration: NoMinSpeech}, zerolog.Nop(), WithClock(clock))
	engine.Subscribe(rec.listen)

	engine.TTSStarted()
	engine.SpeechStarted()
	clock.Advance(DefaultDebounceDelay - time.Millisecond)
	assert.Zero(t, rec.count(domain.InterruptionEventTriggered))

	clock.Advance(time.Millisecond)
	assert.Equal(t, 1, rec.count(domain.InterruptionEventTriggered))
}

func TestTTSEndBeforeDebounceCancelsCheck(t *testing.T) {
	t.Parallel()

	engine, clock, rec := newTestEngine(t)

	engine.TTSStarted()
	engine.SpeechStarted()
	engine.TTSEnded()
	clock.Advance(time.Second)

	assert.Zero(t, rec.count(domain.InterruptionEventTriggered))
	assert.Equal(t, domain.InterruptionIdle, engine.State())
}

func TestSpeechWithoutPlaybackIsListening(t *testing.T) {
	t.Parallel()

	engine, clock, rec := newTestEngine(t)

	engine.SpeechStarted()
	assert.Equal(t, domain.InterruptionListening, engine.State())
	clock.Advance(time.Second)
	engine.SpeechEnded()
	assert.Equal(t, domain.InterruptionIdle, engine.State())
	assert.Zero(t, rec.count(domain.InterruptionEventTriggered))
}

func TestPlaybackStartingWhileUserTalksCanInterrupt(t *testing.T) {
	t.Parallel()

	engine, clock, rec := newTestEngine(t)

	engine.SpeechStarted()
	clock.Advance(300 * time.Millisecond)
	engine.TTSStarted()
	clock.Advance(DefaultDebounceDelay)

	assert.Equal(t, 1, rec.count(domain.InterruptionEventTriggered))
}

func TestCallbackPanicsAreRecovered(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cancelled := false
	engine := New(Config{DebounceDelay: 10 * time.Millisecond, MinSpeechDuration: 10 * time.Millisecond}, zerolog.Nop(),
		WithClock(clock),
		WithStopTTS(func() { panic("device gone") }),
		WithCancelQueue(func() { cancelled = true }),
	)
	engine.Subscribe(func(domain.InterruptionEvent) { panic("listener bug") })

	engine.TTSStarted()
	engine.SpeechStarted()
	clock.Advance(50 * time.Millisecond)

	assert.True(t, cancelled)
	assert.Equal(t, domain.InterruptionListening, engine.State())
}

func TestResetReturnsToIdle(t *testing.T) {
	t.Parallel()

	engine, clock, rec := newTestEngine(t)

	engine.TTSStarted()
	engine.SpeechStarted()
	engine.Reset()
	clock.Advance(time.Second)

	assert.Equal(t, domain.InterruptionIdle, engine.State())
	assert.Zero(t, rec.count(domain.InterruptionEventTriggered))
}

func TestSpeechEndedReportsDuration(t *testing.T) {
	t.Parallel()

	engine, clock, rec := newTestEngine(t)

	engine.SpeechStarted()
	clock.Advance(420 * time.Millisecond)
	engine.SpeechEnded()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	var found bool
	for _, ev := range rec.events {
		if ev.Type == domain.InterruptionEventSpeechEnded {
			found = true
			assert.Equal(t, 420*time.Millisecond, ev.SpeechDuration)
		}
	}
	assert.True(t, found)
}
