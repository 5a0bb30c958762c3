package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"ghostquant/internal/audio"
	"ghostquant/internal/domain"
	"ghostquant/internal/ports"
)

type fakeAudioCapture struct {
	mu       sync.Mutex
	sessions []ports.AudioSession
	err      error
	calls    int
}

func (f *fakeAudioCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no audio session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

type fakeAudioSession struct {
	mu        sync.Mutex
	chunks    [][]byte
	index     int
	stopCalls int
	stopErr   error
}

func (f *fakeAudioSession) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index >= len(f.chunks) {
		return 0, io.EOF
	}
	n := copy(p, f.chunks[f.index])
	f.index++
	return n, nil
}

func (f *fakeAudioSession) Close() error { return nil }

func (f *fakeAudioSession) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return f.stopErr
}

func (f *fakeAudioSession) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

// chanAudioSession blocks in Read until a chunk arrives or Stop is called.
type chanAudioSession struct {
	chunks chan []byte
	stop   chan struct{}
	once   sync.Once
}

func newChanAudioSession() *chanAudioSession {
	return &chanAudioSession{chunks: make(chan []byte), stop: make(chan struct{})}
}

func (c *chanAudioSession) Read(p []byte) (int, error) {
	select {
	case chunk := <-c.chunks:
		return copy(p, chunk), nil
	case <-c.stop:
		return 0, io.EOF
	}
}

func (c *chanAudioSession) Close() error { return c.Stop() }

func (c *chanAudioSession) Stop() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}

type fakeProvider struct {
	mu       sync.Mutex
	sessions []ports.StreamingSession
	err      error
	calls    int
}

func (f *fakeProvider) StartStreaming(_ context.Context, _ ports.StreamingConfig) (ports.StreamingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.calls > len(f.sessions) {
		return nil, errors.New("no stream session configured")
	}
	return f.sessions[f.calls-1], nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStreamingSession struct {
	events     chan domain.TranscriptEvent
	waitErr    error
	closeSend  int
	closeCalls int
	closed     bool
	sent       [][]byte
	mu         sync.Mutex
}

func newFakeStreamingSession(events ...domain.TranscriptEvent) *fakeStreamingSession {
	f := &fakeStreamingSession{events: make(chan domain.TranscriptEvent, 16)}
	for _, event := range events {
		f.events <- event
	}
	return f
}

func readyEvent() domain.TranscriptEvent {
	return domain.TranscriptEvent{Kind: domain.TranscriptKindReady, SessionID: "sess-1"}
}

func (f *fakeStreamingSession) SendAudio(chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("stream closed")
	}
	f.sent = append(f.sent, append([]byte(nil), chunk...))
	return nil
}

func (f *fakeStreamingSession) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeSend++
	f.closeLocked()
	return nil
}

func (f *fakeStreamingSession) Events() <-chan domain.TranscriptEvent { return f.events }

func (f *fakeStreamingSession) Wait() error {
	time.Sleep(5 * time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waitErr
}

func (f *fakeStreamingSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	f.closeLocked()
	return nil
}

// drop simulates the backend closing the connection.
func (f *fakeStreamingSession) drop(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waitErr = err
	f.closeLocked()
}

func (f *fakeStreamingSession) closeLocked() {
	if !f.closed {
		close(f.events)
		f.closed = true
	}
}

func (f *fakeStreamingSession) sentChunks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, chunk := range f.sent {
		out = append(out, string(chunk))
	}
	return out
}

func (f *fakeStreamingSession) counts() (closeSend, closeCalls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeSend, f.closeCalls
}

type fakeCorrector struct {
	apply func(string) string
	err   error
}

func (f *fakeCorrector) Apply(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.apply != nil {
		return f.apply(text), nil
	}
	return text, nil
}

type fakeDetector struct {
	mu     sync.Mutex
	script []audio.Transition
	calls  int
	active bool
}

func (f *fakeDetector) Process(_ []byte) audio.Transition {
	f.mu.Lock()
	defer f.mu.Unlock()
	var t audio.Transition
	if f.calls < len(f.script) {
		t = f.script[f.calls]
	}
	f.calls++
	switch t {
	case audio.TransitionSpeechStarted:
		f.active = true
	case audio.TransitionSpeechEnded:
		f.active = false
	}
	return t
}

func (f *fakeDetector) Reset() audio.Transition {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		f.active = false
		return audio.TransitionSpeechEnded
	}
	return audio.TransitionNone
}

func (f *fakeDetector) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEventSink struct {
	mu sync.Mutex

	states     []stateEvent
	partials   []string
	finals     []domain.Utterance
	speech     []bool
	log        []string
	ended      []error
	interrupts []domain.InterruptionEvent
	syntheses  []domain.Synthesis
	errors     []errEvent
}

type stateEvent struct {
	state  domain.ListenerState
	reason domain.ListenerReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) ListenerStateChanged(state domain.ListenerState, reason domain.ListenerReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) PartialTranscript(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partials = append(f.partials, text)
}

func (f *fakeEventSink) FinalTranscript(utterance domain.Utterance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finals = append(f.finals, utterance)
}

func (f *fakeEventSink) UserSpeech(active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.speech = append(f.speech, active)
}

func (f *fakeEventSink) SpeakingStarted(_ string, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, "started:"+text)
}

func (f *fakeEventSink) SpeakingEnded(_ string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, "ended")
	f.ended = append(f.ended, err)
}

func (f *fakeEventSink) Interruption(event domain.InterruptionEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts = append(f.interrupts, event)
}

func (f *fakeEventSink) WatchdogSynthesis(synthesis domain.Synthesis) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syntheses = append(f.syntheses, synthesis)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stateEvent(nil), f.states...)
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]errEvent(nil), f.errors...)
}

func (f *fakeEventSink) snapshotFinals() []domain.Utterance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Utterance(nil), f.finals...)
}

func (f *fakeEventSink) snapshotSpeech() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.speech...)
}

func (f *fakeEventSink) snapshotLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

func (f *fakeEventSink) snapshotEnded() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.ended...)
}

func (f *fakeEventSink) hasState(state domain.ListenerState, reason domain.ListenerReason) bool {
	for _, s := range f.snapshotStates() {
		if s.state == state && s.reason == reason {
			return true
		}
	}
	return false
}

func (f *fakeEventSink) lastState() stateEvent {
	states := f.snapshotStates()
	if len(states) == 0 {
		return stateEvent{}
	}
	return states[len(states)-1]
}

type fakeSynth struct {
	mu          sync.Mutex
	unavailable bool
	err         error
	texts       []string
}

func (f *fakeSynth) Available() bool { return !f.unavailable }

func (f *fakeSynth) Synthesize(ctx context.Context, req ports.SynthesisRequest) (ports.SynthesizedAudio, error) {
	f.mu.Lock()
	f.texts = append(f.texts, req.Text)
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return ports.SynthesizedAudio{}, err
	}
	if ctx.Err() != nil {
		return ports.SynthesizedAudio{}, ctx.Err()
	}
	return ports.SynthesizedAudio{Data: []byte(req.Text), Format: "mp3"}, nil
}

func (f *fakeSynth) snapshotTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

// fakePlayer blocks the first blockFirst plays until ctx is cancelled.
type fakePlayer struct {
	mu         sync.Mutex
	blockFirst int
	plays      int
	started    chan string
	err        error
}

func newFakePlayer(blockFirst int) *fakePlayer {
	return &fakePlayer{blockFirst: blockFirst, started: make(chan string, 16)}
}

func (f *fakePlayer) Play(ctx context.Context, audio ports.SynthesizedAudio) error {
	f.mu.Lock()
	f.plays++
	block := f.plays <= f.blockFirst
	err := f.err
	f.mu.Unlock()

	f.started <- string(audio.Data)
	if err != nil {
		return err
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

type observerCounts struct {
	mu      sync.Mutex
	started int
	ended   int
}

func (o *observerCounts) TTSStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *observerCounts) TTSEnded() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ended++
}

func (o *observerCounts) snapshot() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.started, o.ended
}

type fakeResponder struct {
	mu      sync.Mutex
	answer  string
	err     error
	queries []string
	modes   []domain.VoiceMode
}

func (f *fakeResponder) Respond(_ context.Context, query string, mode domain.VoiceMode) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.modes = append(f.modes, mode)
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}
