package usecase

import (
	"sync"

	"ghostquant/internal/domain"
	"ghostquant/internal/ports"
)

type listenSession struct {
	cancel func()
	audio  ports.AudioSession

	mu           sync.Mutex
	stream       ports.StreamingSession
	state        domain.ListenerState
	ready        bool
	everReady    bool
	stopping     bool
	reconnecting bool

	readyCh    chan struct{}
	stopCh     chan struct{}
	commits    *commitTracker
	detector   SpeechDetector
	streamDone chan struct{}
	audioDone  chan struct{}
}

func (s *listenSession) setState(state domain.ListenerState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *listenSession) getState() domain.ListenerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *listenSession) currentStream() ports.StreamingSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// replaceStream installs a redialled stream. Audio is dropped until it reports ready.
// It refuses once the session is stopping.
func (s *listenSession) replaceStream(stream ports.StreamingSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.stream = stream
	s.ready = false
	return true
}

func (s *listenSession) isReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready && !s.stopping
}

// markReady flags the stream ready and reports whether this is the first ready of the session.
func (s *listenSession) markReady() (first bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = true
	s.reconnecting = false
	if s.everReady {
		return false
	}
	s.everReady = true
	close(s.readyCh)
	return true
}

func (s *listenSession) markReconnecting() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = false
	s.reconnecting = true
}

// markStopping reports false if the session was already stopping.
func (s *listenSession) markStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.stopping = true
	s.ready = false
	close(s.stopCh)
	return true
}

func (s *listenSession) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}
