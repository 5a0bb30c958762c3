package usecase

import (
	"errors"
	"fmt"
	"io"
	"time"

	"ghostquant/internal/audio"
	"ghostquant/internal/domain"
	"ghostquant/internal/ports"
)

// SpeechDetector turns PCM frames into user speech start/end transitions.
type SpeechDetector interface {
	Process(pcm []byte) audio.Transition
	Reset() audio.Transition
}

// pumpAudioChunks forwards capture frames to the current stream while it is
// ready and feeds every frame to the speech detector.
func (l *Listener) pumpAudioChunks(s *listenSession) {
	defer close(s.audioDone)

	buf := make([]byte, l.cfg.ChunkSize)
	for {
		n, err := s.audio.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			l.detectSpeech(s, chunk)
			if s.isReady() {
				if sendErr := s.currentStream().SendAudio(chunk); sendErr != nil && !s.isStopping() {
					l.logger.Debug().Err(sendErr).Msg("dropping audio chunk")
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.isStopping() {
				l.events.SessionError(domain.ErrorCodeAudioStream, fmt.Sprintf("audio capture error: %v", err))
			}
			return
		}
	}
}

func (l *Listener) detectSpeech(s *listenSession, chunk []byte) {
	if s.detector == nil {
		return
	}
	switch s.detector.Process(chunk) {
	case audio.TransitionSpeechStarted:
		l.userSpeech(true)
	case audio.TransitionSpeechEnded:
		l.userSpeech(false)
	}
}

func (l *Listener) userSpeech(active bool) {
	l.events.UserSpeech(active)
	if l.onSpeech != nil {
		l.onSpeech(active)
	}
}

func waitForStream(session ports.StreamingSession, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = session.Close()
		return <-done
	}
}
