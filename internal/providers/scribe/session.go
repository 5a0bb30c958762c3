package scribe

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ghostquant/internal/domain"
)

// ErrSessionClosed is returned when audio is sent after the stream ended.
var ErrSessionClosed = errors.New("transcription session closed")

type streamingSession struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	events chan domain.TranscriptEvent
	audio  chan []byte
	done   chan struct{}
	stop   chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeSendOnce sync.Once
	closeOnce     sync.Once
	sendMu        sync.RWMutex
	sendClosed    bool
}

func newStreamingSession(conn *websocket.Conn, logger zerolog.Logger) *streamingSession {
	return &streamingSession{
		conn:   conn,
		logger: logger,
		events: make(chan domain.TranscriptEvent, 64),
		audio:  make(chan []byte, 32),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
}

func (s *streamingSession) start() {
	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go func() {
		s.wg.Wait()
		close(s.events)
		close(s.done)
		_ = s.conn.Close()
	}()
}

func (s *streamingSession) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return ErrSessionClosed
	}

	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return ErrSessionClosed
	}
}

// CloseSend stops the audio stream; the write loop then sends the close control message.
func (s *streamingSession) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	return nil
}

func (s *streamingSession) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *streamingSession) Wait() error {
	<-s.done
	return s.waitErr()
}

func (s *streamingSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		// closing the socket first unblocks a SendAudio waiting on a dead writer
		_ = s.conn.Close()
		_ = s.CloseSend()
	})
	<-s.done
	return s.waitErr()
}

func (s *streamingSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *streamingSession) setErr(err error) {
	if err == nil || isExpectedClose(err) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}

func (s *streamingSession) writeLoop() {
	defer s.wg.Done()

	for chunk := range s.audio {
		if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			s.setErr(fmt.Errorf("failed to send audio: %w", err))
			return
		}
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, closeMessage); err != nil {
		s.setErr(fmt.Errorf("failed to close stream: %w", err))
	}
}

func (s *streamingSession) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("failed to read provider event: %w", err))
			return
		}

		event, ok, err := decodeMessage(payload)
		if err != nil {
			s.logger.Warn().Err(err).Int("bytes", len(payload)).Msg("ignoring provider message")
			continue
		}
		if !ok {
			continue
		}
		s.emit(event)
	}
}

// emit delivers an event to the consumer. Partials are dropped when the
// buffer is full; every other event waits for room until Close.
func (s *streamingSession) emit(event domain.TranscriptEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Kind == domain.TranscriptKindPartial {
		select {
		case s.events <- event:
		case <-s.stop:
		default:
			s.logger.Warn().Msg("event buffer full, dropping partial transcript")
		}
		return
	}
	select {
	case s.events <- event:
	case <-s.stop:
		s.logger.Warn().Str("kind", string(event.Kind)).Msg("session closed before event was delivered")
	}
}

type providerMessage struct {
	MessageType string              `json:"message_type"`
	SessionID   string              `json:"session_id"`
	Text        string              `json:"text"`
	Error       string              `json:"error"`
	Message     string              `json:"message"`
	Words       []domain.WordTiming `json:"words"`
}

var errUnknownMessageType = errors.New("unknown message_type")

// decodeMessage maps one server message onto a transcript event.
// ok is false for messages that carry nothing to report.
func decodeMessage(payload []byte) (domain.TranscriptEvent, bool, error) {
	var msg providerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return domain.TranscriptEvent{}, false, fmt.Errorf("malformed message: %w", err)
	}

	switch msg.MessageType {
	case "proxy_ready":
		return domain.TranscriptEvent{Kind: domain.TranscriptKindReady}, true, nil
	case "session_started":
		return domain.TranscriptEvent{Kind: domain.TranscriptKindReady, SessionID: msg.SessionID}, true, nil
	case "partial_transcript":
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return domain.TranscriptEvent{}, false, nil
		}
		return domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: text}, true, nil
	case "committed_transcript", "committed_transcript_with_timestamps":
		return domain.TranscriptEvent{
			Kind:  domain.TranscriptKindFinal,
			Text:  strings.TrimSpace(msg.Text),
			Words: msg.Words,
		}, true, nil
	case "error":
		detail := strings.TrimSpace(msg.Error)
		if detail == "" {
			detail = strings.TrimSpace(msg.Message)
		}
		if detail == "" {
			detail = "transcription backend returned an unknown error"
		}
		return domain.TranscriptEvent{Kind: domain.TranscriptKindError, Text: detail}, true, nil
	default:
		return domain.TranscriptEvent{}, false, fmt.Errorf("%w %q", errUnknownMessageType, msg.MessageType)
	}
}
