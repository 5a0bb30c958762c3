package dialogue

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"ghostquant/internal/domain"
	"ghostquant/internal/ports"
)

// Settings is the process-wide voice configuration backed by a SettingsStore.
type Settings struct {
	store  ports.SettingsStore
	logger zerolog.Logger

	mu   sync.RWMutex
	mode domain.VoiceMode
}

func NewSettings(store ports.SettingsStore, logger zerolog.Logger) *Settings {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Settings{
		store:  store,
		logger: logger.With().Str("component", "settings").Logger(),
		mode:   domain.VoiceModeDefault,
	}
}

// Load reads the persisted mode. On failure the mode stays default and the error is returned.
func (s *Settings) Load(ctx context.Context) (domain.VoiceMode, error) {
	mode, err := s.store.LoadVoiceMode(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load voice mode, using default")
		return s.Mode(), fmt.Errorf("load voice mode: %w", err)
	}

	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
	return mode, nil
}

// Mode returns the current mode.
func (s *Settings) Mode() domain.VoiceMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode switches the mode in memory and persists it. The in-memory mode changes even if saving fails.
func (s *Settings) SetMode(ctx context.Context, mode domain.VoiceMode) error {
	if _, ok := domain.ParseVoiceMode(string(mode)); !ok {
		return fmt.Errorf("unknown voice mode %q", mode)
	}

	s.mu.Lock()
	previous := s.mode
	s.mode = mode
	s.mu.Unlock()

	if previous != mode {
		s.logger.Info().Str("from", string(previous)).Str("to", string(mode)).Msg("voice mode changed")
	}
	if err := s.store.SaveVoiceMode(ctx, mode); err != nil {
		return fmt.Errorf("save voice mode: %w", err)
	}
	return nil
}

// MemoryStore keeps the mode for the lifetime of the process.
type MemoryStore struct {
	mu   sync.Mutex
	mode domain.VoiceMode
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{mode: domain.VoiceModeDefault}
}

func (m *MemoryStore) LoadVoiceMode(context.Context) (domain.VoiceMode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode, nil
}

func (m *MemoryStore) SaveVoiceMode(_ context.Context, mode domain.VoiceMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
	return nil
}
