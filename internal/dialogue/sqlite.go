package dialogue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"ghostquant/internal/domain"
)

const settingsSchema = `
CREATE TABLE IF NOT EXISTS voice_settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

const voiceModeKey = "voice_mode"

// SQLiteStore persists voice settings in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens dbPath and runs migrations.
func OpenSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(settingsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadVoiceMode returns the stored mode, or default when none was saved.
func (s *SQLiteStore) LoadVoiceMode(ctx context.Context) (domain.VoiceMode, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM voice_settings WHERE key = ?`, voiceModeKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.VoiceModeDefault, nil
	}
	if err != nil {
		return domain.VoiceModeDefault, fmt.Errorf("query voice mode: %w", err)
	}

	mode, ok := domain.ParseVoiceMode(value)
	if !ok {
		return domain.VoiceModeDefault, fmt.Errorf("stored voice mode %q is not recognised", value)
	}
	return mode, nil
}

func (s *SQLiteStore) SaveVoiceMode(ctx context.Context, mode domain.VoiceMode) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO voice_settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		voiceModeKey, string(mode), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save voice mode: %w", err)
	}
	return nil
}
