package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const (
	slotPreference = "preference"
	slotRates      = "rates"
	queryTimeout   = 2 * time.Second
)

// SQLiteStore keeps the slots of several environments in one database,
// one row per (environment, slot).
type SQLiteStore struct {
	db  *sql.DB
	env string
	log *logrus.Entry
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path, environment string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS voice_settings (
        environment TEXT NOT NULL,
        slot        TEXT NOT NULL,
        value       TEXT NOT NULL,
        updated_at  TEXT NOT NULL,
        PRIMARY KEY (environment, slot)
    )`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create voice_settings: %w", err)
	}

	return &SQLiteStore{
		db:  db,
		env: environment,
		log: logrus.WithFields(logrus.Fields{"component": "voice-store", "db": path, "environment": environment}),
	}, nil
}

func (s *SQLiteStore) Preference() (Preference, bool) {
	var p Preference
	if !s.get(slotPreference, &p) || p.VoiceID == "" {
		return Preference{}, false
	}
	return p, true
}

func (s *SQLiteStore) SavePreference(p Preference) error {
	return s.put(slotPreference, p)
}

func (s *SQLiteStore) Rates() map[string]float64 {
	rates := map[string]float64{}
	if !s.get(slotRates, &rates) {
		return map[string]float64{}
	}
	return rates
}

func (s *SQLiteStore) SaveRates(rates map[string]float64) error {
	return s.put(slotRates, copyRates(rates))
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) get(slot string, out interface{}) bool {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM voice_settings WHERE environment = ? AND slot = ?`,
		s.env, slot,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	if err != nil {
		s.log.WithError(err).WithField("slot", slot).Warn("failed to read voice setting")
		return false
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		s.log.WithError(err).WithField("slot", slot).Warn("ignoring corrupt voice setting")
		return false
	}
	return true
}

func (s *SQLiteStore) put(slot string, value interface{}) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", slot, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO voice_settings (environment, slot, value, updated_at)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(environment, slot) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.env, slot, string(encoded), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save %s: %w", slot, err)
	}
	return nil
}
