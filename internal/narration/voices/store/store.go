// Package store persists the preferred voice and per-voice rate multipliers.
//
// Reads never fail: a missing, locked or corrupt store reads as empty. Write
// errors are returned so callers can log them, but callers never depend on a
// write succeeding.
package store

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Kind selects a store backend.
type Kind string

const (
	KindFile   Kind = "file"
	KindSQLite Kind = "sqlite"
	KindMemory Kind = "memory"
)

// Preference identifies the chosen voice.
type Preference struct {
	VoiceID string `json:"voice_id"`
	Name    string `json:"name"`
	Locale  string `json:"locale"`
}

// Store holds the two persisted slots for one environment.
type Store interface {
	Preference() (Preference, bool)
	SavePreference(Preference) error
	Rates() map[string]float64
	SaveRates(map[string]float64) error
	Close() error
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Open returns the store for environment under dir. When the backend cannot
// be opened it logs a warning and returns an in-memory store.
func Open(kind Kind, dir, environment string) Store {
	env := unsafeChars.ReplaceAllString(strings.TrimSpace(environment), "_")
	if env == "" {
		env = "default"
	}

	log := logrus.WithFields(logrus.Fields{
		"component":   "voice-store",
		"kind":        kind,
		"environment": env,
	})

	var (
		s   Store
		err error
	)
	switch kind {
	case KindMemory:
		return NewMemoryStore()
	case KindSQLite:
		s, err = OpenSQLite(filepath.Join(dir, "voices.db"), env)
	case KindFile, "":
		s, err = OpenFile(filepath.Join(dir, "voices-"+env+".json"))
	default:
		err = fmt.Errorf("unknown store kind %q", kind)
	}
	if err != nil {
		log.WithError(err).Warn("voice store unavailable, keeping voice settings in memory")
		return NewMemoryStore()
	}
	return s
}

// MemoryStore keeps both slots in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	pref  *Preference
	rates map[string]float64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rates: make(map[string]float64)}
}

func (m *MemoryStore) Preference() (Preference, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.pref == nil {
		return Preference{}, false
	}
	return *m.pref, true
}

func (m *MemoryStore) SavePreference(p Preference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pref = &p
	return nil
}

func (m *MemoryStore) Rates() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyRates(m.rates)
}

func (m *MemoryStore) SaveRates(rates map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates = copyRates(rates)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func copyRates(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
