package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// fileData is the on-disk layout of a FileStore.
type fileData struct {
	Preference *Preference         `json:"preference,omitempty"`
	Rates      map[string]float64 `json:"rates"`
}

// FileStore keeps both slots in one JSON file. A sibling lock file
// serializes access between processes sharing the cache directory.
type FileStore struct {
	path string
	lock *flock.Flock
	log  *logrus.Entry
}

// OpenFile prepares a file store at path. The file itself is created lazily
// on the first save.
func OpenFile(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{
		path: path,
		lock: flock.New(strings.TrimSuffix(path, filepath.Ext(path)) + ".lock"),
		log:  logrus.WithFields(logrus.Fields{"component": "voice-store", "file": path}),
	}, nil
}

func (f *FileStore) Preference() (Preference, bool) {
	data := f.read()
	if data.Preference == nil || data.Preference.VoiceID == "" {
		return Preference{}, false
	}
	return *data.Preference, true
}

func (f *FileStore) SavePreference(p Preference) error {
	return f.update(func(data *fileData) {
		data.Preference = &p
	})
}

func (f *FileStore) Rates() map[string]float64 {
	return copyRates(f.read().Rates)
}

func (f *FileStore) SaveRates(rates map[string]float64) error {
	return f.update(func(data *fileData) {
		data.Rates = copyRates(rates)
	})
}

func (f *FileStore) Close() error {
	return f.lock.Close()
}

// read loads the file under a shared lock. Any failure reads as empty.
func (f *FileStore) read() fileData {
	if err := f.lock.RLock(); err != nil {
		f.log.WithError(err).Warn("failed to lock voice store for reading")
		return fileData{}
	}
	defer f.lock.Unlock()

	data, err := f.load()
	if err != nil {
		f.log.WithError(err).Warn("ignoring unreadable voice store")
		return fileData{}
	}
	return data
}

func (f *FileStore) load() (fileData, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fileData{}, nil // fresh start
		}
		return fileData{}, fmt.Errorf("read store file: %w", err)
	}
	if len(raw) == 0 {
		return fileData{}, nil
	}

	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fileData{}, fmt.Errorf("parse store file: %w", err)
	}
	return data, nil
}

// update rewrites one slot under an exclusive lock, keeping the other.
func (f *FileStore) update(apply func(*fileData)) error {
	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("lock voice store: %w", err)
	}
	defer f.lock.Unlock()

	data, err := f.load()
	if err != nil {
		// corrupt content is replaced rather than propagated
		f.log.WithError(err).Warn("overwriting unreadable voice store")
		data = fileData{}
	}
	apply(&data)
	if data.Rates == nil {
		data.Rates = map[string]float64{}
	}

	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal voice store: %w", err)
	}

	// Write atomically via temp file
	tmpPath := f.path + ".tmp"
	if err := os.WriteFile(tmpPath, encoded, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
