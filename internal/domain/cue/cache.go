package cue

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// maxTrackSize bounds a downloaded description track.
const maxTrackSize = 4 << 20

// TrackCache fetches remote WebVTT description tracks and keeps a copy on
// disk. A stale copy is still served when the server cannot be reached.
type TrackCache struct {
	cacheDir   string
	maxAge     time.Duration
	httpClient *http.Client
}

func NewTrackCache(cacheDir string, maxAge time.Duration) *TrackCache {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		logrus.WithError(err).Warn("Failed to create track cache directory")
	}

	return &TrackCache{
		cacheDir: cacheDir,
		maxAge:   maxAge,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Load reads a track from a local path or an http(s) URL. URLs go through
// cache when it is non-nil.
func Load(ctx context.Context, location string, cache *TrackCache) (*Track, error) {
	if !isRemote(location) {
		return LoadVTT(location)
	}
	if cache == nil {
		data, err := fetch(ctx, http.DefaultClient, location)
		if err != nil {
			return nil, err
		}
		return ParseVTT(bytes.NewReader(data))
	}
	return cache.Get(ctx, location)
}

func isRemote(location string) bool {
	l := strings.ToLower(location)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// Get returns the track at url, from cache when the copy is fresh.
func (tc *TrackCache) Get(ctx context.Context, url string) (*Track, error) {
	file := tc.cacheFile(url)
	log := logrus.WithFields(logrus.Fields{"url": url, "file": file})

	if tc.isFresh(file) {
		if track, err := LoadVTT(file); err == nil {
			log.Debug("Loaded description track from cache")
			return track, nil
		}
	}

	data, err := fetch(ctx, tc.httpClient, url)
	if err == nil {
		var track *Track
		if track, err = ParseVTT(bytes.NewReader(data)); err == nil {
			if err := tc.save(file, data); err != nil {
				log.WithError(err).Warn("Failed to save description track to cache")
			}
			log.WithField("cues", track.Len()).Info("Fetched description track")
			return track, nil
		}
	}

	// fall back to a stale copy
	log.WithError(err).Warn("Track fetch failed, trying stale cache")
	if track, cacheErr := LoadVTT(file); cacheErr == nil {
		return track, nil
	}
	return nil, fmt.Errorf("failed to fetch track and no cache available: %w", err)
}

func (tc *TrackCache) Dir() string { return tc.cacheDir }

// Stats counts the cached tracks and their total size.
func (tc *TrackCache) Stats() (files int, size int64) {
	for _, path := range tc.cachedTracks() {
		if info, err := os.Stat(path); err == nil {
			files++
			size += info.Size()
		}
	}
	return files, size
}

// Clear removes every cached track.
func (tc *TrackCache) Clear() error {
	for _, path := range tc.cachedTracks() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove cached track: %w", err)
		}
	}
	return nil
}

func (tc *TrackCache) cachedTracks() []string {
	paths, _ := filepath.Glob(filepath.Join(tc.cacheDir, "*.vtt"))
	return paths
}

func (tc *TrackCache) cacheFile(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(tc.cacheDir, hex.EncodeToString(sum[:8])+".vtt")
}

func (tc *TrackCache) isFresh(file string) bool {
	info, err := os.Stat(file)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) < tc.maxAge
}

func (tc *TrackCache) save(file string, data []byte) error {
	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp, file); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}

func fetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d for URL %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTrackSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}
