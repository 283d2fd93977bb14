package cue

import (
	"bufio"
	"fmt"
	"html"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	pausePattern = regexp.MustCompile(`(?i)<c(\.[\w-]+)*\.pause(\.[\w-]+)*>|<span[^>]*class="[^"]*\bpause\b[^"]*"[^>]*>`)
)

// LoadVTT reads a WebVTT descriptions file from disk.
func LoadVTT(path string) (*Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vtt: %w", err)
	}
	defer f.Close()

	track, err := ParseVTT(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return track, nil
}

// ParseVTT reads WebVTT cues. Markup is stripped from the payload and a
// "pause" class on any span marks the cue as pause-requested.
func ParseVTT(r io.Reader) (*Track, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		cues    []Cue
		lineNo  int
		inCue   bool
		skip    bool
		start   float64
		payload []string
	)

	flush := func() {
		if inCue {
			raw := strings.Join(payload, "\n")
			text := strings.Join(strings.Fields(html.UnescapeString(tagPattern.ReplaceAllString(raw, " "))), " ")
			if text != "" {
				cues = append(cues, Cue{
					Start: start,
					Text:  text,
					Pause: pausePattern.MatchString(raw),
				})
			}
		}
		inCue = false
		skip = false
		payload = payload[:0]
	}

	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
			if !strings.HasPrefix(line, "WEBVTT") {
				return nil, fmt.Errorf("missing WEBVTT header")
			}
			continue
		}

		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if skip {
			continue
		}
		if inCue {
			payload = append(payload, line)
			continue
		}

		if strings.HasPrefix(line, "NOTE") || strings.HasPrefix(line, "STYLE") || strings.HasPrefix(line, "REGION") {
			skip = true
			continue
		}
		if !strings.Contains(line, "-->") {
			// cue identifier
			continue
		}

		parts := strings.SplitN(line, "-->", 2)
		seconds, err := parseVTTTimestamp(parts[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		start = seconds
		inCue = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vtt: %w", err)
	}
	flush()

	return NewTrack(cues), nil
}

// parseVTTTimestamp accepts hh:mm:ss.ttt and mm:ss.ttt.
func parseVTTTimestamp(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty timestamp")
	}

	clock, frac, ok := strings.Cut(value, ".")
	if !ok || len(frac) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	millis, err := strconv.Atoi(frac)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}

	fields := strings.Split(clock, ":")
	if len(fields) < 2 || len(fields) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	total := 0
	for _, field := range fields {
		n, err := strconv.Atoi(field)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", value)
		}
		total = total*60 + n
	}
	return float64(total) + float64(millis)/1000, nil
}
