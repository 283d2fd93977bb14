package voices

import (
	"regexp"
	"sort"
	"strings"

	"audiodesc/internal/narration/tts"

	"golang.org/x/text/language"
)

var (
	qualityPattern = regexp.MustCompile(`(?i)\b(Neural|Natural|Premium|Online)\b`)
	vendorPattern  = regexp.MustCompile(`(?i)\b(Google|Microsoft|Apple)\b`)
)

type localeSet struct {
	exact map[string]bool
	base  map[string]bool
}

func newLocaleSet(hints []string) localeSet {
	set := localeSet{exact: map[string]bool{}, base: map[string]bool{}}
	for _, h := range hints {
		full, base := normalizeLocale(h)
		if full == "" {
			continue
		}
		set.exact[full] = true
		set.base[base] = true
	}
	return set
}

// normalizeLocale returns the lower-cased canonical tag and its base
// language. POSIX forms such as en_US.UTF-8 are accepted.
func normalizeLocale(s string) (full, base string) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".@"); i >= 0 {
		s = s[:i]
	}
	s = strings.ReplaceAll(s, "_", "-")
	if s == "" || strings.EqualFold(s, "C") || strings.EqualFold(s, "POSIX") {
		return "", ""
	}

	if tag, err := language.Parse(s); err == nil {
		b, conf := tag.Base()
		if conf != language.No {
			return strings.ToLower(tag.String()), b.String()
		}
	}

	low := strings.ToLower(s)
	return low, strings.SplitN(low, "-", 2)[0]
}

// Score rates v against the configuration. Higher is better.
func Score(v tts.Voice, config Config) float64 {
	return score(v, newLocaleSet(config.LocaleHints), config)
}

func score(v tts.Voice, want localeSet, config Config) float64 {
	s := 0.0

	full, base := normalizeLocale(v.Locale)
	switch {
	case full != "" && want.exact[full]:
		s += 3
	case base != "" && want.base[base]:
		s += 2
	}

	if config.PreferLocal && v.Local {
		s += 1
	}
	if !config.PreferLocal && !v.Local && config.AllowRemote {
		s += 1
	}

	label := v.Name + " " + v.ID
	if qualityPattern.MatchString(label) {
		s += 2
	}
	if vendorPattern.MatchString(label) {
		s += 0.5
	}
	if v.Default {
		s += 0.5
	}
	return s
}

// rank scores every voice and orders them best first. Ties are broken by
// name, then id, so the order never depends on engine enumeration order.
func rank(voices []tts.Voice, config Config) []Candidate {
	want := newLocaleSet(config.LocaleHints)
	out := make([]Candidate, len(voices))
	for i, v := range voices {
		out[i] = Candidate{Voice: v, Score: score(v, want, config)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Voice.Name != b.Voice.Name {
			return a.Voice.Name < b.Voice.Name
		}
		return a.Voice.ID < b.Voice.ID
	})
	return out
}

// DefaultLocaleHints derives hints from a POSIX locale value such as $LANG:
// the locale itself, its base language, then en-US.
func DefaultLocaleHints(posix string) []string {
	var hints []string
	if full, base := normalizeLocale(posix); full != "" {
		hints = append(hints, full)
		if base != full {
			hints = append(hints, base)
		}
	}
	return append(hints, "en-US")
}
