package cue

import (
	"sort"
)

// epsilon absorbs float error at the window edges.
const epsilon = 1e-9

// Cue is a single timed narration unit.
type Cue struct {
	Start float64 `json:"start"`
	Text  string  `json:"text"`
	Pause bool    `json:"pause"`
}

// Track is an immutable, start-ordered sequence of cues owned by one session.
// Rebuilding narration means building a new Track.
type Track struct {
	cues []Cue
}

// NewTrack copies cues and orders them by start time. Cues sharing a start
// time keep their source order.
func NewTrack(cues []Cue) *Track {
	sorted := make([]Cue, len(cues))
	copy(sorted, cues)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})
	return &Track{cues: sorted}
}

func (t *Track) Len() int {
	if t == nil {
		return 0
	}
	return len(t.cues)
}

func (t *Track) At(i int) Cue {
	return t.cues[i]
}

// Cues returns a copy of the ordered cues.
func (t *Track) Cues() []Cue {
	if t == nil {
		return nil
	}
	out := make([]Cue, len(t.cues))
	copy(out, t.cues)
	return out
}

// Window returns the first cue whose start lies within hit seconds of now
// and after *after, when after is set.
func (t *Track) Window(now, hit float64, after *float64) (Cue, bool) {
	if t.Len() == 0 {
		return Cue{}, false
	}

	lo := now - hit - epsilon
	hi := now + hit + epsilon
	i := sort.Search(len(t.cues), func(i int) bool {
		return t.cues[i].Start >= lo
	})

	for ; i < len(t.cues) && t.cues[i].Start <= hi; i++ {
		if after != nil && t.cues[i].Start <= *after {
			continue
		}
		return t.cues[i], true
	}
	return Cue{}, false
}

// Duration returns the start time of the last cue.
func (t *Track) Duration() float64 {
	if t.Len() == 0 {
		return 0
	}
	return t.cues[len(t.cues)-1].Start
}
