package booth

import (
	"fmt"
	"strconv"
	"strings"

	"audiodesc/internal/domain/cue"
	"audiodesc/internal/narration/session"
	"audiodesc/internal/narration/tts"
	"audiodesc/internal/narration/voices"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

const maxCueText = 60

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// voiceTable lists ranked candidates; the chosen voice is starred.
func voiceTable(candidates []voices.Candidate, chosen string, rates func(id string) float64) string {
	rows := make([][]string, 0, len(candidates))
	for i, c := range candidates {
		mark := ""
		if c.Voice.ID == chosen {
			mark = "*"
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			mark,
			c.Voice.Name,
			c.Voice.ID,
			c.Voice.Locale,
			yesNo(c.Voice.Local),
			strconv.FormatFloat(c.Score, 'f', 1, 64),
			fmt.Sprintf("x%.2f", rates(c.Voice.ID)),
		})
	}
	return renderTable(
		[]string{"#", "", "Name", "ID", "Locale", "Local", "Score", "Rate"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	)
}

func cueTable(track *cue.Track) string {
	rows := make([][]string, 0, track.Len())
	for i, c := range track.Cues() {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			formatTimestamp(c.Start),
			yesNo(c.Pause),
			truncate(c.Text, maxCueText),
		})
	}
	return renderTable(
		[]string{"#", "Start", "Pause", "Text"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft},
	)
}

func sessionTable(statuses []session.Status) string {
	rows := make([][]string, 0, len(statuses))
	for _, st := range statuses {
		last := "-"
		if st.LastTime != nil {
			last = formatTimestamp(*st.LastTime)
		}
		rows = append(rows, []string{
			st.ID,
			st.Player,
			st.Kind.String(),
			string(st.Mode),
			yesNo(st.Enabled),
			yesNo(st.Speaking),
			fmt.Sprintf("%d/%d", st.Spoken, st.Cues),
			last,
		})
	}
	return renderTable(
		[]string{"Session", "Player", "Kind", "Mode", "Enabled", "Speaking", "Spoken", "Time"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	)
}

func engineTable(engines []tts.EngineType, best, configured tts.EngineType) string {
	rows := make([][]string, 0, len(engines))
	for _, e := range engines {
		var notes []string
		if e == best {
			notes = append(notes, "platform default")
		}
		if e == configured {
			notes = append(notes, "configured")
		}
		rows = append(rows, []string{e.String(), strings.Join(notes, ", ")})
	}
	return renderTable([]string{"Engine", "Notes"}, rows, nil)
}

func cacheTable(entries []cacheEntry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.name,
			strconv.Itoa(e.stats.Files),
			fmt.Sprintf("%.1f MB", float64(e.stats.Bytes)/(1024*1024)),
			e.stats.Directory,
		})
	}
	return renderTable(
		[]string{"Cache", "Files", "Size", "Directory"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
	)
}

// formatTimestamp renders seconds as m:ss.mmm.
func formatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(seconds*1000 + 0.5)
	return fmt.Sprintf("%d:%02d.%03d", ms/60000, (ms/1000)%60, ms%1000)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
