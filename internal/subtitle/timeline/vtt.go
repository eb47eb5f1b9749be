package timeline

import (
	"fmt"
	"regexp"
	"strings"
)

var timestampRe = regexp.MustCompile(`((?:\d{2,}:)?\d{2}:\d{2}[.,]\d{3})\s*-->\s*((?:\d{2,}:)?\d{2}:\d{2}[.,]\d{3})`)

// ParseVTT reads WebVTT (or SRT-style comma timestamps) into a timeline.
// Multi-line cue payloads are joined with a space.
func ParseVTT(content string) *Timeline {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	var cues []Cue
	var current *Cue

	flush := func() {
		if current != nil && current.Text != "" {
			cues = append(cues, *current)
		}
		current = nil
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)

		if line == "" || strings.HasPrefix(line, "WEBVTT") {
			flush()
			continue
		}

		if m := timestampRe.FindStringSubmatch(line); len(m) == 3 {
			flush()
			current = &Cue{StartMs: parseTimestamp(m[1]), EndMs: parseTimestamp(m[2])}
			continue
		}

		// Cue identifiers and NOTE/STYLE blocks outside a cue.
		if current == nil {
			continue
		}

		if current.Text != "" {
			current.Text += " "
		}
		current.Text += line
	}
	flush()

	return New(cues)
}

// VTT renders the timeline as WebVTT.
func (t *Timeline) VTT() string {
	var sb strings.Builder
	sb.WriteString("WEBVTT\n\n")

	for i, cue := range t.Cues() {
		fmt.Fprintf(&sb, "%d\n", i+1)
		fmt.Fprintf(&sb, "%s --> %s\n", formatTimestamp(cue.StartMs), formatTimestamp(cue.EndMs))
		sb.WriteString(cue.Text)
		sb.WriteString("\n\n")
	}

	return sb.String()
}

func parseTimestamp(ts string) int64 {
	ts = strings.Replace(ts, ",", ".", 1)
	var h, m, s, ms int64
	if strings.Count(ts, ":") == 1 {
		fmt.Sscanf(ts, "%d:%d.%d", &m, &s, &ms)
	} else {
		fmt.Sscanf(ts, "%d:%d:%d.%d", &h, &m, &s, &ms)
	}
	return (h*3600+m*60+s)*1000 + ms
}

func formatTimestamp(totalMs int64) string {
	if totalMs < 0 {
		totalMs = 0
	}
	h := totalMs / 3600000
	totalMs %= 3600000
	m := totalMs / 60000
	totalMs %= 60000
	s := totalMs / 1000
	ms := totalMs % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}
