// Package timeline models a caption track as an ordered list of cues.
package timeline

import (
	"encoding/json"
	"html"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/video-stream/subexplain/internal/apperr"
)

// DefaultCueDuration is used when an event carries no usable duration.
const DefaultCueDuration int64 = 2500

// Cue is one caption line with start and end offsets in milliseconds.
type Cue struct {
	Text    string `json:"text"`
	StartMs int64  `json:"startMs"`
	EndMs   int64  `json:"endMs"`
}

// Contains reports whether ms lies within [StartMs, EndMs].
func (c Cue) Contains(ms int64) bool {
	return c.StartMs <= ms && ms <= c.EndMs
}

// Timeline is an immutable, start-ordered cue list. Overlapping cues are
// allowed. A nil *Timeline behaves as an empty one.
type Timeline struct {
	cues []Cue
}

// New sorts a copy of cues by start time.
func New(cues []Cue) *Timeline {
	c := make([]Cue, len(cues))
	copy(c, cues)
	sort.SliceStable(c, func(i, j int) bool { return c[i].StartMs < c[j].StartMs })
	return &Timeline{cues: c}
}

func (t *Timeline) Len() int {
	if t == nil {
		return 0
	}
	return len(t.cues)
}

// Cues returns a copy of the cue list.
func (t *Timeline) Cues() []Cue {
	if t == nil {
		return nil
	}
	out := make([]Cue, len(t.cues))
	copy(out, t.cues)
	return out
}

// Lines returns the cue texts in order.
func (t *Timeline) Lines() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.cues))
	for i, c := range t.cues {
		out[i] = c.Text
	}
	return out
}

// FindAtOrBefore returns the first cue containing ms. When none contains it,
// the last cue starting at or before ms is returned. It is called on every
// playback tick and does not allocate.
func (t *Timeline) FindAtOrBefore(ms int64) (Cue, bool) {
	if t == nil {
		return Cue{}, false
	}
	before := -1
	for i := range t.cues {
		c := &t.cues[i]
		if c.StartMs > ms {
			break
		}
		if ms <= c.EndMs {
			return *c, true
		}
		before = i
	}
	if before < 0 {
		return Cue{}, false
	}
	return t.cues[before], true
}

// Event is one entry of the structured (json3) caption format.
type Event struct {
	StartMs    *float64  `json:"tStartMs"`
	DurationMs *float64  `json:"dDurationMs"`
	Segs       []Segment `json:"segs"`
}

type Segment struct {
	UTF8 string `json:"utf8"`
}

// BuildFromEvents turns json3 events into a timeline. Events whose joined
// segment text is blank are dropped.
func BuildFromEvents(events []Event) *Timeline {
	cues := make([]Cue, 0, len(events))
	for _, ev := range events {
		var sb strings.Builder
		for _, s := range ev.Segs {
			sb.WriteString(s.UTF8)
		}
		text := strings.TrimSpace(strings.ReplaceAll(sb.String(), "\n", " "))
		if text == "" {
			continue
		}
		start := int64(0)
		if ev.StartMs != nil && isFinite(*ev.StartMs) {
			start = int64(*ev.StartMs)
		}
		cues = append(cues, Cue{Text: text, StartMs: start, EndMs: start + duration(ev.DurationMs)})
	}
	return New(cues)
}

// ParseJSON3 decodes a json3 document. A body that is not JSON yields an
// apperr.ErrParse error.
func ParseJSON3(body []byte) (*Timeline, error) {
	var doc struct {
		Events []Event `json:"events"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, apperr.Parse("parse json3", err)
	}
	return BuildFromEvents(doc.Events), nil
}

var (
	textTagRe = regexp.MustCompile(`<text\s+([^>]*)>([\s\S]*?)</text>`)
	attrRe    = regexp.MustCompile(`([a-zA-Z_:][-a-zA-Z0-9_:.]*)\s*=\s*"([^"]*)"`)
)

// BuildFromXML extracts <text start="S" dur="D">body</text> elements with a
// regular expression. start and dur are in seconds.
func BuildFromXML(xml string) *Timeline {
	matches := textTagRe.FindAllStringSubmatch(xml, -1)
	cues := make([]Cue, 0, len(matches))
	for _, m := range matches {
		text := strings.TrimSpace(strings.ReplaceAll(DecodeEntities(m[2]), "\n", " "))
		if text == "" {
			continue
		}

		var start int64
		var dur *float64
		for _, a := range attrRe.FindAllStringSubmatch(m[1], -1) {
			v, err := strconv.ParseFloat(a[2], 64)
			if err != nil || !isFinite(v) {
				continue
			}
			switch a[1] {
			case "start":
				start = int64(math.Round(v * 1000))
			case "dur":
				ms := v * 1000
				dur = &ms
			}
		}
		cues = append(cues, Cue{Text: text, StartMs: start, EndMs: start + duration(dur)})
	}
	return New(cues)
}

// DecodeEntities resolves HTML entities. Caption XML often double-escapes
// ("&amp;#39;"), so &amp; is resolved before the general pass.
func DecodeEntities(s string) string {
	return html.UnescapeString(strings.ReplaceAll(s, "&amp;", "&"))
}

func duration(d *float64) int64 {
	if d == nil || !isFinite(*d) || *d <= 0 {
		return DefaultCueDuration
	}
	return int64(*d)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
