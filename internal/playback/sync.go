// Package playback keeps a single "current line" in step with a playing
// video.
package playback

import (
	"reflect"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/video-stream/subexplain/internal/logging"
	"github.com/video-stream/subexplain/internal/subtitle/timeline"
)

// Clock is the playback position source. OnTick fires on time updates and
// seeks; the returned function unsubscribes.
type Clock interface {
	CurrentPositionMs() int64
	OnTick(fn func()) (unsubscribe func())
}

// Row is one rendered transcript-panel row.
type Row struct {
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
}

// RowSource exposes the live transcript panel. Rows must return already
// rendered state.
type RowSource interface {
	Rows() []Row
}

// CaptionSource exposes the caption text the player is currently drawing.
type CaptionSource interface {
	CaptionText() string
}

// Sink receives the current line whenever it changes.
type Sink func(line string)

// Sync resolves the current line on every clock tick. Priority: a live
// transcript row at or before the position, then the cue timeline, then
// native caption text, then the last line shown.
type Sync struct {
	mu          sync.Mutex
	clock       Clock
	bindings    uint64
	unsubscribe func()
	timeline    *timeline.Timeline
	rows        RowSource
	captions    CaptionSource
	last        string
	sink        Sink
	logger      *zap.Logger
}

type Option func(*Sync)

func WithRowSource(r RowSource) Option { return func(s *Sync) { s.rows = r } }

func WithCaptionSource(c CaptionSource) Option { return func(s *Sync) { s.captions = c } }

func WithLogger(l *zap.Logger) Option {
	return func(s *Sync) { s.logger = logging.OrNop(l).Named("playback") }
}

func NewSync(sink Sink, opts ...Option) *Sync {
	s := &Sync{sink: sink, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bind attaches to clock. Clocks are compared by identity: binding the
// already bound clock is a no-op, while a different one (a new video after
// navigation) drops the old subscription and resets the timeline and the
// last line. A clock whose type is not comparable is always treated as new.
func (s *Sync) Bind(clock Clock) {
	s.mu.Lock()
	if sameClock(s.clock, clock) {
		s.mu.Unlock()
		return
	}
	old := s.unsubscribe
	s.bindings++
	binding := s.bindings
	s.clock = clock
	s.unsubscribe = nil
	s.timeline = nil
	s.last = ""
	s.mu.Unlock()

	if old != nil {
		old()
	}
	if clock == nil {
		return
	}
	unsub := clock.OnTick(s.Tick)

	s.mu.Lock()
	if s.bindings == binding {
		s.unsubscribe = unsub
		unsub = nil
	}
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	s.logger.Debug("bound to new clock")
}

// Close detaches from the current clock.
func (s *Sync) Close() {
	s.Bind(nil)
}

// SetTimeline replaces the cue timeline, for example after a track switch.
func (s *Sync) SetTimeline(tl *timeline.Timeline) {
	s.mu.Lock()
	s.timeline = tl
	s.mu.Unlock()
}

func (s *Sync) SetRowSource(r RowSource) {
	s.mu.Lock()
	s.rows = r
	s.mu.Unlock()
}

func (s *Sync) SetCaptionSource(c CaptionSource) {
	s.mu.Lock()
	s.captions = c
	s.mu.Unlock()
}

// Tick resolves the line at the clock's position and reports it to the
// sink when it changed.
func (s *Sync) Tick() {
	s.mu.Lock()
	if s.clock == nil {
		s.mu.Unlock()
		return
	}
	line := s.resolveLocked(s.clock.CurrentPositionMs())
	changed := line != s.last && line != ""
	if line != "" {
		s.last = line
	}
	sink := s.sink
	s.mu.Unlock()

	if changed && sink != nil {
		sink(line)
	}
}

// LineAt resolves the line for ms without touching the last-line state.
func (s *Sync) LineAt(ms int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(ms)
}

// Current returns the last non-empty line shown.
func (s *Sync) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Sync) resolveLocked(ms int64) string {
	if s.rows != nil {
		if line, ok := rowAt(s.rows.Rows(), ms); ok {
			return line
		}
	}
	if cue, ok := s.timeline.FindAtOrBefore(ms); ok && cue.Text != "" {
		return cue.Text
	}
	if s.captions != nil {
		if text := strings.TrimSpace(s.captions.CaptionText()); text != "" {
			return text
		}
	}
	return s.last
}

// rowAt picks the row with the latest timestamp not after ms. Rows with an
// unparseable timestamp are skipped.
func rowAt(rows []Row, ms int64) (string, bool) {
	best := int64(-1)
	var line string
	for _, r := range rows {
		at, ok := ParseRowTimestamp(r.Timestamp)
		if !ok || at > ms {
			continue
		}
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		if at >= best {
			best = at
			line = text
		}
	}
	return line, best >= 0
}

// ParseRowTimestamp parses "H:MM:SS", "MM:SS" or "SS" into milliseconds.
func ParseRowTimestamp(ts string) (int64, bool) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return 0, false
	}
	parts := strings.Split(ts, ":")
	if len(parts) > 3 {
		return 0, false
	}
	var secs int64
	for _, p := range parts {
		if p == "" {
			return 0, false
		}
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return 0, false
		}
		secs = secs*60 + int64(n)
	}
	return secs * 1000, true
}

func sameClock(a, b Clock) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	t := reflect.TypeOf(a)
	if t != reflect.TypeOf(b) || !t.Comparable() {
		return false
	}
	return a == b
}
