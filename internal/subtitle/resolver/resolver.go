// Package resolver turns a caption track into cues, trying each subtitle
// source in turn until one yields data.
package resolver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/video-stream/subexplain/internal/apperr"
	"github.com/video-stream/subexplain/internal/fetch"
	"github.com/video-stream/subexplain/internal/logging"
	"github.com/video-stream/subexplain/internal/subtitle/timeline"
)

const (
	DefaultPrimaryHost   = "www.youtube.com/api/timedtext"
	DefaultAlternateHost = "video.google.com/timedtext"

	defaultPollAttempts = 8
	defaultPollInterval = 400 * time.Millisecond
	defaultRevealDelay  = 700 * time.Millisecond
)

// ErrNoSubtitles is returned once every source has come up empty.
var ErrNoSubtitles = errors.New("no subtitles available")

// Source names the stage that produced a result.
type Source string

const (
	SourceJSON3          Source = "json3"
	SourceJSON3Alternate Source = "json3-alternate"
	SourceXML            Source = "xml"
	SourcePanel          Source = "transcript-panel"
)

// Result is either a timed timeline or, from the transcript panel, plain
// lines without timing.
type Result struct {
	Source   Source             `json:"source"`
	Timeline *timeline.Timeline `json:"-"`
	Lines    []string           `json:"lines,omitempty"`
}

// Cueless reports whether the result carries no timing information.
func (r *Result) Cueless() bool {
	return r.Timeline.Len() == 0
}

// TranscriptPanel is read access to a transcript panel rendered by the page.
type TranscriptPanel interface {
	// Rows returns the text of the currently rendered rows.
	Rows(ctx context.Context) ([]string, error)
	// Reveal asks the page to render the panel.
	Reveal(ctx context.Context) error
}

// StaticPanel is a panel whose rows are already known.
type StaticPanel []string

func (p StaticPanel) Rows(context.Context) ([]string, error) {
	out := make([]string, 0, len(p))
	for _, r := range p {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out, nil
}

func (StaticPanel) Reveal(context.Context) error { return nil }

type Resolver struct {
	client        fetch.Doer
	primaryHost   string
	alternateHost string
	header        http.Header
	pollAttempts  int
	pollInterval  time.Duration
	revealDelay   time.Duration
	sleep         fetch.SleepFunc
	logger        *zap.Logger
}

type Option func(*Resolver)

// WithHosts overrides the host substitution pair.
func WithHosts(primary, alternate string) Option {
	return func(r *Resolver) {
		if primary != "" {
			r.primaryHost = primary
		}
		if alternate != "" {
			r.alternateHost = alternate
		}
	}
}

// WithHeader adds headers (typically Cookie) sent on every subtitle request.
func WithHeader(h http.Header) Option {
	return func(r *Resolver) { r.header = h.Clone() }
}

// WithPolling sets how the transcript panel is polled after a reveal.
func WithPolling(attempts int, interval, revealDelay time.Duration) Option {
	return func(r *Resolver) {
		r.pollAttempts = attempts
		r.pollInterval = interval
		r.revealDelay = revealDelay
	}
}

func WithSleep(fn fetch.SleepFunc) Option {
	return func(r *Resolver) { r.sleep = fn }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.logger = logging.OrNop(l).Named("resolver") }
}

// New builds a resolver. client is normally a *fetch.RetryingFetcher.
func New(client fetch.Doer, opts ...Option) *Resolver {
	r := &Resolver{
		client:        client,
		primaryHost:   DefaultPrimaryHost,
		alternateHost: DefaultAlternateHost,
		pollAttempts:  defaultPollAttempts,
		pollInterval:  defaultPollInterval,
		revealDelay:   defaultRevealDelay,
		sleep:         sleepContext,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve runs the fallback chain for track. panel may be nil. When every
// stage fails the error wraps ErrNoSubtitles and apperr.ErrTerminal.
func (r *Resolver) Resolve(ctx context.Context, track Track, panel TranscriptPanel) (*Result, error) {
	if strings.TrimSpace(track.BaseURL) != "" {
		res, err := r.fromTrack(ctx, track.BaseURL)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
	}

	if panel != nil {
		lines, err := r.scrapePanel(ctx, panel)
		if err != nil {
			return nil, err
		}
		if len(lines) > 0 {
			r.logger.Info("subtitles from transcript panel", zap.Int("lines", len(lines)))
			return &Result{Source: SourcePanel, Lines: lines}, nil
		}
	}

	r.logger.Warn("no subtitle source produced data", zap.String("language", track.LanguageCode))
	return nil, apperr.Wrap(apperr.ErrTerminal, "resolve subtitles", "", ErrNoSubtitles)
}

// fromTrack runs the three network stages. It returns (nil, nil) when they
// all come up empty and an error only on cancellation.
func (r *Resolver) fromTrack(ctx context.Context, baseURL string) (*Result, error) {
	jsonURL := appendParam(baseURL, "fmt", "json3")

	source := SourceJSON3
	body, err := r.get(ctx, jsonURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(body) == "" {
		if alt := r.swapHost(jsonURL); alt != jsonURL {
			source = SourceJSON3Alternate
			if body, err = r.get(ctx, alt); err != nil {
				return nil, err
			}
		}
	}

	if strings.TrimSpace(body) != "" {
		tl, err := timeline.ParseJSON3([]byte(body))
		switch {
		case err != nil:
			r.logger.Debug("json3 parse failed", zap.Error(err))
		case tl.Len() > 0:
			r.logger.Info("subtitles from json3", zap.String("source", string(source)), zap.Int("cues", tl.Len()))
			return &Result{Source: source, Timeline: tl}, nil
		}
	}

	xml, err := r.get(ctx, r.swapHost(baseURL))
	if err != nil {
		return nil, err
	}
	if tl := timeline.BuildFromXML(xml); tl.Len() > 0 {
		r.logger.Info("subtitles from xml", zap.Int("cues", tl.Len()))
		return &Result{Source: SourceXML, Timeline: tl}, nil
	}
	return nil, nil
}

// get fetches rawURL. Upstream failures count as an empty body so the chain
// advances; only cancellation is returned as an error.
func (r *Resolver) get(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		r.logger.Debug("bad subtitle url", zap.Error(err))
		return "", nil
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if apperr.IsCancelled(err) || ctx.Err() != nil {
			return "", apperr.FromContext(ctx, "resolve subtitles", err)
		}
		r.logger.Debug("subtitle fetch failed", zap.Error(err))
		return "", nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return "", nil
	}
	body, err := fetch.ReadBody(resp)
	if err != nil {
		r.logger.Debug("subtitle body read failed", zap.Error(err))
		return "", nil
	}
	return string(body), nil
}

func (r *Resolver) swapHost(rawURL string) string {
	return strings.Replace(rawURL, r.primaryHost, r.alternateHost, 1)
}

// scrapePanel reads panel rows. When none are rendered it reveals the
// panel once and polls for rows.
func (r *Resolver) scrapePanel(ctx context.Context, panel TranscriptPanel) ([]string, error) {
	rows, err := panel.Rows(ctx)
	if err == nil && len(rows) > 0 {
		return rows, nil
	}

	if err := panel.Reveal(ctx); err != nil {
		r.logger.Debug("transcript panel reveal failed", zap.Error(err))
	} else if err := r.sleep(ctx, r.revealDelay); err != nil {
		return nil, apperr.Interrupted(ctx, "scrape transcript panel", nil)
	}

	for i := 0; i < r.pollAttempts; i++ {
		rows, err = panel.Rows(ctx)
		if err == nil && len(rows) > 0 {
			return rows, nil
		}
		if err := r.sleep(ctx, r.pollInterval); err != nil {
			return nil, apperr.Interrupted(ctx, "scrape transcript panel", nil)
		}
	}
	return nil, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
