// Package dictionary looks up words in public dictionaries, one request per
// token, through the shared cache and retrying fetcher.
package dictionary

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/video-stream/subexplain/internal/apperr"
	"github.com/video-stream/subexplain/internal/batch"
	"github.com/video-stream/subexplain/internal/cache"
	"github.com/video-stream/subexplain/internal/fetch"
	"github.com/video-stream/subexplain/internal/logging"
	"github.com/video-stream/subexplain/internal/models"
)

const (
	DefaultJishoURL      = "https://jisho.org/api/v1/search/words"
	DefaultDictionaryURL = "https://api.dictionaryapi.dev/api/v2/entries/en"

	namespaceJapanese = "jp"
	namespaceGeneral  = "en"

	jishoRows        = 4
	jishoDefinitions = 4
)

// Result is a lookup answer in both flat and per-token form.
type Result struct {
	Items  []models.Item        `json:"items"`
	Groups []models.LookupGroup `json:"groups"`
}

type Service struct {
	client      fetch.Doer
	cache       *cache.TTLCache[[]models.Item]
	jishoURL    string
	dictURL     string
	maxTokens   int
	concurrency int
	logger      *zap.Logger
}

type Option func(*Service)

func WithEndpoints(jishoURL, dictionaryURL string) Option {
	return func(s *Service) {
		if jishoURL != "" {
			s.jishoURL = strings.TrimRight(jishoURL, "/")
		}
		if dictionaryURL != "" {
			s.dictURL = strings.TrimRight(dictionaryURL, "/")
		}
	}
}

// WithMaxTokens sets the per-query token bound; 0 disables it.
func WithMaxTokens(n int) Option {
	return func(s *Service) { s.maxTokens = n }
}

func WithConcurrency(n int) Option {
	return func(s *Service) { s.concurrency = n }
}

// WithCache shares a cache between services.
func WithCache(c *cache.TTLCache[[]models.Item]) Option {
	return func(s *Service) { s.cache = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = logging.OrNop(l).Named("dictionary") }
}

// New builds a lookup service. client is normally a *fetch.RetryingFetcher.
func New(client fetch.Doer, opts ...Option) *Service {
	s := &Service{
		client:      client,
		jishoURL:    DefaultJishoURL,
		dictURL:     DefaultDictionaryURL,
		maxTokens:   DefaultMaxTokens,
		concurrency: batch.DefaultLimit,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = cache.New[[]models.Item](cache.DefaultTTL)
	}
	return s
}

// Lookup tokenizes text and looks each token up, at most concurrency at a
// time. A failing token is reported in its group and never fails the
// others. Only cancellation fails the whole call.
func (s *Service) Lookup(ctx context.Context, text string) (*Result, error) {
	tokens := Tokenize(text, s.maxTokens)
	if len(tokens) == 0 {
		return &Result{Items: []models.Item{}, Groups: []models.LookupGroup{}}, nil
	}

	groups := batch.Run(ctx, tokens, s.concurrency,
		func(ctx context.Context, token string) (models.LookupGroup, error) {
			items, err := s.LookupToken(ctx, token)
			if err != nil {
				return models.LookupGroup{}, err
			}
			return models.LookupGroup{Token: token, Items: items}, nil
		},
		func(token string, err error) models.LookupGroup {
			if !apperr.IsCancelled(err) {
				s.logger.Warn("lookup failed", zap.String("token", token), zap.Error(err))
			}
			return models.LookupGroup{Token: token, Items: []models.Item{}, Error: err.Error()}
		},
	)

	if err := ctx.Err(); err != nil {
		return nil, apperr.FromContext(ctx, "dictionary lookup", err)
	}
	return &Result{Items: models.Flatten(groups), Groups: groups}, nil
}

// LookupToken returns the items for a single token, from cache when fresh.
func (s *Service) LookupToken(ctx context.Context, token string) ([]models.Item, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return []models.Item{}, nil
	}

	japanese := HasJapanese(token)
	ns := namespaceGeneral
	if japanese {
		ns = namespaceJapanese
	}
	key := cache.Key(ns, token)
	if items, ok := s.cache.Get(key); ok {
		return items, nil
	}

	var (
		items []models.Item
		err   error
	)
	if japanese {
		items, err = s.lookupJisho(ctx, token)
	} else {
		items, err = s.lookupGeneral(ctx, token)
	}
	if err != nil {
		return nil, err
	}

	items = models.FilterEmpty(items)
	s.cache.Set(key, items)
	return items, nil
}

// ClearCache drops every cached lookup.
func (s *Service) ClearCache() {
	s.cache.Clear()
}

type jishoResponse struct {
	Data []struct {
		Japanese []struct {
			Word    string `json:"word"`
			Reading string `json:"reading"`
		} `json:"japanese"`
		Senses []struct {
			PartsOfSpeech      []string `json:"parts_of_speech"`
			EnglishDefinitions []string `json:"english_definitions"`
		} `json:"senses"`
	} `json:"data"`
}

func (s *Service) lookupJisho(ctx context.Context, token string) ([]models.Item, error) {
	body, err := s.get(ctx, s.jishoURL+"?keyword="+url.QueryEscape(token))
	if err != nil {
		return nil, err
	}

	var resp jishoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.Parse("parse jisho response", err)
	}

	rows := resp.Data
	if len(rows) > jishoRows {
		rows = rows[:jishoRows]
	}
	items := make([]models.Item, 0, len(rows))
	for _, r := range rows {
		var it models.Item
		if len(r.Japanese) > 0 {
			it.Word = r.Japanese[0].Word
			it.Reading = r.Japanese[0].Reading
		}
		if it.Word == "" {
			it.Word = it.Reading
		}
		if it.Word == "" {
			it.Word = token
		}
		if len(r.Senses) > 0 {
			sense := r.Senses[0]
			it.PartOfSpeech = strings.Join(sense.PartsOfSpeech, ", ")
			defs := sense.EnglishDefinitions
			if len(defs) > jishoDefinitions {
				defs = defs[:jishoDefinitions]
			}
			it.Meaning = strings.Join(defs, "; ")
		}
		items = append(items, it)
	}
	return items, nil
}

type dictionaryEntry struct {
	Word     string `json:"word"`
	Phonetic string `json:"phonetic"`
	Meanings []struct {
		PartOfSpeech string `json:"partOfSpeech"`
		Definitions  []struct {
			Definition string `json:"definition"`
		} `json:"definitions"`
	} `json:"meanings"`
}

func (s *Service) lookupGeneral(ctx context.Context, token string) ([]models.Item, error) {
	word := strings.Fields(token)[0]
	body, err := s.get(ctx, s.dictURL+"/"+url.PathEscape(word))
	if err != nil {
		return nil, err
	}

	var entries []dictionaryEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, apperr.Parse("parse dictionary response", err)
	}
	if len(entries) == 0 {
		return []models.Item{}, nil
	}

	entry := entries[0]
	it := models.Item{Word: entry.Word, Reading: entry.Phonetic}
	if it.Word == "" {
		it.Word = word
	}
	if len(entry.Meanings) > 0 {
		m := entry.Meanings[0]
		it.PartOfSpeech = m.PartOfSpeech
		if len(m.Definitions) > 0 {
			it.Meaning = m.Definitions[0].Definition
		}
	}
	return []models.Item{it}, nil
}

func (s *Service) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build dictionary request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperr.FromContext(ctx, "dictionary lookup", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := fetch.ReadBody(resp)
		return nil, apperr.Terminal("dictionary lookup", &apperr.StatusError{StatusCode: resp.StatusCode, Body: string(body)})
	}
	return fetch.ReadBody(resp)
}
