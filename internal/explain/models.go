package explain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/video-stream/subexplain/internal/apperr"
	"github.com/video-stream/subexplain/internal/fetch"
)

const modelListTTL = time.Hour

// GeminiModel is a text model offered in the settings picker.
type GeminiModel struct {
	ID          string `json:"id"`           // e.g. "gemini-2.5-flash"
	DisplayName string `json:"display_name"` // e.g. "Gemini 2.5 Flash"
	Description string `json:"description"`
}

// GeminiModelLister lists generateContent-capable Gemini models. Results are
// kept for an hour and served stale when Google is unreachable.
type GeminiModelLister struct {
	client  fetch.Doer
	baseURL string

	mu        sync.Mutex
	cached    []GeminiModel
	cacheTime time.Time
	now       func() time.Time
}

func NewGeminiModelLister(client fetch.Doer, baseURL string) *GeminiModelLister {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = geminiAPIBase
	}
	return &GeminiModelLister{client: client, baseURL: baseURL, now: time.Now}
}

// List returns an empty list when apiKey is empty.
func (l *GeminiModelLister) List(ctx context.Context, apiKey string) ([]GeminiModel, error) {
	if apiKey == "" {
		return []GeminiModel{}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.cached) > 0 && l.now().Sub(l.cacheTime) < modelListTTL {
		return l.snapshot(), nil
	}

	models, err := l.fetch(ctx, apiKey)
	if err != nil {
		if apperr.IsCancelled(err) || len(l.cached) == 0 {
			return nil, err
		}
		return l.snapshot(), nil
	}

	l.cached = models
	l.cacheTime = l.now()
	return l.snapshot(), nil
}

func (l *GeminiModelLister) snapshot() []GeminiModel {
	out := make([]GeminiModel, len(l.cached))
	copy(out, l.cached)
	return out
}

func (l *GeminiModelLister) fetch(ctx context.Context, apiKey string) ([]GeminiModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"?pageSize=100", nil)
	if err != nil {
		return nil, apperr.Configuration("list gemini models", err.Error())
	}
	req.Header.Set("x-goog-api-key", apiKey)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, upstreamError(ctx, "list gemini models", err)
	}
	body, err := fetch.ReadBody(resp)
	if err != nil {
		return nil, upstreamError(ctx, "list gemini models", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Terminal("list gemini models", &apperr.StatusError{StatusCode: resp.StatusCode})
	}

	var apiResp struct {
		Models []struct {
			Name                       string   `json:"name"` // "models/gemini-2.5-flash"
			DisplayName                string   `json:"displayName"`
			Description                string   `json:"description"`
			SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, apperr.Parse("list gemini models", fmt.Errorf("decode: %w", err))
	}

	models := make([]GeminiModel, 0, len(apiResp.Models))
	seen := make(map[string]bool)
	for _, m := range apiResp.Models {
		if !supportsGenerate(m.SupportedGenerationMethods) {
			continue
		}
		id := strings.TrimPrefix(m.Name, "models/")
		if !strings.HasPrefix(id, "gemini-") || skipModel(id) || seen[id] {
			continue
		}
		seen[id] = true
		models = append(models, GeminiModel{ID: id, DisplayName: m.DisplayName, Description: m.Description})
	}

	// Newer versions sort higher.
	sort.Slice(models, func(i, j int) bool { return models[i].ID > models[j].ID })
	return models, nil
}

func supportsGenerate(methods []string) bool {
	for _, m := range methods {
		if m == "generateContent" {
			return true
		}
	}
	return false
}

func skipModel(id string) bool {
	for _, s := range []string{"embedding", "aqa", "imagen", "veo", "lyria", "learnlm"} {
		if strings.Contains(id, s) {
			return true
		}
	}
	return false
}
