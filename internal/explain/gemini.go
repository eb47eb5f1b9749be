package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/video-stream/subexplain/internal/apperr"
	"github.com/video-stream/subexplain/internal/config"
	"github.com/video-stream/subexplain/internal/fetch"
	"github.com/video-stream/subexplain/internal/models"
)

const geminiAPIBase = "https://generativelanguage.googleapis.com/v1beta/models"

// GeminiProvider calls generateContent over plain HTTP.
type GeminiProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  fetch.Doer
}

func NewGemini(cfg config.BridgeConfig, client fetch.Doer) (Provider, error) {
	cfg = cfg.Normalized()
	if cfg.GeminiAPIKey == "" {
		return nil, apperr.Configuration("gemini", "Gemini API key not configured")
	}
	if client == nil {
		client = http.DefaultClient
	}
	base := cfg.GeminiBaseURL
	if base == "" {
		base = geminiAPIBase
	}
	return &GeminiProvider{
		apiKey:  cfg.GeminiAPIKey,
		model:   strings.TrimPrefix(cfg.GeminiModel, "models/"),
		baseURL: base,
		client:  client,
	}, nil
}

func (g *GeminiProvider) Kind() config.Provider { return config.ProviderGemini }

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (g *GeminiProvider) Explain(ctx context.Context, req Request) ([]models.Item, error) {
	reqBody := map[string]any{
		"contents": []map[string]any{
			{
				"role": "user",
				"parts": []map[string]string{
					{"text": BuildPrompt(req.Text, req.Language, req.RequestID)},
				},
			},
		},
		"generationConfig": map[string]any{
			"temperature":      0.2,
			"responseMimeType": "application/json",
		},
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s:generateContent", g.baseURL, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, apperr.Configuration("gemini explain", err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, upstreamError(ctx, "gemini explain", err)
	}
	body, err := fetch.ReadBody(resp)
	if err != nil {
		return nil, upstreamError(ctx, "gemini explain", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Terminal("gemini explain", &apperr.StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 300)})
	}

	var gr geminiResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, apperr.Parse("gemini explain", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		if gr.PromptFeedback.BlockReason != "" {
			return nil, apperr.Terminal("gemini explain", fmt.Errorf("gemini blocked the prompt: %s", gr.PromptFeedback.BlockReason))
		}
		return nil, apperr.Terminal("gemini explain", errors.New("empty gemini response"))
	}

	var text strings.Builder
	for _, part := range gr.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return ParseResponse(text.String(), req.RequestID)
}
