package explain

import (
	"context"
	"errors"
	neturl "net/url"
	"strings"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/video-stream/subexplain/internal/apperr"
	"github.com/video-stream/subexplain/internal/config"
	"github.com/video-stream/subexplain/internal/fetch"
	"github.com/video-stream/subexplain/internal/models"
)

// OpenAIProvider uses the Chat Completions API.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAI needs an API key. Retries are left to client, which is normally
// the shared RetryingFetcher.
func NewOpenAI(cfg config.BridgeConfig, client fetch.Doer) (Provider, error) {
	cfg = cfg.Normalized()
	if cfg.OpenAIAPIKey == "" {
		return nil, apperr.Configuration("openai", "OpenAI API key not configured")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.OpenAIAPIKey),
		option.WithMaxRetries(0),
	}
	if client != nil {
		opts = append(opts, option.WithHTTPClient(client))
	}
	if base := normalizeOpenAIBaseURL(cfg.OpenAIBaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}

	return &OpenAIProvider{client: openai.NewClient(opts...), model: cfg.OpenAIModel}, nil
}

func (p *OpenAIProvider) Kind() config.Provider { return config.ProviderOpenAI }

func (p *OpenAIProvider) Explain(ctx context.Context, req Request) ([]models.Item, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: p.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(BuildPrompt(req.Text, req.Language, req.RequestID)),
		},
		Temperature: openai.Float(0.2),
	})
	if err != nil {
		return nil, upstreamError(ctx, "openai explain", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, apperr.Terminal("openai explain", errors.New("empty response from AI"))
	}
	return ParseResponse(resp.Choices[0].Message.Content, req.RequestID)
}

// normalizeOpenAIBaseURL makes sure a custom endpoint ends in /v1.
func normalizeOpenAIBaseURL(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		return ""
	}
	parsed, err := neturl.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return strings.TrimRight(base, "/")
	}

	path := strings.TrimRight(parsed.Path, "/")
	if !strings.HasSuffix(path, "/v1") {
		path += "/v1"
	}
	parsed.Path = path
	return strings.TrimRight(parsed.String(), "/")
}
