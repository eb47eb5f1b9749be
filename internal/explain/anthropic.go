package explain

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/video-stream/subexplain/internal/apperr"
	"github.com/video-stream/subexplain/internal/config"
	"github.com/video-stream/subexplain/internal/fetch"
	"github.com/video-stream/subexplain/internal/models"
)

const anthropicMaxTokens = 2048

// AnthropicProvider uses the Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

func NewAnthropic(cfg config.BridgeConfig, client fetch.Doer) (Provider, error) {
	cfg = cfg.Normalized()
	if cfg.AnthropicAPIKey == "" {
		return nil, apperr.Configuration("anthropic", "Anthropic API key not configured")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.AnthropicAPIKey),
		option.WithMaxRetries(0),
	}
	if client != nil {
		opts = append(opts, option.WithHTTPClient(client))
	}
	if cfg.AnthropicBaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.AnthropicBaseURL))
	}

	return &AnthropicProvider{client: anthropic.NewClient(opts...), model: cfg.AnthropicModel}, nil
}

func (p *AnthropicProvider) Kind() config.Provider { return config.ProviderAnthropic }

func (p *AnthropicProvider) Explain(ctx context.Context, req Request) ([]models.Item, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: anthropicMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(BuildPrompt(req.Text, req.Language, req.RequestID))),
		},
		Temperature: anthropic.Float(0.2),
	})
	if err != nil {
		return nil, upstreamError(ctx, "anthropic explain", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, apperr.Terminal("anthropic explain", errors.New("empty response from AI"))
	}
	return ParseResponse(text.String(), req.RequestID)
}
