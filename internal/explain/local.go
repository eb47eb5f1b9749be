package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/video-stream/subexplain/internal/apperr"
	"github.com/video-stream/subexplain/internal/config"
	"github.com/video-stream/subexplain/internal/fetch"
	"github.com/video-stream/subexplain/internal/models"
)

// LocalBridge forwards explanations to a helper service over HTTP.
type LocalBridge struct {
	baseURL    string
	sessionKey string
	client     fetch.Doer
}

func NewLocalBridge(cfg config.BridgeConfig, client fetch.Doer) (Provider, error) {
	cfg = cfg.Normalized()
	if client == nil {
		client = http.DefaultClient
	}
	return &LocalBridge{baseURL: cfg.HelperURL, sessionKey: cfg.SessionKey, client: client}, nil
}

func (b *LocalBridge) Kind() config.Provider { return config.ProviderLocal }

type bridgeRequest struct {
	Text         string `json:"text"`
	SessionKey   string `json:"sessionKey"`
	UserLanguage string `json:"userLanguage"`
	RequestID    string `json:"requestId"`
}

type bridgeResponse struct {
	OK        bool          `json:"ok"`
	Items     []models.Item `json:"items"`
	RequestID string        `json:"requestId"`
	Error     string        `json:"error"`
}

func (b *LocalBridge) Explain(ctx context.Context, req Request) ([]models.Item, error) {
	session := req.SessionKey
	if session == "" {
		session = b.sessionKey
	}
	var out bridgeResponse
	err := b.post(ctx, "/explain", bridgeRequest{
		Text:         req.Text,
		SessionKey:   session,
		UserLanguage: req.Language,
		RequestID:    req.RequestID,
	}, &out)
	if err != nil {
		return nil, upstreamError(ctx, "local bridge explain", err)
	}
	if !out.OK {
		msg := out.Error
		if msg == "" {
			msg = "helper error"
		}
		return nil, apperr.Wrap(apperr.ErrTerminal, "local bridge explain", msg, nil)
	}
	return models.FilterEmpty(out.Items), nil
}

// Abort tells the helper to stop working on requestID.
func (b *LocalBridge) Abort(ctx context.Context, requestID string) error {
	var out bridgeResponse
	return b.post(ctx, "/abort", map[string]string{"requestId": requestID}, &out)
}

// Health reports whether the helper answers GET /health with a 2xx.
func (b *LocalBridge) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/health", nil)
	if err != nil {
		return apperr.Configuration("local bridge health", err.Error())
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return upstreamError(ctx, "local bridge health", err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.Terminal("local bridge health", &apperr.StatusError{StatusCode: resp.StatusCode})
	}
	return nil
}

func (b *LocalBridge) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return apperr.Configuration("local bridge", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	data, err := fetch.ReadBody(resp)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.Terminal("local bridge", &apperr.StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(truncate(string(data), 200)),
		})
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Parse("local bridge", fmt.Errorf("decode %s response: %w", path, err))
	}
	return nil
}
