package handlers

import (
	"net/http"
	"strings"

	"github.com/video-stream/subexplain/internal/config"
	"github.com/video-stream/subexplain/internal/explain"
)

type ExplainHandler struct {
	manager *explain.Manager
	bridge  config.BridgeConfig
}

func NewExplainHandler(manager *explain.Manager, bridge config.BridgeConfig) *ExplainHandler {
	return &ExplainHandler{manager: manager, bridge: bridge}
}

type explainRequest struct {
	Text         string `json:"text"`
	SessionKey   string `json:"sessionKey"`
	UserLanguage string `json:"userLanguage"`
	RequestID    string `json:"requestId"`
}

// Explain speaks the local bridge wire format, so the extension can point
// its helper URL at this server.
func (h *ExplainHandler) Explain(w http.ResponseWriter, r *http.Request) {
	var in explainRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	in.Text = strings.TrimSpace(in.Text)
	if in.Text == "" {
		jsonError(w, "missing text", http.StatusBadRequest)
		return
	}

	cfg := h.bridge.Merge(config.BridgeConfig{
		SessionKey:   in.SessionKey,
		UserLanguage: in.UserLanguage,
	})
	res, err := h.manager.Explain(r.Context(), in.Text, strings.TrimSpace(in.RequestID), cfg)
	if err != nil {
		writeAppError(w, err)
		return
	}
	jsonResponse(w, map[string]any{
		"ok":        true,
		"items":     res.Items,
		"requestId": res.RequestID,
		"provider":  res.Provider,
	}, http.StatusOK)
}

// Abort cancels an in-flight explanation. Unknown ids succeed.
func (h *ExplainHandler) Abort(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RequestID string `json:"requestId"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	rid := strings.TrimSpace(in.RequestID)
	if rid == "" {
		jsonError(w, "missing requestId", http.StatusBadRequest)
		return
	}
	h.manager.Cancel(rid)
	jsonResponse(w, map[string]any{"ok": true}, http.StatusOK)
}
