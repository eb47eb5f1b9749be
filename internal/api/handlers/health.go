package handlers

import (
	"net/http"

	"github.com/video-stream/subexplain/internal/config"
	"github.com/video-stream/subexplain/internal/explain"
)

type HealthHandler struct {
	manager *explain.Manager
	bridge  config.BridgeConfig
}

func NewHealthHandler(manager *explain.Manager, bridge config.BridgeConfig) *HealthHandler {
	return &HealthHandler{manager: manager, bridge: bridge}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]any{"ok": true}, http.StatusOK)
}

// Status reports whether the configured provider can be used.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	kind, err := h.manager.Check(h.bridge)
	resp := map[string]any{
		"ok":        true,
		"connected": err == nil,
		"provider":  string(kind),
		"inflight":  len(h.manager.IDs()),
	}
	if err != nil {
		resp["provider"] = h.bridge.AIProvider
		resp["error"] = err.Error()
	}
	jsonResponse(w, resp, http.StatusOK)
}
