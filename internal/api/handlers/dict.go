package handlers

import (
	"net/http"
	"strings"

	"github.com/video-stream/subexplain/internal/dictionary"
)

type DictHandler struct {
	service *dictionary.Service
}

func NewDictHandler(service *dictionary.Service) *DictHandler {
	return &DictHandler{service: service}
}

// Lookup returns the flat item list and the per-token groups.
func (h *DictHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Text string `json:"text"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Text) == "" {
		jsonError(w, "missing text", http.StatusBadRequest)
		return
	}

	res, err := h.service.Lookup(r.Context(), in.Text)
	if err != nil {
		writeAppError(w, err)
		return
	}
	jsonResponse(w, map[string]any{"ok": true, "items": res.Items, "groups": res.Groups}, http.StatusOK)
}
