package handlers

import (
	"net/http"

	"github.com/video-stream/subexplain/internal/explain"
)

type GeminiModelsHandler struct {
	lister *explain.GeminiModelLister
	apiKey string
}

func NewGeminiModelsHandler(lister *explain.GeminiModelLister, apiKey string) *GeminiModelsHandler {
	return &GeminiModelsHandler{lister: lister, apiKey: apiKey}
}

// ListModels returns an empty list when no Gemini key is configured.
func (h *GeminiModelsHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.lister.List(r.Context(), h.apiKey)
	if err != nil {
		writeAppError(w, err)
		return
	}
	jsonResponse(w, models, http.StatusOK)
}
