package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/video-stream/subexplain/internal/subtitle/resolver"
)

type SubtitleHandler struct {
	resolver *resolver.Resolver
}

func NewSubtitleHandler(r *resolver.Resolver) *SubtitleHandler {
	return &SubtitleHandler{resolver: r}
}

type resolveRequest struct {
	Track          resolver.Track `json:"track"`
	Translate      string         `json:"translate,omitempty"`
	TranscriptRows []string       `json:"transcriptRows,omitempty"`
}

func (in resolveRequest) track() resolver.Track {
	if lang := strings.TrimSpace(in.Translate); lang != "" {
		return in.Track.Translated(lang)
	}
	return in.Track
}

func (in resolveRequest) panel() resolver.TranscriptPanel {
	if len(in.TranscriptRows) == 0 {
		return nil
	}
	return resolver.StaticPanel(in.TranscriptRows)
}

// Resolve runs the subtitle fallback chain. Timed results carry cues;
// transcript panel results carry plain lines.
func (h *SubtitleHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var in resolveRequest
	if !decodeJSON(w, r, &in) {
		return
	}

	res, err := h.resolver.Resolve(r.Context(), in.track(), in.panel())
	if err != nil {
		if errors.Is(err, resolver.ErrNoSubtitles) {
			jsonError(w, resolver.ErrNoSubtitles.Error(), http.StatusNotFound)
			return
		}
		writeAppError(w, err)
		return
	}

	resp := map[string]any{
		"ok":      true,
		"source":  res.Source,
		"cueless": res.Cueless(),
		"label":   in.Track.Label(),
	}
	if res.Cueless() {
		resp["lines"] = res.Lines
	} else {
		resp["cues"] = res.Timeline.Cues()
	}
	jsonResponse(w, resp, http.StatusOK)
}

// VTT resolves a track and returns it as WebVTT.
func (h *SubtitleHandler) VTT(w http.ResponseWriter, r *http.Request) {
	var in resolveRequest
	if !decodeJSON(w, r, &in) {
		return
	}

	res, err := h.resolver.Resolve(r.Context(), in.track(), nil)
	if err != nil {
		if errors.Is(err, resolver.ErrNoSubtitles) {
			jsonError(w, resolver.ErrNoSubtitles.Error(), http.StatusNotFound)
			return
		}
		writeAppError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
	w.Write([]byte(res.Timeline.VTT()))
}

// Tracks lists the caption tracks of a watch page or player response.
func (h *SubtitleHandler) Tracks(w http.ResponseWriter, r *http.Request) {
	var in struct {
		PlayerResponse json.RawMessage `json:"playerResponse,omitempty"`
		HTML           string          `json:"html,omitempty"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}

	var (
		info *resolver.PlayerInfo
		err  error
	)
	switch {
	case len(in.PlayerResponse) > 0:
		info, err = resolver.ParsePlayerResponse(in.PlayerResponse)
	case in.HTML != "":
		info, err = resolver.ExtractPlayerResponse(in.HTML)
	default:
		jsonError(w, "missing playerResponse or html", http.StatusBadRequest)
		return
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	resp := map[string]any{"ok": true, "title": info.VideoTitle, "tracks": info.Tracks}
	if def, ok := resolver.SelectDefaultTrack(info.Tracks); ok {
		resp["default"] = def
	}
	jsonResponse(w, resp, http.StatusOK)
}
