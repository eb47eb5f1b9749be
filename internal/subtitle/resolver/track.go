package resolver

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/video-stream/subexplain/internal/apperr"
)

// Track describes one caption track offered by the player.
type Track struct {
	BaseURL        string `json:"baseUrl"`
	LanguageCode   string `json:"languageCode"`
	Kind           string `json:"kind,omitempty"`
	Name           string `json:"name,omitempty"`
	IsTranslatable bool   `json:"isTranslatable,omitempty"`
}

// Label is the name shown in a track list.
func (t Track) Label() string {
	label := t.Name
	if label == "" {
		label = t.LanguageCode
	}
	if t.Kind == "asr" {
		label += " (auto)"
	}
	return label
}

// Translated returns a copy that requests machine translation into lang.
func (t Track) Translated(lang string) Track {
	out := t
	out.BaseURL = appendParam(t.BaseURL, "tlang", lang)
	out.LanguageCode = lang
	out.Name = t.Label() + " -> " + lang
	out.IsTranslatable = false
	return out
}

// SelectDefaultTrack picks the first English track, else the first track.
func SelectDefaultTrack(tracks []Track) (Track, bool) {
	for _, t := range tracks {
		if t.LanguageCode == "en" {
			return t, true
		}
	}
	if len(tracks) == 0 {
		return Track{}, false
	}
	return tracks[0], true
}

// PlayerInfo is the caption metadata embedded in a watch page.
type PlayerInfo struct {
	VideoTitle string  `json:"videoTitle"`
	Tracks     []Track `json:"captionTracks"`
}

type playerResponse struct {
	VideoDetails struct {
		Title string `json:"title"`
	} `json:"videoDetails"`
	Captions struct {
		Renderer struct {
			CaptionTracks []struct {
				BaseURL      string `json:"baseUrl"`
				LanguageCode string `json:"languageCode"`
				Kind         string `json:"kind"`
				Name         struct {
					SimpleText string `json:"simpleText"`
					Runs       []struct {
						Text string `json:"text"`
					} `json:"runs"`
				} `json:"name"`
				IsTranslatable bool `json:"isTranslatable"`
			} `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
}

// ParsePlayerResponse reads tracks and the title from a player response.
// raw may be the object itself or a JSON string holding it.
func ParsePlayerResponse(raw []byte) (*PlayerInfo, error) {
	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, apperr.Parse("parse player response", err)
		}
		raw = []byte(inner)
	}

	var pr playerResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, apperr.Parse("parse player response", err)
	}

	info := &PlayerInfo{VideoTitle: pr.VideoDetails.Title}
	for _, ct := range pr.Captions.Renderer.CaptionTracks {
		name := ct.Name.SimpleText
		if name == "" {
			var sb strings.Builder
			for _, r := range ct.Name.Runs {
				sb.WriteString(r.Text)
			}
			name = sb.String()
		}
		info.Tracks = append(info.Tracks, Track{
			BaseURL:        ct.BaseURL,
			LanguageCode:   ct.LanguageCode,
			Kind:           ct.Kind,
			Name:           name,
			IsTranslatable: ct.IsTranslatable,
		})
	}
	return info, nil
}

const playerResponseMarker = "ytInitialPlayerResponse"

var errNoPlayerResponse = errors.New("no player response in page")

// ExtractPlayerResponse finds the ytInitialPlayerResponse object literal in a
// watch page and parses it.
func ExtractPlayerResponse(page string) (*PlayerInfo, error) {
	off := 0
	for {
		i := strings.Index(page[off:], playerResponseMarker)
		if i < 0 {
			break
		}
		off += i + len(playerResponseMarker)
		rest := page[off:]

		eq := strings.IndexByte(rest, '=')
		if eq < 0 || strings.TrimSpace(rest[:eq]) != "" {
			continue
		}
		rest = strings.TrimLeft(rest[eq+1:], " \t\r\n")
		if !strings.HasPrefix(rest, "{") {
			continue
		}
		if obj, ok := balancedObject(rest); ok {
			return ParsePlayerResponse([]byte(obj))
		}
	}
	return nil, apperr.Parse("extract player response", errNoPlayerResponse)
}

// balancedObject returns the prefix of s that closes its first '{',
// honouring JSON string literals.
func balancedObject(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

// appendParam adds key=value without re-encoding the existing query,
// which is signed.
func appendParam(rawURL, key, value string) string {
	sep := "&"
	if !strings.Contains(rawURL, "?") {
		sep = "?"
	}
	return rawURL + sep + key + "=" + url.QueryEscape(value)
}
