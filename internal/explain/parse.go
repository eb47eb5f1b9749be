package explain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/video-stream/subexplain/internal/apperr"
	"github.com/video-stream/subexplain/internal/models"
)

// GrammarSeparator is the label item placed between words and grammar notes.
const GrammarSeparator = "— Grammar —"

var errNoJSON = errors.New("no JSON object in model output")

type grammarNote struct {
	Pattern     string `json:"pattern"`
	Explanation string `json:"explanation"`
	Example     string `json:"example"`
}

type payload struct {
	RequestID string        `json:"requestId"`
	Items     []models.Item `json:"items"`
	Grammar   []grammarNote `json:"grammar"`
}

// unmarshalAIJSON parses the whole string, after stripping a code fence,
// and falls back to the span from the first '{' to the last '}'.
func unmarshalAIJSON(raw string, out any) error {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```JSON")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if err := json.Unmarshal([]byte(cleaned), out); err == nil {
		return nil
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), out); err == nil {
			return nil
		}
	}
	return errNoJSON
}

// ParseResponse turns model output into items. The echoed requestId must
// match; a mismatch is a terminal error even though the call succeeded.
// Grammar notes follow the word items after GrammarSeparator.
func ParseResponse(raw, requestID string) ([]models.Item, error) {
	var p payload
	if err := unmarshalAIJSON(raw, &p); err != nil {
		return nil, apperr.Parse("parse explanation", fmt.Errorf("%w: %s", err, truncate(raw, 240)))
	}
	if strings.TrimSpace(p.RequestID) != strings.TrimSpace(requestID) {
		return nil, apperr.Wrap(apperr.ErrTerminal, "parse explanation",
			fmt.Sprintf("requestId mismatch: got %q, want %q", p.RequestID, requestID), nil)
	}
	return withGrammar(models.FilterEmpty(p.Items), p.Grammar), nil
}

func withGrammar(items []models.Item, grammar []grammarNote) []models.Item {
	notes := make([]models.Item, 0, len(grammar))
	for _, g := range grammar {
		meaning := strings.TrimSpace(g.Explanation)
		if ex := strings.TrimSpace(g.Example); ex != "" {
			meaning = strings.TrimSpace(meaning + " Example: " + ex)
		}
		it := models.Item{
			Word:         strings.TrimSpace(g.Pattern),
			Reading:      "grammar",
			PartOfSpeech: "pattern",
			Meaning:      meaning,
		}
		if it.Empty() {
			continue
		}
		notes = append(notes, it)
	}
	if len(notes) == 0 {
		return items
	}
	items = append(items, models.Item{Word: GrammarSeparator})
	return append(items, notes...)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
