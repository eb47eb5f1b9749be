package dictionary

import (
	"strings"
	"unicode"
)

// DefaultMaxTokens bounds how many tokens one query is split into.
const DefaultMaxTokens = 8

const punctuation = ",.!?;:\"'()[]{}<>/\\|、。，．！？；：「」『』（）【】〈〉《》…・〜~"

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(punctuation, r)
}

// Tokenize splits text on whitespace and punctuation and removes
// case-insensitive duplicates, keeping the first spelling seen. maxTokens
// <= 0 means no bound. When only one token remains the whole trimmed phrase
// is returned instead, so a phrase like "don't" is looked up as typed.
func Tokenize(text string, maxTokens int) []string {
	fields := strings.FieldsFunc(text, isSeparator)
	seen := make(map[string]struct{}, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		key := strings.ToLower(f)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		tokens = append(tokens, f)
		if maxTokens > 0 && len(tokens) == maxTokens {
			break
		}
	}

	if len(tokens) == 1 {
		if phrase := strings.TrimSpace(text); phrase != "" {
			return []string{phrase}
		}
	}
	return tokens
}

// HasJapanese reports whether s contains kana or CJK ideographs.
func HasJapanese(s string) bool {
	for _, r := range s {
		if (r >= 0x3040 && r <= 0x30ff) || (r >= 0x3400 && r <= 0x9fff) {
			return true
		}
	}
	return false
}
