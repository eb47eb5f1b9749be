package models

import "strings"

// Item is one dictionary or explanation entry. Any field may be empty.
type Item struct {
	Word         string `json:"word"`
	Reading      string `json:"reading"`
	PartOfSpeech string `json:"partOfSpeech"`
	Meaning      string `json:"meaning"`
}

// Empty reports whether the item carries neither a word nor a meaning.
func (it Item) Empty() bool {
	return strings.TrimSpace(it.Word) == "" && strings.TrimSpace(it.Meaning) == ""
}

// Trimmed returns a copy with surrounding whitespace removed from every field.
func (it Item) Trimmed() Item {
	return Item{
		Word:         strings.TrimSpace(it.Word),
		Reading:      strings.TrimSpace(it.Reading),
		PartOfSpeech: strings.TrimSpace(it.PartOfSpeech),
		Meaning:      strings.TrimSpace(it.Meaning),
	}
}

// FilterEmpty trims items and drops the empty ones. It never returns nil.
func FilterEmpty(items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		it = it.Trimmed()
		if it.Empty() {
			continue
		}
		out = append(out, it)
	}
	return out
}

// LookupGroup holds the results for one query token.
type LookupGroup struct {
	Token string `json:"token"`
	Items []Item `json:"items"`
	Error string `json:"error,omitempty"`
}

// Flatten concatenates the items of every group in order.
func Flatten(groups []LookupGroup) []Item {
	var n int
	for _, g := range groups {
		n += len(g.Items)
	}
	out := make([]Item, 0, n)
	for _, g := range groups {
		out = append(out, g.Items...)
	}
	return out
}
