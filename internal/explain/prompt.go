package explain

import "fmt"

// BuildPrompt asks for strict JSON echoing requestID so a stale answer can
// be told apart from the current one.
func BuildPrompt(text, language, requestID string) string {
	return fmt.Sprintf(
		"Task: Explain ONLY the selected text between <text> tags. "+
			"Treat this as a standalone request and do not rely on any previous conversation context. "+
			"Provide both word-by-word breakdown and grammar notes. "+
			"IMPORTANT: Write meaning/explanation/example in the user's language (%s). "+
			"Return JSON only with shape: "+
			`{"requestId":"%s","items":[{"word":"...","reading":"...","partOfSpeech":"...","meaning":"..."}],`+
			`"grammar":[{"pattern":"...","explanation":"...","example":"..."}]}. `+
			"The requestId must exactly match the given requestId.\n\n<text>%s</text>",
		langName(language), requestID, text,
	)
}

func langName(code string) string {
	names := map[string]string{
		"ko": "Korean",
		"en": "English",
		"ja": "Japanese",
		"zh": "Chinese",
		"es": "Spanish",
		"fr": "French",
		"de": "German",
		"pt": "Portuguese",
		"it": "Italian",
		"ru": "Russian",
		"ar": "Arabic",
		"hi": "Hindi",
		"th": "Thai",
		"vi": "Vietnamese",
		"id": "Indonesian",
	}
	if name, ok := names[code]; ok {
		return name
	}
	return code
}
