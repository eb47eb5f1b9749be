package config

import "strings"

// Provider selects the explanation backend.
type Provider string

const (
	ProviderLocal     Provider = "local"
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
	ProviderAnthropic Provider = "anthropic"
)

const (
	DefaultHelperURL      = "http://127.0.0.1:18794"
	DefaultSessionKey     = "ext-transcript"
	DefaultUserLanguage   = "en"
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultGeminiModel    = "gemini-2.0-flash"
	DefaultAnthropicModel = "claude-haiku-4-5-20251001"
)

// ParseProvider accepts the provider names used by the extension settings;
// "openclaw" and the empty string mean the local bridge.
func ParseProvider(raw string) (Provider, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "openclaw", "local":
		return ProviderLocal, true
	case "openai":
		return ProviderOpenAI, true
	case "gemini":
		return ProviderGemini, true
	case "anthropic", "claude":
		return ProviderAnthropic, true
	}
	return "", false
}

// BridgeConfig is the explanation settings record shared with the browser
// extension. It is read-only to the services that consume it.
type BridgeConfig struct {
	AIProvider   string `yaml:"ai_provider" json:"aiProvider"`
	HelperURL    string `yaml:"helper_url" json:"helperUrl"`
	SessionKey   string `yaml:"session_key" json:"sessionKey"`
	UserLanguage string `yaml:"user_language" json:"userLanguage"`

	OpenAIAPIKey  string `yaml:"openai_api_key" json:"openaiApiKey"`
	OpenAIModel   string `yaml:"openai_model" json:"openaiModel"`
	OpenAIBaseURL string `yaml:"openai_base_url" json:"openaiBaseUrl,omitempty"`

	GeminiAPIKey  string `yaml:"gemini_api_key" json:"geminiApiKey"`
	GeminiModel   string `yaml:"gemini_model" json:"geminiModel"`
	GeminiBaseURL string `yaml:"gemini_base_url" json:"geminiBaseUrl,omitempty"`

	AnthropicAPIKey  string `yaml:"anthropic_api_key" json:"anthropicApiKey"`
	AnthropicModel   string `yaml:"anthropic_model" json:"anthropicModel"`
	AnthropicBaseURL string `yaml:"anthropic_base_url" json:"anthropicBaseUrl,omitempty"`
}

// Normalized fills defaults and trims values. The helper URL loses any
// trailing slash.
func (b BridgeConfig) Normalized() BridgeConfig {
	out := BridgeConfig{
		AIProvider:       strings.TrimSpace(b.AIProvider),
		HelperURL:        strings.TrimRight(strings.TrimSpace(b.HelperURL), "/"),
		SessionKey:       strings.TrimSpace(b.SessionKey),
		UserLanguage:     strings.TrimSpace(b.UserLanguage),
		OpenAIAPIKey:     strings.TrimSpace(b.OpenAIAPIKey),
		OpenAIModel:      strings.TrimSpace(b.OpenAIModel),
		OpenAIBaseURL:    strings.TrimRight(strings.TrimSpace(b.OpenAIBaseURL), "/"),
		GeminiAPIKey:     strings.TrimSpace(b.GeminiAPIKey),
		GeminiModel:      strings.TrimSpace(b.GeminiModel),
		GeminiBaseURL:    strings.TrimRight(strings.TrimSpace(b.GeminiBaseURL), "/"),
		AnthropicAPIKey:  strings.TrimSpace(b.AnthropicAPIKey),
		AnthropicModel:   strings.TrimSpace(b.AnthropicModel),
		AnthropicBaseURL: strings.TrimRight(strings.TrimSpace(b.AnthropicBaseURL), "/"),
	}
	if out.AIProvider == "" {
		out.AIProvider = "openclaw"
	}
	if out.HelperURL == "" {
		out.HelperURL = DefaultHelperURL
	}
	if out.SessionKey == "" {
		out.SessionKey = DefaultSessionKey
	}
	if out.UserLanguage == "" {
		out.UserLanguage = DefaultUserLanguage
	}
	if out.OpenAIModel == "" {
		out.OpenAIModel = DefaultOpenAIModel
	}
	if out.GeminiModel == "" {
		out.GeminiModel = DefaultGeminiModel
	}
	if out.AnthropicModel == "" {
		out.AnthropicModel = DefaultAnthropicModel
	}
	return out
}

// Provider returns the parsed provider, falling back to the local bridge
// for unknown names.
func (b BridgeConfig) Provider() Provider {
	p, ok := ParseProvider(b.AIProvider)
	if !ok {
		return ProviderLocal
	}
	return p
}

// Merge overlays the non-empty fields of o onto b.
func (b BridgeConfig) Merge(o BridgeConfig) BridgeConfig {
	set := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	set(&b.AIProvider, o.AIProvider)
	set(&b.HelperURL, o.HelperURL)
	set(&b.SessionKey, o.SessionKey)
	set(&b.UserLanguage, o.UserLanguage)
	set(&b.OpenAIAPIKey, o.OpenAIAPIKey)
	set(&b.OpenAIModel, o.OpenAIModel)
	set(&b.OpenAIBaseURL, o.OpenAIBaseURL)
	set(&b.GeminiAPIKey, o.GeminiAPIKey)
	set(&b.GeminiModel, o.GeminiModel)
	set(&b.GeminiBaseURL, o.GeminiBaseURL)
	set(&b.AnthropicAPIKey, o.AnthropicAPIKey)
	set(&b.AnthropicModel, o.AnthropicModel)
	set(&b.AnthropicBaseURL, o.AnthropicBaseURL)
	return b
}
