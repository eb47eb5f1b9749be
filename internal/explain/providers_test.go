package explain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/video-stream/subexplain/internal/apperr"
	"github.com/video-stream/subexplain/internal/config"
	"github.com/video-stream/subexplain/internal/fetch"
	"github.com/video-stream/subexplain/internal/models"
)

func aiJSON(t *testing.T, requestID string) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"requestId": requestID,
		"items":     []models.Item{{Word: "猫", Reading: "ねこ", PartOfSpeech: "noun", Meaning: "cat"}},
		"grammar":   []map[string]string{{"pattern": "〜だ", "explanation": "copula"}},
	})
	require.NoError(t, err)
	return string(b)
}

func noSleepFetcher(client *http.Client) *fetch.RetryingFetcher {
	return fetch.New(client,
		fetch.WithSleep(func(context.Context, time.Duration) error { return nil }),
		fetch.WithJitter(func(time.Duration) time.Duration { return 0 }),
	)
}

type helperStub struct {
	mu       sync.Mutex
	explains []bridgeRequest
	aborts   chan string
	block    bool
	fail     string
}

func (h *helperStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/health":
		w.WriteHeader(http.StatusOK)
	case "/abort":
		var body struct {
			RequestID string `json:"requestId"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		h.aborts <- body.RequestID
		w.Write([]byte(`{"ok":true}`))
	case "/explain":
		var body bridgeRequest
		json.NewDecoder(r.Body).Decode(&body)
		h.mu.Lock()
		h.explains = append(h.explains, body)
		block, fail := h.block, h.fail
		h.mu.Unlock()

		if block {
			<-r.Context().Done()
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if fail != "" {
			json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": fail})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok":        true,
			"requestId": body.RequestID,
			"items": []models.Item{
				{Word: body.Text, Meaning: "explained"},
				{Word: " ", Meaning: ""},
			},
		})
	default:
		http.NotFound(w, r)
	}
}

func TestLocalBridgeExplainAndHealth(t *testing.T) {
	t.Parallel()

	stub := &helperStub{aborts: make(chan string, 1)}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	m := NewManager(noSleepFetcher(srv.Client()))
	cfg := config.BridgeConfig{AIProvider: "openclaw", HelperURL: srv.URL + "/", UserLanguage: "ko"}

	res, err := m.Explain(context.Background(), "猫", "r1", cfg)
	require.NoError(t, err)
	require.Equal(t, config.ProviderLocal, res.Provider)
	require.Equal(t, []models.Item{{Word: "猫", Meaning: "explained"}}, res.Items)

	stub.mu.Lock()
	require.Equal(t, bridgeRequest{Text: "猫", SessionKey: config.DefaultSessionKey, UserLanguage: "ko", RequestID: "r1"}, stub.explains[0])
	stub.mu.Unlock()

	p, err := NewLocalBridge(cfg, srv.Client())
	require.NoError(t, err)
	require.NoError(t, p.(*LocalBridge).Health(context.Background()))
}

func TestLocalBridgeHelperError(t *testing.T) {
	t.Parallel()

	stub := &helperStub{aborts: make(chan string, 1), fail: "gateway not connected"}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	_, err := NewManager(srv.Client()).Explain(context.Background(), "猫", "r1", config.BridgeConfig{HelperURL: srv.URL})
	require.ErrorIs(t, err, apperr.ErrTerminal)
	require.Contains(t, err.Error(), "gateway not connected")
}

func TestLocalBridgeCancelSendsRemoteAbort(t *testing.T) {
	t.Parallel()

	stub := &helperStub{aborts: make(chan string, 1), block: true}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	m := NewManager(srv.Client())
	errCh := make(chan error, 1)
	go func() {
		_, err := m.Explain(context.Background(), "猫", "r1", config.BridgeConfig{HelperURL: srv.URL})
		errCh <- err
	}()

	require.Eventually(t, func() bool { return m.InFlight("r1") }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		stub.mu.Lock()
		defer stub.mu.Unlock()
		return len(stub.explains) == 1
	}, 2*time.Second, 5*time.Millisecond)

	m.Cancel("r1")
	require.ErrorIs(t, <-errCh, apperr.ErrCancelled)

	select {
	case id := <-stub.aborts:
		require.Equal(t, "r1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("helper never received /abort")
	}
}

func TestLocalBridgeTimeoutIsTerminal(t *testing.T) {
	t.Parallel()

	stub := &helperStub{aborts: make(chan string, 1), block: true}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	m := NewManager(fetch.New(srv.Client()), WithTimeout(100*time.Millisecond))
	_, err := m.Explain(context.Background(), "猫", "r1", config.BridgeConfig{HelperURL: srv.URL})
	require.Error(t, err)
	require.ErrorIs(t, err, apperr.ErrTerminal)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotErrorIs(t, err, apperr.ErrCancelled)
	require.False(t, apperr.IsCancelled(err))
	require.False(t, m.InFlight("r1"))
}

func TestOpenAIProvider(t *testing.T) {
	t.Parallel()

	var echo atomic.Value
	echo.Store("r1")
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		auth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 0,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": aiJSON(t, echo.Load().(string))},
			}},
		})
	}))
	defer srv.Close()

	m := NewManager(noSleepFetcher(srv.Client()))
	cfg := config.BridgeConfig{AIProvider: "openai", OpenAIAPIKey: "sk-test", OpenAIBaseURL: srv.URL}

	res, err := m.Explain(context.Background(), "猫だ", "r1", cfg)
	require.NoError(t, err)
	require.Equal(t, "Bearer sk-test", auth.Load())
	require.Equal(t, config.ProviderOpenAI, res.Provider)
	require.Len(t, res.Items, 3)
	require.Equal(t, GrammarSeparator, res.Items[1].Word)
	require.Equal(t, "grammar", res.Items[2].Reading)

	echo.Store("stale")
	_, err = m.Explain(context.Background(), "猫だ", "r2", cfg)
	require.ErrorIs(t, err, apperr.ErrTerminal)
}

func TestOpenAIUpstreamFailureIsTerminal(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewManager(noSleepFetcher(srv.Client()))
	_, err := m.Explain(context.Background(), "x", "r1",
		config.BridgeConfig{AIProvider: "openai", OpenAIAPIKey: "k", OpenAIBaseURL: srv.URL + "/v1/"})
	require.ErrorIs(t, err, apperr.ErrTerminal)
	require.Equal(t, int32(3), calls.Load())
}

func TestAnthropicProvider(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "ak-test", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"model":       config.DefaultAnthropicModel,
			"content":     []map[string]any{{"type": "text", "text": aiJSON(t, "r7")}},
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 1, "output_tokens": 1},
		})
	}))
	defer srv.Close()

	m := NewManager(noSleepFetcher(srv.Client()))
	res, err := m.Explain(context.Background(), "猫", "r7",
		config.BridgeConfig{AIProvider: "claude", AnthropicAPIKey: "ak-test", AnthropicBaseURL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, config.ProviderAnthropic, res.Provider)
	require.Equal(t, "cat", res.Items[0].Meaning)
}

func TestGeminiProvider(t *testing.T) {
	t.Parallel()

	var blocked atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", r.URL.Path)
		require.Equal(t, "gk-test", r.Header.Get("x-goog-api-key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "application/json", body["generationConfig"].(map[string]any)["responseMimeType"])

		w.Header().Set("Content-Type", "application/json")
		if blocked.Load() {
			w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{"parts": []map[string]string{{"text": aiJSON(t, "g1")}}},
			}},
		})
	}))
	defer srv.Close()

	m := NewManager(noSleepFetcher(srv.Client()))
	cfg := config.BridgeConfig{AIProvider: "gemini", GeminiAPIKey: "gk-test", GeminiBaseURL: srv.URL + "/v1beta/models"}

	res, err := m.Explain(context.Background(), "猫", "g1", cfg)
	require.NoError(t, err)
	require.Equal(t, config.ProviderGemini, res.Provider)
	require.Equal(t, "猫", res.Items[0].Word)

	blocked.Store(true)
	_, err = m.Explain(context.Background(), "犬", "g2", cfg)
	require.ErrorIs(t, err, apperr.ErrTerminal)
	require.Contains(t, err.Error(), "SAFETY")
}

func TestNormalizeOpenAIBaseURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", normalizeOpenAIBaseURL(" "))
	require.Equal(t, "https://api.example.com/v1", normalizeOpenAIBaseURL("https://api.example.com"))
	require.Equal(t, "https://api.example.com/v1", normalizeOpenAIBaseURL("https://api.example.com/v1/"))
	require.Equal(t, "https://proxy.test/openai/v1", normalizeOpenAIBaseURL("https://proxy.test/openai"))
}

func TestGeminiModelLister(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Equal(t, "key", r.Header.Get("x-goog-api-key"))
		if failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"models":[
			{"name":"models/gemini-1.5-flash","displayName":"Gemini 1.5 Flash","supportedGenerationMethods":["generateContent"]},
			{"name":"models/gemini-2.5-pro","displayName":"Gemini 2.5 Pro","supportedGenerationMethods":["generateContent","countTokens"]},
			{"name":"models/gemini-embedding-001","supportedGenerationMethods":["generateContent"]},
			{"name":"models/text-bison","supportedGenerationMethods":["generateContent"]},
			{"name":"models/gemini-2.0-flash","supportedGenerationMethods":["embedContent"]},
			{"name":"models/gemini-2.5-pro","displayName":"dup","supportedGenerationMethods":["generateContent"]}
		]}`))
	}))
	defer srv.Close()

	l := NewGeminiModelLister(srv.Client(), srv.URL)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	empty, err := l.List(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, empty)
	require.Equal(t, int32(0), hits.Load())

	got, err := l.List(context.Background(), "key")
	require.NoError(t, err)
	require.Equal(t, []GeminiModel{
		{ID: "gemini-2.5-pro", DisplayName: "Gemini 2.5 Pro"},
		{ID: "gemini-1.5-flash", DisplayName: "Gemini 1.5 Flash"},
	}, got)

	_, err = l.List(context.Background(), "key")
	require.NoError(t, err)
	require.Equal(t, int32(1), hits.Load())

	// Expired and failing: the stale list is served.
	now = now.Add(2 * time.Hour)
	failing.Store(true)
	stale, err := l.List(context.Background(), "key")
	require.NoError(t, err)
	require.Equal(t, got, stale)
	require.Equal(t, int32(2), hits.Load())
}
