package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/video-stream/subexplain/internal/apperr"
	"github.com/video-stream/subexplain/internal/auth"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/timedtext", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"events":[
			{"tStartMs":0,"dDurationMs":150,"segs":[{"utf8":"one"}]},
			{"tStartMs":150,"dDurationMs":150,"segs":[{"utf8":"two"}]}
		]}`))
	})
	mux.HandleFunc("/jisho", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"japanese":[{"word":"猫","reading":"ねこ"}],"senses":[{"parts_of_speech":["Noun"],"english_definitions":["cat"]}]}]}`))
	})
	mux.HandleFunc("/entries/hello", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"word":"hello","meanings":[{"partOfSpeech":"exclamation","definitions":[{"definition":"a greeting"}]}]}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenCommand(t *testing.T) {
	path := writeConfig(t, "auth_secret: s3cret\n")
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-config", path, "token", "-client", "cli"}, &out, &bytes.Buffer{}))

	claims, err := auth.NewJWTService("s3cret").ValidateToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	require.Equal(t, "cli", claims.Client)
}

func TestTokenWithoutSecret(t *testing.T) {
	path := writeConfig(t, "")
	err := run(context.Background(), []string{"-config", path, "token"}, &bytes.Buffer{}, &bytes.Buffer{})
	require.ErrorContains(t, err, "auth_secret")
}

func TestLookupCommand(t *testing.T) {
	srv := upstream(t)
	path := writeConfig(t, fmt.Sprintf("jisho_url: %s/jisho\ndictionary_url: %s/entries\n", srv.URL, srv.URL))

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-config", path, "lookup", "猫", "hello"}, &out, &bytes.Buffer{}))
	require.Equal(t, "猫\n  猫 [ねこ] (Noun): cat\nhello\n  hello (exclamation): a greeting\n", out.String())
}

func TestFollowCommand(t *testing.T) {
	srv := upstream(t)
	host := strings.TrimPrefix(srv.URL, "http://")
	path := writeConfig(t, fmt.Sprintf("primary_host: %s/api/timedtext\nalternate_host: %s/alt/timedtext\n", host, host))

	out := &syncBuffer{}
	err := run(context.Background(),
		[]string{"-config", path, "follow", "-tick", "10ms", srv.URL + "/api/timedtext?v=abc"},
		out, &bytes.Buffer{})
	require.NoError(t, err)
	require.Equal(t, "one\ntwo\n", out.String())
}

func TestUnknownCommand(t *testing.T) {
	path := writeConfig(t, "")
	var stderr bytes.Buffer
	err := run(context.Background(), []string{"-config", path, "dance"}, &bytes.Buffer{}, &stderr)
	require.ErrorContains(t, err, `unknown command "dance"`)
	require.Contains(t, stderr.String(), "usage: captionctl")
}

type helper struct {
	started chan string
	aborts  chan string
	block   bool
}

func newHelper(t *testing.T, block bool) (*helper, *httptest.Server) {
	t.Helper()
	h := &helper{started: make(chan string, 1), aborts: make(chan string, 1), block: block}
	mux := http.NewServeMux()
	mux.HandleFunc("/explain", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text      string `json:"text"`
			RequestID string `json:"requestId"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		h.started <- body.RequestID
		if h.block {
			<-r.Context().Done()
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok":        true,
			"requestId": body.RequestID,
			"items":     []map[string]string{{"word": body.Text, "reading": "ねこ", "meaning": "cat"}},
		})
	})
	mux.HandleFunc("/abort", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RequestID string `json:"requestId"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		h.aborts <- body.RequestID
		w.Write([]byte(`{"ok":true}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return h, srv
}

func TestExplainCommand(t *testing.T) {
	h, srv := newHelper(t, false)
	path := writeConfig(t, fmt.Sprintf("bridge:\n  ai_provider: local\n  helper_url: %s\n", srv.URL))

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-config", path, "explain", "-id", "cli-1", "猫"}, &out, &bytes.Buffer{}))
	require.Equal(t, "cli-1", <-h.started)
	require.Equal(t, "  猫 [ねこ]: cat\n", out.String())
}

func TestExplainInterruptAbortsHelper(t *testing.T) {
	h, srv := newHelper(t, true)
	path := writeConfig(t, fmt.Sprintf("bridge:\n  ai_provider: local\n  helper_url: %s\n", srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, []string{"-config", path, "explain", "-id", "cli-2", "猫"}, &bytes.Buffer{}, &bytes.Buffer{})
	}()

	select {
	case id := <-h.started:
		require.Equal(t, "cli-2", id)
	case <-time.After(2 * time.Second):
		t.Fatal("helper never received /explain")
	}
	cancel()

	var err error
	select {
	case err = <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("explain did not return after interrupt")
	}
	require.True(t, apperr.IsCancelled(err))
	require.Equal(t, 130, exitCode(err))

	select {
	case id := <-h.aborts:
		require.Equal(t, "cli-2", id)
	case <-time.After(2 * time.Second):
		t.Fatal("helper never received /abort")
	}
}

func TestExitCode(t *testing.T) {
	require.Equal(t, 0, exitCode(nil))
	require.Equal(t, 130, exitCode(apperr.Cancelled("explain")))
	require.Equal(t, 1, exitCode(apperr.Terminal("explain", nil)))
}
