package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

// CORSHandler builds the options for the extension's callers: the
// extension itself (chrome-extension://*, moz-extension://*) and the video
// pages its content script runs on. An empty list means "*".
func CORSHandler(allowedOrigins []string) cors.Options {
	origins := make([]string, 0, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Credentials are never allowed together with a wildcard.
	allowCreds := true
	for _, o := range origins {
		if o == "*" {
			allowCreds = false
			break
		}
	}

	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length", "Retry-After"},
		AllowCredentials: allowCreds,
		MaxAge:           300,
	}
}

// PrivateNetwork answers the private network preflight browsers send
// before a public page may call a loopback address such as the helper.
// It must run before the CORS handler, which ends preflights itself.
func PrivateNetwork(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Private-Network") == "true" {
			w.Header().Set("Access-Control-Allow-Private-Network", "true")
		}
		next.ServeHTTP(w, r)
	})
}
