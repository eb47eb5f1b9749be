package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/video-stream/subexplain/internal/api/handlers"
	"github.com/video-stream/subexplain/internal/api/middleware"
	"github.com/video-stream/subexplain/internal/auth"
	"github.com/video-stream/subexplain/internal/config"
	"github.com/video-stream/subexplain/internal/dictionary"
	"github.com/video-stream/subexplain/internal/explain"
	"github.com/video-stream/subexplain/internal/subtitle/resolver"
)

// Services are the long-lived components behind the helper API.
type Services struct {
	Explain    *explain.Manager
	Dictionary *dictionary.Service
	Resolver   *resolver.Resolver
	Models     *explain.GeminiModelLister
	JWT        *auth.JWTService
	Bridge     config.BridgeConfig
	Logger     *zap.Logger
}

// NewRouter wires the helper API. The returned limiter must be stopped on
// shutdown.
func NewRouter(cfg *config.Config, svc Services) (*chi.Mux, *middleware.RateLimiter) {
	r := chi.NewRouter()
	limiter := middleware.NewRateLimiter(cfg.RateLimit, time.Minute)

	// Global middleware
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(svc.Logger))
	r.Use(middleware.PrivateNetwork)
	r.Use(cors.Handler(middleware.CORSHandler(cfg.CORSOrigins)))

	healthHandler := handlers.NewHealthHandler(svc.Explain, svc.Bridge)
	explainHandler := handlers.NewExplainHandler(svc.Explain, svc.Bridge)
	dictHandler := handlers.NewDictHandler(svc.Dictionary)
	subtitleHandler := handlers.NewSubtitleHandler(svc.Resolver)
	modelsHandler := handlers.NewGeminiModelsHandler(svc.Models, svc.Bridge.GeminiAPIKey)

	// Public routes
	r.Get("/health", healthHandler.Health)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(svc.JWT))
		r.Use(limiter.Handler)
		r.Use(middleware.MaxBodySize(cfg.MaxBodyBytes))

		r.Get("/status", healthHandler.Status)

		// Explanations
		r.Post("/explain", explainHandler.Explain)
		r.Post("/abort", explainHandler.Abort)
		r.Get("/models/gemini", modelsHandler.ListModels)

		// Dictionary
		r.Post("/dict/lookup", dictHandler.Lookup)

		// Subtitles
		r.Post("/subtitle/tracks", subtitleHandler.Tracks)
		r.Post("/subtitle/resolve", subtitleHandler.Resolve)
		r.Post("/subtitle/vtt", subtitleHandler.VTT)
	})

	return r, limiter
}
