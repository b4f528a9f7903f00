package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"llm_chat/internal/apperr"
	"llm_chat/internal/middleware"
	"llm_chat/internal/utils"
)

var logger = utils.NewLogger("httpapi")

// NewRouter creates the HTTP router over deps
func NewRouter(deps *Dependencies) http.Handler {
	cfg := deps.Config
	secret := cfg.Auth.JWTSecret

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Type", "X-Stream-Id", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(deps.Effects.Middleware)

	r.Get("/health", deps.handleHealth)

	if deps.Files != nil {
		r.Get("/files/*", deps.handleFile)
	}

	r.Route("/api", func(api chi.Router) {
		api.Route("/auth", func(a chi.Router) {
			a.Post("/google", deps.Auth.GoogleLogin)
			a.Post("/dev", deps.Auth.DevLogin)
			a.Post("/logout", deps.Auth.Logout)
			a.With(middleware.RequireUser(secret)).Get("/me", deps.handleMe)
		})

		api.Get("/models", deps.handleListModels)
		api.Get("/partial-share/{token}", deps.handleGetPartialShare)
		api.With(middleware.OptionalUser(secret)).Get("/share/{threadId}", deps.handleGetShared)

		api.Group(func(p chi.Router) {
			p.Use(middleware.RequireUser(secret))

			p.Get("/models/available", deps.handleAvailableModels)

			p.Route("/keys", func(k chi.Router) {
				limited := k.With(middleware.RateLimit(deps.KeyLimiter, apperr.SurfaceAPI))
				k.Get("/", deps.handleListKeys)
				k.Delete("/", deps.handleClearKeys)
				limited.Post("/validate", deps.handleValidateKey)
				limited.Put("/{provider}", deps.handleSaveKey)
				k.Delete("/{provider}", deps.handleRemoveKey)
			})

			p.Get("/settings", deps.handleGetSettings)
			p.Put("/settings", deps.handleUpdateSettings)
			p.Get("/pinned", deps.handleListPinned)
			p.Put("/pinned/{threadId}", deps.handlePin)
			p.Delete("/pinned/{threadId}", deps.handleUnpin)

			p.Route("/threads", func(t chi.Router) {
				t.Get("/", deps.handleListThreads)
				t.Post("/", deps.handleCreateThread)
				t.Route("/{threadId}", func(one chi.Router) {
					one.Get("/", deps.handleGetThread)
					one.Patch("/", deps.handleRenameThread)
					one.Delete("/", deps.handleDeleteThread)
					one.Put("/visibility", deps.handleSetVisibility)
					one.Post("/branch", deps.handleBranch)
					one.Post("/messages", deps.handleSaveMessage)
					one.Post("/partial-shares", deps.handleCreatePartialShare)
				})
			})

			p.Delete("/messages/{messageId}", deps.handleDeleteMessage)
			p.Delete("/messages/{messageId}/trailing", deps.handleDeleteTrailing)

			p.Get("/partial-shares", deps.handleListPartialShares)
			p.Delete("/partial-shares/{token}", deps.handleDeletePartialShare)

			p.Post("/attachments", deps.handleUpload)
			p.Get("/usage", deps.handleUsage)

			p.With(middleware.RateLimit(deps.ChatLimiter, apperr.SurfaceChat)).Post("/chat", deps.handleChat)
			p.Post("/chat/{streamId}/stop", deps.handleStopStream)
			p.Get("/chat/{chatId}/streams", deps.handleListStreams)
		})
	})

	return r
}

// handleHealth probes every registered backend
func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(d.Health))
	for name, checker := range d.Health {
		if err := checker.Health(ctx); err != nil {
			logger.Error("Health check failed", "backend", name, "error", err)
			checks[name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	utils.RespondWithJSON(w, status, map[string]interface{}{
		"status": http.StatusText(status),
		"checks": checks,
	})
}
