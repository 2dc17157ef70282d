package server

import (
	"net/http"

	"github.com/claimguard-jp/claimguard/internal/api"
	"github.com/claimguard-jp/claimguard/internal/api/handlers"
	"github.com/claimguard-jp/claimguard/internal/api/middleware"
	"github.com/go-chi/chi/v5"
)

type RouterConfig struct {
	TokenValidator    middleware.TokenValidator
	CheckHandler      *handlers.CheckHandler
	StreamHandler     *handlers.StreamHandler
	DictionaryHandler *handlers.DictionaryHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 10 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.TokenAuth(cfg.TokenValidator))

		r.Route("/checks", func(r chi.Router) {
			r.Post("/", cfg.CheckHandler.Submit)
			r.Get("/", cfg.CheckHandler.List)
			r.Get("/{id}", cfg.CheckHandler.Get)
			r.Post("/{id}/cancel", cfg.CheckHandler.Cancel)
			r.Delete("/{id}", cfg.CheckHandler.Delete)
			r.Get("/{id}/stream", cfg.StreamHandler.Stream)
			r.Get("/{id}/image", cfg.CheckHandler.Image)
		})

		r.Get("/queue/status", cfg.CheckHandler.QueueStatus)

		r.Route("/dictionary", func(r chi.Router) {
			r.Post("/", cfg.DictionaryHandler.Create)
			r.Get("/", cfg.DictionaryHandler.List)
			r.Get("/{id}", cfg.DictionaryHandler.Get)
			r.Put("/{id}", cfg.DictionaryHandler.Update)
			r.Delete("/{id}", cfg.DictionaryHandler.Delete)

			r.Post("/embedding-jobs", cfg.DictionaryHandler.EnqueueEmbeddingJob)
			r.Get("/embedding-jobs/{id}", cfg.DictionaryHandler.GetEmbeddingJob)
		})
	})

	return r
}
