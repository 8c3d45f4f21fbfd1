package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/azmth/internal/handler/chat"
	middlewarePkg "github.com/zhouzirui/azmth/internal/middleware"
	"github.com/zhouzirui/azmth/pkg/utils"
)

// NewRouter wires the local chat endpoint.
func NewRouter(responder chat.Responder, responderName string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	chatHandler := chat.New(responder, logger)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)

		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{
				"status":    "ok",
				"responder": responderName,
			})
		})
	})

	return r
}
