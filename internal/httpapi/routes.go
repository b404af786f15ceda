package httpapi

import (
	"net/http"

	"github.com/DoyleJ11/spellduel/internal/hub"
	"github.com/DoyleJ11/spellduel/internal/store"
	"github.com/DoyleJ11/spellduel/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func SetupRoutes(h *hub.Hub, st store.Store, wsOpts ws.Options, logger *zap.Logger) http.Handler {
	logger = logger.Named("http")
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, wsOpts, logger))

	r.Route("/challenges", func(r chi.Router) {
		r.Post("/", CreateChallenge(st, logger))
		r.Get("/", ListChallenges(st, logger))
		r.Get("/{id}", GetChallenge(st, logger))
		r.Patch("/{id}", UpdateChallenge(st, logger))
		r.Get("/{id}/invite.png", Invite(st, logger))
	})

	// operator routes
	r.Get("/channels", ListChannels(h))
	r.Post("/channels/{name}/reset", ResetChannel(h, logger))
	return r
}
