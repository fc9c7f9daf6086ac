package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/starford/piko/internal/identity"
	"github.com/starford/piko/internal/media"
	"github.com/starford/piko/internal/projectservice"
	"github.com/starford/piko/internal/sse"
)

// NewRouter creates a chi router with all API routes mounted. Every route
// requires an identity resolved by auth. broker and ms may be nil, which
// disables events and uploads respectively.
func NewRouter(svc *projectservice.Service, auth identity.Authenticator, broker *sse.Broker, ms *media.Store) chi.Router {
	h := NewHandler(svc, broker)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(auth))

	r.Post("/projects", h.CreateProject)
	r.Route("/projects/{id}", func(r chi.Router) {
		r.Get("/", h.GetProject)
		r.Patch("/", h.RenameProject)
		r.Delete("/", h.DeleteProject)

		r.Get("/graph", h.GetGraph)
		r.Put("/graph", h.PutGraph)

		r.Put("/members/{userId}", h.PutMember)
		r.Delete("/members/{userId}", h.RemoveMember)

		r.Get("/events", h.Events)
	})

	if ms != nil {
		r.Post("/attachments", NewAttachmentHandler(ms).Upload)
	}

	return r
}
