package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// AuthEnabled controls whether Bearer token auth is enforced.
	AuthEnabled bool
	Token       string
	// Events, if non-nil, is mounted at GET /events inside the auth group.
	Events http.Handler
	// RateLimit is requests per second across all clients; zero disables it.
	RateLimit float64
	Burst     int
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(svc NodeStore, cfg RouterConfig) chi.Router {
	h := NewHandler(svc)
	ah := NewAttachmentHandler(svc)

	r := chi.NewRouter()
	r.Use(RateLimit(cfg.RateLimit, cfg.Burst))
	r.Use(AuthMiddleware(cfg.AuthEnabled, cfg.Token))

	r.Get("/tree", h.Tree)
	r.Get("/children", h.Children)
	r.Get("/children/*", h.Children)
	r.Get("/breadcrumb/*", h.Breadcrumb)
	r.Get("/recent", h.Recent)

	r.Post("/nodes", h.CreateNode)
	r.Get("/nodes/*", h.GetNode)
	r.Put("/nodes/*", h.SaveNode)
	r.Delete("/nodes/*", h.DeleteNode)
	r.Post("/move", h.MoveNode)

	r.Get("/search", h.Search)

	r.Get("/attachments/{name}", ah.ServeFile)
	r.Put("/attachments/{name}", ah.Upload)
	r.Delete("/attachments/{name}", ah.Delete)

	if cfg.Events != nil {
		r.Get("/events", cfg.Events.ServeHTTP)
	}

	return r
}
