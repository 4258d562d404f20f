package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// NewRouter builds the HTTP API. Health is public; everything else sits behind
// the API key when one is configured.
func NewRouter(h *Handler, apiKey string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(Recovery)
	r.Use(RequestID)
	r.Use(Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-API-Key"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/api/v1/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(APIKey(apiKey))

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/status", h.Status)

			r.Get("/cycles", h.ListCycles)
			r.Get("/cycles/{runID}/logs", h.CycleLogs)
			r.Post("/commands", h.CreateCommand)

			r.Post("/users", h.CreateUser)
			r.Route("/users/{userID}", func(r chi.Router) {
				r.Get("/", h.GetUser)
				r.Put("/active", h.SetUserActive)
				r.Get("/alerts", h.ListAlerts)
				r.Post("/alerts", h.CreateAlert)
				r.Delete("/alerts/{alertID}", h.DeleteAlert)
				r.Post("/alerts/{alertID}/deactivate", h.DeactivateAlert)
			})

			r.Get("/locations", h.Locations)
			r.Get("/locations/{location}/listings", h.ListingsByLocation)
			r.Get("/listings/{listingID}", h.GetListing)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, NotFound(""))
	})

	return r
}
