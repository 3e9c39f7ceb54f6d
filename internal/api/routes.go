package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/farmsight/farmsight-backend/internal/db/entities"
)

const (
	requestTimeout   = 15 * time.Second
	credentialLimit  = 10
	credentialWindow = time.Minute
	compressionLevel = 5
)

func (h *Handler) Routes(m *Middleware, metricsHandler http.Handler, corsOrigins []string, rateLimitRPM int) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(m.CORS(corsOrigins))
	r.Use(middleware.Heartbeat("/ping"))

	// Health endpoints
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(m.RateLimit(rateLimitRPM))

		// the websocket handshake authenticates on its own and must not be
		// wrapped by the timeout or compression writers
		r.Get("/ws", h.HandleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Compress(compressionLevel))
			r.Use(m.Timeout(requestTimeout))

			r.Route("/auth", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					r.Use(m.CredentialLimit(credentialLimit, credentialWindow))
					r.Post("/register", h.Register)
					r.Post("/login", h.Login)
				})

				r.Group(func(r chi.Router) {
					r.Use(m.Authenticate)
					r.Post("/logout", h.Logout)
					r.Get("/me", h.Me)
					r.Patch("/profile", h.UpdateProfile)
					r.Post("/password", h.ChangePassword)
				})
			})

			// the catalog is public
			r.Route("/videos", func(r chi.Router) {
				r.Get("/", h.ListVideos)
				r.Get("/categories", h.ListVideoCategories)
				r.Get("/relevant/{stressType}", h.ListRelevantVideos)
				r.Post("/{videoID}/views", h.IncrementVideoViews)
			})

			r.Group(func(r chi.Router) {
				r.Use(m.Authenticate)

				r.Route("/farms", func(r chi.Router) {
					r.Get("/", h.ListFarms)
					r.Post("/", h.CreateFarm)
					r.Route("/{farmID}", func(r chi.Router) {
						r.Get("/", h.GetFarm)
						r.Patch("/", h.UpdateFarm)
						r.Delete("/", h.DeleteFarm)
						r.Get("/health", h.GetFarmHealth)
						r.Get("/ndvi", h.GetNDVI)
						r.Post("/ndvi", h.AddNDVI)
						r.Get("/alerts", h.ListFarmAlerts)
						r.Post("/alerts", h.CreateAlert)
					})
				})

				r.Route("/alerts", func(r chi.Router) {
					r.Get("/", h.ListAlerts)
					r.Post("/{alertID}/read", h.MarkAlertRead)
					r.Delete("/{alertID}", h.DeleteAlert)
				})

				r.Route("/settings", func(r chi.Router) {
					r.Get("/", h.GetSettings)
					r.Patch("/", h.UpdateSettings)
				})

				r.Route("/admin", func(r chi.Router) {
					r.Use(m.RequireRole(entities.RoleAdmin))
					r.Get("/export", h.ExportDatabase)
					r.Post("/import", h.ImportDatabase)
					r.Post("/reset", h.ResetDatabase)
				})
			})
		})
	})

	return r
}
