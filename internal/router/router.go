package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/saldiviabuses/erp-server/internal/api"
	"github.com/saldiviabuses/erp-server/internal/api/auth"
	"github.com/saldiviabuses/erp-server/internal/api/dashboard"
	"github.com/saldiviabuses/erp-server/internal/api/system"
	"github.com/saldiviabuses/erp-server/internal/api/user"
)

// Config contains the dependencies needed for router setup. Server-wide
// middleware (request ID, logger, recoverer) is applied in main.go before
// this router is mounted.
type Config struct {
	Logger           *slog.Logger
	AuthHandler      auth.Handler
	AuthService      auth.AuthService
	UserHandler      *user.HandlerImpl
	SystemHandler    *system.HandlerImpl
	DashboardHandler *dashboard.HandlerImpl
	AllowedOrigins   []string
}

// SetupRouter initializes and configures the main application router.
func SetupRouter(cfg *Config) chi.Router {
	r := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		api.WriteJSONResponse(w, req, http.StatusOK, map[string]string{"status": "ok"})
	})

	authenticate := auth.Authenticate(cfg.AuthService, cfg.Logger)
	requireAdmin := auth.RequireAdmin(cfg.Logger)

	r.Route("/api", func(r chi.Router) {
		// Public auth routes.
		r.Group(func(r chi.Router) {
			r.Post("/auth/login", cfg.AuthHandler.Login)
			r.Post("/auth/refresh", cfg.AuthHandler.Refresh)
		})

		// Everything else requires a valid session token.
		r.Group(func(r chi.Router) {
			r.Use(authenticate)

			r.Post("/auth/logout", cfg.AuthHandler.Logout)
			r.Get("/auth/me", cfg.AuthHandler.Me)

			r.Route("/users", func(r chi.Router) {
				r.Get("/", cfg.UserHandler.ListUsers)
				r.Put("/profile", cfg.UserHandler.UpdateOwnProfile)
				r.Get("/profiles", cfg.UserHandler.ListProfiles)
				r.Get("/{id}", cfg.UserHandler.GetUser)
				r.Put("/{id}", cfg.UserHandler.UpdateUser)
				r.Get("/{id}/history", cfg.UserHandler.GetHistory)

				// Administrative user management.
				r.Group(func(r chi.Router) {
					r.Use(requireAdmin)
					r.Post("/", cfg.UserHandler.CreateUser)
					r.Delete("/{id}", cfg.UserHandler.DeleteUser)
					r.Post("/profiles", cfg.UserHandler.CreateProfile)
					r.Put("/profiles/{id}", cfg.UserHandler.UpdateProfile)
					r.Delete("/profiles/{id}", cfg.UserHandler.DeleteProfile)
					r.Put("/{id}/permissions", cfg.UserHandler.UpdatePermissions)
					r.Put("/{id}/password", cfg.UserHandler.UpdatePassword)
				})
			})

			r.Route("/system", func(r chi.Router) {
				r.Use(requireAdmin)
				r.Get("/audit", cfg.SystemHandler.GetAuditLog)
				r.Get("/config", cfg.SystemHandler.GetConfig)
			})

			r.Route("/dashboard", func(r chi.Router) {
				r.Get("/stats", cfg.DashboardHandler.GetStats)
				r.Get("/notifications", cfg.DashboardHandler.GetNotifications)
			})
		})
	})

	return r
}
