package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Rrens/livedesk/internal/api/handler"
	customMiddleware "github.com/Rrens/livedesk/internal/api/middleware"
	"github.com/Rrens/livedesk/internal/config"
	"github.com/Rrens/livedesk/internal/domain"
	"github.com/Rrens/livedesk/internal/service"
)

// Dependencies are the components the HTTP surface is built from
type Dependencies struct {
	Verifier      domain.IdentityVerifier
	Chat          *service.ChatService
	Notifications *service.NotificationService
	Membership    *service.MembershipService
	Events        handler.EventPublisher
	// WebSocket is mounted at the gateway path when set
	WebSocket http.Handler
	// ReadyChecks are pinged by the readiness probe
	ReadyChecks map[string]handler.Pinger
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, promhttp.Handler())
	}

	// The upgrade outlives any request timeout
	if deps.WebSocket != nil {
		r.Handle(cfg.Gateway.Path, deps.WebSocket)
	}

	chatHandler := handler.NewChatHandler(deps.Chat, deps.Events)
	notificationHandler := handler.NewNotificationHandler(deps.Notifications)
	membershipHandler := handler.NewMembershipHandler(deps.Membership, deps.Events)

	authMiddleware := customMiddleware.NewAuthMiddleware(deps.Verifier)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Server.MiddlewareTimeout))

		// Health check
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(deps.ReadyChecks))

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			r.Route("/chat", func(r chi.Router) {
				r.Post("/session", chatHandler.OpenSession)
				r.Get("/session", chatHandler.ActiveSession)
				r.Post("/message", chatHandler.SendMessage)
				r.Get("/sessions/{id}/messages", chatHandler.History)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", notificationHandler.List)
				r.Put("/", notificationHandler.MarkRead)
				r.Put("/{id}", notificationHandler.MarkOneRead)
			})

			r.Post("/projects/{projectID}/invitations", membershipHandler.Invite)
			r.Post("/invitations/{id}/respond", membershipHandler.RespondToInvitation)
			r.Delete("/projects/{projectID}/members/{userID}", membershipHandler.RemoveCollaborator)

			// Operator routes
			r.Route("/admin/chat", func(r chi.Router) {
				r.Use(customMiddleware.RequireOperator)

				r.Get("/sessions", chatHandler.ListSessions)
				r.Post("/assign", chatHandler.Assign)
				r.Post("/reply", chatHandler.Reply)
				r.Post("/transfer", chatHandler.Transfer)
				r.Post("/close", chatHandler.Close)
			})
		})
	})

	return r
}
