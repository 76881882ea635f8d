package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/onnwee/orbit/internal/middleware"
)

// ServiceName identifies the API in the root response and in traces.
const ServiceName = "orbit-api"

// RouterConfig holds the services and settings the router is built from.
type RouterConfig struct {
	Events    EventService
	Rules     RuleService
	Ingester  Ingester
	Snapshots SnapshotReader
	Bus       NotificationSubscriber

	// Per-member location rate limiting. LocationLimiter is optional.
	LocationLimiter middleware.RateLimitStore
	LocationLimit   middleware.RateLimitConfig
	Metrics         *middleware.Metrics

	// AllowedOrigins gates the notification WebSocket.
	AllowedOrigins []string
	// WebSocketWriteTimeout bounds a single notification write.
	WebSocketWriteTimeout time.Duration

	Health HealthHandlersConfig

	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
}

// NewRouter builds the chi router for every API route.
func NewRouter(cfg RouterConfig) http.Handler {
	events := NewEventHandlers(cfg.Events)
	rules := NewRuleHandlers(cfg.Rules)
	locations := NewLocationHandlers(LocationHandlersConfig{
		Ingester:  cfg.Ingester,
		Snapshots: cfg.Snapshots,
		Limiter:   cfg.LocationLimiter,
		Limit:     cfg.LocationLimit,
		Metrics:   cfg.Metrics,
	})
	notifications := NewNotificationWebSocketHandlers(cfg.Bus, cfg.AllowedOrigins, cfg.WebSocketWriteTimeout)
	health := NewHealthHandlers(cfg.Health)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeCodedError(w, r, http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeCodedError(w, r, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method not allowed")
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]string{"service": ServiceName, "version": Version})
	})
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Route("/events", func(r chi.Router) {
		r.Post("/", events.CreateEvent)
		r.Get("/", events.ListEvents)

		r.Route("/{eventID}", func(r chi.Router) {
			r.Get("/", events.GetEvent)

			r.Post("/members", events.JoinEvent)
			r.Get("/members", events.ListMembers)
			r.Patch("/members/{userID}/sharing", events.UpdateSharing)

			r.Post("/locations", locations.PostLocation)
			r.Get("/live", locations.LiveStatus)

			r.Post("/rules", rules.CreateRule)
			r.Get("/rules", rules.ListRules)
		})
	})

	r.Patch("/rules/{ruleID}", rules.ToggleRule)
	r.Get("/users/{userID}/notifications/ws", notifications.SubscribeToNotifications)

	return r
}

// Version is reported by the root endpoint.
const Version = "0.1.0"
