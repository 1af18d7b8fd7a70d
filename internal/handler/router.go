package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/mockchat/backend/internal/config"
	"github.com/zhouzirui/mockchat/backend/internal/handler/chat"
	"github.com/zhouzirui/mockchat/backend/internal/handler/health"
	"github.com/zhouzirui/mockchat/backend/internal/handler/status"
	middlewarePkg "github.com/zhouzirui/mockchat/backend/internal/middleware"
	chatService "github.com/zhouzirui/mockchat/backend/internal/service/chat"
)

// Deps bundles what the router needs to build its handlers.
type Deps struct {
	Logger       zerolog.Logger
	Chat         *chatService.Service
	Replies      chat.Generator
	ReplyBackend string
	Status       *status.Handler
	RateLimit    config.RateLimitConfig
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middlewarePkg.Metrics)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.Logger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	health.New(deps.ReplyBackend).RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler())

	var sendLimits []func(http.Handler) http.Handler
	if deps.RateLimit.Enabled() {
		limiter := middlewarePkg.NewRateLimiter(deps.RateLimit.RPS, deps.RateLimit.Burst, "chat_send", deps.Logger)
		sendLimits = append(sendLimits, limiter.Middleware)
	}

	chatHandler := chat.New(deps.Chat, deps.Replies, deps.Logger)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api, sendLimits...)

		if deps.Status != nil {
			deps.Status.RegisterRoutes(api)
		}
	})

	return r
}
