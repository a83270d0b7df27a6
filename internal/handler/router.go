package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/asetia/portfolio-assistant/internal/config"
	chathandler "github.com/asetia/portfolio-assistant/internal/handler/chat"
	voicehandler "github.com/asetia/portfolio-assistant/internal/handler/voice"
	middlewarePkg "github.com/asetia/portfolio-assistant/internal/middleware"
	chatservice "github.com/asetia/portfolio-assistant/internal/service/chat"
	"github.com/asetia/portfolio-assistant/internal/service/ratelimit"
	"github.com/asetia/portfolio-assistant/internal/service/session"
	"github.com/asetia/portfolio-assistant/internal/service/speech"
	"github.com/asetia/portfolio-assistant/pkg/utils"
)

// Deps carries everything the router needs.
type Deps struct {
	ChatSvc       *chatservice.Service
	Sessions      *session.Store
	Credentials   *speech.CredentialService
	Limiter       *ratelimit.Limiter
	VoiceFactory  voicehandler.ControllerFactory
	VoiceEnabled  bool
	AllowedOrigin string
	RateLimits    config.RateLimitConfig
	Log           *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(d.Log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middlewarePkg.CORS(d.AllowedOrigin))

	chatHandler := chathandler.New(d.ChatSvc, d.Sessions, d.Log)
	voiceHandler := voicehandler.New(d.ChatSvc, d.Credentials, d.Log)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		api.Group(func(g chi.Router) {
			g.Use(middlewarePkg.RateLimit(d.Limiter, "chat", d.RateLimits.ChatPerMinute))
			chatHandler.RegisterRoutes(g)
		})

		if d.VoiceEnabled {
			api.Group(func(g chi.Router) {
				g.Use(middlewarePkg.RateLimit(d.Limiter, "voice", d.RateLimits.VoicePerMinute))
				g.Post("/voice/chat", voiceHandler.HandleVoiceChat)
			})
			api.Group(func(g chi.Router) {
				g.Use(middlewarePkg.RateLimit(d.Limiter, "token", d.RateLimits.TokenPerMinute))
				g.Get("/voice/token", voiceHandler.HandleToken)
			})
			if d.VoiceFactory != nil {
				voicehandler.NewWebSocketHandler(d.VoiceFactory, d.Log).RegisterRoutes(api)
			}
		}
	})

	return r
}

// requestLogger logs each request through zap instead of chi's stdlib logger.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())))
		})
	}
}
