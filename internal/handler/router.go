package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/slotswap/internal/metrics"
	"github.com/hitoshi/slotswap/internal/middleware"
	"github.com/hitoshi/slotswap/internal/notify"
	"github.com/prometheus/client_golang/prometheus"
)

// HealthChecker はDB疎通確認のインターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	StatusRecorder    middleware.StatusRecorder

	// 運用
	HealthChecker HealthChecker
	Gatherer      prometheus.Gatherer

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ドメイン
	EventService EventServiceInterface
	SwapService  SwapServiceInterface
	UserService  UserServiceInterface

	// 通知
	Hub *notify.Hub
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Session → RateLimit(General)
//
// /health、/metrics、認証前のエンドポイントはSession以降のチェーンの外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	eventHandler := NewEventHandler(deps.EventService)
	swapHandler := NewSwapHandler(deps.SwapService)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig)

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Route("/api/v1", func(r chi.Router) {
		// --- 認証不要のルート ---
		r.Post("/auth/signup", authHandler.Signup)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/logout", authHandler.Logout)
		r.Get("/auth/google/url", authHandler.GoogleURL)
		r.Post("/auth/google/login", authHandler.GoogleLogin)
		r.Post("/auth/google/googleLogin", authHandler.GoogleLogin)

		// WebSocketは自前でセッションを検証する
		if deps.Hub != nil {
			r.Get("/ws", NewWSHandler(deps.Hub, deps.SessionFinder, deps.CORSAllowedOrigin).Connect)
		}

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/auth/me", authHandler.Me)
			r.Delete("/auth/me", userHandler.Withdraw)

			r.Route("/events", func(r chi.Router) {
				r.Post("/create-event", eventHandler.CreateEvent)
				r.Get("/my-events", eventHandler.MyEvents)
				r.Get("/my-events.ics", eventHandler.MyEventsICal)
				r.Get("/swappable-slots", swapHandler.SwappableSlots)
				r.Delete("/delete-event/{id}", eventHandler.DeleteEvent)
				r.Patch("/{id}", eventHandler.UpdateEventStatus)
			})

			r.Route("/swap", func(r chi.Router) {
				createSwap := r.With(deps.RateLimiter.SwapRequestMiddleware())
				createSwap.Post("/swap-request", swapHandler.CreateSwapRequest)
				createSwap.Post("/request", swapHandler.CreateSwapRequest)

				r.Get("/swappable-slots", swapHandler.SwappableSlots)
				r.Get("/swap-incoming-requests", swapHandler.Incoming)
				r.Get("/incoming-requests", swapHandler.Incoming)
				r.Get("/swap-outgoing-requests", swapHandler.Outgoing)
				r.Get("/outgoing-requests", swapHandler.Outgoing)
				r.Post("/swap-response", swapHandler.Respond)
				r.Post("/response/{id}", swapHandler.Respond)
				r.Post("/swap-cancel/{id}", swapHandler.Cancel)
			})
		})
	})

	return r
}

// healthHandler はDBに疎通できれば200、できなければ503を返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"database": "unreachable"}, "unhealthy")
				return
			}
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"database": "ok"}, "ok")
	}
}
