package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/iamdrhock/flixsync/internal/metrics"
	"github.com/iamdrhock/flixsync/internal/middleware"
)

// HealthChecker はDB接続の死活確認インターフェース。*sql.DBがこれを満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 横断的関心
	Logger           *slog.Logger
	HealthChecker    HealthChecker
	Metrics          metrics.MetricsCollector
	Gatherer         prometheus.Gatherer
	SessionValidator middleware.SessionValidator
	RateLimiter      *middleware.RateLimiter
	AllowedOrigins   []string
	PeerOrigins      []string // 同期ページのフレーム化を許可するオリジン
	CSRFConfig       middleware.CSRFConfig

	// 認証
	IdentityService IdentityServiceInterface
	SessionService  SessionServiceInterface
	Notifier        PeerNotifierInterface
	AuthConfig      AuthHandlerConfig

	// 同期
	Exchange         TokenExchangeInterface
	IdentityLookup   IdentityLookupInterface
	EventValidator   EventValidatorInterface
	ReconcilerScript []byte
	SyncConfig       SyncHandlerConfig
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS
//
// 未認証の同期エンドポイントは per-IP レート制限のみ、
// 状態変更を伴うネイティブルートは CSRF 検証を併用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.PeerOrigins))
	r.Use(middleware.NewCORSMiddleware(deps.AllowedOrigins))

	authHandler := NewAuthHandler(deps.IdentityService, deps.SessionService, deps.Notifier, deps.AuthConfig)
	syncHandler := NewSyncHandler(deps.Exchange, deps.IdentityLookup, deps.EventValidator, deps.Metrics, deps.ReconcilerScript, deps.SyncConfig)

	// --- 認証不要のルート ---

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if deps.HealthChecker != nil {
			if err := deps.HealthChecker.PingContext(req.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	r.Get("/auth/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)
	r.Get("/auth/cross-domain-sync", syncHandler.SyncPage)
	r.Get("/auth/reconciler.js", syncHandler.ReconcilerScript)

	// ログイン（IP単位のログイン専用レート制限）
	r.With(deps.RateLimiter.LoginMiddleware()).Post("/auth/login", authHandler.Login)

	// クロスオリジン同期エンドポイント（IP単位の同期レート制限、CSRF免除）
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.SyncMiddleware())

		r.Post("/auth/sync-from-{site}", syncHandler.SyncFrom)
		r.Get("/auth/exchange-sync-token", syncHandler.ExchangeToken)
		r.Post("/auth/sync/events", syncHandler.SyncEvents)
	})

	// ログアウトはセッションが失効していてもCookieをクリアできるよう、
	// セッションミドルウェアの外でCSRF検証のみを適用する
	r.With(middleware.NewCSRFMiddleware(deps.CSRFConfig)).Post("/auth/logout", authHandler.Logout)

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionValidator))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Get("/auth/me", authHandler.Me)
		r.Delete("/auth/me", authHandler.Delete)
		r.Get("/auth/complete-profile", authHandler.ProfileStatus)
		r.Post("/auth/complete-profile", authHandler.CompleteProfile)

		// ピアへの同期URL計算（ローカルセッション必須）
		r.Post("/auth/sync-to-{site}", syncHandler.SyncTo)
	})

	// Prometheusメトリクス
	r.Handle("/metrics", metrics.Handler(deps.Gatherer))

	return r
}
