package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/iamdrhock/flixsync/internal/config"
	"github.com/iamdrhock/flixsync/internal/database"
	"github.com/iamdrhock/flixsync/internal/handler"
	"github.com/iamdrhock/flixsync/internal/identity"
	"github.com/iamdrhock/flixsync/internal/logger"
	"github.com/iamdrhock/flixsync/internal/metrics"
	"github.com/iamdrhock/flixsync/internal/middleware"
	"github.com/iamdrhock/flixsync/internal/reconcile"
	"github.com/iamdrhock/flixsync/internal/repository"
	"github.com/iamdrhock/flixsync/internal/security"
	"github.com/iamdrhock/flixsync/internal/session"
	"github.com/iamdrhock/flixsync/internal/syncnotify"
	"github.com/iamdrhock/flixsync/internal/synctoken"
	"github.com/iamdrhock/flixsync/internal/worker/cleanup"
)

// cleanupInterval は期限切れデータ削除ジョブの実行間隔。
const cleanupInterval = time.Hour

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、担当オリジンを付与したJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, string(cfg.Site))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("site", string(cfg.Site)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL()),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	identityRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	redemptionRepo := repository.NewPostgresRedemptionRepo(db)

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewProfileSanitizer()

	// 4. ドメインサービスの初期化
	identityService := identity.NewService(identityRepo, sanitizer, ssrfGuard)
	issuer := session.NewIssuer(identityRepo, sessionRepo, session.Config{
		Origin: cfg.Site,
		MaxAge: cfg.SessionMaxAge,
	})
	exchange := synctoken.NewExchange(synctoken.Config{
		Secret: []byte(cfg.SyncSecret),
		TTL:    cfg.SyncTokenTTL,
		Origin: cfg.Site,
	}, identityService, issuer, redemptionRepo)

	eventValidator := reconcile.NewValidator(reconcile.Config{
		Origin:         cfg.Site,
		AllowedOrigins: cfg.AllowedOrigins(),
		MaxEventAge:    cfg.SyncEventMaxAge,
	})

	// 5. メトリクスとピア通知
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	notifier := syncnotify.NewNotifier(ssrfGuard, cfg.PeerURL(), cfg.Site, cfg.PeerNotifyTimeout)
	notifier.SetMetrics(collector)

	// 6. ブラウザ側Reconcilerスクリプトの事前レンダリング
	script, err := reconcile.Script(reconcile.ScriptConfig{
		Site:           cfg.Site,
		AllowedOrigins: cfg.AllowedOrigins(),
		MaxEventAge:    cfg.SyncEventMaxAge,
	})
	if err != nil {
		return fmt.Errorf("failed to render reconciler script: %w", err)
	}

	// 7. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	// configのレートはreq/min単位なのでreq/secに変換する
	rateLimiterCfg.SyncRate = rate.Limit(float64(cfg.RateLimitSync) / 60)
	rateLimiterCfg.SyncBurst = cfg.RateLimitSync
	rateLimiterCfg.LoginRate = rate.Limit(float64(cfg.RateLimitLogin) / 60)
	rateLimiterCfg.LoginBurst = cfg.RateLimitLogin

	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	csrfConfig := middleware.CSRFConfig{
		CookieSecure: cfg.CookieSecure,
		CookieDomain: cfg.CookieDomain,
		ExemptPathPrefixes: []string{
			"/auth/sync-from-",
			"/auth/exchange-sync-token",
			"/auth/sync/events",
		},
	}

	deps := &handler.RouterDeps{
		Logger:           slog.Default(),
		HealthChecker:    db,
		Metrics:          collector,
		Gatherer:         registry,
		SessionValidator: issuer,
		RateLimiter:      rateLimiter,
		AllowedOrigins:   cfg.AllowedOrigins(),
		PeerOrigins:      []string{cfg.PeerURL()},
		CSRFConfig:       csrfConfig,

		IdentityService: identityService,
		SessionService:  issuer,
		Notifier:        notifier,
		AuthConfig: handler.AuthHandlerConfig{
			Site:          cfg.Site,
			BaseURL:       cfg.BaseURL(),
			PeerURL:       cfg.PeerURL(),
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		Exchange:         exchange,
		IdentityLookup:   identityService,
		EventValidator:   eventValidator,
		ReconcilerScript: script,
		SyncConfig: handler.SyncHandlerConfig{
			Site:          cfg.Site,
			BaseURL:       cfg.BaseURL(),
			PeerURL:       cfg.PeerURL(),
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.String("site", string(cfg.Site)),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れのセッションと同期トークン引き換え記録を定期削除する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	sessionRepo := repository.NewPostgresSessionRepo(db)
	redemptionRepo := repository.NewPostgresRedemptionRepo(db)

	cleanupJob := cleanup.NewCleanupJob(sessionRepo, redemptionRepo, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cleanupInterval),
	)

	// クリーンアップループをメインgoroutineで実行（ブロッキング）
	cleanupJob.RunLoop(ctx, cleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
