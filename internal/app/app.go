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
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/approvalportal/internal/auth"
	"github.com/hitoshi/approvalportal/internal/backend"
	"github.com/hitoshi/approvalportal/internal/config"
	"github.com/hitoshi/approvalportal/internal/database"
	"github.com/hitoshi/approvalportal/internal/handler"
	"github.com/hitoshi/approvalportal/internal/logger"
	"github.com/hitoshi/approvalportal/internal/metrics"
	"github.com/hitoshi/approvalportal/internal/middleware"
	"github.com/hitoshi/approvalportal/internal/repository"
	"github.com/hitoshi/approvalportal/internal/role"
	"github.com/hitoshi/approvalportal/internal/security"
	"github.com/hitoshi/approvalportal/internal/signout"
	"github.com/hitoshi/approvalportal/internal/worker/cleanup"
	"github.com/hitoshi/approvalportal/internal/workflow"
)

// storeConnectTimeout はセッションストアへの初回接続確認のタイムアウト。
const storeConnectTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// LOG_LEVELのデフォルト値を反映する
	logger.SetupDefault(w, cfg.LogLevel)
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
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_store", cfg.SessionStore),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// sessionStore は設定に応じて選択したセッションストア。
type sessionStore struct {
	repo   repository.SessionRepository
	health handler.HealthChecker
	close  func() error
}

// redisPinger はRedisクライアントをhandler.HealthCheckerに適合させる。
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// openSessionStore はSESSION_STOREに応じてPostgreSQLまたはRedisのセッションストアを開く。
// トークンはSESSION_SECRETから導出した鍵で暗号化して保存する。
func openSessionStore(ctx context.Context, cfg *config.Config) (*sessionStore, error) {
	cipher, err := security.NewTokenCipher(cfg.SessionSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create token cipher: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, storeConnectTimeout)
	defer cancel()

	switch cfg.SessionStore {
	case config.SessionStoreRedis:
		client, err := repository.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis connection established")
		return &sessionStore{
			repo:   repository.NewRedisSessionRepo(client, cipher),
			health: redisPinger{client: client},
			close:  client.Close,
		}, nil
	default:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := database.Ping(ctx, db, storeConnectTimeout); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established")
		return &sessionStore{
			repo:   repository.NewPostgresSessionRepo(db, cipher),
			health: db,
			close:  db.Close,
		}, nil
	}
}

// newMetrics はプロセス標準のコレクターを含むレジストリとCollectorを生成する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// buildRouter は全依存関係をワイヤリングしてHTTPハンドラーを構築する。
func buildRouter(ctx context.Context, cfg *config.Config, store *sessionStore, reg *prometheus.Registry, collector *metrics.Collector, rl *middleware.RateLimiter) (http.Handler, error) {
	log := slog.Default()

	// 0. 外部接続はIdPとバックエンドに限定する
	idpClient, err := security.NewEgressClient(ctx, cfg.BackendTimeout, cfg.KeycloakIssuer)
	if err != nil {
		return nil, fmt.Errorf("failed to build identity provider client: %w", err)
	}
	backendHTTPClient, err := security.NewEgressClient(ctx, cfg.BackendTimeout, cfg.BackendURL)
	if err != nil {
		return nil, fmt.Errorf("failed to build backend client: %w", err)
	}

	// 1. 認証
	keycloak := auth.NewKeycloakProvider(auth.KeycloakConfig{
		Issuer:         cfg.KeycloakIssuer,
		ClientID:       cfg.KeycloakClientID,
		ClientSecret:   cfg.KeycloakClientSecret,
		RedirectURL:    cfg.BaseURL + "/auth/callback",
		LegacyClientID: cfg.KeycloakLegacyClientID,
		HTTPClient:     idpClient,
	})
	authService := auth.NewService(keycloak, store.repo, auth.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
		Metrics:       collector,
	})
	tokenStore := auth.NewTokenStore(store.repo)
	coordinator := signout.NewCoordinator(tokenStore, authService, signout.Config{
		BaseURL:      cfg.BaseURL,
		CookieDomain: cfg.CookieDomain,
		CookieSecure: cfg.CookieSecure,
	}, log, collector)

	// 2. ワークフローバックエンド
	backendClient := backend.NewClient(cfg.BackendURL, backendHTTPClient, log, collector)

	// 3. ロール画面
	taskViews := map[role.Role]handler.TaskViewService{}
	for r, viewCfg := range workflow.TaskViewConfigs() {
		taskViews[r] = workflow.NewTaskView(viewCfg, backendClient, log, collector)
	}
	applications := workflow.NewApplicationView(backendClient, cfg.TemplateID, log)
	templates := workflow.NewTemplateService(backendClient, security.NewTitleSanitizer(), log)

	// 4. ルーター
	return handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		SessionLoader:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rl,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},

		HealthChecker:  store.health,
		MetricsHandler: metrics.Handler(reg),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},
		SignOut: coordinator,

		Backend:    backendClient,
		Tokens:     tokenStore,
		TemplateID: cfg.TemplateID,

		TaskViews:    taskViews,
		Applications: applications,
		Templates:    templates,
	}), nil
}

// runServe はHTTPサーバーモードで起動する。
// セッションストアに接続し、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	store, err := openSessionStore(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer store.close()

	reg, collector := newMetrics()
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfigFromPerMinute(cfg.RateLimitGeneral, cfg.RateLimitMutation))
	defer rl.Stop()

	router, err := buildRouter(context.Background(), cfg, store, reg, collector, rl)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.BackendTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down HTTP server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションのクリーンアップをCLEANUP_INTERVALごとに実行する。
// Redisストアでは削除対象がないため、各回の削除件数は常に0になる。
func runWorker(cfg *config.Config) error {
	store, err := openSessionStore(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer store.close()

	_, collector := newMetrics()
	job := cleanup.NewCleanupJob(store.repo, slog.Default(), collector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はsessionsテーブルのマイグレーションを実行する。
// Redisストアではスキーマがないため何もしない。
func runMigrate(cfg *config.Config) error {
	if cfg.SessionStore == config.SessionStoreRedis {
		slog.Info("session store is redis, no migrations to apply")
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
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
