package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/personnel-dashboard/internal/apiclient"
	"github.com/hitoshi/personnel-dashboard/internal/auth"
	"github.com/hitoshi/personnel-dashboard/internal/authcheck"
	"github.com/hitoshi/personnel-dashboard/internal/config"
	"github.com/hitoshi/personnel-dashboard/internal/credential"
	"github.com/hitoshi/personnel-dashboard/internal/database"
	"github.com/hitoshi/personnel-dashboard/internal/guard"
	"github.com/hitoshi/personnel-dashboard/internal/handler"
	"github.com/hitoshi/personnel-dashboard/internal/logger"
	"github.com/hitoshi/personnel-dashboard/internal/metrics"
	"github.com/hitoshi/personnel-dashboard/internal/middleware"
	"github.com/hitoshi/personnel-dashboard/internal/model"
	"github.com/hitoshi/personnel-dashboard/internal/navigation"
	"github.com/hitoshi/personnel-dashboard/internal/repository"
	"github.com/hitoshi/personnel-dashboard/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで作り直す
	return cfg, logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel)), nil
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

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("backend_url", cfg.BackendURL),
		slog.String("storage", cfg.StorageDriver),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg, log)
	default:
		return runServe(cfg, log)
	}
}

// App はワイヤリング済みのダッシュボード。
type App struct {
	Handler http.Handler
	Store   *credential.Store

	closers []func() error
}

// Close は保持しているリソースを解放する。
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New は設定に従って全依存関係をワイヤリングし、認証情報のハイドレーションを開始する。
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	a := &App{}

	// 1. 認証情報スナップショットの保存先
	persister, closeStorage, err := openSnapshotRepo(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStorage)

	// 2. 認証情報ストアとサイドチャネルCookie
	cookie := credential.NewCookieChannel(credential.CookieConfig{
		Domain: cfg.CookieDomain,
		TTL:    cfg.SessionTTL,
		Secure: cfg.CookieSecure,
	})
	store := credential.NewStore(credential.Options{
		Name:        repository.DefaultSnapshotName,
		Persister:   persister,
		SideChannel: cookie,
		Logger:      log,
	})
	a.Store = store

	// 3. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 4. バックエンドクライアント
	// 401時の処理は認証サービスに委ねるため、生成後に差し込む
	tracker := navigation.NewTracker(log)
	var authService *auth.Service
	client, err := apiclient.New(apiclient.Config{
		BaseURL: cfg.BackendURL,
		Timeout: cfg.HTTPTimeout,
		Metrics: collector,
		Logger:  log,
	}, store.Token, func(ctx context.Context, path string) {
		authService.HandleUnauthorized(ctx, path)
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}

	// 5. 認証チェックと認証サービス
	query := authcheck.New(client, store, authcheck.Options{
		StaleTime: cfg.AuthCheckStaleTime,
		Metrics:   collector,
		Logger:    log,
	})
	a.closers = append(a.closers, func() error { query.Close(); return nil })
	authService = auth.NewService(client, store, query, tracker, collector)

	// 6. マウントガード
	newGuard := func(role string, variant guard.Variant) *guard.Guard {
		return guard.New(store, query, guard.Options{
			RequiredRole:  role,
			Variant:       variant,
			SettleTimeout: cfg.GuardSettleTimeout,
			Metrics:       collector,
			Logger:        log,
		})
	}

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.LoginRateLimiterConfig(cfg.RateLimitLogin))
	a.closers = append(a.closers, func() error { rateLimiter.Stop(); return nil })

	a.Handler = handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rateLimiter,
		CookieName:  credential.CookieName,
		Cookie:      cookie,
		EdgeMetrics: collector,
		Navigation:  tracker.Middleware(),

		Session:     store,
		AuthService: authService,

		Guard: newGuard("", guard.VariantRedirect),
		SectionGuards: map[string]*guard.Guard{
			"usuarios":   newGuard(model.RoleAdmin, guard.VariantRedirect),
			"documentos": newGuard(model.RoleAdmin, guard.VariantDeny),
		},

		APIProxy:       client.NewReverseProxy("/api"),
		MetricsHandler: metrics.Handler(reg),
	})

	// 8. 永続化された認証情報をバックグラウンドで読み込む
	go store.Hydrate(context.WithoutCancel(ctx))

	return a, nil
}

// openSnapshotRepo は設定された保存先のリポジトリを開く。
func openSnapshotRepo(ctx context.Context, cfg *config.Config, log *slog.Logger) (credential.Persister, func() error, error) {
	noop := func() error { return nil }

	switch cfg.StorageDriver {
	case config.StorageMemory:
		log.Warn("credentials are kept in memory only and will be lost on restart")
		return repository.NewMemorySnapshotRepo(), noop, nil

	case config.StoragePostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		log.Info("database connection established",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)

		// 有効期限切れのスナップショットはハイドレーション前に削除する
		if _, err := cleanup.NewCleanupJob(db, log, cfg.SessionTTL).Run(ctx); err != nil {
			log.Warn("expired snapshots were not removed", slog.String("error", err.Error()))
		}
		return repository.NewPostgresSnapshotRepo(db), db.Close, nil

	default:
		repo, err := repository.NewFileSnapshotRepo(cfg.StateDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open state directory: %w", err)
		}
		log.Info("credential state directory", slog.String("dir", cfg.StateDir))
		return repo, noop, nil
	}
}

// runServe はダッシュボードサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      a.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.HTTPTimeout + cfg.GuardSettleTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("dashboard server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-ctx.Done():
	}
	log.Info("shutting down dashboard server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("dashboard server stopped gracefully")
	return nil
}

// runMigrate は認証情報スナップショット用テーブルのマイグレーションを実行する。
// PostgreSQLを保存先にしている場合のみ意味を持つ。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	if cfg.StorageDriver != config.StoragePostgres {
		return fmt.Errorf("migrate requires STORAGE_DRIVER=%s, got %q", config.StoragePostgres, cfg.StorageDriver)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(ctx, cfg.DatabaseURL, log); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
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

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
