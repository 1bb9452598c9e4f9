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

	"github.com/hitoshi/kindred/internal/auth"
	"github.com/hitoshi/kindred/internal/config"
	"github.com/hitoshi/kindred/internal/database"
	"github.com/hitoshi/kindred/internal/feed"
	"github.com/hitoshi/kindred/internal/handler"
	"github.com/hitoshi/kindred/internal/interaction"
	"github.com/hitoshi/kindred/internal/logger"
	"github.com/hitoshi/kindred/internal/metrics"
	"github.com/hitoshi/kindred/internal/middleware"
	"github.com/hitoshi/kindred/internal/profile"
	"github.com/hitoshi/kindred/internal/repository"
	"github.com/hitoshi/kindred/internal/security"
	"github.com/hitoshi/kindred/internal/storage"
	"github.com/hitoshi/kindred/internal/telemetry"
	"github.com/hitoshi/kindred/internal/user"
	"github.com/hitoshi/kindred/internal/worker/cleanup"
	"github.com/hitoshi/kindred/internal/worker/notify"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := NewCommand(w)
	cmd.SetArgs(args)
	return cmd.Execute()
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	// 1. トレーシング
	shutdownTracing, err := telemetry.Init(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// 2. DB接続
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)
	imageRepo := repository.NewPostgresImageRepo(db)
	promptRepo := repository.NewPostgresPromptRepo(db)
	interactionRepo := repository.NewPostgresInteractionRepo(db)
	matchRepo := repository.NewPostgresMatchRepo(db)

	// 4. インフラ（認証ストア、オブジェクトストレージ、イベントバス）
	verifications, closeStore, err := newVerificationStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	objects, err := storage.NewClient(ctx, storage.Config{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		PathStyle: cfg.S3PathStyle,
	})
	if err != nil {
		return fmt.Errorf("failed to create storage client: %w", err)
	}

	eventBus, err := connectBus(cfg)
	if err != nil {
		return err
	}
	defer eventBus.Close()

	// 5. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// 6. 認証
	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	firebase := auth.NewFirebaseVerifier(
		cfg.FirebaseProjectID,
		cfg.FirebaseCertsURL,
		&http.Client{Timeout: 10 * time.Second, Transport: telemetry.Transport(nil)},
		slog.Default(),
	)
	verifier := auth.NewBearerVerifier(issuer, firebase)

	// 7. ドメインサービスの初期化
	authService := auth.NewService(userRepo, verifications, issuer, nil, auth.ServiceConfig{
		TestCode:        cfg.PhoneTestCode,
		VerificationTTL: cfg.VerificationTTL,
	})
	userService := user.NewService(userRepo, imageRepo, objects)
	imageFetcher := security.NewSSRFGuard(cfg.ImageFetchTimeout, cfg.ImageMaxSize)
	profileService := profile.NewService(
		userRepo, profileRepo, imageRepo, promptRepo,
		objects, imageFetcher, collector,
		profile.Config{PresignTTL: cfg.PresignTTL},
	)
	feedService := feed.NewFeedService(userRepo, profileRepo, objects, cfg.FeedLimit, cfg.PresignTTL)
	interactionService := interaction.NewService(
		userRepo, interactionRepo, matchRepo,
		publisherFor(eventBus), collector,
	)

	// 8. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitAuth),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(registry),
		HealthChecker:     db,
		TokenVerifier:     verifier,
		UserResolver:      userService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		AuthService:        authService,
		UserService:        userService,
		ProfileService:     profileService,
		FeedService:        feedService,
		InteractionService: interactionService,
	})

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      telemetry.Middleware(cfg.ServiceName)(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// PASSクリーンアップジョブを定期実行し、NATSが設定されている場合はイベント通知を購読する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. イベントバス（任意）
	eventBus, err := connectBus(cfg)
	if err != nil {
		return err
	}
	defer eventBus.Close()

	// 3. メトリクス（ワーカーはスクレイプされないため登録のみ）
	collector := metrics.NewCollector(prometheus.NewRegistry())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. 通知コンシューマ
	if eventBus != nil {
		consumer := notify.NewConsumer(eventBus, notify.NewLogNotifier(slog.Default()), slog.Default(), 0)
		if _, err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start notification consumer: %w", err)
		}
	} else {
		slog.Warn("NATS_URL is not set; notification consumer disabled")
	}

	// 5. クリーンアップジョブ
	cleanupJob := cleanup.NewCleanupJob(
		repository.NewPostgresInteractionRepo(db),
		slog.Default(),
		collector,
		cfg.PassRetention,
	)

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Duration("pass_retention", cfg.PassRetention),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cfg.CleanupInterval)

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
