package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/hitoshi/kindred/internal/auth"
	"github.com/hitoshi/kindred/internal/bus"
	"github.com/hitoshi/kindred/internal/config"
	"github.com/hitoshi/kindred/internal/database"
	"github.com/hitoshi/kindred/internal/interaction"
)

// openDB はDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// newVerificationStore は保留中の電話番号認証の保存先を返す。
// REDIS_URLが未設定の場合はプロセス内メモリを使う。戻り値のfuncで接続を閉じる。
func newVerificationStore(ctx context.Context, cfg *config.Config) (auth.VerificationStore, func(), error) {
	if cfg.RedisURL == "" {
		slog.Warn("REDIS_URL is not set; using in-memory verification store")
		return auth.NewMemoryVerificationStore(), func() {}, nil
	}

	client, err := auth.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("redis connection established", slog.String("addr", client.Options().Addr))
	return auth.NewRedisVerificationStore(client), func() { _ = client.Close() }, nil
}

// connectBus はNATS_URLが設定されている場合にイベントバスへ接続する。
// 未設定の場合はnilを返す。nilの*bus.BusのCloseは何もしない。
func connectBus(cfg *config.Config) (*bus.Bus, error) {
	if cfg.NATSURL == "" {
		return nil, nil
	}
	b, err := bus.New(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	slog.Info("NATS connection established", slog.String("url", redactURL(cfg.NATSURL)))
	return b, nil
}

// publisherFor はイベントバスをPublisherとして返す。
// nilの*bus.Busをインターフェースに詰めるとnil判定が効かないため、明示的にnilを返す。
func publisherFor(b *bus.Bus) interaction.Publisher {
	if b == nil {
		return nil
	}
	return b
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	if len(raw) > 20 {
		return raw[:12] + "***@..."
	}
	return "***"
}

// redactURL はURLのユーザー情報を除いた文字列を返す。
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
