package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/kindred/internal/client/api"
	"github.com/hitoshi/kindred/internal/client/clientconfig"
	"github.com/hitoshi/kindred/internal/client/identity"
	"github.com/hitoshi/kindred/internal/client/onboarding"
	"github.com/hitoshi/kindred/internal/client/session"
	"github.com/hitoshi/kindred/internal/client/tokenstore"
	"github.com/hitoshi/kindred/internal/client/userstate"
	"github.com/hitoshi/kindred/internal/telemetry"
)

// Runtime は1回のCLI実行で共有するクライアントの部品。
type Runtime struct {
	Config   *clientconfig.Config
	Logger   *slog.Logger
	Tokens   tokenstore.Store
	Provider identity.Provider
	API      *api.Client
	Session  *session.Manager
	User     *userstate.State
}

// Gate は設定に応じたプロフィール完成判定を返す。
func (r *Runtime) Gate() func(*api.UserProfile) onboarding.Route {
	if r.Config != nil && r.Config.ProfileGate == clientconfig.GateImages {
		return onboarding.ImageGate(r.Config.RequiredImages)
	}
	return onboarding.RouteForProfile
}

// Close は購読を解除する。
func (r *Runtime) Close() {
	if r.Session != nil {
		r.Session.Stop()
	}
}

// BuildRuntime は設定からRuntimeを組み立てる。
// 暗号鍵が設定されていない場合、トークンとサインイン状態はプロセス内にのみ保持する。
func BuildRuntime(ctx context.Context, cfg *clientconfig.Config, logger *slog.Logger) (*Runtime, error) {
	// 1. 保存先
	tokens, sessions, err := openStores(cfg, logger)
	if err != nil {
		return nil, err
	}

	// 2. IDプロバイダー
	httpClient := &http.Client{Timeout: cfg.Timeout, Transport: telemetry.Transport(nil)}

	var google identity.GoogleAuthorizer
	if cfg.Google.ClientID != "" {
		google = identity.NewLoopbackAuthorizer(identity.LoopbackConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
		}, logger)
	}
	provider := identity.NewFirebaseProvider(identity.FirebaseConfig{
		APIKey:         cfg.Firebase.APIKey,
		CountryCode:    cfg.CountryCode,
		RecaptchaToken: cfg.Firebase.RecaptchaToken,
	}, google, httpClient, logger)
	provider.Restore(ctx, sessions)

	// 3. APIクライアントと状態
	client := api.NewClient(cfg.BaseURL, tokens, httpClient, logger)

	return &Runtime{
		Config:   cfg,
		Logger:   logger,
		Tokens:   tokens,
		Provider: provider,
		API:      client,
		Session:  session.NewManager(provider, tokens, client, logger),
		User:     userstate.New(client, logger),
	}, nil
}

// openStores はトークンとサインイン状態の保存先を開く。
func openStores(cfg *clientconfig.Config, logger *slog.Logger) (tokens, sessions tokenstore.Store, err error) {
	switch {
	case cfg.AgeIdentity != "":
		t, err := tokenstore.NewX25519FileStore(cfg.TokenPath, cfg.AgeIdentity, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open token store: %w", err)
		}
		s, err := tokenstore.NewX25519FileStore(cfg.SessionPath, cfg.AgeIdentity, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open session store: %w", err)
		}
		return t, s, nil
	case cfg.TokenPassphrase != "":
		t, err := tokenstore.NewPassphraseFileStore(cfg.TokenPath, cfg.TokenPassphrase, 0, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open token store: %w", err)
		}
		s, err := tokenstore.NewPassphraseFileStore(cfg.SessionPath, cfg.TokenPassphrase, 0, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open session store: %w", err)
		}
		return t, s, nil
	default:
		logger.Warn("no KINDRED_TOKEN_PASSPHRASE or KINDRED_AGE_IDENTITY set; session will not persist")
		return tokenstore.NewMemoryStore(), tokenstore.NewMemoryStore(), nil
	}
}
