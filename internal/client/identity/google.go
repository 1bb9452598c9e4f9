package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// LoopbackConfig はLoopbackAuthorizerの設定。
type LoopbackConfig struct {
	ClientID     string
	ClientSecret string
	// Endpoint はテスト用に差し替え可能。空の場合はgoogle.Endpoint。
	Endpoint oauth2.Endpoint
	// ListenAddr はリダイレクトを受けるアドレス。空の場合は127.0.0.1の空きポート。
	ListenAddr string
	// Timeout はブラウザでの操作を待つ上限。
	Timeout time.Duration
}

// LoopbackAuthorizer はブラウザとループバックのリダイレクトでGoogleのIDトークンを取得する。
type LoopbackAuthorizer struct {
	config LoopbackConfig
	logger *slog.Logger

	// OpenURL は認可URLをユーザーに提示する。テストで差し替える。
	OpenURL func(authURL string) error
	// HTTPClient はトークン交換に使うクライアント。nilの場合はデフォルト。
	HTTPClient *http.Client
}

// compile-time interface check
var _ GoogleAuthorizer = (*LoopbackAuthorizer)(nil)

// NewLoopbackAuthorizer はLoopbackAuthorizerを生成する。
// OpenURLの既定は認可URLをログに出力するだけ。
func NewLoopbackAuthorizer(config LoopbackConfig, logger *slog.Logger) *LoopbackAuthorizer {
	if config.Endpoint.AuthURL == "" {
		config.Endpoint = google.Endpoint
	}
	if config.ListenAddr == "" {
		config.ListenAddr = "127.0.0.1:0"
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &LoopbackAuthorizer{config: config, logger: logger}
	a.OpenURL = func(authURL string) error {
		a.logger.Info("open this URL in your browser to sign in", slog.String("url", authURL))
		return nil
	}
	return a
}

type callbackResult struct {
	code string
	err  error
}

// GoogleIDToken は認可コードフロー（PKCE）を実行し、トークン応答のid_tokenを返す。
// ユーザーが拒否した場合、またはctxがキャンセルされた場合はキャンセルのAuthErrorを返す。
func (a *LoopbackAuthorizer) GoogleIDToken(ctx context.Context) (string, error) {
	if a.config.ClientID == "" {
		return "", newAuthError(CodePlayServicesNotAvailable, "Google client ID is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	// 1. リダイレクト受信用のリスナー
	ln, err := net.Listen("tcp", a.config.ListenAddr)
	if err != nil {
		return "", fmt.Errorf("failed to listen for redirect: %w", err)
	}

	conf := &oauth2.Config{
		ClientID:     a.config.ClientID,
		ClientSecret: a.config.ClientSecret,
		Endpoint:     a.config.Endpoint,
		RedirectURL:  "http://" + ln.Addr().String() + "/callback",
		Scopes:       []string{"openid", "email", "profile"},
	}

	state, err := randomState()
	if err != nil {
		ln.Close()
		return "", err
	}
	verifier := oauth2.GenerateVerifier()

	// 2. コールバックを待つサーバー
	results := make(chan callbackResult, 1)
	srv := &http.Server{
		Handler:           callbackHandler(state, results),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("loopback server stopped", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	// 3. ブラウザで認可
	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier))
	if err := a.OpenURL(authURL); err != nil {
		return "", fmt.Errorf("failed to open browser: %w", err)
	}

	var res callbackResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return "", &AuthError{Code: CodeSignInCancelled, Message: "Sign-in was cancelled", Type: ErrorCancelled, Err: ctx.Err()}
	}
	if res.err != nil {
		return "", res.err
	}

	// 4. 認可コードをトークンに交換
	if a.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.HTTPClient)
	}
	token, err := conf.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return "", fmt.Errorf("failed to exchange code: %w", err)
	}

	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		return "", newAuthError(CodeNoToken, "Failed to get ID token")
	}
	return idToken, nil
}

// callbackHandler はstateを検証し、認可コードまたはエラーを1回だけresultsに送る。
func callbackHandler(state string, results chan<- callbackResult) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		var res callbackResult
		switch {
		case q.Get("state") != state:
			http.Error(w, "invalid state", http.StatusBadRequest)
			return
		case q.Get("error") == "access_denied":
			res.err = newAuthError(CodeSignInCancelled, "Sign-in was cancelled")
		case q.Get("error") != "":
			res.err = newAuthError(CodeUnknown, q.Get("error"))
		case q.Get("code") == "":
			res.err = newAuthError(CodeNoCredential, "No authorization code")
		default:
			res.code = q.Get("code")
		}

		select {
		case results <- res:
		default:
		}
		fmt.Fprintln(w, "Sign-in complete. You can close this window.")
	})
	return mux
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
