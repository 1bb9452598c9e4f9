package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/kindred/internal/client/tokenstore"
	"github.com/hitoshi/kindred/internal/telemetry"
)

const (
	defaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com/v1"
	defaultSecureTokenURL     = "https://securetoken.googleapis.com/v1/token"
	// tokenRefreshMargin は有効期限のこの時間前からトークンを更新する。
	tokenRefreshMargin = time.Minute
)

// GoogleAuthorizer はGoogleのIDトークンを取得する。
type GoogleAuthorizer interface {
	GoogleIDToken(ctx context.Context) (string, error)
}

// FirebaseConfig はFirebaseProviderの設定。
type FirebaseConfig struct {
	APIKey      string
	CountryCode string
	// RecaptchaToken は認証コード送信時に添えるトークン。テスト用電話番号では不要。
	RecaptchaToken string
	// IdentityToolkitURL とSecureTokenURL はテスト用に差し替え可能。
	IdentityToolkitURL string
	SecureTokenURL     string
}

// FirebaseProvider はFirebase Authentication REST APIによるProvider。
type FirebaseProvider struct {
	httpClient *http.Client
	logger     *slog.Logger
	google     GoogleAuthorizer
	config     FirebaseConfig
	now        func() time.Time
	persist    tokenstore.Store

	mu           sync.Mutex
	user         *User
	idToken      string
	refreshToken string
	expiresAt    time.Time
	googleBusy   bool
	listeners    map[int]func(*User)
	nextID       int
}

// compile-time interface check
var _ Provider = (*FirebaseProvider)(nil)

// NewFirebaseProvider はFirebaseProviderを生成する。
// googleがnilの場合、GoogleSignInはエラーを返す。httpClientがnilの場合はトレース付きのクライアントを使う。
func NewFirebaseProvider(config FirebaseConfig, google GoogleAuthorizer, httpClient *http.Client, logger *slog.Logger) *FirebaseProvider {
	if config.IdentityToolkitURL == "" {
		config.IdentityToolkitURL = defaultIdentityToolkitURL
	}
	if config.SecureTokenURL == "" {
		config.SecureTokenURL = defaultSecureTokenURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second, Transport: telemetry.Transport(nil)}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FirebaseProvider{
		httpClient: httpClient,
		logger:     logger,
		google:     google,
		config:     config,
		now:        time.Now,
		listeners:  make(map[int]func(*User)),
	}
}

// firebaseError はREST APIのエラー応答。
type firebaseError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// signInResponse はサインイン系APIの共通応答。
type signInResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	PhotoURL     string `json:"photoUrl"`
	PhoneNumber  string `json:"phoneNumber"`
}

// persistedSession はプロセスをまたいで保持するサインイン状態。
type persistedSession struct {
	User         User   `json:"user"`
	RefreshToken string `json:"refresh_token"`
}

// Restore はstoreに保存されたサインイン状態を読み込み、以後のサインイン状態をstoreに保存する。
// 保存された状態が無い、または壊れている場合は未サインインのまま。
// OnAuthStateChangedの登録より前に呼ぶ。
func (p *FirebaseProvider) Restore(ctx context.Context, store tokenstore.Store) {
	p.mu.Lock()
	p.persist = store
	p.mu.Unlock()

	raw := store.Get(ctx)
	if raw == "" {
		return
	}
	var ps persistedSession
	if err := json.Unmarshal([]byte(raw), &ps); err != nil || ps.User.UID == "" || ps.RefreshToken == "" {
		p.logger.Warn("discarding unreadable saved session")
		_ = store.Clear(ctx)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	user := ps.User
	p.user = &user
	p.refreshToken = ps.RefreshToken
	// IDトークンは保存しないため、最初のIDTokenで更新する
	p.idToken = ""
	p.expiresAt = time.Time{}
}

// save は現在のサインイン状態を保存先に書き込む。失敗はログに残すのみ。
func (p *FirebaseProvider) save(ctx context.Context) {
	p.mu.Lock()
	store := p.persist
	var ps persistedSession
	if p.user != nil {
		ps = persistedSession{User: *p.user, RefreshToken: p.refreshToken}
	}
	p.mu.Unlock()

	if store == nil {
		return
	}
	var err error
	if ps.User.UID == "" {
		err = store.Clear(ctx)
	} else {
		raw, _ := json.Marshal(ps)
		err = store.Set(ctx, string(raw))
	}
	if err != nil {
		p.logger.Warn("failed to save session", slog.String("error", err.Error()))
	}
}

// SendPhoneOTP は電話番号に認証コードを送る。国番号が無い場合は設定の国番号を付与する。
func (p *FirebaseProvider) SendPhoneOTP(ctx context.Context, phone string) (*Confirmation, error) {
	formatted := FormatPhone(phone, p.config.CountryCode)

	body := map[string]string{"phoneNumber": formatted}
	if p.config.RecaptchaToken != "" {
		body["recaptchaToken"] = p.config.RecaptchaToken
	}

	var resp struct {
		SessionInfo string `json:"sessionInfo"`
	}
	if err := p.post(ctx, p.toolkitURL("accounts:sendVerificationCode"), body, &resp); err != nil {
		return nil, err
	}
	return &Confirmation{PhoneNumber: formatted, SessionInfo: resp.SessionInfo}, nil
}

// ConfirmPhoneOTP は認証コードを確認してサインインする。
func (p *FirebaseProvider) ConfirmPhoneOTP(ctx context.Context, c *Confirmation, code string) (*Credential, error) {
	if c == nil || c.SessionInfo == "" {
		return nil, newAuthError(CodeNoCredential, "Failed to verify OTP")
	}

	var resp signInResponse
	err := p.post(ctx, p.toolkitURL("accounts:signInWithPhoneNumber"), map[string]string{
		"sessionInfo": c.SessionInfo,
		"code":        strings.TrimSpace(code),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.PhoneNumber == "" {
		resp.PhoneNumber = c.PhoneNumber
	}
	return p.completeSignIn(ctx, resp)
}

// GoogleSignIn はGoogleのIDトークンをFirebaseの資格情報に交換してサインインする。
// 同時に2つのGoogleサインインは実行できない。
func (p *FirebaseProvider) GoogleSignIn(ctx context.Context) (*Credential, error) {
	if p.google == nil {
		return nil, newAuthError(CodeUnknown, "Google sign-in is not configured")
	}

	p.mu.Lock()
	if p.googleBusy {
		p.mu.Unlock()
		return nil, newAuthError(CodeInProgress, "Sign-in already in progress")
	}
	p.googleBusy = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.googleBusy = false
		p.mu.Unlock()
	}()

	// 1. GoogleのIDトークン
	googleToken, err := p.google.GoogleIDToken(ctx)
	if err != nil {
		return nil, ParseAuthError(err)
	}
	if googleToken == "" {
		return nil, newAuthError(CodeNoToken, "Failed to get ID token")
	}

	// 2. Firebaseの資格情報に交換
	postBody := url.Values{"id_token": {googleToken}, "providerId": {"google.com"}}.Encode()
	var resp signInResponse
	err = p.post(ctx, p.toolkitURL("accounts:signInWithIdp"), map[string]any{
		"postBody":            postBody,
		"requestUri":          "http://localhost",
		"returnSecureToken":   true,
		"returnIdpCredential": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return p.completeSignIn(ctx, resp)
}

// completeSignIn はサインイン応答を保存し、購読者に通知する。
func (p *FirebaseProvider) completeSignIn(ctx context.Context, resp signInResponse) (*Credential, error) {
	if resp.IDToken == "" {
		return nil, newAuthError(CodeNoToken, "Failed to get ID token")
	}

	user := &User{
		UID:         resp.LocalID,
		Email:       resp.Email,
		DisplayName: resp.DisplayName,
		PhotoURL:    resp.PhotoURL,
		PhoneNumber: resp.PhoneNumber,
	}

	p.mu.Lock()
	p.user = user
	p.idToken = resp.IDToken
	p.refreshToken = resp.RefreshToken
	p.expiresAt = p.now().Add(parseExpiresIn(resp.ExpiresIn))
	p.mu.Unlock()

	p.save(ctx)
	p.logger.Debug("signed in", slog.String("uid", user.UID))
	p.notify(user)

	u := *user
	return &Credential{User: &u, IDToken: resp.IDToken}, nil
}

// CurrentUser はサインイン中のユーザーの写しを返す。
func (p *FirebaseProvider) CurrentUser() *User {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.user == nil {
		return nil
	}
	u := *p.user
	return &u
}

// IDToken はIDトークンを返す。期限切れ間近、またはforceRefreshの場合はリフレッシュトークンで更新する。
func (p *FirebaseProvider) IDToken(ctx context.Context, forceRefresh bool) (string, error) {
	p.mu.Lock()
	if p.user == nil {
		p.mu.Unlock()
		return "", ErrNoUser
	}
	if !forceRefresh && p.idToken != "" && p.now().Add(tokenRefreshMargin).Before(p.expiresAt) {
		token := p.idToken
		p.mu.Unlock()
		return token, nil
	}
	refreshToken := p.refreshToken
	p.mu.Unlock()

	if refreshToken == "" {
		return "", newAuthError("auth/user-token-expired", "Session expired")
	}

	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {refreshToken}}
	var resp struct {
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    string `json:"expires_in"`
	}
	if err := p.postForm(ctx, p.secureTokenURL(), form, &resp); err != nil {
		return "", err
	}

	p.mu.Lock()
	if p.user == nil {
		// 更新中にサインアウトされた
		p.mu.Unlock()
		return "", ErrNoUser
	}
	p.idToken = resp.IDToken
	rotated := resp.RefreshToken != "" && resp.RefreshToken != p.refreshToken
	if resp.RefreshToken != "" {
		p.refreshToken = resp.RefreshToken
	}
	p.expiresAt = p.now().Add(parseExpiresIn(resp.ExpiresIn))
	p.mu.Unlock()

	if rotated {
		p.save(ctx)
	}
	return resp.IDToken, nil
}

// OnAuthStateChanged はサインイン状態の購読を登録し、直後に現在のユーザーで1回呼ぶ。
func (p *FirebaseProvider) OnAuthStateChanged(fn func(*User)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	current := p.user
	p.mu.Unlock()

	var snapshot *User
	if current != nil {
		u := *current
		snapshot = &u
	}
	fn(snapshot)

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// SignOut はローカルのサインイン状態を破棄し、購読者に通知する。
func (p *FirebaseProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	wasSignedIn := p.user != nil
	p.user = nil
	p.idToken = ""
	p.refreshToken = ""
	p.expiresAt = time.Time{}
	p.mu.Unlock()

	p.save(ctx)
	if wasSignedIn {
		p.notify(nil)
	}
	return nil
}

// notify は購読者を登録順に関係なく順番に呼ぶ。ロックは保持しない。
func (p *FirebaseProvider) notify(user *User) {
	p.mu.Lock()
	fns := make([]func(*User), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		var snapshot *User
		if user != nil {
			u := *user
			snapshot = &u
		}
		fn(snapshot)
	}
}

func (p *FirebaseProvider) toolkitURL(method string) string {
	return strings.TrimRight(p.config.IdentityToolkitURL, "/") + "/" + method + "?key=" + url.QueryEscape(p.config.APIKey)
}

func (p *FirebaseProvider) secureTokenURL() string {
	return p.config.SecureTokenURL + "?key=" + url.QueryEscape(p.config.APIKey)
}

func (p *FirebaseProvider) post(ctx context.Context, endpoint string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return p.do(req, out)
}

func (p *FirebaseProvider) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return p.do(req, out)
}

func (p *FirebaseProvider) do(req *http.Request, out any) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return ParseAuthError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var fe firebaseError
		if json.Unmarshal(raw, &fe) == nil && fe.Error.Message != "" {
			return newAuthError(firebaseCode(fe.Error.Message), fe.Error.Message)
		}
		return newAuthError(CodeUnknown, fmt.Sprintf("identity provider returned status %d", resp.StatusCode))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// firebaseCode はREST APIのエラーメッセージ（例: "INVALID_CODE : ..."）を"auth/invalid-code"形式に変換する。
func firebaseCode(message string) string {
	head, _, _ := strings.Cut(message, " ")
	head = strings.TrimSpace(strings.TrimSuffix(head, ":"))
	return "auth/" + strings.ReplaceAll(strings.ToLower(head), "_", "-")
}

// parseExpiresIn は秒数の文字列を期間に変換する。不正な値は1時間とする。
func parseExpiresIn(s string) time.Duration {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return time.Hour
	}
	return time.Duration(n) * time.Second
}
