// Package session はクライアントの認証状態（initializing / anonymous / authenticated）を管理する。
// IDプロバイダーのサインイン状態の変化を購読し、そのたびにトークンの保存・削除と状態更新を行う。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/kindred/internal/client/api"
	"github.com/hitoshi/kindred/internal/client/identity"
	"github.com/hitoshi/kindred/internal/client/tokenstore"
	"github.com/hitoshi/kindred/internal/client/validate"
)

// State は認証状態。
type State string

const (
	StateInitializing  State = "initializing"
	StateAnonymous     State = "anonymous"
	StateAuthenticated State = "authenticated"
)

// ErrSignInCancelled はユーザーがサインインをキャンセルした場合のエラー。呼び出し側は表示しない。
var ErrSignInCancelled = errors.New("session: sign-in cancelled")

// ErrNotStarted はStart前にWaitReadyを呼んだ場合のエラー。
var ErrNotStarted = errors.New("session: manager not started")

// defaultTokenTimeout はプロバイダー通知時のトークン取得の上限。
const defaultTokenTimeout = 15 * time.Second

// Snapshot はある時点の認証状態の写し。
type Snapshot struct {
	State   State
	User    *identity.User
	Profile *api.UserProfile
	Loading bool
}

// Authenticated は認証済みかどうかを返す。
func (s Snapshot) Authenticated() bool {
	return s.State == StateAuthenticated
}

// ProfileFetcher は自分のプロフィールを取得する。
type ProfileFetcher interface {
	GetMyProfile(ctx context.Context) (*api.UserProfile, error)
}

// compile-time interface check
var _ ProfileFetcher = (*api.Client)(nil)

// Manager は認証状態の唯一の所有者。
type Manager struct {
	provider identity.Provider
	tokens   tokenstore.Store
	profiles ProfileFetcher
	logger   *slog.Logger

	// TokenTimeout はプロバイダー通知ごとのトークン取得の上限。
	TokenTimeout time.Duration

	// changeMu はプロバイダー通知とLogoutの処理を直列化する。
	changeMu sync.Mutex

	mu          sync.Mutex
	state       State
	user        *identity.User
	profile     *api.UserProfile
	loading     bool
	started     bool
	ready       chan struct{}
	readyOnce   sync.Once
	unsubscribe func()
	subscribers map[int]func(Snapshot)
	nextID      int
}

// NewManager はManagerを生成する。profilesがnilの場合RefreshProfileは何もしない。
func NewManager(provider identity.Provider, tokens tokenstore.Store, profiles ProfileFetcher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		provider:     provider,
		tokens:       tokens,
		profiles:     profiles,
		logger:       logger,
		TokenTimeout: defaultTokenTimeout,
		state:        StateInitializing,
		ready:        make(chan struct{}),
		subscribers:  make(map[int]func(Snapshot)),
	}
}

// Start はプロバイダーのサインイン状態の購読を開始する。2回目以降の呼び出しは何もしない。
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	unsubscribe := m.provider.OnAuthStateChanged(m.handleAuthChange)

	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()
}

// Stop はプロバイダーの購読を解除する。
func (m *Manager) Stop() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// WaitReady はプロバイダーの最初の通知が処理されるまで待つ。
// プロバイダーが通知しない場合はctxの期限まで待つ。
func (m *Manager) WaitReady(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return Snapshot{}, ErrNotStarted
	}

	select {
	case <-m.ready:
		return m.Snapshot(), nil
	case <-ctx.Done():
		return m.Snapshot(), fmt.Errorf("session: waiting for identity provider: %w", ctx.Err())
	}
}

// Snapshot は現在の状態を返す。
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	s := Snapshot{State: m.state, Loading: m.loading, Profile: m.profile}
	if m.user != nil {
		u := *m.user
		s.User = &u
	}
	return s
}

// Subscribe は状態変化の購読を登録する。戻り値の関数で解除する。
func (m *Manager) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

// handleAuthChange はプロバイダーの通知ごとにトークンを取得・削除し、状態を更新する。
// トークン取得に失敗した場合は未サインインとして扱う。
func (m *Manager) handleAuthChange(user *identity.User) {
	m.changeMu.Lock()
	defer m.changeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.TokenTimeout)
	defer cancel()

	if user == nil {
		m.becomeAnonymous(ctx)
		return
	}

	token, err := m.provider.IDToken(ctx, false)
	if err != nil || token == "" {
		m.logger.Warn("failed to get ID token, treating as signed out",
			slog.String("uid", user.UID),
			slog.Any("error", err),
		)
		m.becomeAnonymous(ctx)
		return
	}
	m.becomeAuthenticated(ctx, user, token)
}

// becomeAuthenticated はトークンを保存し、認証済みにする。保存に失敗した場合は未サインインにする。
// 呼び出し側でchangeMuを保持すること。
func (m *Manager) becomeAuthenticated(ctx context.Context, user *identity.User, token string) {
	if err := m.tokens.Set(ctx, token); err != nil {
		m.logger.Error("failed to store session token", slog.String("error", err.Error()))
		m.becomeAnonymous(ctx)
		return
	}

	m.mu.Lock()
	u := *user
	if m.user == nil || m.user.UID != u.UID {
		m.profile = nil
	}
	m.user = &u
	m.state = StateAuthenticated
	m.mu.Unlock()

	m.logger.Debug("session authenticated", slog.String("uid", u.UID))
	m.markReady()
	m.publish()
}

// becomeAnonymous はトークンを削除し、ユーザーとプロフィールを破棄する。
// 呼び出し側でchangeMuを保持すること。
func (m *Manager) becomeAnonymous(ctx context.Context) {
	if err := m.tokens.Clear(ctx); err != nil {
		m.logger.Error("failed to clear session token", slog.String("error", err.Error()))
	}

	m.mu.Lock()
	m.user = nil
	m.profile = nil
	m.state = StateAnonymous
	m.mu.Unlock()

	m.markReady()
	m.publish()
}

func (m *Manager) markReady() {
	m.readyOnce.Do(func() { close(m.ready) })
}

// publish は購読者に現在の状態を通知する。ロックは保持しない。
func (m *Manager) publish() {
	m.mu.Lock()
	s := m.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

func (m *Manager) setLoading(v bool) {
	m.mu.Lock()
	m.loading = v
	m.mu.Unlock()
	m.publish()
}

// SendPhoneCode は電話番号を検証し、認証コードを送る。
func (m *Manager) SendPhoneCode(ctx context.Context, phone string) (*identity.Confirmation, error) {
	if err := validate.Phone(phone); err != nil {
		return nil, err
	}

	m.setLoading(true)
	defer m.setLoading(false)

	conf, err := m.provider.SendPhoneOTP(ctx, phone)
	if err != nil {
		return nil, m.signInError(err)
	}
	return conf, nil
}

// VerifyPhoneCode は認証コードを確認し、成功した場合は認証済みにする。
func (m *Manager) VerifyPhoneCode(ctx context.Context, conf *identity.Confirmation, code string) (*identity.User, error) {
	if err := validate.OTP(code); err != nil {
		return nil, err
	}

	m.setLoading(true)
	defer m.setLoading(false)

	cred, err := m.provider.ConfirmPhoneOTP(ctx, conf, code)
	if err != nil {
		return nil, m.signInError(err)
	}
	m.adopt(ctx, cred)
	return cred.User, nil
}

// GoogleSignIn はGoogleアカウントでサインインする。
// キャンセルされた場合はErrSignInCancelledを返す。
func (m *Manager) GoogleSignIn(ctx context.Context) (*identity.User, error) {
	m.setLoading(true)
	defer m.setLoading(false)

	cred, err := m.provider.GoogleSignIn(ctx)
	if err != nil {
		return nil, m.signInError(err)
	}
	m.adopt(ctx, cred)
	return cred.User, nil
}

// adopt はサインイン結果の資格情報で認証済みにする。
// プロバイダーの通知で既に反映済みでも同じ状態になる。
func (m *Manager) adopt(ctx context.Context, cred *identity.Credential) {
	if cred == nil || cred.User == nil || cred.IDToken == "" {
		return
	}
	m.changeMu.Lock()
	defer m.changeMu.Unlock()
	m.becomeAuthenticated(ctx, cred.User, cred.IDToken)
}

// signInError はプロバイダーのエラーを分類する。キャンセルはErrSignInCancelledにする。
func (m *Manager) signInError(err error) error {
	ae := identity.ParseAuthError(err)
	if ae.Type == identity.ErrorCancelled {
		m.logger.Info("sign-in cancelled by user")
		return ErrSignInCancelled
	}
	m.logger.Warn("sign-in failed",
		slog.String("code", ae.Code),
		slog.String("type", string(ae.Type)),
	)
	return ae
}

// Logout はプロバイダーからサインアウトし、トークン・ユーザー・プロフィールを破棄する。
// 戻った時点で保存先のトークンは削除済み。プロバイダーのサインアウト失敗はログに残し、ローカルの状態は破棄する。
func (m *Manager) Logout(ctx context.Context) error {
	var signOutErr error
	if err := m.provider.SignOut(ctx); err != nil {
		m.logger.Warn("identity provider sign-out failed", slog.String("error", err.Error()))
		signOutErr = fmt.Errorf("failed to sign out: %w", err)
	}

	m.changeMu.Lock()
	defer m.changeMu.Unlock()
	m.becomeAnonymous(ctx)
	return signOutErr
}

// RefreshProfile は自分のプロフィールを取得してキャッシュする。
// 未認証の場合は何もしない。取得に失敗した場合はログに残し、キャッシュは変更しない。
func (m *Manager) RefreshProfile(ctx context.Context) (*api.UserProfile, error) {
	m.mu.Lock()
	authenticated := m.state == StateAuthenticated
	m.mu.Unlock()
	if !authenticated || m.profiles == nil {
		return nil, nil
	}

	profile, err := m.profiles.GetMyProfile(ctx)
	if err != nil {
		m.logger.Warn("failed to refresh profile", slog.String("error", err.Error()))
		return nil, err
	}

	m.mu.Lock()
	// 取得中にサインアウトされた場合は破棄する
	if m.state != StateAuthenticated {
		m.mu.Unlock()
		return nil, nil
	}
	m.profile = profile
	m.mu.Unlock()

	m.publish()
	return profile, nil
}
