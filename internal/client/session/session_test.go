package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/kindred/internal/client/api"
	"github.com/hitoshi/kindred/internal/client/identity"
	"github.com/hitoshi/kindred/internal/client/tokenstore"
)

// --- モック定義 ---

// fakeProvider はサインイン状態をメモリで持つidentity.Provider。
type fakeProvider struct {
	mu        sync.Mutex
	user      *identity.User
	token     string
	listeners map[int]func(*identity.User)
	nextID    int
	silent    bool // trueの場合、登録直後の通知をしない

	tokenErr  error
	googleErr error
	signOutN  int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{listeners: map[int]func(*identity.User){}}
}

func (f *fakeProvider) SendPhoneOTP(ctx context.Context, phone string) (*identity.Confirmation, error) {
	return &identity.Confirmation{PhoneNumber: "+91" + phone, SessionInfo: "s"}, nil
}

func (f *fakeProvider) ConfirmPhoneOTP(ctx context.Context, c *identity.Confirmation, code string) (*identity.Credential, error) {
	if code != "123456" {
		return nil, &identity.AuthError{Code: "auth/invalid-code", Message: "bad", Type: identity.ErrorFirebase}
	}
	return f.signIn(&identity.User{UID: "phone-user", PhoneNumber: c.PhoneNumber}), nil
}

func (f *fakeProvider) GoogleSignIn(ctx context.Context) (*identity.Credential, error) {
	if f.googleErr != nil {
		return nil, f.googleErr
	}
	return f.signIn(&identity.User{UID: "google-user", Email: "g@example.com"}), nil
}

func (f *fakeProvider) signIn(u *identity.User) *identity.Credential {
	f.mu.Lock()
	f.user = u
	f.token = "token-" + u.UID
	f.mu.Unlock()
	f.fire(u)
	return &identity.Credential{User: u, IDToken: "token-" + u.UID}
}

func (f *fakeProvider) CurrentUser() *identity.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user
}

func (f *fakeProvider) IDToken(ctx context.Context, force bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	if f.user == nil {
		return "", identity.ErrNoUser
	}
	return f.token, nil
}

func (f *fakeProvider) OnAuthStateChanged(fn func(*identity.User)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	u := f.user
	silent := f.silent
	f.mu.Unlock()

	if !silent {
		fn(u)
	}
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeProvider) SignOut(ctx context.Context) error {
	f.mu.Lock()
	f.user = nil
	f.token = ""
	f.signOutN++
	f.mu.Unlock()
	f.fire(nil)
	return nil
}

func (f *fakeProvider) fire(u *identity.User) {
	f.mu.Lock()
	fns := make([]func(*identity.User), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(u)
	}
}

type fakeProfiles struct {
	profile *api.UserProfile
	err     error
	calls   int
}

func (f *fakeProfiles) GetMyProfile(ctx context.Context) (*api.UserProfile, error) {
	f.calls++
	return f.profile, f.err
}

func newTestManager(p *fakeProvider, profiles ProfileFetcher) (*Manager, *tokenstore.MemoryStore) {
	store := tokenstore.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return NewManager(p, store, profiles, logger), store
}

func strPtr(s string) *string { return &s }

// --- テスト ---

func TestManager_InitializingUntilFirstCallback(t *testing.T) {
	p := newFakeProvider()
	p.silent = true
	m, _ := newTestManager(p, nil)

	if _, err := m.WaitReady(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("WaitReady before Start error = %v, want ErrNotStarted", err)
	}

	m.Start()
	defer m.Stop()

	if got := m.Snapshot().State; got != StateInitializing {
		t.Errorf("state = %s, want initializing", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.WaitReady(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitReady error = %v, want deadline exceeded", err)
	}

	p.fire(nil)
	snap, err := m.WaitReady(context.Background())
	if err != nil {
		t.Fatalf("WaitReady error: %v", err)
	}
	if snap.State != StateAnonymous {
		t.Errorf("state = %s, want anonymous", snap.State)
	}
}

func TestManager_StartWithSignedInUser_StoresToken(t *testing.T) {
	p := newFakeProvider()
	p.user = &identity.User{UID: "u1"}
	p.token = "restored-token"
	m, store := newTestManager(p, nil)

	m.Start()
	defer m.Stop()

	snap, err := m.WaitReady(context.Background())
	if err != nil {
		t.Fatalf("WaitReady error: %v", err)
	}
	if snap.State != StateAuthenticated || snap.User.UID != "u1" {
		t.Errorf("snapshot = %+v", snap)
	}
	if got := store.Get(context.Background()); got != "restored-token" {
		t.Errorf("stored token = %q", got)
	}
}

func TestManager_TokenFailure_FailsOpenToAnonymous(t *testing.T) {
	p := newFakeProvider()
	p.user = &identity.User{UID: "u1"}
	p.tokenErr = errors.New("network down")
	m, store := newTestManager(p, nil)
	_ = store.Set(context.Background(), "stale")

	m.Start()
	defer m.Stop()

	snap, _ := m.WaitReady(context.Background())
	if snap.State != StateAnonymous || snap.User != nil {
		t.Errorf("snapshot = %+v, want anonymous", snap)
	}
	if got := store.Get(context.Background()); got != "" {
		t.Errorf("stored token = %q, want cleared", got)
	}
}

func TestManager_PhoneSignIn(t *testing.T) {
	p := newFakeProvider()
	m, store := newTestManager(p, nil)
	m.Start()
	defer m.Stop()
	ctx := context.Background()

	if _, err := m.SendPhoneCode(ctx, "123"); err == nil {
		t.Error("short phone should fail validation")
	}

	conf, err := m.SendPhoneCode(ctx, "9876543210")
	if err != nil {
		t.Fatalf("SendPhoneCode error: %v", err)
	}

	if _, err := m.VerifyPhoneCode(ctx, conf, "12"); err == nil {
		t.Error("short code should fail validation")
	}
	_, err = m.VerifyPhoneCode(ctx, conf, "000000")
	var ae *identity.AuthError
	if !errors.As(err, &ae) || ae.Type != identity.ErrorFirebase {
		t.Errorf("wrong code error = %v, want firebase AuthError", err)
	}
	if m.Snapshot().Authenticated() {
		t.Error("failed verification should not authenticate")
	}

	user, err := m.VerifyPhoneCode(ctx, conf, "123456")
	if err != nil {
		t.Fatalf("VerifyPhoneCode error: %v", err)
	}
	if user.UID != "phone-user" {
		t.Errorf("user = %+v", user)
	}
	snap := m.Snapshot()
	if !snap.Authenticated() || snap.Loading {
		t.Errorf("snapshot = %+v", snap)
	}
	if got := store.Get(ctx); got != "token-phone-user" {
		t.Errorf("stored token = %q", got)
	}
}

func TestManager_GoogleSignIn_CancelledIsSwallowed(t *testing.T) {
	p := newFakeProvider()
	p.googleErr = &identity.AuthError{Code: identity.CodeSignInCancelled, Type: identity.ErrorCancelled}
	m, _ := newTestManager(p, nil)
	m.Start()
	defer m.Stop()

	_, err := m.GoogleSignIn(context.Background())
	if !errors.Is(err, ErrSignInCancelled) {
		t.Errorf("error = %v, want ErrSignInCancelled", err)
	}
	if m.Snapshot().State != StateAnonymous {
		t.Error("cancelled sign-in should stay anonymous")
	}
}

func TestManager_GoogleSignIn_InProgressSurfaced(t *testing.T) {
	p := newFakeProvider()
	p.googleErr = &identity.AuthError{Code: identity.CodeInProgress, Type: identity.ErrorInProgress}
	m, _ := newTestManager(p, nil)
	m.Start()
	defer m.Stop()

	_, err := m.GoogleSignIn(context.Background())
	var ae *identity.AuthError
	if !errors.As(err, &ae) || ae.Type != identity.ErrorInProgress {
		t.Errorf("error = %v, want in_progress", err)
	}
}

func TestManager_Logout_ClearsSynchronously(t *testing.T) {
	p := newFakeProvider()
	profiles := &fakeProfiles{profile: &api.UserProfile{ID: "u", Details: &api.ProfileDetails{Name: strPtr("Ana")}}}
	m, store := newTestManager(p, profiles)
	m.Start()
	defer m.Stop()
	ctx := context.Background()

	if _, err := m.GoogleSignIn(ctx); err != nil {
		t.Fatalf("GoogleSignIn error: %v", err)
	}
	if _, err := m.RefreshProfile(ctx); err != nil {
		t.Fatalf("RefreshProfile error: %v", err)
	}
	if m.Snapshot().Profile == nil {
		t.Fatal("profile should be cached")
	}

	if err := m.Logout(ctx); err != nil {
		t.Fatalf("Logout error: %v", err)
	}

	if got := store.Get(ctx); got != "" {
		t.Errorf("stored token after Logout = %q", got)
	}
	snap := m.Snapshot()
	if snap.State != StateAnonymous || snap.User != nil || snap.Profile != nil {
		t.Errorf("snapshot after Logout = %+v", snap)
	}
	if p.signOutN != 1 {
		t.Errorf("provider SignOut calls = %d, want 1", p.signOutN)
	}
}

func TestManager_RefreshProfile(t *testing.T) {
	p := newFakeProvider()
	profiles := &fakeProfiles{err: errors.New("boom")}
	m, _ := newTestManager(p, profiles)
	m.Start()
	defer m.Stop()
	ctx := context.Background()

	// 未認証では取得しない
	if got, err := m.RefreshProfile(ctx); got != nil || err != nil || profiles.calls != 0 {
		t.Errorf("RefreshProfile anonymous = %v, %v, calls %d", got, err, profiles.calls)
	}

	_, _ = m.GoogleSignIn(ctx)
	if _, err := m.RefreshProfile(ctx); err == nil {
		t.Error("expected fetch error")
	}
	if m.Snapshot().Profile != nil {
		t.Error("failed refresh should not cache")
	}
}

func TestManager_Subscribe(t *testing.T) {
	p := newFakeProvider()
	m, _ := newTestManager(p, nil)

	var mu sync.Mutex
	var states []State
	unsubscribe := m.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if len(states) == 0 || states[len(states)-1] != s.State {
			states = append(states, s.State)
		}
	})

	m.Start()
	defer m.Stop()
	_, _ = m.GoogleSignIn(context.Background())
	_ = m.Logout(context.Background())
	unsubscribe()
	_, _ = m.GoogleSignIn(context.Background())

	mu.Lock()
	defer mu.Unlock()
	got := make([]string, len(states))
	for i, s := range states {
		got[i] = string(s)
	}
	if strings.Join(got, ",") != "anonymous,authenticated,anonymous" {
		t.Errorf("states = %v", got)
	}
}

// 任意のサインイン・サインアウトの列で、トークンの有無と認証状態が一致することを検証
func TestManager_TokenPresentIffAuthenticated(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()

	for run := 0; run < 50; run++ {
		p := newFakeProvider()
		m, store := newTestManager(p, nil)
		m.Start()

		for step := 0; step < 20; step++ {
			switch rng.Intn(5) {
			case 0:
				_, _ = m.GoogleSignIn(ctx)
			case 1:
				conf, _ := m.SendPhoneCode(ctx, "9876543210")
				_, _ = m.VerifyPhoneCode(ctx, conf, "123456")
			case 2:
				_ = m.Logout(ctx)
			case 3:
				// プロバイダー側からのサインアウト
				_ = p.SignOut(ctx)
			case 4:
				// トークン取得に失敗する通知
				p.mu.Lock()
				p.tokenErr = errors.New("flaky")
				u := p.user
				p.mu.Unlock()
				p.fire(u)
				p.mu.Lock()
				p.tokenErr = nil
				p.mu.Unlock()
			}

			hasToken := store.Get(ctx) != ""
			authenticated := m.Snapshot().Authenticated()
			if hasToken != authenticated {
				t.Fatalf("run %d step %d: token present = %v, authenticated = %v", run, step, hasToken, authenticated)
			}
		}
		m.Stop()
	}
}
