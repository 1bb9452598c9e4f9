package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/kindred/internal/client/api"
	"github.com/hitoshi/kindred/internal/client/clientconfig"
	"github.com/hitoshi/kindred/internal/client/identity"
	"github.com/hitoshi/kindred/internal/client/session"
	"github.com/hitoshi/kindred/internal/client/tokenstore"
	"github.com/hitoshi/kindred/internal/client/userstate"
)

// --- モック定義 ---

// stubProvider は電話番号サインインのみ受け付けるidentity.Provider。
type stubProvider struct {
	mu        sync.Mutex
	user      *identity.User
	listeners []func(*identity.User)
}

func (p *stubProvider) SendPhoneOTP(ctx context.Context, phone string) (*identity.Confirmation, error) {
	return &identity.Confirmation{PhoneNumber: identity.FormatPhone(phone, ""), SessionInfo: "s"}, nil
}

func (p *stubProvider) ConfirmPhoneOTP(ctx context.Context, c *identity.Confirmation, code string) (*identity.Credential, error) {
	if code != "123456" {
		return nil, &identity.AuthError{Code: "auth/invalid-code", Message: "invalid code", Type: identity.ErrorFirebase}
	}
	u := &identity.User{UID: "fb-1", PhoneNumber: c.PhoneNumber}
	p.set(u)
	return &identity.Credential{User: u, IDToken: "id-token"}, nil
}

func (p *stubProvider) GoogleSignIn(ctx context.Context) (*identity.Credential, error) {
	return nil, &identity.AuthError{Code: identity.CodeSignInCancelled, Type: identity.ErrorCancelled}
}

func (p *stubProvider) CurrentUser() *identity.User {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.user
}

func (p *stubProvider) IDToken(ctx context.Context, force bool) (string, error) {
	if p.CurrentUser() == nil {
		return "", identity.ErrNoUser
	}
	return "id-token", nil
}

func (p *stubProvider) OnAuthStateChanged(fn func(*identity.User)) func() {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	u := p.user
	p.mu.Unlock()
	fn(u)
	return func() {}
}

func (p *stubProvider) SignOut(ctx context.Context) error {
	p.set(nil)
	return nil
}

func (p *stubProvider) set(u *identity.User) {
	p.mu.Lock()
	p.user = u
	fns := append(([]func(*identity.User))(nil), p.listeners...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(u)
	}
}

// fakeBackend は/api/v1の一部を模したサーバー。
type fakeBackend struct {
	mu     sync.Mutex
	exists string
	name   string
	paths  []string
}

func (b *fakeBackend) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.paths = append(b.paths, r.Method+" "+r.URL.Path)
		exists, name := b.exists, b.name
		b.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.Method + " " + r.URL.Path {
		case "POST /api/v1/user/exists":
			json.NewEncoder(w).Encode(map[string]string{"status": exists})
		case "POST /api/v1/user/create":
			b.mu.Lock()
			b.exists = "exists"
			b.mu.Unlock()
			json.NewEncoder(w).Encode(map[string]string{"status": "success", "message": "User created"})
		case "GET /api/v1/profile/me":
			details := map[string]any{}
			if name != "" {
				details["name"] = name
			}
			json.NewEncoder(w).Encode(map[string]any{"id": "user-1", "details": details})
		case "GET /api/v1/prompts":
			json.NewEncoder(w).Encode([]map[string]any{})
		case "GET /api/v1/user/preferences":
			json.NewEncoder(w).Encode(map[string]any{})
		case "GET /api/v1/matches":
			json.NewEncoder(w).Encode([]map[string]any{})
		case "POST /api/v1/interact":
			json.NewEncoder(w).Encode(map[string]string{"status": "MATCH", "match_id": "m-1"})
		case "POST /api/v1/profile/finalize":
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{
				"status": "error", "code": "PROFILE_INCOMPLETE", "message": "Profile is incomplete",
				"pending_actions": []string{"Upload 6 images"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"message": "not found"})
		}
	})
}

func (b *fakeBackend) called(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.paths {
		if p == path {
			return true
		}
	}
	return false
}

type testEnv struct {
	rt       *Runtime
	provider *stubProvider
	backend  *fakeBackend
	tokens   *tokenstore.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	backend := &fakeBackend{exists: "exists", name: "Ana"}
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := tokenstore.NewMemoryStore()
	provider := &stubProvider{}
	client := api.NewClient(srv.URL, tokens, srv.Client(), logger)

	cfg := &clientconfig.Config{MinAnswerLength: 10, RequiredImages: 6, ProfileGate: clientconfig.GateName}
	return &testEnv{
		rt: &Runtime{
			Config:   cfg,
			Logger:   logger,
			Tokens:   tokens,
			Provider: provider,
			API:      client,
			Session:  session.NewManager(provider, tokens, client, logger),
			User:     userstate.New(client, logger),
		},
		provider: provider,
		backend:  backend,
		tokens:   tokens,
	}
}

func (e *testEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand(strings.NewReader(stdin), &out, &errOut, WithRuntime(e.rt))
	cmd.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// --- テスト ---

func TestStatus_Anonymous(t *testing.T) {
	e := newTestEnv(t)

	out, err := e.run(t, "", "status", "--json")
	if err != nil {
		t.Fatalf("status error: %v", err)
	}
	var st statusView
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if st.State != "anonymous" {
		t.Errorf("state = %q, want anonymous", st.State)
	}
}

func TestLoginPhone_ExistingUserRoutesToMainShell(t *testing.T) {
	e := newTestEnv(t)

	out, err := e.run(t, "", "login", "phone", "9876543210", "--code", "123456")
	if err != nil {
		t.Fatalf("login error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Signed in as +919876543210") || !strings.Contains(out, "Welcome Ana!") {
		t.Errorf("output = %q", out)
	}
	if got := e.tokens.Get(context.Background()); got != "id-token" {
		t.Errorf("token = %q", got)
	}
	if e.backend.called("POST /api/v1/user/create") {
		t.Error("existing user should not be created")
	}
}

func TestLoginPhone_NewUserCreatesAccount(t *testing.T) {
	e := newTestEnv(t)
	e.backend.exists = "not_found"
	e.backend.name = ""

	// 電話番号は取得済みのため、メールアドレスのみ入力する
	out, err := e.run(t, "a@b.com\n", "login", "phone", "9876543210", "--code", "123456")
	if err != nil {
		t.Fatalf("login error: %v\n%s", err, out)
	}
	if !e.backend.called("POST /api/v1/user/create") {
		t.Error("account should be created")
	}
	if !strings.Contains(out, "Phone: +919876543210") {
		t.Errorf("phone should be shown as pre-filled: %q", out)
	}
	if !strings.Contains(out, "profile is incomplete") {
		t.Errorf("output = %q, want profile setup message", out)
	}
}

func TestLoginPhone_ExistenceErrorFails(t *testing.T) {
	e := newTestEnv(t)
	e.backend.exists = "error"

	_, err := e.run(t, "", "login", "phone", "9876543210", "--code", "123456")
	if err == nil || !strings.Contains(err.Error(), "Unable to verify") {
		t.Errorf("error = %v, want existence alert", err)
	}
	if e.backend.called("GET /api/v1/profile/me") {
		t.Error("profile should not be fetched after existence error")
	}
}

func TestLoginPhone_InvalidCode(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.run(t, "", "login", "phone", "9876543210", "--code", "000000")
	if err == nil || !strings.Contains(err.Error(), "auth/invalid-code") {
		t.Errorf("error = %v, want invalid code", err)
	}
	if e.tokens.Get(context.Background()) != "" {
		t.Error("token should not be stored")
	}
}

func TestLoginGoogle_CancelledIsNotAnError(t *testing.T) {
	e := newTestEnv(t)

	out, err := e.run(t, "", "login", "google")
	if err != nil {
		t.Fatalf("login google error: %v", err)
	}
	if !strings.Contains(out, "Sign-in cancelled.") {
		t.Errorf("output = %q", out)
	}
}

func TestLogout_ClearsToken(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.run(t, "", "login", "phone", "9876543210", "--code", "123456", "--no-onboard"); err != nil {
		t.Fatalf("login error: %v", err)
	}

	if _, err := e.run(t, "", "logout"); err != nil {
		t.Fatalf("logout error: %v", err)
	}
	if e.tokens.Get(context.Background()) != "" {
		t.Error("token should be cleared")
	}
	if e.rt.Session.Snapshot().Authenticated() {
		t.Error("session should be anonymous")
	}
}

func TestCommands_RequireSignIn(t *testing.T) {
	e := newTestEnv(t)
	for _, args := range [][]string{{"feed"}, {"profile", "show"}, {"prompts", "list"}, {"like", "u2"}} {
		if _, err := e.run(t, "", args...); err != errNotSignedIn {
			t.Errorf("%v error = %v, want errNotSignedIn", args, err)
		}
	}
}

func TestLike_ReportsMatch(t *testing.T) {
	e := newTestEnv(t)
	_, _ = e.run(t, "", "login", "phone", "9876543210", "--code", "123456", "--no-onboard")

	out, err := e.run(t, "", "like", "4b0c7d8e-0000-4000-8000-000000000002", "--comment", "hi")
	if err != nil {
		t.Fatalf("like error: %v", err)
	}
	if !strings.Contains(out, "It's a match!") || !strings.Contains(out, "m-1") {
		t.Errorf("output = %q", out)
	}
}

func TestProfileFinalize_PrintsPendingActions(t *testing.T) {
	e := newTestEnv(t)
	_, _ = e.run(t, "", "login", "phone", "9876543210", "--code", "123456", "--no-onboard")

	out, err := e.run(t, "", "profile", "finalize")
	if err == nil {
		t.Fatal("expected error for incomplete profile")
	}
	if !strings.Contains(out, "Upload 6 images") {
		t.Errorf("output = %q", out)
	}
}

func TestPromptsAdd_ValidatesBeforeNetwork(t *testing.T) {
	e := newTestEnv(t)
	_, _ = e.run(t, "", "login", "phone", "9876543210", "--code", "123456", "--no-onboard")

	if _, err := e.run(t, "", "prompts", "add", "Q?", "short"); err == nil {
		t.Fatal("expected validation error")
	}
	if e.backend.called("POST /api/v1/prompts") {
		t.Error("invalid answer should not reach the backend")
	}
}

func TestStatus_AuthenticatedSummary(t *testing.T) {
	e := newTestEnv(t)
	_, _ = e.run(t, "", "login", "phone", "9876543210", "--code", "123456", "--no-onboard")

	out, err := e.run(t, "", "status")
	if err != nil {
		t.Fatalf("status error: %v", err)
	}
	for _, want := range []string{"authenticated", "Ana", "Matches"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q should contain %q", out, want)
		}
	}
}
