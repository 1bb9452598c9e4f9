package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/kindred/internal/auth"
	"github.com/hitoshi/kindred/internal/feed"
	"github.com/hitoshi/kindred/internal/interaction"
	"github.com/hitoshi/kindred/internal/middleware"
	"github.com/hitoshi/kindred/internal/model"
	"github.com/hitoshi/kindred/internal/profile"
	"github.com/hitoshi/kindred/internal/user"
)

// --- モック定義 ---

type mockAuthService struct {
	phoneLoginFn  func(ctx context.Context, phone string) (*auth.LoginResult, error)
	phoneVerifyFn func(ctx context.Context, verificationID, code string) (*auth.VerifyResult, error)
}

func (m *mockAuthService) PhoneLogin(ctx context.Context, phone string) (*auth.LoginResult, error) {
	return m.phoneLoginFn(ctx, phone)
}

func (m *mockAuthService) PhoneVerify(ctx context.Context, verificationID, code string) (*auth.VerifyResult, error) {
	return m.phoneVerifyFn(ctx, verificationID, code)
}

type mockUserService struct {
	checkExistsFn       func(ctx context.Context, email, phone string) (*user.ExistsResult, error)
	createFn            func(ctx context.Context, p *model.Principal, email, phone string) (*model.User, error)
	getPreferencesFn    func(ctx context.Context, userID string) (*model.Preferences, error)
	updatePreferencesFn func(ctx context.Context, userID string, prefs *model.Preferences) error
	withdrawFn          func(ctx context.Context, userID string) error
}

func (m *mockUserService) CheckExists(ctx context.Context, email, phone string) (*user.ExistsResult, error) {
	return m.checkExistsFn(ctx, email, phone)
}

func (m *mockUserService) Create(ctx context.Context, p *model.Principal, email, phone string) (*model.User, error) {
	return m.createFn(ctx, p, email, phone)
}

func (m *mockUserService) GetPreferences(ctx context.Context, userID string) (*model.Preferences, error) {
	return m.getPreferencesFn(ctx, userID)
}

func (m *mockUserService) UpdatePreferences(ctx context.Context, userID string, prefs *model.Preferences) error {
	return m.updatePreferencesFn(ctx, userID, prefs)
}

func (m *mockUserService) Withdraw(ctx context.Context, userID string) error {
	return m.withdrawFn(ctx, userID)
}

// mockProfileService は未設定のメソッドが呼ばれるとpanicする。
type mockProfileService struct {
	ProfileServiceInterface
	getFn           func(ctx context.Context, userID string) (*profile.View, error)
	updateDetailsFn func(ctx context.Context, userID string, d *model.ProfileDetails) error
	importImageFn   func(ctx context.Context, userID, rawURL string) (*model.Image, error)
	uploadURLFn     func(ctx context.Context, filename, contentType string) (*profile.UploadTarget, error)
	confirmUploadFn func(ctx context.Context, userID, key string) (*model.Image, error)
	downloadURLFn   func(ctx context.Context, key string) (string, error)
	finalizeFn      func(ctx context.Context, userID string) (*profile.FinalizeResult, error)
	createPromptFn  func(ctx context.Context, userID, question, answer string) (*model.Prompt, error)
	updatePromptFn  func(ctx context.Context, userID string, order int, question, answer string) error
}

func (m *mockProfileService) Get(ctx context.Context, userID string) (*profile.View, error) {
	return m.getFn(ctx, userID)
}

func (m *mockProfileService) UpdateDetails(ctx context.Context, userID string, d *model.ProfileDetails) error {
	return m.updateDetailsFn(ctx, userID, d)
}

func (m *mockProfileService) ImportImage(ctx context.Context, userID, rawURL string) (*model.Image, error) {
	return m.importImageFn(ctx, userID, rawURL)
}

func (m *mockProfileService) UploadURL(ctx context.Context, filename, contentType string) (*profile.UploadTarget, error) {
	return m.uploadURLFn(ctx, filename, contentType)
}

func (m *mockProfileService) ConfirmUpload(ctx context.Context, userID, key string) (*model.Image, error) {
	return m.confirmUploadFn(ctx, userID, key)
}

func (m *mockProfileService) DownloadURL(ctx context.Context, key string) (string, error) {
	return m.downloadURLFn(ctx, key)
}

func (m *mockProfileService) Finalize(ctx context.Context, userID string) (*profile.FinalizeResult, error) {
	return m.finalizeFn(ctx, userID)
}

func (m *mockProfileService) CreatePrompt(ctx context.Context, userID, question, answer string) (*model.Prompt, error) {
	return m.createPromptFn(ctx, userID, question, answer)
}

func (m *mockProfileService) UpdatePrompt(ctx context.Context, userID string, order int, question, answer string) error {
	return m.updatePromptFn(ctx, userID, order, question, answer)
}

type mockFeedService struct {
	suggestionsFn func(ctx context.Context, userID string) ([]feed.Card, error)
}

func (m *mockFeedService) Suggestions(ctx context.Context, userID string) ([]feed.Card, error) {
	return m.suggestionsFn(ctx, userID)
}

type mockInteractionService struct {
	InteractionServiceInterface
	interactFn    func(ctx context.Context, fromUserID string, req interaction.InteractRequest) (*interaction.InteractResult, error)
	matchesFn     func(ctx context.Context, userID string) ([]model.MatchSummary, error)
	messagesFn    func(ctx context.Context, userID, matchID string, limit int) ([]model.Message, error)
	sendMessageFn func(ctx context.Context, userID, matchID, text string) (*model.Message, error)
}

func (m *mockInteractionService) Interact(ctx context.Context, fromUserID string, req interaction.InteractRequest) (*interaction.InteractResult, error) {
	return m.interactFn(ctx, fromUserID, req)
}

func (m *mockInteractionService) Matches(ctx context.Context, userID string) ([]model.MatchSummary, error) {
	return m.matchesFn(ctx, userID)
}

func (m *mockInteractionService) Messages(ctx context.Context, userID, matchID string, limit int) ([]model.Message, error) {
	return m.messagesFn(ctx, userID, matchID, limit)
}

func (m *mockInteractionService) SendMessage(ctx context.Context, userID, matchID, text string) (*model.Message, error) {
	return m.sendMessageFn(ctx, userID, matchID, text)
}

// --- テストヘルパー ---

// withUserID はテスト用にリクエストコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// jsonRequest はJSONボディ付きのリクエストを生成する。
func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// decodeBody はレスポンスボディをmapにデコードする。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v\nraw: %s", err, w.Body.String())
	}
	return result
}

func strPtr(s string) *string { return &s }
