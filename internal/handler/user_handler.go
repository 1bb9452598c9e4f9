package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/kindred/internal/middleware"
	"github.com/hitoshi/kindred/internal/model"
	"github.com/hitoshi/kindred/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	CheckExists(ctx context.Context, email, phone string) (*user.ExistsResult, error)
	Create(ctx context.Context, p *model.Principal, email, phone string) (*model.User, error)
	GetPreferences(ctx context.Context, userID string) (*model.Preferences, error)
	UpdatePreferences(ctx context.Context, userID string, prefs *model.Preferences) error
	// Withdraw はユーザーの退会処理を実行する。
	// プロフィール、画像、プロンプト、操作記録、マッチをまとめて削除する。
	Withdraw(ctx context.Context, userID string) error
}

// compile-time interface check
var _ UserServiceInterface = (*user.Service)(nil)

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

type identifierRequest struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Exists はメールアドレスまたは電話番号でユーザーの存在を確認する。
// POST /api/v1/user/exists
func (h *UserHandler) Exists(w http.ResponseWriter, r *http.Request) {
	var req identifierRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.CheckExists(r.Context(), req.Email, req.Phone)
	if err != nil {
		slog.Error("failed to check user exists", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, statusResponse{
			Status:  string(model.ExistenceError),
			Message: "Failed to check user exists",
		})
		return
	}

	statusCode := http.StatusOK
	if result.Status == model.ExistenceError {
		statusCode = http.StatusBadRequest
	}
	writeJSON(w, statusCode, statusResponse{Status: string(result.Status), Message: result.Message})
}

// Create はアカウントを作成する。
// 既存ユーザーとの重複は200でstatus=errorを返す。
// POST /api/v1/user/create
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteUnauthorized(w)
		return
	}

	var req identifierRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	created, err := h.service.Create(r.Context(), p, req.Email, req.Phone)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeUserAlreadyExists {
			writeJSON(w, http.StatusOK, statusResponse{Status: model.StatusError, Message: apiErr.Message})
			return
		}
		handleServiceError(w, err)
		return
	}

	writeSuccess(w, "User "+created.ID+" created successfully")
}

// GetPreferences は希望条件を返す。
// GET /api/v1/user/preferences
func (h *UserHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	prefs, err := h.service.GetPreferences(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPreferencesJSON(prefs))
}

// UpdatePreferences は希望条件を上書きする。
// POST /api/v1/user/preferences
func (h *UserHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req preferencesJSON
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.UpdatePreferences(r.Context(), userID, req.toModel()); err != nil {
		handleServiceError(w, err)
		return
	}

	writeSuccess(w, "User preferences updated successfully")
}

// DeleteAccount はアカウントを削除する。
// DELETE /api/v1/profile
func (h *UserHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	writeSuccess(w, "Account deleted successfully")
}
