package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/kindred/internal/auth"
	"github.com/hitoshi/kindred/internal/metrics"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	PhoneLogin(ctx context.Context, phone string) (*auth.LoginResult, error)
	PhoneVerify(ctx context.Context, verificationID, code string) (*auth.VerifyResult, error)
}

// compile-time interface check
var _ AuthServiceInterface = (*auth.Service)(nil)

// AuthHandler は電話番号ログインのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	metrics metrics.MetricsCollector
}

// NewAuthHandler はAuthHandlerを生成する。mcがnilの場合はメトリクスを記録しない。
func NewAuthHandler(service AuthServiceInterface, mc metrics.MetricsCollector) *AuthHandler {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &AuthHandler{
		service: service,
		metrics: mc,
	}
}

type phoneLoginRequest struct {
	Phone string `json:"phone"`
}

type phoneLoginResponse struct {
	Message        string `json:"message"`
	VerificationID string `json:"verification_id"`
}

type phoneVerifyRequest struct {
	VerificationID string `json:"verification_id"`
	Code           string `json:"code"`
}

type authUserJSON struct {
	ID                string `json:"id"`
	IsProfileComplete bool   `json:"is_profile_complete"`
	IsNewUser         bool   `json:"is_new_user"`
}

type phoneVerifyResponse struct {
	Token string       `json:"token"`
	User  authUserJSON `json:"user"`
}

// PhoneLogin は認証コードを発行する。
// POST /api/v1/auth/phone/login
func (h *AuthHandler) PhoneLogin(w http.ResponseWriter, r *http.Request) {
	var req phoneLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.PhoneLogin(r.Context(), req.Phone)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, phoneLoginResponse{
		Message:        result.Message,
		VerificationID: result.VerificationID,
	})
}

// PhoneVerify は認証コードを検証し、セッショントークンを返す。
// POST /api/v1/auth/phone/verify
func (h *AuthHandler) PhoneVerify(w http.ResponseWriter, r *http.Request) {
	var req phoneVerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.PhoneVerify(r.Context(), req.VerificationID, req.Code)
	h.metrics.RecordLogin("phone", err == nil)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, phoneVerifyResponse{
		Token: result.Token,
		User: authUserJSON{
			ID:                result.UserID,
			IsProfileComplete: result.IsProfileComplete,
			IsNewUser:         result.IsNewUser,
		},
	})
}
