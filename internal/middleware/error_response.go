package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/kindred/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// status と message はクライアントが分岐と表示に使う。
type ErrorResponseBody struct {
	Status         string   `json:"status"`
	Code           string   `json:"code"`
	Message        string   `json:"message"`
	Category       string   `json:"category"`
	Action         string   `json:"action"`
	PendingActions []string `json:"pending_actions,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	WriteErrorResponseWithPending(w, statusCode, apiErr, nil)
}

// WriteErrorResponseWithPending は未完了の作業一覧を添えてエラーレスポンスを書き込む。
func WriteErrorResponseWithPending(w http.ResponseWriter, statusCode int, apiErr *model.APIError, pending []string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Status:         model.StatusError,
		Code:           apiErr.Code,
		Message:        apiErr.Message,
		Category:       apiErr.Category,
		Action:         apiErr.Action,
		PendingActions: pending,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "Internal server error",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// WriteUnauthorized は認証エラーのレスポンスを書き込む。
func WriteUnauthorized(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
		Code:     "UNAUTHORIZED",
		Message:  "Unauthorized",
		Category: "auth",
		Action:   "再度ログインしてください。",
	})
}
