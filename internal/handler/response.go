// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/kindred/internal/middleware"
	"github.com/hitoshi/kindred/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの上限。
const maxRequestBodySize = 1 << 20

// statusResponse はクライアントが status で分岐するエンドポイントのレスポンス。
type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// writeJSON はvをJSONとして書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeSuccess は成功のステータスレスポンスを書き込む。
func writeSuccess(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, statusResponse{Status: model.StatusSuccess, Message: message})
}

// decodeJSON はリクエストボディをvにデコードする。
// 不正なJSONはINVALID_INPUTとして400を書き込み、falseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("Invalid request body"))
		return false
	}
	return true
}

// requireUserID はコンテキストから解決済みのユーザーIDを取り出す。
// 見つからない場合は401を書き込み、falseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return "", false
	}
	return userID, true
}

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeMissingIdentifier, model.ErrCodeInvalidInput, model.ErrCodeInvalidURL,
		model.ErrCodeInvalidAction, model.ErrCodeSelfInteraction, model.ErrCodePreferencesNotSet,
		model.ErrCodeProfileIncomplete:
		return http.StatusBadRequest
	case model.ErrCodeInvalidCode:
		return http.StatusUnauthorized
	case model.ErrCodeSSRFBlocked, model.ErrCodeIdentifierMismatch:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound, model.ErrCodePromptNotFound, model.ErrCodeMatchNotFound,
		model.ErrCodeVerificationNotFound, model.ErrCodeObjectNotFound:
		return http.StatusNotFound
	case model.ErrCodeUserAlreadyExists, model.ErrCodeImageLimit, model.ErrCodePromptLimit:
		return http.StatusConflict
	case model.ErrCodeFetchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
