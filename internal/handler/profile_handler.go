package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/kindred/internal/middleware"
	"github.com/hitoshi/kindred/internal/model"
	"github.com/hitoshi/kindred/internal/profile"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	Get(ctx context.Context, userID string) (*profile.View, error)
	UpdateDetails(ctx context.Context, userID string, d *model.ProfileDetails) error
	UploadURL(ctx context.Context, filename, contentType string) (*profile.UploadTarget, error)
	ConfirmUpload(ctx context.Context, userID, key string) (*model.Image, error)
	DownloadURL(ctx context.Context, key string) (string, error)
	ImportImage(ctx context.Context, userID, rawURL string) (*model.Image, error)
	DeleteImage(ctx context.Context, userID, imageID string) error
	Finalize(ctx context.Context, userID string) (*profile.FinalizeResult, error)

	ListPrompts(ctx context.Context, userID string) ([]model.Prompt, error)
	CreatePrompt(ctx context.Context, userID, question, answer string) (*model.Prompt, error)
	UpdatePrompt(ctx context.Context, userID string, order int, question, answer string) error
	DeletePrompt(ctx context.Context, userID string, order int) error
}

// compile-time interface check
var _ ProfileServiceInterface = (*profile.Service)(nil)

// ProfileHandler はプロフィール、画像、プロンプトのHTTPハンドラー。
type ProfileHandler struct {
	service ProfileServiceInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{
		service: service,
	}
}

type importImageRequest struct {
	ImageURL string `json:"image_url"`
}

type uploadURLRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

type uploadURLResponse struct {
	UploadURL string `json:"upload_url"`
	Key       string `json:"key"`
}

type confirmUploadRequest struct {
	Key string `json:"key"`
}

type downloadURLResponse struct {
	DownloadURL string `json:"download_url"`
}

// imageResultResponse は画像登録の結果。
type imageResultResponse struct {
	Status  string           `json:"status"`
	Message string           `json:"message"`
	Image   *storedImageJSON `json:"image"`
}

type promptRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type promptResultResponse struct {
	Status  string     `json:"status"`
	Message string     `json:"message"`
	Prompt  promptJSON `json:"prompt"`
}

// Me は自分のプロフィールを返す。
// GET /api/v1/profile/me
func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	view, err := h.service.Get(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserProfileJSON(view))
}

// UpdateDetails はプロフィール詳細を部分更新する。
// POST /api/v1/profile
func (h *ProfileHandler) UpdateDetails(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req profileDetailsJSON
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.UpdateDetails(r.Context(), userID, req.toModel()); err != nil {
		handleServiceError(w, err)
		return
	}

	writeSuccess(w, "Profile updated successfully")
}

// ImportImage は外部URLの画像を取り込む。
// POST /api/v1/profile/images
func (h *ProfileHandler) ImportImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req importImageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	img, err := h.service.ImportImage(r.Context(), userID, req.ImageURL)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, imageResultResponse{
		Status:  model.StatusSuccess,
		Message: "Image uploaded successfully",
		Image:   toStoredImageJSON(img),
	})
}

// UploadURL は署名付きアップロードURLを発行する。
// POST /api/v1/profile/upload-url
func (h *ProfileHandler) UploadURL(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}

	var req uploadURLRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	target, err := h.service.UploadURL(r.Context(), req.Filename, req.ContentType)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadURLResponse{UploadURL: target.UploadURL, Key: target.Key})
}

// ConfirmUpload はアップロード済みのオブジェクトを画像として登録する。
// POST /api/v1/profile/images/confirm
func (h *ProfileHandler) ConfirmUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req confirmUploadRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	img, err := h.service.ConfirmUpload(r.Context(), userID, req.Key)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, imageResultResponse{
		Status:  model.StatusSuccess,
		Message: "Image registered successfully",
		Image:   toStoredImageJSON(img),
	})
}

// DownloadURL は署名付きダウンロードURLを発行する。
// GET /api/v1/profile/download-url?key=
func (h *ProfileHandler) DownloadURL(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}

	url, err := h.service.DownloadURL(r.Context(), r.URL.Query().Get("key"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, downloadURLResponse{DownloadURL: url})
}

// DeleteImage は画像を削除する。
// DELETE /api/v1/profile/images/{id}
func (h *ProfileHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteImage(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	writeSuccess(w, "Image deleted successfully")
}

// Finalize はプロフィールを確定する。
// 条件を満たさない場合は400で残りの作業をpending_actionsに返す。
// POST /api/v1/profile/finalize
func (h *ProfileHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	result, err := h.service.Finalize(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if !result.Finalized() {
		middleware.WriteErrorResponseWithPending(w, http.StatusBadRequest,
			model.NewProfileIncompleteError(result.PendingActions), result.PendingActions)
		return
	}

	writeSuccess(w, "Profile finalized successfully")
}

// ListPrompts はプロンプト一覧を返す。
// GET /api/v1/prompts
func (h *ProfileHandler) ListPrompts(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	prompts, err := h.service.ListPrompts(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPromptsJSON(prompts))
}

// CreatePrompt はプロンプトを追加する。
// POST /api/v1/prompts
func (h *ProfileHandler) CreatePrompt(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req promptRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.CreatePrompt(r.Context(), userID, req.Question, req.Answer)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, promptResultResponse{
		Status:  model.StatusSuccess,
		Message: "Prompt created successfully",
		Prompt:  toPromptJSON(*p),
	})
}

// UpdatePrompt は指定順序のプロンプトを更新する。
// PUT /api/v1/prompts/{order}
func (h *ProfileHandler) UpdatePrompt(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	order, ok := promptOrderParam(w, r)
	if !ok {
		return
	}

	var req promptRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.UpdatePrompt(r.Context(), userID, order, req.Question, req.Answer); err != nil {
		handleServiceError(w, err)
		return
	}

	writeSuccess(w, "Prompt updated successfully")
}

// DeletePrompt は指定順序のプロンプトを削除する。
// DELETE /api/v1/prompts/{order}
func (h *ProfileHandler) DeletePrompt(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	order, ok := promptOrderParam(w, r)
	if !ok {
		return
	}

	if err := h.service.DeletePrompt(r.Context(), userID, order); err != nil {
		handleServiceError(w, err)
		return
	}

	writeSuccess(w, "Prompt deleted successfully")
}

// promptOrderParam はURLの{order}を正の整数として取り出す。
func promptOrderParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	order, err := strconv.Atoi(chi.URLParam(r, "order"))
	if err != nil || order < 1 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("Invalid prompt order"))
		return 0, false
	}
	return order, true
}
