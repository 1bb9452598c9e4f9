package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/kindred/internal/model"
	"github.com/hitoshi/kindred/internal/profile"
)

// TestProfileHandler_Me は画像、プロンプト、詳細を含むプロフィールが返ることを検証する。
func TestProfileHandler_Me(t *testing.T) {
	svc := &mockProfileService{
		getFn: func(ctx context.Context, userID string) (*profile.View, error) {
			return &profile.View{
				UserID:  userID,
				Details: &model.ProfileDetails{Name: strPtr("Ana")},
				Images:  []profile.ImageView{{ID: "img-1", URL: "https://cdn/1.jpg?sig", Order: 1}},
				Prompts: []model.Prompt{{ID: "p-1", Question: "Q", Answer: "A", Order: 1}},
			}, nil
		},
	}
	h := NewProfileHandler(svc)

	w := httptest.NewRecorder()
	h.Me(w, withUserID(httptest.NewRequest(http.MethodGet, "/api/v1/profile/me", nil), "u-1"))

	body := decodeBody(t, w)
	if body["id"] != "u-1" {
		t.Errorf("id = %v", body["id"])
	}
	details := body["details"].(map[string]any)
	if details["name"] != "Ana" {
		t.Errorf("details = %v", details)
	}
	if _, ok := details["bio"]; ok {
		t.Error("unset bio should be omitted")
	}
	images := body["images"].([]any)
	if len(images) != 1 || images[0].(map[string]any)["url"] != "https://cdn/1.jpg?sig" {
		t.Errorf("images = %v", images)
	}
	if len(body["prompts"].([]any)) != 1 {
		t.Errorf("prompts = %v", body["prompts"])
	}
}

// TestProfileHandler_Me_EmptyProfile は未作成のプロフィールでidのみ返ることを検証する。
func TestProfileHandler_Me_EmptyProfile(t *testing.T) {
	svc := &mockProfileService{
		getFn: func(ctx context.Context, userID string) (*profile.View, error) {
			return &profile.View{UserID: userID}, nil
		},
	}
	h := NewProfileHandler(svc)

	w := httptest.NewRecorder()
	h.Me(w, withUserID(httptest.NewRequest(http.MethodGet, "/api/v1/profile/me", nil), "u-1"))

	body := decodeBody(t, w)
	if len(body) != 1 || body["id"] != "u-1" {
		t.Errorf("body = %v, want only id", body)
	}
}

func TestProfileHandler_UpdateDetails(t *testing.T) {
	var got *model.ProfileDetails
	svc := &mockProfileService{
		updateDetailsFn: func(ctx context.Context, userID string, d *model.ProfileDetails) error {
			got = d
			return nil
		},
	}
	h := NewProfileHandler(svc)

	req := withUserID(jsonRequest(http.MethodPost, "/api/v1/profile", `{"name":"Ana","height":170,"dating_intention":"Long-term"}`), "u-1")
	w := httptest.NewRecorder()
	h.UpdateDetails(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got == nil || *got.Name != "Ana" || *got.Height != 170 || *got.DatingIntention != "Long-term" || got.Bio != nil {
		t.Errorf("details = %+v", got)
	}
}

func TestProfileHandler_ImportImage_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"ssrf", model.NewSSRFBlockedError(), http.StatusForbidden},
		{"invalid url", model.NewInvalidURLError("scheme"), http.StatusBadRequest},
		{"fetch failed", model.NewFetchFailedError("status 404"), http.StatusBadGateway},
		{"limit", model.NewImageLimitError(), http.StatusConflict},
		{"internal", errors.New("s3 down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockProfileService{
				importImageFn: func(ctx context.Context, userID, rawURL string) (*model.Image, error) {
					return nil, tt.err
				},
			}
			h := NewProfileHandler(svc)

			w := httptest.NewRecorder()
			h.ImportImage(w, withUserID(jsonRequest(http.MethodPost, "/api/v1/profile/images", `{"image_url":"http://10.0.0.1/a.jpg"}`), "u-1"))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestProfileHandler_ImportImage_Success(t *testing.T) {
	svc := &mockProfileService{
		importImageFn: func(ctx context.Context, userID, rawURL string) (*model.Image, error) {
			return &model.Image{ID: "img-2", ObjectKey: "uploads/1-a.jpg", Order: 2}, nil
		},
	}
	h := NewProfileHandler(svc)

	w := httptest.NewRecorder()
	h.ImportImage(w, withUserID(jsonRequest(http.MethodPost, "/api/v1/profile/images", `{"image_url":"https://example.com/a.jpg"}`), "u-1"))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	body := decodeBody(t, w)
	img := body["image"].(map[string]any)
	if body["status"] != "success" || img["key"] != "uploads/1-a.jpg" || img["order"].(float64) != 2 {
		t.Errorf("body = %v", body)
	}
}

func TestProfileHandler_UploadAndConfirm(t *testing.T) {
	svc := &mockProfileService{
		uploadURLFn: func(ctx context.Context, filename, contentType string) (*profile.UploadTarget, error) {
			if filename != "me.jpg" || contentType != "image/jpeg" {
				t.Errorf("args = %q, %q", filename, contentType)
			}
			return &profile.UploadTarget{UploadURL: "https://s3/put?sig", Key: "uploads/1-me.jpg"}, nil
		},
		confirmUploadFn: func(ctx context.Context, userID, key string) (*model.Image, error) {
			if key != "uploads/1-me.jpg" {
				return nil, model.NewObjectNotFoundError()
			}
			return &model.Image{ID: "img-1", ObjectKey: key, Order: 1}, nil
		},
		downloadURLFn: func(ctx context.Context, key string) (string, error) {
			return "https://s3/get?sig", nil
		},
	}
	h := NewProfileHandler(svc)

	w := httptest.NewRecorder()
	h.UploadURL(w, withUserID(jsonRequest(http.MethodPost, "/api/v1/profile/upload-url", `{"filename":"me.jpg","content_type":"image/jpeg"}`), "u-1"))
	body := decodeBody(t, w)
	if body["upload_url"] != "https://s3/put?sig" || body["key"] != "uploads/1-me.jpg" {
		t.Errorf("upload body = %v", body)
	}

	w = httptest.NewRecorder()
	h.ConfirmUpload(w, withUserID(jsonRequest(http.MethodPost, "/api/v1/profile/images/confirm", `{"key":"uploads/1-me.jpg"}`), "u-1"))
	if w.Code != http.StatusCreated {
		t.Errorf("confirm status = %d, want 201", w.Code)
	}

	w = httptest.NewRecorder()
	h.ConfirmUpload(w, withUserID(jsonRequest(http.MethodPost, "/api/v1/profile/images/confirm", `{"key":"uploads/missing.jpg"}`), "u-1"))
	if w.Code != http.StatusNotFound {
		t.Errorf("confirm missing status = %d, want 404", w.Code)
	}

	w = httptest.NewRecorder()
	h.DownloadURL(w, withUserID(httptest.NewRequest(http.MethodGet, "/api/v1/profile/download-url?key=uploads/1-me.jpg", nil), "u-1"))
	if body := decodeBody(t, w); body["download_url"] != "https://s3/get?sig" {
		t.Errorf("download body = %v", body)
	}
}

// TestProfileHandler_Finalize_Pending は未完了の場合にpending_actionsが返ることを検証する。
func TestProfileHandler_Finalize_Pending(t *testing.T) {
	svc := &mockProfileService{
		finalizeFn: func(ctx context.Context, userID string) (*profile.FinalizeResult, error) {
			return &profile.FinalizeResult{PendingActions: []string{"Upload 2 more images", "Upload 1 more prompts"}}, nil
		},
	}
	h := NewProfileHandler(svc)

	w := httptest.NewRecorder()
	h.Finalize(w, withUserID(httptest.NewRequest(http.MethodPost, "/api/v1/profile/finalize", nil), "u-1"))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	body := decodeBody(t, w)
	pending := body["pending_actions"].([]any)
	if body["status"] != "error" || body["code"] != model.ErrCodeProfileIncomplete || len(pending) != 2 {
		t.Errorf("body = %v", body)
	}
}

func TestProfileHandler_Finalize_Success(t *testing.T) {
	svc := &mockProfileService{
		finalizeFn: func(ctx context.Context, userID string) (*profile.FinalizeResult, error) {
			return &profile.FinalizeResult{}, nil
		},
	}
	h := NewProfileHandler(svc)

	w := httptest.NewRecorder()
	h.Finalize(w, withUserID(httptest.NewRequest(http.MethodPost, "/api/v1/profile/finalize", nil), "u-1"))

	body := decodeBody(t, w)
	if w.Code != http.StatusOK || body["status"] != "success" {
		t.Errorf("status = %d, body = %v", w.Code, body)
	}
	if _, ok := body["pending_actions"]; ok {
		t.Error("pending_actions should be omitted on success")
	}
}

func TestProfileHandler_Prompts(t *testing.T) {
	svc := &mockProfileService{
		createPromptFn: func(ctx context.Context, userID, question, answer string) (*model.Prompt, error) {
			return &model.Prompt{ID: "p-1", Question: question, Answer: answer, Order: 1}, nil
		},
		updatePromptFn: func(ctx context.Context, userID string, order int, question, answer string) error {
			if order != 2 {
				return model.NewPromptNotFoundError(order)
			}
			return nil
		},
	}
	h := NewProfileHandler(svc)

	w := httptest.NewRecorder()
	h.CreatePrompt(w, withUserID(jsonRequest(http.MethodPost, "/api/v1/prompts", `{"question":"Q","answer":"A"}`), "u-1"))
	if w.Code != http.StatusCreated {
		t.Errorf("create status = %d, want 201", w.Code)
	}

	req := withChiURLParam(withUserID(jsonRequest(http.MethodPut, "/api/v1/prompts/2", `{"question":"Q","answer":"B"}`), "u-1"), "order", "2")
	w = httptest.NewRecorder()
	h.UpdatePrompt(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("update status = %d, want 200", w.Code)
	}

	req = withChiURLParam(withUserID(jsonRequest(http.MethodPut, "/api/v1/prompts/3", `{"question":"Q","answer":"B"}`), "u-1"), "order", "3")
	w = httptest.NewRecorder()
	h.UpdatePrompt(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("update missing status = %d, want 404", w.Code)
	}

	req = withChiURLParam(withUserID(jsonRequest(http.MethodPut, "/api/v1/prompts/x", `{}`), "u-1"), "order", "x")
	w = httptest.NewRecorder()
	h.UpdatePrompt(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid order status = %d, want 400", w.Code)
	}
}
