package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/kindred/internal/feed"
)

// FeedServiceInterface はフィードハンドラーが必要とするサービスインターフェース。
type FeedServiceInterface interface {
	// Suggestions は希望条件に合う未操作のプロフィールを返す。
	Suggestions(ctx context.Context, userID string) ([]feed.Card, error)
}

// compile-time interface check
var _ FeedServiceInterface = (*feed.FeedService)(nil)

// FeedHandler は候補プロフィールのHTTPハンドラー。
type FeedHandler struct {
	service FeedServiceInterface
}

// NewFeedHandler はFeedHandlerを生成する。
func NewFeedHandler(service FeedServiceInterface) *FeedHandler {
	return &FeedHandler{service: service}
}

type feedResponse struct {
	Profiles []userProfileJSON `json:"profiles"`
}

// Feed は候補プロフィールを返す。
// GET /api/v1/feed
func (h *FeedHandler) Feed(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	cards, err := h.service.Suggestions(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	profiles := make([]userProfileJSON, len(cards))
	for i, c := range cards {
		details := c.Details
		p := userProfileJSON{ID: c.UserID, Details: toDetailsJSON(&details)}
		for order, url := range c.ImageURLs {
			p.Images = append(p.Images, imageJSON{URL: url, Order: order + 1})
		}
		profiles[i] = p
	}

	writeJSON(w, http.StatusOK, feedResponse{Profiles: profiles})
}
