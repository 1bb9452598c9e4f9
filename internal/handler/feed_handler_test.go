package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/kindred/internal/feed"
	"github.com/hitoshi/kindred/internal/model"
)

func TestFeedHandler_Feed(t *testing.T) {
	svc := &mockFeedService{
		suggestionsFn: func(ctx context.Context, userID string) ([]feed.Card, error) {
			if userID != "u-1" {
				t.Errorf("userID = %q", userID)
			}
			return []feed.Card{{
				UserID:    "u-2",
				Details:   model.ProfileDetails{Name: strPtr("Ben")},
				ImageURLs: []string{"https://img/1", "https://img/2"},
			}}, nil
		},
	}
	h := NewFeedHandler(svc)

	w := httptest.NewRecorder()
	h.Feed(w, withUserID(httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil), "u-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body feedResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Profiles) != 1 || body.Profiles[0].ID != "u-2" {
		t.Fatalf("profiles = %+v", body.Profiles)
	}
	images := body.Profiles[0].Images
	if len(images) != 2 || images[0].Order != 1 || images[1].Order != 2 {
		t.Errorf("images = %+v, want orders 1 and 2", images)
	}
}

func TestFeedHandler_Unauthorized(t *testing.T) {
	h := NewFeedHandler(&mockFeedService{})

	w := httptest.NewRecorder()
	h.Feed(w, httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestFeedHandler_ServiceError(t *testing.T) {
	svc := &mockFeedService{
		suggestionsFn: func(ctx context.Context, userID string) ([]feed.Card, error) {
			return nil, errors.New("db down")
		},
	}
	h := NewFeedHandler(svc)

	w := httptest.NewRecorder()
	h.Feed(w, withUserID(httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil), "u-1"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestFeedHandler_Feed_Empty(t *testing.T) {
	svc := &mockFeedService{
		suggestionsFn: func(ctx context.Context, userID string) ([]feed.Card, error) { return nil, nil },
	}
	h := NewFeedHandler(svc)

	w := httptest.NewRecorder()
	h.Feed(w, withUserID(httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil), "u-1"))

	if got := w.Body.String(); got != "{\"profiles\":[]}\n" {
		t.Errorf("body = %q", got)
	}
}

func TestFeedHandler_PreferencesNotSet(t *testing.T) {
	svc := &mockFeedService{
		suggestionsFn: func(ctx context.Context, userID string) ([]feed.Card, error) {
			return nil, model.NewPreferencesNotSetError()
		},
	}
	h := NewFeedHandler(svc)

	w := httptest.NewRecorder()
	h.Feed(w, withUserID(httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil), "u-1"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
