// Package feed はマッチング候補（フィード）の選出を提供する。
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/kindred/internal/model"
	"github.com/hitoshi/kindred/internal/repository"
)

// defaultLimit はフィード1回あたりの最大件数。
const defaultLimit = 20

// Presigner は画像キーを表示用URLに変換する。
type Presigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Card はフィードに表示する1人分のプロフィール。
type Card struct {
	UserID    string
	Details   model.ProfileDetails
	ImageURLs []string
}

// FeedService は希望条件に基づいて候補プロフィールを選出する。
type FeedService struct {
	userRepo   repository.UserRepository
	profiles   repository.ProfileRepository
	presigner  Presigner
	limit      int
	presignTTL time.Duration
	now        func() time.Time
}

// NewFeedService はFeedServiceを生成する。presignerがnilの場合は画像URLを返さない。
func NewFeedService(
	userRepo repository.UserRepository,
	profiles repository.ProfileRepository,
	presigner Presigner,
	limit int,
	presignTTL time.Duration,
) *FeedService {
	if limit <= 0 {
		limit = defaultLimit
	}
	if presignTTL <= 0 {
		presignTTL = time.Hour
	}
	return &FeedService{
		userRepo:   userRepo,
		profiles:   profiles,
		presigner:  presigner,
		limit:      limit,
		presignTTL: presignTTL,
		now:        time.Now,
	}
}

// Suggestions は自分と操作済みのユーザーを除いた候補を返す。
// 希望条件が未設定の場合はPREFERENCES_NOT_SETエラーを返す。
func (s *FeedService) Suggestions(ctx context.Context, userID string) ([]Card, error) {
	// 1. 希望条件
	prefs, err := s.userRepo.GetPreferences(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}
	if prefs == nil {
		return nil, model.NewPreferencesNotSetError()
	}

	// 2. 性別で絞り込んだ候補
	suggestions, err := s.profiles.ListSuggestions(ctx, userID, prefs.GenderPreference, s.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list suggestions: %w", err)
	}

	// 3. 年齢で絞り込み、画像URLを解決
	cards := make([]Card, 0, len(suggestions))
	for _, sg := range suggestions {
		if !withinAgeRange(sg.Details.Birthdate, prefs.AgeRange, s.now()) {
			continue
		}
		cards = append(cards, Card{
			UserID:    sg.UserID,
			Details:   sg.Details,
			ImageURLs: s.imageURLs(ctx, sg.ImageKeys),
		})
	}
	return cards, nil
}

func (s *FeedService) imageURLs(ctx context.Context, keys []string) []string {
	if s.presigner == nil {
		return nil
	}
	urls := make([]string, 0, len(keys))
	for _, key := range keys {
		u, err := s.presigner.PresignGet(ctx, key, s.presignTTL)
		if err != nil {
			slog.Warn("failed to presign feed image", slog.String("key", key), slog.String("error", err.Error()))
			continue
		}
		urls = append(urls, u)
	}
	return urls
}

// withinAgeRange は生年月日が希望年齢の範囲内かを返す。
// 範囲未設定、または生年月日が未入力・不正な場合は除外しない。
func withinAgeRange(birthdate *string, r *model.AgeRange, now time.Time) bool {
	if r == nil || birthdate == nil {
		return true
	}
	born, err := time.Parse("2006-01-02", *birthdate)
	if err != nil {
		return true
	}
	age := Age(born, now)
	return age >= r.Min && (r.Max == 0 || age <= r.Max)
}

// Age は満年齢を返す。
func Age(born, now time.Time) int {
	age := now.Year() - born.Year()
	if now.Month() < born.Month() || (now.Month() == born.Month() && now.Day() < born.Day()) {
		age--
	}
	return age
}
