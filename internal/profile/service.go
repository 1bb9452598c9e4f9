// Package profile はプロフィール詳細、画像、プロンプトの管理を提供する。
package profile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/kindred/internal/metrics"
	"github.com/hitoshi/kindred/internal/model"
	"github.com/hitoshi/kindred/internal/repository"
	"github.com/hitoshi/kindred/internal/security"
	"github.com/hitoshi/kindred/internal/storage"
)

// ObjectStore は画像オブジェクトの保存先。
type ObjectStore interface {
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
}

// compile-time interface check
var _ ObjectStore = (*storage.Client)(nil)

// Config はプロフィールサービスの設定。
type Config struct {
	PresignTTL time.Duration
}

// ImageView は署名付きURLを解決した画像。
type ImageView struct {
	ID    string
	URL   string
	Order int
}

// View は /profile/me で返すプロフィール全体。
type View struct {
	UserID  string
	Details *model.ProfileDetails
	Images  []ImageView
	Prompts []model.Prompt
}

// UploadTarget は署名付きアップロードURLとオブジェクトキー。
type UploadTarget struct {
	UploadURL string
	Key       string
}

// FinalizeResult はプロフィール確定の結果。
// PendingActions が空の場合のみ確定済み。
type FinalizeResult struct {
	PendingActions []string
}

// Finalized は確定できたかどうかを返す。
func (r *FinalizeResult) Finalized() bool {
	return len(r.PendingActions) == 0
}

// Service はプロフィール管理のサービス層。
type Service struct {
	userRepo  repository.UserRepository
	profiles  repository.ProfileRepository
	images    repository.ImageRepository
	prompts   repository.PromptRepository
	objects   ObjectStore
	fetcher   security.ImageFetcher
	sanitizer *security.TextSanitizer
	metrics   metrics.MetricsCollector
	config    Config
	now       func() time.Time
}

// NewService はServiceを生成する。mcがnilの場合はメトリクスを記録しない。
func NewService(
	userRepo repository.UserRepository,
	profiles repository.ProfileRepository,
	images repository.ImageRepository,
	prompts repository.PromptRepository,
	objects ObjectStore,
	fetcher security.ImageFetcher,
	mc metrics.MetricsCollector,
	config Config,
) *Service {
	if config.PresignTTL <= 0 {
		config.PresignTTL = time.Hour
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		userRepo:  userRepo,
		profiles:  profiles,
		images:    images,
		prompts:   prompts,
		objects:   objects,
		fetcher:   fetcher,
		sanitizer: security.NewTextSanitizer(),
		metrics:   mc,
		config:    config,
		now:       time.Now,
	}
}

// Get はプロフィール詳細、画像、プロンプトをまとめて返す。
// 画像URLの署名に失敗した場合はオブジェクトキーをそのまま返す。
func (s *Service) Get(ctx context.Context, userID string) (*View, error) {
	details, err := s.profiles.FindDetails(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile details: %w", err)
	}

	images, err := s.images.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	prompts, err := s.prompts.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}

	views := make([]ImageView, 0, len(images))
	for _, img := range images {
		url, err := s.objects.PresignGet(ctx, img.ObjectKey, s.config.PresignTTL)
		if err != nil {
			slog.Warn("failed to presign image URL",
				slog.String("user_id", userID),
				slog.String("key", img.ObjectKey),
				slog.String("error", err.Error()),
			)
			url = img.ObjectKey
		}
		views = append(views, ImageView{ID: img.ID, URL: url, Order: img.Order})
	}

	return &View{
		UserID:  userID,
		Details: details,
		Images:  views,
		Prompts: prompts,
	}, nil
}

// UpdateDetails はプロフィール詳細を部分更新する。nilの項目は変更しない。
func (s *Service) UpdateDetails(ctx context.Context, userID string, d *model.ProfileDetails) error {
	if d == nil {
		return model.NewInvalidInputError("Profile details are required")
	}
	if d.Height != nil && (*d.Height <= 0 || *d.Height > 300) {
		return model.NewInvalidInputError("Height must be between 1 and 300")
	}
	if d.Birthdate != nil && *d.Birthdate != "" {
		if _, err := time.Parse("2006-01-02", *d.Birthdate); err != nil {
			return model.NewInvalidInputError("Birthdate must be YYYY-MM-DD")
		}
	}

	clean := s.sanitizeDetails(d)
	if err := s.profiles.UpsertDetails(ctx, userID, clean); err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

func (s *Service) sanitizeDetails(d *model.ProfileDetails) *model.ProfileDetails {
	return &model.ProfileDetails{
		Name:             s.sanitizer.SanitizePtr(d.Name),
		Bio:              s.sanitizer.SanitizePtr(d.Bio),
		Birthdate:        d.Birthdate,
		Pronouns:         s.sanitizer.SanitizePtr(d.Pronouns),
		Gender:           s.sanitizer.SanitizePtr(d.Gender),
		Sexuality:        s.sanitizer.SanitizePtr(d.Sexuality),
		Height:           d.Height,
		Location:         s.sanitizer.SanitizePtr(d.Location),
		Job:              s.sanitizer.SanitizePtr(d.Job),
		Company:          s.sanitizer.SanitizePtr(d.Company),
		School:           s.sanitizer.SanitizePtr(d.School),
		Ethnicity:        s.sanitizer.SanitizePtr(d.Ethnicity),
		Politics:         s.sanitizer.SanitizePtr(d.Politics),
		Religion:         s.sanitizer.SanitizePtr(d.Religion),
		RelationshipType: s.sanitizer.SanitizePtr(d.RelationshipType),
		DatingIntention:  s.sanitizer.SanitizePtr(d.DatingIntention),
		Drinks:           s.sanitizer.SanitizePtr(d.Drinks),
		Smokes:           s.sanitizer.SanitizePtr(d.Smokes),
	}
}

// UploadURL は画像アップロード用の署名付きPUT URLを発行する。
func (s *Service) UploadURL(ctx context.Context, filename, contentType string) (*UploadTarget, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return nil, model.NewInvalidInputError("content_type must be an image type")
	}

	key := storage.UploadKey(s.now(), filename)
	url, err := s.objects.PresignPut(ctx, key, contentType, s.config.PresignTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}
	return &UploadTarget{UploadURL: url, Key: key}, nil
}

// ConfirmUpload はアップロード済みのオブジェクトを次の画像として登録する。
func (s *Service) ConfirmUpload(ctx context.Context, userID, key string) (*model.Image, error) {
	// 1. キーの検証
	if !strings.HasPrefix(key, storage.UploadPrefix) || strings.Contains(key, "..") {
		return nil, model.NewInvalidInputError("Invalid object key")
	}

	// 2. 枚数上限
	if err := s.checkImageCapacity(ctx, userID); err != nil {
		return nil, err
	}

	// 3. オブジェクトの存在確認
	ok, err := s.objects.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to check object: %w", err)
	}
	if !ok {
		return nil, model.NewObjectNotFoundError()
	}

	// 4. 登録
	img, err := s.images.Append(ctx, userID, key)
	if err != nil {
		return nil, fmt.Errorf("failed to append image: %w", err)
	}
	return img, nil
}

// DownloadURL はオブジェクトの署名付きGET URLを発行する。
func (s *Service) DownloadURL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", model.NewInvalidInputError("key is required")
	}

	ok, err := s.objects.Exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to check object: %w", err)
	}
	if !ok {
		return "", model.NewObjectNotFoundError()
	}

	url, err := s.objects.PresignGet(ctx, key, s.config.PresignTTL)
	if err != nil {
		return "", fmt.Errorf("failed to presign download: %w", err)
	}
	return url, nil
}

// ImportImage は外部URLの画像を取得してストレージに保存し、次の画像として登録する。
func (s *Service) ImportImage(ctx context.Context, userID, rawURL string) (*model.Image, error) {
	// 1. 枚数上限
	if err := s.checkImageCapacity(ctx, userID); err != nil {
		return nil, err
	}

	// 2. SSRF対策付きで取得
	fetched, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, s.classifyFetchError(rawURL, err)
	}

	// 3. ストレージに保存
	key := storage.UploadKey(s.now(), fetched.Filename)
	if err := s.objects.Put(ctx, key, bytes.NewReader(fetched.Data), int64(len(fetched.Data)), fetched.ContentType); err != nil {
		s.metrics.RecordImageImport("storage_error")
		return nil, fmt.Errorf("failed to store image: %w", err)
	}

	// 4. 登録
	img, err := s.images.Append(ctx, userID, key)
	if err != nil {
		return nil, fmt.Errorf("failed to append image: %w", err)
	}

	s.metrics.RecordImageImport("success")
	slog.Info("profile image imported",
		slog.String("user_id", userID),
		slog.String("key", key),
		slog.Int("size", len(fetched.Data)),
	)
	return img, nil
}

// classifyFetchError は取得エラーをAPIエラーに変換する。
func (s *Service) classifyFetchError(rawURL string, err error) error {
	switch {
	case errors.Is(err, security.ErrInvalidURL):
		s.metrics.RecordImageImport("invalid_url")
		return model.NewInvalidURLError(rawURL)
	case errors.Is(err, security.ErrBlockedURL):
		s.metrics.RecordImageImport("blocked")
		slog.Warn("image import blocked", slog.String("url", rawURL), slog.String("error", err.Error()))
		return model.NewSSRFBlockedError()
	case errors.Is(err, security.ErrNotImage):
		s.metrics.RecordImageImport("not_image")
		return model.NewFetchFailedError("the URL does not point to a supported image")
	case errors.Is(err, security.ErrTooLarge):
		s.metrics.RecordImageImport("too_large")
		return model.NewFetchFailedError("the image is too large")
	default:
		s.metrics.RecordImageImport("fetch_error")
		slog.Warn("image import failed", slog.String("url", rawURL), slog.String("error", err.Error()))
		return model.NewFetchFailedError("the remote server could not be reached")
	}
}

func (s *Service) checkImageCapacity(ctx context.Context, userID string) error {
	count, err := s.images.CountByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to count images: %w", err)
	}
	if count >= model.RequiredImageCount {
		return model.NewImageLimitError()
	}
	return nil
}

// DeleteImage は画像を削除する。ストレージ上のオブジェクトの削除失敗はログのみ。
func (s *Service) DeleteImage(ctx context.Context, userID, imageID string) error {
	images, err := s.images.ListByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}

	var key string
	for _, img := range images {
		if img.ID == imageID {
			key = img.ObjectKey
			break
		}
	}
	if key == "" {
		return model.NewObjectNotFoundError()
	}

	deleted, err := s.images.Delete(ctx, userID, imageID)
	if err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	if !deleted {
		return model.NewObjectNotFoundError()
	}

	if err := s.objects.Delete(ctx, key); err != nil {
		slog.Warn("failed to delete image object",
			slog.String("user_id", userID),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Finalize は画像6枚、プロンプト3件、全詳細項目の入力を確認し、揃っていれば完成済みにする。
func (s *Service) Finalize(ctx context.Context, userID string) (*FinalizeResult, error) {
	var pending []string

	// 1. 画像
	images, err := s.images.CountByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count images: %w", err)
	}
	if images < model.RequiredImageCount {
		pending = append(pending, fmt.Sprintf("Upload %d more images", model.RequiredImageCount-images))
	}

	// 2. プロンプト
	prompts, err := s.prompts.CountByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count prompts: %w", err)
	}
	if prompts < model.RequiredPromptCount {
		pending = append(pending, fmt.Sprintf("Upload %d more prompts", model.RequiredPromptCount-prompts))
	}

	// 3. 詳細項目
	details, err := s.profiles.FindDetails(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile details: %w", err)
	}
	if missing := details.MissingFieldCount(); missing > 0 {
		pending = append(pending, fmt.Sprintf("Fill %d more profile details", missing))
	}

	result := &FinalizeResult{PendingActions: pending}
	if !result.Finalized() {
		return result, nil
	}

	// 4. 完成フラグ
	if err := s.userRepo.MarkComplete(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to mark profile complete: %w", err)
	}
	slog.Info("profile finalized", slog.String("user_id", userID))
	return result, nil
}
