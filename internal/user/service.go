// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/kindred/internal/model"
	"github.com/hitoshi/kindred/internal/repository"
)

// ImageLister は退会時に削除するストレージ上の画像を列挙する。
type ImageLister interface {
	ListByUserID(ctx context.Context, userID string) ([]model.Image, error)
}

// ObjectRemover はストレージ上のオブジェクトを削除する。
type ObjectRemover interface {
	Delete(ctx context.Context, key string) error
}

// ExistsResult はユーザー存在確認の結果。
type ExistsResult struct {
	Status  model.ExistenceStatus
	Message string
}

// Service はユーザー管理のサービス層。
// 存在確認、アカウント作成、希望条件、退会処理を提供する。
type Service struct {
	userRepo repository.UserRepository
	images   ImageLister
	objects  ObjectRemover
}

// NewService はServiceの新しいインスタンスを生成する。
// imagesまたはobjectsがnilの場合、退会時にストレージ上の画像は削除しない。
func NewService(userRepo repository.UserRepository, images ImageLister, objects ObjectRemover) *Service {
	return &Service{
		userRepo: userRepo,
		images:   images,
		objects:  objects,
	}
}

// Resolve は認証済みの呼び出し元に対応するユーザーを返す。
// 自前発行トークンはユーザーID、Firebaseトークンはメールアドレスまたは電話番号で特定する。
func (s *Service) Resolve(ctx context.Context, p *model.Principal) (*model.User, error) {
	if p == nil {
		return nil, model.NewUserNotFoundError()
	}

	var (
		user *model.User
		err  error
	)
	if p.UserID != "" {
		user, err = s.userRepo.FindByID(ctx, p.UserID)
	} else {
		user, err = s.userRepo.FindByIdentifier(ctx, p.Email, p.Phone)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// CheckExists はメールアドレスまたは電話番号でユーザーの存在を確認する。
// 識別子が無い場合はエラー状態を返す。DBエラーはerrorとして返す。
func (s *Service) CheckExists(ctx context.Context, email, phone string) (*ExistsResult, error) {
	email, phone = strings.TrimSpace(email), strings.TrimSpace(phone)
	if email == "" && phone == "" {
		return &ExistsResult{
			Status:  model.ExistenceError,
			Message: model.NewMissingIdentifierError().Message,
		}, nil
	}

	user, err := s.userRepo.FindByIdentifier(ctx, email, phone)
	if err != nil {
		return nil, fmt.Errorf("failed to check user exists: %w", err)
	}
	if user == nil {
		return &ExistsResult{Status: model.ExistenceNotFound, Message: "User does not exist"}, nil
	}
	return &ExistsResult{
		Status:  model.ExistenceExists,
		Message: fmt.Sprintf("User %s already exists", user.ID),
	}, nil
}

// Create はメールアドレスと電話番号を持つユーザーを作成する。
// トークンで確認済みのメールアドレス・電話番号と異なる識別子では作成しない。
// 同じメールアドレスまたは電話番号のユーザーが既に存在する場合は
// USER_ALREADY_EXISTSを返し、重複作成しない。
func (s *Service) Create(ctx context.Context, p *model.Principal, email, phone string) (*model.User, error) {
	email, phone = strings.TrimSpace(email), strings.TrimSpace(phone)
	if phone == "" {
		return nil, model.NewInvalidInputError("Phone number is required")
	}
	if email == "" {
		return nil, model.NewInvalidInputError("Email is required")
	}

	// 1. 呼び出し元の識別子との照合
	if err := checkOwnership(p, email, phone); err != nil {
		return nil, err
	}

	// 2. 重複確認
	existing, err := s.userRepo.FindByIdentifier(ctx, email, phone)
	if err != nil {
		return nil, fmt.Errorf("failed to check user exists: %w", err)
	}
	if existing != nil {
		return nil, model.NewUserAlreadyExistsError(existing.ID)
	}

	// 3. 作成
	now := time.Now().UTC()
	user := &model.User{
		ID:        uuid.New().String(),
		Email:     email,
		Phone:     phone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if p != nil && p.UserID == "" {
		user.FirebaseUID = p.Subject
	}

	err = s.userRepo.Create(ctx, user)
	if errors.Is(err, repository.ErrConflict) {
		// 同時リクエストで先に作成された
		raced, findErr := s.userRepo.FindByIdentifier(ctx, email, phone)
		if findErr == nil && raced != nil {
			return nil, model.NewUserAlreadyExistsError(raced.ID)
		}
		return nil, model.NewUserAlreadyExistsError("")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user created", slog.String("user_id", user.ID))
	return user, nil
}

// checkOwnership は作成するアカウントの識別子が呼び出し元のものであることを確認する。
// 確認済みの識別子を一つも持たないトークンでは作成できない。
func checkOwnership(p *model.Principal, email, phone string) error {
	if p == nil || (p.Email == "" && p.Phone == "") {
		return model.NewIdentifierMismatchError("email or phone number")
	}
	if p.Email != "" && !strings.EqualFold(p.Email, email) {
		return model.NewIdentifierMismatchError("email")
	}
	if p.Phone != "" && p.Phone != phone {
		return model.NewIdentifierMismatchError("phone number")
	}
	return nil
}

// GetPreferences はユーザーの希望条件を返す。未設定の場合はPREFERENCES_NOT_SETを返す。
func (s *Service) GetPreferences(ctx context.Context, userID string) (*model.Preferences, error) {
	prefs, err := s.userRepo.GetPreferences(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}
	if prefs == nil {
		return nil, model.NewPreferencesNotSetError()
	}
	return prefs, nil
}

// UpdatePreferences はユーザーの希望条件を上書きする。
func (s *Service) UpdatePreferences(ctx context.Context, userID string, prefs *model.Preferences) error {
	if prefs == nil {
		return model.NewInvalidInputError("Preferences are required")
	}
	if r := prefs.AgeRange; r != nil && (r.Min < 18 || r.Max < r.Min) {
		return model.NewInvalidInputError("Invalid age range")
	}
	if prefs.DistanceMax != nil && *prefs.DistanceMax < 0 {
		return model.NewInvalidInputError("Invalid maximum distance")
	}

	if err := s.userRepo.UpdatePreferences(ctx, userID, prefs); err != nil {
		return fmt.Errorf("failed to update preferences: %w", err)
	}
	return nil
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: 画像キーの取得 → user（+ CASCADE: profiles, images, prompts, interactions, matches）→ ストレージ上の画像
// ストレージの削除失敗はログに記録し、退会自体は成功とする。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("withdrawing user", slog.String("user_id", userID))

	// 1. 画像キーを取得
	var images []model.Image
	if s.images != nil && s.objects != nil {
		images, err = s.images.ListByUserID(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to list images: %w", err)
		}
	}

	// 2. ユーザーを削除
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	// 3. ストレージ上の画像を削除
	for _, img := range images {
		if err := s.objects.Delete(ctx, img.ObjectKey); err != nil {
			slog.Warn("failed to delete stored image",
				slog.String("user_id", userID),
				slog.String("key", img.ObjectKey),
				slog.String("error", err.Error()),
			)
		}
	}

	slog.Info("user withdrawn",
		slog.String("user_id", userID),
		slog.Int("image_count", len(images)),
	)
	return nil
}
