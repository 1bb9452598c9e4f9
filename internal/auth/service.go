// Package auth はベアラートークンの検証と電話番号ログインを提供する。
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/kindred/internal/model"
	"github.com/hitoshi/kindred/internal/repository"
)

// minPhoneLength は電話番号として受け付ける最小桁数。
const minPhoneLength = 10

// CodeSender は認証コードをSMS等で配送する。
type CodeSender interface {
	SendCode(ctx context.Context, phone, code string) error
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// TestCode が空でない場合は常にこのコードを発行する。
	TestCode        string
	VerificationTTL time.Duration
}

// LoginResult は電話番号ログイン開始の結果。
type LoginResult struct {
	Message        string
	VerificationID string
}

// VerifyResult は電話番号認証完了の結果。
type VerifyResult struct {
	Token             string
	ExpiresAt         time.Time
	UserID            string
	IsProfileComplete bool
	IsNewUser         bool
}

// Service は電話番号ログインのビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	store    VerificationStore
	issuer   *TokenIssuer
	sender   CodeSender
	config   ServiceConfig
}

// NewService はServiceを生成する。senderがnilの場合はコードを配送しない。
func NewService(
	userRepo repository.UserRepository,
	store VerificationStore,
	issuer *TokenIssuer,
	sender CodeSender,
	config ServiceConfig,
) *Service {
	if config.VerificationTTL <= 0 {
		config.VerificationTTL = 10 * time.Minute
	}
	return &Service{
		userRepo: userRepo,
		store:    store,
		issuer:   issuer,
		sender:   sender,
		config:   config,
	}
}

// PhoneLogin は認証コードを発行し、認証IDを返す。
func (s *Service) PhoneLogin(ctx context.Context, phone string) (*LoginResult, error) {
	phone = strings.TrimSpace(phone)
	if len(phone) < minPhoneLength {
		return nil, model.NewInvalidInputError("Phone number is required")
	}

	// 1. コードを決定
	code := s.config.TestCode
	if code == "" {
		generated, err := generateCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate code: %w", err)
		}
		code = generated
	}

	// 2. 保留中の認証を保存
	verificationID := uuid.New().String()
	if err := s.store.Save(ctx, verificationID, PendingVerification{Phone: phone, Code: code}, s.config.VerificationTTL); err != nil {
		return nil, fmt.Errorf("failed to save verification: %w", err)
	}

	// 3. コードを配送
	if s.sender != nil {
		if err := s.sender.SendCode(ctx, phone, code); err != nil {
			return nil, fmt.Errorf("failed to send code: %w", err)
		}
	}

	slog.Info("phone verification started", slog.String("verification_id", verificationID))

	return &LoginResult{
		Message:        "Verification code sent successfully",
		VerificationID: verificationID,
	}, nil
}

// PhoneVerify は認証コードを検証し、セッショントークンを発行する。
// 電話番号に一致するユーザーがいない場合は作成する。
// 認証IDはコードの正否にかかわらず一度で無効になる。
func (s *Service) PhoneVerify(ctx context.Context, verificationID, code string) (*VerifyResult, error) {
	// 1. 保留中の認証を取り出す
	pending, err := s.store.Take(ctx, verificationID)
	if err != nil {
		return nil, fmt.Errorf("failed to take verification: %w", err)
	}
	if pending == nil {
		return nil, model.NewVerificationNotFoundError()
	}

	// 2. コードを照合
	if strings.TrimSpace(code) != pending.Code {
		return nil, model.NewInvalidCodeError()
	}

	// 3. ユーザーを取得または作成
	user, isNew, err := s.findOrCreateByPhone(ctx, pending.Phone)
	if err != nil {
		return nil, err
	}

	// 4. トークンを発行
	token, expiresAt, err := s.issuer.Issue(user.ID, user.Phone)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	slog.Info("phone verification completed",
		slog.String("user_id", user.ID),
		slog.Bool("new_user", isNew),
	)

	return &VerifyResult{
		Token:             token,
		ExpiresAt:         expiresAt,
		UserID:            user.ID,
		IsProfileComplete: user.IsComplete,
		IsNewUser:         isNew,
	}, nil
}

func (s *Service) findOrCreateByPhone(ctx context.Context, phone string) (*model.User, bool, error) {
	user, err := s.userRepo.FindByIdentifier(ctx, "", phone)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find user: %w", err)
	}
	if user != nil {
		return user, false, nil
	}

	now := time.Now().UTC()
	user = &model.User{
		ID:        uuid.New().String(),
		Phone:     phone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.userRepo.Create(ctx, user)
	if errors.Is(err, repository.ErrConflict) {
		// 同時に作成された場合は既存ユーザーを使う
		existing, findErr := s.userRepo.FindByIdentifier(ctx, "", phone)
		if findErr != nil || existing == nil {
			return nil, false, fmt.Errorf("failed to find user after conflict: %w", errors.Join(err, findErr))
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create user: %w", err)
	}
	return user, true, nil
}

// generateCode は6桁の数字コードを生成する。
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
