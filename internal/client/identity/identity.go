// Package identity は外部IDプロバイダー（Firebase Authentication）によるサインインを提供する。
// 電話番号のワンタイムコードとGoogleアカウントでサインインし、不透明なIDトークンを得る。
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultCountryCode は国番号が無い電話番号に付与する国番号。
const DefaultCountryCode = "+91"

// User はプロバイダー上のサインイン中ユーザー。読み取り専用の写し。
type User struct {
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
	PhoneNumber string
}

// Confirmation は認証コード送信後、確認に必要な情報。
type Confirmation struct {
	PhoneNumber string
	SessionInfo string
}

// Credential はサインイン結果。
type Credential struct {
	User    *User
	IDToken string
}

// Provider はIDプロバイダーの操作。
type Provider interface {
	// SendPhoneOTP は電話番号に認証コードを送る。
	SendPhoneOTP(ctx context.Context, phone string) (*Confirmation, error)
	// ConfirmPhoneOTP は認証コードを確認してサインインする。
	ConfirmPhoneOTP(ctx context.Context, c *Confirmation, code string) (*Credential, error)
	// GoogleSignIn はGoogleアカウントでサインインする。
	GoogleSignIn(ctx context.Context) (*Credential, error)
	// CurrentUser はサインイン中のユーザーを返す。未サインインの場合はnil。
	CurrentUser() *User
	// IDToken はサインイン中ユーザーのIDトークンを返す。forceRefreshがtrueの場合は必ず更新する。
	IDToken(ctx context.Context, forceRefresh bool) (string, error)
	// OnAuthStateChanged はサインイン状態の変化を購読する。
	// 登録直後に現在のユーザーで1回呼ばれる。戻り値の関数で購読を解除する。
	OnAuthStateChanged(fn func(*User)) (unsubscribe func())
	// SignOut はサインアウトする。
	SignOut(ctx context.Context) error
}

// ErrNoUser はサインインしていない状態でトークンを要求した場合のエラー。
var ErrNoUser = errors.New("identity: no signed-in user")

// ErrorType は認証エラーの分類。
type ErrorType string

const (
	ErrorCancelled    ErrorType = "cancelled"
	ErrorInProgress   ErrorType = "in_progress"
	ErrorPlayServices ErrorType = "play_services"
	ErrorFirebase     ErrorType = "firebase"
	ErrorUnknown      ErrorType = "unknown"
)

// AuthError はプロバイダー由来の認証エラー。
type AuthError struct {
	Code    string
	Message string
	Type    ErrorType
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// サインインSDK相当のエラーコード
const (
	CodeSignInCancelled          = "SIGN_IN_CANCELLED"
	CodeInProgress               = "IN_PROGRESS"
	CodePlayServicesNotAvailable = "PLAY_SERVICES_NOT_AVAILABLE"
	CodeNoToken                  = "NO_TOKEN"
	CodeNoCredential             = "NO_CREDENTIAL"
	CodeUnknown                  = "UNKNOWN"
)

// ParseAuthError は任意のエラーをAuthErrorに分類する。
// 既にAuthErrorの場合はそのまま返す。"auth/"で始まるコードはfirebaseに分類する。
func ParseAuthError(err error) *AuthError {
	if err == nil {
		return nil
	}

	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, context.Canceled) {
		return &AuthError{Code: CodeSignInCancelled, Message: "Sign-in was cancelled", Type: ErrorCancelled, Err: err}
	}
	return &AuthError{Code: CodeUnknown, Message: err.Error(), Type: ErrorUnknown, Err: err}
}

// classify はコードからエラー分類を決める。
func classify(code string) ErrorType {
	switch {
	case code == CodeSignInCancelled:
		return ErrorCancelled
	case code == CodeInProgress:
		return ErrorInProgress
	case code == CodePlayServicesNotAvailable:
		return ErrorPlayServices
	case strings.HasPrefix(code, "auth/"):
		return ErrorFirebase
	default:
		return ErrorUnknown
	}
}

// newAuthError はコードとメッセージからAuthErrorを生成する。
func newAuthError(code, message string) *AuthError {
	return &AuthError{Code: code, Message: message, Type: classify(code)}
}

// IsCancelled はユーザーによるキャンセルかどうかを返す。
func IsCancelled(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Type == ErrorCancelled
}

// FormatPhone は国番号が無い電話番号にcountryCodeを付与する。
// countryCodeが空の場合はDefaultCountryCodeを使う。
func FormatPhone(phone, countryCode string) string {
	phone = strings.TrimSpace(phone)
	if strings.HasPrefix(phone, "+") {
		return phone
	}
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	if !strings.HasPrefix(countryCode, "+") {
		countryCode = "+" + countryCode
	}
	return countryCode + phone
}
