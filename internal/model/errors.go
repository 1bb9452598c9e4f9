// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// クライアントに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, profile, match, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeUserAlreadyExists    = "USER_ALREADY_EXISTS"
	ErrCodeMissingIdentifier    = "MISSING_IDENTIFIER"
	ErrCodeInvalidInput         = "INVALID_INPUT"
	ErrCodeInvalidURL           = "INVALID_URL"
	ErrCodeSSRFBlocked          = "SSRF_BLOCKED"
	ErrCodeFetchFailed          = "FETCH_FAILED"
	ErrCodeImageLimit           = "IMAGE_LIMIT"
	ErrCodePromptNotFound       = "PROMPT_NOT_FOUND"
	ErrCodePromptLimit          = "PROMPT_LIMIT"
	ErrCodeInvalidAction        = "INVALID_ACTION"
	ErrCodeSelfInteraction      = "SELF_INTERACTION"
	ErrCodeMatchNotFound        = "MATCH_NOT_FOUND"
	ErrCodePreferencesNotSet    = "PREFERENCES_NOT_SET"
	ErrCodeVerificationNotFound = "VERIFICATION_NOT_FOUND"
	ErrCodeInvalidCode          = "INVALID_CODE"
	ErrCodeProfileIncomplete    = "PROFILE_INCOMPLETE"
	ErrCodeObjectNotFound       = "OBJECT_NOT_FOUND"
	ErrCodeIdentifierMismatch   = "IDENTIFIER_MISMATCH"
)

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "auth",
		Action:   "アカウントを作成するか、ログインし直してください。",
	}
}

// NewUserAlreadyExistsError は同じメールアドレスまたは電話番号のユーザーが既に存在する場合のエラーを生成する。
// メッセージは既存クライアントが表示する形式に合わせる。
func NewUserAlreadyExistsError(existingID string) *APIError {
	return &APIError{
		Code:     ErrCodeUserAlreadyExists,
		Message:  fmt.Sprintf("User %s already exists", existingID),
		Category: "auth",
		Action:   "既存のアカウントでログインしてください。",
	}
}

// NewMissingIdentifierError はメールアドレスと電話番号がどちらも無い場合のエラーを生成する。
func NewMissingIdentifierError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingIdentifier,
		Message:  "At least one of phone or email is required",
		Category: "validation",
		Action:   "メールアドレスまたは電話番号を入力してください。",
	}
}

// NewInvalidInputError は入力値が不正な場合のエラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  reason,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewIdentifierMismatchError は作成要求の識別子がトークンで確認済みの識別子と異なる場合のエラーを生成する。
func NewIdentifierMismatchError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeIdentifierMismatch,
		Message:  fmt.Sprintf("The %s does not match the signed-in account", field),
		Category: "auth",
		Action:   "サインインに使用したメールアドレスまたは電話番号を入力してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("Invalid URL: %s", reason),
		Category: "validation",
		Action:   "http:// または https:// で始まる画像URLを指定してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "Access to the specified URL is blocked by security policy",
		Category: "validation",
		Action:   "公開されている画像のURLを指定してください。プライベートネットワークへのアクセスは許可されていません。",
	}
}

// NewFetchFailedError は外部画像の取得失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("Failed to fetch image: %s", reason),
		Category: "profile",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewImageLimitError は画像枚数の上限エラーを生成する。
func NewImageLimitError() *APIError {
	return &APIError{
		Code:     ErrCodeImageLimit,
		Message:  fmt.Sprintf("A profile can hold at most %d images", RequiredImageCount),
		Category: "profile",
		Action:   "不要な画像を削除してから追加してください。",
	}
}

// NewPromptNotFoundError はプロンプトが見つからない場合のエラーを生成する。
func NewPromptNotFoundError(order int) *APIError {
	return &APIError{
		Code:     ErrCodePromptNotFound,
		Message:  fmt.Sprintf("Prompt %d not found", order),
		Category: "profile",
		Action:   "プロンプトの番号を確認してください。",
	}
}

// NewPromptLimitError はプロンプト数の上限エラーを生成する。
func NewPromptLimitError() *APIError {
	return &APIError{
		Code:     ErrCodePromptLimit,
		Message:  fmt.Sprintf("A profile can hold at most %d prompts", RequiredPromptCount),
		Category: "profile",
		Action:   "既存のプロンプトを編集してください。",
	}
}

// NewInvalidActionError は無効な操作種別のエラーを生成する。
func NewInvalidActionError(action string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAction,
		Message:  fmt.Sprintf("Invalid action: %s", action),
		Category: "validation",
		Action:   "LIKE または PASS を指定してください。",
	}
}

// NewSelfInteractionError は自分自身への操作エラーを生成する。
func NewSelfInteractionError() *APIError {
	return &APIError{
		Code:     ErrCodeSelfInteraction,
		Message:  "Cannot interact with your own profile",
		Category: "validation",
		Action:   "他のユーザーのプロフィールを選択してください。",
	}
}

// NewMatchNotFoundError はマッチが見つからない場合のエラーを生成する。
// 自分が参加していないマッチも同じエラーを返す。
func NewMatchNotFoundError(matchID string) *APIError {
	return &APIError{
		Code:     ErrCodeMatchNotFound,
		Message:  fmt.Sprintf("Match not found: %s", matchID),
		Category: "match",
		Action:   "マッチ一覧を更新してください。",
	}
}

// NewPreferencesNotSetError は希望条件が未設定の場合のエラーを生成する。
func NewPreferencesNotSetError() *APIError {
	return &APIError{
		Code:     ErrCodePreferencesNotSet,
		Message:  "User has no preferences set",
		Category: "profile",
		Action:   "希望条件を設定してください。",
	}
}

// NewVerificationNotFoundError は認証IDが見つからない場合のエラーを生成する。
func NewVerificationNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeVerificationNotFound,
		Message:  "Verification not found or expired",
		Category: "auth",
		Action:   "認証コードを再送信してください。",
	}
}

// NewInvalidCodeError は認証コード不一致のエラーを生成する。
func NewInvalidCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCode,
		Message:  "Invalid verification code",
		Category: "auth",
		Action:   "SMSで受信した6桁のコードを入力してください。",
	}
}

// NewProfileIncompleteError はプロフィール未完成エラーを生成する。
func NewProfileIncompleteError(pending []string) *APIError {
	return &APIError{
		Code:     ErrCodeProfileIncomplete,
		Message:  "Profile not finalized: " + strings.Join(pending, ", "),
		Category: "profile",
		Action:   "残りの項目を入力してから再度お試しください。",
	}
}

// NewObjectNotFoundError はストレージ上のオブジェクトが見つからない場合のエラーを生成する。
func NewObjectNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeObjectNotFound,
		Message:  "File not found",
		Category: "profile",
		Action:   "画像をアップロードし直してください。",
	}
}
