// Package validate はネットワーク呼び出し前のクライアント側入力検証を提供する。
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MinPhoneLength は電話番号として受け付ける最小文字数。
const MinPhoneLength = 10

// DefaultMinAnswerLength はプロンプト回答の最小文字数のデフォルト値。
const DefaultMinAnswerLength = 10

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Error は入力検証エラー。Fieldは対象の入力項目名。
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Email はメールアドレスの形式を検証する。
func Email(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return &Error{Field: "email", Message: "Email is required"}
	}
	if !emailPattern.MatchString(email) {
		return &Error{Field: "email", Message: "Please enter a valid email address"}
	}
	return nil
}

// Phone は電話番号の長さを検証する。
func Phone(phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return &Error{Field: "phone", Message: "Phone number is required"}
	}
	if len(phone) < MinPhoneLength {
		return &Error{Field: "phone", Message: "Please enter a valid phone number"}
	}
	return nil
}

// Account はアカウント作成フォームを検証する。メールアドレスと電話番号の両方が必須。
func Account(email, phone string) error {
	if err := Email(email); err != nil {
		return err
	}
	return Phone(phone)
}

// OTP は認証コードが6桁の数字であることを検証する。
func OTP(code string) error {
	code = strings.TrimSpace(code)
	if len(code) != 6 {
		return &Error{Field: "code", Message: "Please enter the 6-digit code"}
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return &Error{Field: "code", Message: "Please enter the 6-digit code"}
		}
	}
	return nil
}

// PromptAnswer はプロンプト回答の長さを検証する。minLenが0以下の場合はDefaultMinAnswerLengthを使う。
func PromptAnswer(answer string, minLen int) error {
	if minLen <= 0 {
		minLen = DefaultMinAnswerLength
	}
	if utf8.RuneCountInString(strings.TrimSpace(answer)) < minLen {
		return &Error{Field: "answer", Message: fmt.Sprintf("Answer must be at least %d characters", minLen)}
	}
	return nil
}
