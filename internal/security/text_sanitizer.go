package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はユーザーが入力したプレーンテキスト（自己紹介、プロンプト回答、メッセージ）から
// HTMLを取り除く。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はすべてのタグを除去するポリシーでTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、エスケープされた実体参照を元の文字に戻して前後の空白を削る。
func (s *TextSanitizer) Sanitize(text string) string {
	if text == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(text)))
}

// SanitizePtr はnilを保ったままSanitizeを適用する。
func (s *TextSanitizer) SanitizePtr(text *string) *string {
	if text == nil {
		return nil
	}
	v := s.Sanitize(*text)
	return &v
}
