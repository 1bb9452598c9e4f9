// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// メールアドレスと電話番号のいずれか（通常は両方）で識別される。
type User struct {
	ID          string
	Email       string
	Phone       string
	FirebaseUID string
	IsComplete  bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AgeRange は希望年齢の範囲を表す。
type AgeRange struct {
	Min int
	Max int
}

// Preferences はユーザーのマッチング希望条件を表す。
// 未設定の項目はnil（スライスは空）で表す。
type Preferences struct {
	AgeRange            *AgeRange
	DistanceMax         *int
	GenderPreference    []string
	EthnicityPreference []string
	ReligionPreference  []string
}

// ExistenceStatus はユーザー存在確認の結果を表す。
type ExistenceStatus string

// 存在確認の結果値
const (
	ExistenceExists   ExistenceStatus = "exists"
	ExistenceNotFound ExistenceStatus = "not_found"
	ExistenceError    ExistenceStatus = "error"
)

// ParseExistenceStatus は文字列を ExistenceStatus に変換する。
// 未知の値は ExistenceError として扱う。
func ParseExistenceStatus(s string) ExistenceStatus {
	switch ExistenceStatus(s) {
	case ExistenceExists:
		return ExistenceExists
	case ExistenceNotFound:
		return ExistenceNotFound
	default:
		return ExistenceError
	}
}

// ステータス形式レスポンスの status 値
const (
	StatusSuccess = "success"
	StatusError   = "error"
)
