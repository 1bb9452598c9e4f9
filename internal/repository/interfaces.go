// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/kindred/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByIdentifier はメールアドレスまたは電話番号に一致するユーザーを取得する。
	// 空文字の識別子は検索条件に含めない。見つからない場合はnilを返す。
	FindByIdentifier(ctx context.Context, email, phone string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error

	// GetPreferences はユーザーの希望条件を取得する。未設定の場合はnilを返す。
	GetPreferences(ctx context.Context, userID string) (*model.Preferences, error)

	// UpdatePreferences はユーザーの希望条件を上書きする。
	UpdatePreferences(ctx context.Context, userID string, prefs *model.Preferences) error

	// MarkComplete はプロフィール完成フラグを立てる。
	MarkComplete(ctx context.Context, userID string) error

	// DeleteByID は指定IDのユーザーを削除する。
	// プロフィール、画像、プロンプト、操作記録、マッチはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// ProfileRepository はプロフィール詳細の永続化インターフェース。
type ProfileRepository interface {
	// FindDetails はプロフィール詳細を取得する。未作成の場合はnilを返す。
	FindDetails(ctx context.Context, userID string) (*model.ProfileDetails, error)

	// UpsertDetails はプロフィール詳細を部分更新する。
	// nilのフィールドは変更せず既存の値を維持する。
	UpsertDetails(ctx context.Context, userID string, details *model.ProfileDetails) error

	// ListSuggestions はフィードに表示する候補プロフィールを返す。
	// 自分自身と、自分が既に操作したユーザーは除外する。
	// gendersが空でない場合は性別で絞り込む。
	ListSuggestions(ctx context.Context, userID string, genders []string, limit int) ([]Suggestion, error)
}

// ImageRepository はプロフィール画像の永続化インターフェース。
type ImageRepository interface {
	// ListByUserID はユーザーの画像を表示順で返す。
	ListByUserID(ctx context.Context, userID string) ([]model.Image, error)

	// CountByUserID はユーザーの画像枚数を返す。
	CountByUserID(ctx context.Context, userID string) (int, error)

	// Append は画像を末尾に追加する。表示順は既存の最大値+1になる。
	Append(ctx context.Context, userID, objectKey string) (*model.Image, error)

	// Delete は指定画像を削除する。該当がない場合はfalseを返す。
	Delete(ctx context.Context, userID, imageID string) (bool, error)
}

// PromptRepository はプロフィールプロンプトの永続化インターフェース。
type PromptRepository interface {
	// ListByUserID はユーザーのプロンプトを表示順で返す。
	ListByUserID(ctx context.Context, userID string) ([]model.Prompt, error)

	// CountByUserID はユーザーのプロンプト数を返す。
	CountByUserID(ctx context.Context, userID string) (int, error)

	// Create はプロンプトを末尾に追加する。Orderは採番した値で上書きされる。
	Create(ctx context.Context, prompt *model.Prompt) error

	// UpdateByOrder は表示順で指定したプロンプトを更新する。該当がない場合はfalseを返す。
	UpdateByOrder(ctx context.Context, userID string, order int, question, answer string) (bool, error)

	// DeleteByOrder は表示順で指定したプロンプトを削除する。該当がない場合はfalseを返す。
	DeleteByOrder(ctx context.Context, userID string, order int) (bool, error)
}

// InteractionRepository はユーザー間操作の永続化インターフェース。
type InteractionRepository interface {
	// Record は操作を (from, to) 単位でUPSERTする。
	// LIKEが相互に成立した場合はマッチを作成（既存なら取得）して返す。
	// マッチが成立しない場合はnilを返す。
	Record(ctx context.Context, in *model.Interaction) (*model.Match, error)

	// ListReceived は指定ユーザー宛の操作を新しい順に返す。
	ListReceived(ctx context.Context, userID string, action model.Action) ([]model.Interaction, error)

	// DeletePassesBefore はcutoffより前のPASSを削除し、削除件数を返す。
	DeletePassesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MatchRepository はマッチとメッセージの永続化インターフェース。
type MatchRepository interface {
	// FindByID は指定IDのマッチを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Match, error)

	// ListByUserID はユーザーが参加するマッチを最終メッセージ付きで返す。
	ListByUserID(ctx context.Context, userID string) ([]model.MatchSummary, error)

	// ListMessages はマッチ内のメッセージを古い順に返す。
	ListMessages(ctx context.Context, matchID string, limit int) ([]model.Message, error)

	// CreateMessage はメッセージを保存する。
	CreateMessage(ctx context.Context, msg *model.Message) error

	// MarkRead は相手から届いた未読メッセージを既読にする。
	MarkRead(ctx context.Context, matchID, readerID string) error
}

// Suggestion はフィード候補のプロフィールを表す。
type Suggestion struct {
	UserID    string
	Details   model.ProfileDetails
	ImageKeys []string
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
