package model

import "time"

// Action はプロフィールに対する操作種別を表す。
type Action string

// 操作種別
const (
	ActionLike Action = "LIKE"
	ActionPass Action = "PASS"
)

// Valid は定義済みの操作種別かどうかを返す。
func (a Action) Valid() bool {
	return a == ActionLike || a == ActionPass
}

// InteractionContext はLIKEの対象（画像やプロンプト）を表す。
type InteractionContext struct {
	Type string
	ID   string
}

// Interaction はユーザー間の操作記録を表す。
// (FromUserID, ToUserID) の組につき1件のみ存在する。
type Interaction struct {
	ID         string
	FromUserID string
	ToUserID   string
	Action     Action
	Context    *InteractionContext
	Comment    *string
	CreatedAt  time.Time
}

// 操作結果
const (
	InteractionMatch = "MATCH"
	InteractionSent  = "SENT"
)

// Match は相互LIKEにより成立したマッチを表す。
// UserA, UserB はIDの昇順で保持する。
type Match struct {
	ID        string
	UserA     string
	UserB     string
	CreatedAt time.Time
}

// OtherUser は指定ユーザーから見た相手のIDを返す。
func (m *Match) OtherUser(userID string) string {
	if m.UserA == userID {
		return m.UserB
	}
	return m.UserA
}

// Message はマッチ内のメッセージを表す。
type Message struct {
	ID        string
	MatchID   string
	SenderID  string
	Text      string
	IsRead    bool
	CreatedAt time.Time
}

// MatchSummary はマッチ一覧の1行を表す。
type MatchSummary struct {
	Match       Match
	WithUserID  string
	WithName    *string
	LastMessage *Message
}
