package model

// Principal は検証済みベアラートークンから得た呼び出し元を表す。
// Firebase IDトークンの場合はUserIDが空で、Email/Phoneでユーザーを特定する。
// 自前発行トークンの場合はUserIDが設定される。
type Principal struct {
	Subject string
	UserID  string
	Email   string
	Phone   string
}
