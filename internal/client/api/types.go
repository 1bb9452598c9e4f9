package api

import "time"

// LoginResponse は電話番号ログイン開始の応答。
type LoginResponse struct {
	Message        string `json:"message"`
	VerificationID string `json:"verification_id"`
}

// AuthUser は認証完了時に返るユーザー概要。
type AuthUser struct {
	ID                string `json:"id"`
	IsProfileComplete bool   `json:"is_profile_complete"`
	IsNewUser         bool   `json:"is_new_user"`
}

// AuthResponse は電話番号認証完了の応答。
type AuthResponse struct {
	Token string   `json:"token"`
	User  AuthUser `json:"user"`
}

// ステータス応答のstatus値
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// StatusResponse は {status, message} 形式の応答。
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// OK はstatusがsuccessかどうかを返す。
func (r *StatusResponse) OK() bool {
	return r.Status == StatusSuccess
}

// ExistenceStatus はユーザー存在確認の結果。
type ExistenceStatus string

const (
	ExistenceExists   ExistenceStatus = "exists"
	ExistenceNotFound ExistenceStatus = "not_found"
	ExistenceError    ExistenceStatus = "error"
)

// Identifier は存在確認とアカウント作成で送るメールアドレスと電話番号。
type Identifier struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// ExistsResponse はユーザー存在確認の応答。
type ExistsResponse struct {
	Status  ExistenceStatus `json:"status"`
	Message string          `json:"message,omitempty"`
}

// ProfileDetails はプロフィール詳細。未入力項目はnil。
type ProfileDetails struct {
	Name             *string `json:"name,omitempty"`
	Bio              *string `json:"bio,omitempty"`
	Birthdate        *string `json:"birthdate,omitempty"`
	Pronouns         *string `json:"pronouns,omitempty"`
	Gender           *string `json:"gender,omitempty"`
	Sexuality        *string `json:"sexuality,omitempty"`
	Height           *int    `json:"height,omitempty"`
	Location         *string `json:"location,omitempty"`
	Job              *string `json:"job,omitempty"`
	Company          *string `json:"company,omitempty"`
	School           *string `json:"school,omitempty"`
	Ethnicity        *string `json:"ethnicity,omitempty"`
	Politics         *string `json:"politics,omitempty"`
	Religion         *string `json:"religion,omitempty"`
	RelationshipType *string `json:"relationship_type,omitempty"`
	DatingIntention  *string `json:"dating_intention,omitempty"`
	Drinks           *string `json:"drinks,omitempty"`
	Smokes           *string `json:"smokes,omitempty"`
}

// Merge はpatchのnilでない項目でdを上書きした新しい値を返す。
func (d ProfileDetails) Merge(patch ProfileDetails) ProfileDetails {
	merged := d
	pick := func(dst **string, src *string) {
		if src != nil {
			*dst = src
		}
	}
	pick(&merged.Name, patch.Name)
	pick(&merged.Bio, patch.Bio)
	pick(&merged.Birthdate, patch.Birthdate)
	pick(&merged.Pronouns, patch.Pronouns)
	pick(&merged.Gender, patch.Gender)
	pick(&merged.Sexuality, patch.Sexuality)
	if patch.Height != nil {
		merged.Height = patch.Height
	}
	pick(&merged.Location, patch.Location)
	pick(&merged.Job, patch.Job)
	pick(&merged.Company, patch.Company)
	pick(&merged.School, patch.School)
	pick(&merged.Ethnicity, patch.Ethnicity)
	pick(&merged.Politics, patch.Politics)
	pick(&merged.Religion, patch.Religion)
	pick(&merged.RelationshipType, patch.RelationshipType)
	pick(&merged.DatingIntention, patch.DatingIntention)
	pick(&merged.Drinks, patch.Drinks)
	pick(&merged.Smokes, patch.Smokes)
	return merged
}

// UserImage はプロフィール画像。URLは署名付き。
type UserImage struct {
	ID    string `json:"id,omitempty"`
	URL   string `json:"url"`
	Order int    `json:"order"`
}

// UserPrompt はプロフィールの質問と回答。
type UserPrompt struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Order    int    `json:"order"`
}

// UserProfile は /profile/me と /feed で返るプロフィール。
type UserProfile struct {
	ID      string          `json:"id"`
	Images  []UserImage     `json:"images,omitempty"`
	Prompts []UserPrompt    `json:"prompts,omitempty"`
	Details *ProfileDetails `json:"details,omitempty"`
}

// FeedResponse はフィードの応答。
type FeedResponse struct {
	Profiles []UserProfile `json:"profiles"`
}

// StoredImage は登録された画像のオブジェクトキー。
type StoredImage struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Order int    `json:"order"`
}

// ImageResult は画像登録の応答。
type ImageResult struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Image   *StoredImage `json:"image"`
}

// UploadTarget は署名付きアップロードURLの応答。
type UploadTarget struct {
	UploadURL string `json:"upload_url"`
	Key       string `json:"key"`
}

// PromptResult はプロンプト作成の応答。
type PromptResult struct {
	Status  string     `json:"status"`
	Message string     `json:"message"`
	Prompt  UserPrompt `json:"prompt"`
}

// AgeRange は希望年齢の範囲。
type AgeRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Preferences は希望条件。未設定項目はnil。
type Preferences struct {
	AgeRange            *AgeRange `json:"age_range,omitempty"`
	DistanceMax         *int      `json:"distance_max,omitempty"`
	GenderPreference    []string  `json:"gender_preference,omitempty"`
	EthnicityPreference []string  `json:"ethnicity_preference,omitempty"`
	ReligionPreference  []string  `json:"religion_preference,omitempty"`
}

// Merge はpatchの設定済み項目でpを上書きした新しい値を返す。
func (p Preferences) Merge(patch Preferences) Preferences {
	merged := p
	if patch.AgeRange != nil {
		merged.AgeRange = patch.AgeRange
	}
	if patch.DistanceMax != nil {
		merged.DistanceMax = patch.DistanceMax
	}
	if patch.GenderPreference != nil {
		merged.GenderPreference = patch.GenderPreference
	}
	if patch.EthnicityPreference != nil {
		merged.EthnicityPreference = patch.EthnicityPreference
	}
	if patch.ReligionPreference != nil {
		merged.ReligionPreference = patch.ReligionPreference
	}
	return merged
}

// PreferencesUpdate は希望条件の更新要求。本人識別のためにメールアドレスと電話番号を添える。
type PreferencesUpdate struct {
	Preferences
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Action はLIKEまたはPASS。
type Action string

const (
	ActionLike Action = "LIKE"
	ActionPass Action = "PASS"
)

// InteractionContext はLIKEの対象（画像やプロンプト）。
type InteractionContext struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// InteractRequest はLIKE/PASSの要求。
type InteractRequest struct {
	TargetUserID string              `json:"target_user_id"`
	Action       Action              `json:"action"`
	Context      *InteractionContext `json:"context,omitempty"`
	Comment      *string             `json:"comment,omitempty"`
}

// 操作結果のstatus値
const (
	InteractMatch = "MATCH"
	InteractSent  = "SENT"
)

// InteractResponse はLIKE/PASSの応答。
type InteractResponse struct {
	Status  string `json:"status"`
	MatchID string `json:"match_id,omitempty"`
}

// Like は受信したLIKE。
type Like struct {
	ID         string              `json:"id"`
	FromUserID string              `json:"from_user_id"`
	ToUserID   string              `json:"to_user_id"`
	Action     Action              `json:"action"`
	Context    *InteractionContext `json:"context,omitempty"`
	Comment    *string             `json:"comment,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

// MatchUser はマッチ相手の概要。
type MatchUser struct {
	ID   string  `json:"id"`
	Name *string `json:"name,omitempty"`
}

// MessagePreview はマッチ一覧の最新メッセージ。
type MessagePreview struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	IsRead    bool      `json:"is_read"`
}

// MatchSummary はマッチ一覧の1件。
type MatchSummary struct {
	ID          string          `json:"id"`
	WithUser    MatchUser       `json:"with_user"`
	LastMessage *MessagePreview `json:"last_message,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Message はマッチ内のメッセージ。
type Message struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}
