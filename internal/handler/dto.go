package handler

import (
	"time"

	"github.com/hitoshi/kindred/internal/model"
	"github.com/hitoshi/kindred/internal/profile"
)

// profileDetailsJSON はプロフィール詳細のJSON表現。未入力項目は省略する。
type profileDetailsJSON struct {
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

func toDetailsJSON(d *model.ProfileDetails) *profileDetailsJSON {
	if d == nil {
		return nil
	}
	return &profileDetailsJSON{
		Name: d.Name, Bio: d.Bio, Birthdate: d.Birthdate, Pronouns: d.Pronouns,
		Gender: d.Gender, Sexuality: d.Sexuality, Height: d.Height, Location: d.Location,
		Job: d.Job, Company: d.Company, School: d.School, Ethnicity: d.Ethnicity,
		Politics: d.Politics, Religion: d.Religion, RelationshipType: d.RelationshipType,
		DatingIntention: d.DatingIntention, Drinks: d.Drinks, Smokes: d.Smokes,
	}
}

func (j *profileDetailsJSON) toModel() *model.ProfileDetails {
	return &model.ProfileDetails{
		Name: j.Name, Bio: j.Bio, Birthdate: j.Birthdate, Pronouns: j.Pronouns,
		Gender: j.Gender, Sexuality: j.Sexuality, Height: j.Height, Location: j.Location,
		Job: j.Job, Company: j.Company, School: j.School, Ethnicity: j.Ethnicity,
		Politics: j.Politics, Religion: j.Religion, RelationshipType: j.RelationshipType,
		DatingIntention: j.DatingIntention, Drinks: j.Drinks, Smokes: j.Smokes,
	}
}

// imageJSON はプロフィール画像のJSON表現。
type imageJSON struct {
	ID    string `json:"id,omitempty"`
	URL   string `json:"url"`
	Order int    `json:"order"`
}

// promptJSON はプロンプトのJSON表現。
type promptJSON struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Order    int    `json:"order"`
}

func toPromptJSON(p model.Prompt) promptJSON {
	return promptJSON{ID: p.ID, Question: p.Question, Answer: p.Answer, Order: p.Order}
}

func toPromptsJSON(prompts []model.Prompt) []promptJSON {
	out := make([]promptJSON, len(prompts))
	for i, p := range prompts {
		out[i] = toPromptJSON(p)
	}
	return out
}

// userProfileJSON は /profile/me と /feed で返すプロフィール。
type userProfileJSON struct {
	ID      string              `json:"id"`
	Images  []imageJSON         `json:"images,omitempty"`
	Prompts []promptJSON        `json:"prompts,omitempty"`
	Details *profileDetailsJSON `json:"details,omitempty"`
}

func toUserProfileJSON(v *profile.View) userProfileJSON {
	resp := userProfileJSON{ID: v.UserID, Details: toDetailsJSON(v.Details)}
	for _, img := range v.Images {
		resp.Images = append(resp.Images, imageJSON{ID: img.ID, URL: img.URL, Order: img.Order})
	}
	if len(v.Prompts) > 0 {
		resp.Prompts = toPromptsJSON(v.Prompts)
	}
	return resp
}

// storedImageJSON は登録直後の画像。URLの代わりにオブジェクトキーを返す。
type storedImageJSON struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Order int    `json:"order"`
}

func toStoredImageJSON(img *model.Image) *storedImageJSON {
	return &storedImageJSON{ID: img.ID, Key: img.ObjectKey, Order: img.Order}
}

// ageRangeJSON は希望年齢のJSON表現。
type ageRangeJSON struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// preferencesJSON は希望条件のJSON表現。
type preferencesJSON struct {
	AgeRange            *ageRangeJSON `json:"age_range,omitempty"`
	DistanceMax         *int          `json:"distance_max,omitempty"`
	GenderPreference    []string      `json:"gender_preference,omitempty"`
	EthnicityPreference []string      `json:"ethnicity_preference,omitempty"`
	ReligionPreference  []string      `json:"religion_preference,omitempty"`
}

func toPreferencesJSON(p *model.Preferences) preferencesJSON {
	resp := preferencesJSON{
		DistanceMax:         p.DistanceMax,
		GenderPreference:    p.GenderPreference,
		EthnicityPreference: p.EthnicityPreference,
		ReligionPreference:  p.ReligionPreference,
	}
	if p.AgeRange != nil {
		resp.AgeRange = &ageRangeJSON{Min: p.AgeRange.Min, Max: p.AgeRange.Max}
	}
	return resp
}

func (j *preferencesJSON) toModel() *model.Preferences {
	prefs := &model.Preferences{
		DistanceMax:         j.DistanceMax,
		GenderPreference:    j.GenderPreference,
		EthnicityPreference: j.EthnicityPreference,
		ReligionPreference:  j.ReligionPreference,
	}
	if j.AgeRange != nil {
		prefs.AgeRange = &model.AgeRange{Min: j.AgeRange.Min, Max: j.AgeRange.Max}
	}
	return prefs
}

// contextJSON はLIKEの対象のJSON表現。
type contextJSON struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// interactionJSON は受信したLIKEのJSON表現。
type interactionJSON struct {
	ID         string       `json:"id"`
	FromUserID string       `json:"from_user_id"`
	ToUserID   string       `json:"to_user_id"`
	Action     string       `json:"action"`
	Context    *contextJSON `json:"context,omitempty"`
	Comment    *string      `json:"comment,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

func toInteractionJSON(in model.Interaction) interactionJSON {
	resp := interactionJSON{
		ID:         in.ID,
		FromUserID: in.FromUserID,
		ToUserID:   in.ToUserID,
		Action:     string(in.Action),
		Comment:    in.Comment,
		CreatedAt:  in.CreatedAt,
	}
	if in.Context != nil {
		resp.Context = &contextJSON{Type: in.Context.Type, ID: in.Context.ID}
	}
	return resp
}

// matchUserJSON はマッチ相手の概要。
type matchUserJSON struct {
	ID   string  `json:"id"`
	Name *string `json:"name,omitempty"`
}

// messagePreviewJSON はマッチ一覧に表示する最新メッセージ。
type messagePreviewJSON struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	IsRead    bool      `json:"is_read"`
}

// matchSummaryJSON はマッチ一覧の1行。
type matchSummaryJSON struct {
	ID          string              `json:"id"`
	WithUser    matchUserJSON       `json:"with_user"`
	LastMessage *messagePreviewJSON `json:"last_message,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

func toMatchSummaryJSON(s model.MatchSummary) matchSummaryJSON {
	resp := matchSummaryJSON{
		ID:        s.Match.ID,
		WithUser:  matchUserJSON{ID: s.WithUserID, Name: s.WithName},
		CreatedAt: s.Match.CreatedAt,
	}
	if m := s.LastMessage; m != nil {
		resp.LastMessage = &messagePreviewJSON{Text: m.Text, CreatedAt: m.CreatedAt, IsRead: m.IsRead}
	}
	return resp
}

// messageJSON はメッセージのJSON表現。
type messageJSON struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

func toMessageJSON(m model.Message) messageJSON {
	return messageJSON{ID: m.ID, SenderID: m.SenderID, Text: m.Text, IsRead: m.IsRead, CreatedAt: m.CreatedAt}
}
