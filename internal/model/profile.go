package model

import "time"

// プロフィール完成条件
const (
	RequiredImageCount  = 6
	RequiredPromptCount = 3
)

// ProfileDetails はプロフィールの詳細項目を表す。
// すべて任意項目で、未入力はnilで表す。
type ProfileDetails struct {
	Name             *string
	Bio              *string
	Birthdate        *string
	Pronouns         *string
	Gender           *string
	Sexuality        *string
	Height           *int
	Location         *string
	Job              *string
	Company          *string
	School           *string
	Ethnicity        *string
	Politics         *string
	Religion         *string
	RelationshipType *string
	DatingIntention  *string
	Drinks           *string
	Smokes           *string
}

// HasName は名前が入力済みかどうかを返す。
func (d *ProfileDetails) HasName() bool {
	return d != nil && d.Name != nil && *d.Name != ""
}

// MissingFieldCount は未入力の詳細項目数を返す。
func (d *ProfileDetails) MissingFieldCount() int {
	if d == nil {
		return detailFieldCount
	}
	missing := 0
	for _, v := range []*string{
		d.Name, d.Bio, d.Birthdate, d.Pronouns, d.Gender, d.Sexuality,
		d.Location, d.Job, d.Company, d.School, d.Ethnicity, d.Politics,
		d.Religion, d.RelationshipType, d.DatingIntention, d.Drinks, d.Smokes,
	} {
		if v == nil || *v == "" {
			missing++
		}
	}
	if d.Height == nil || *d.Height <= 0 {
		missing++
	}
	return missing
}

// detailFieldCount は詳細項目の総数。
const detailFieldCount = 18

// Image はプロフィール画像を表す。
// ObjectKey はオブジェクトストレージ上のキー。
type Image struct {
	ID        string
	UserID    string
	ObjectKey string
	Order     int
	CreatedAt time.Time
}

// Prompt はプロフィールの質問と回答を表す。
type Prompt struct {
	ID        string
	UserID    string
	Question  string
	Answer    string
	Order     int
	CreatedAt time.Time
}

// Profile はユーザーのプロフィール全体を表す。
type Profile struct {
	UserID  string
	Details *ProfileDetails
	Images  []Image
	Prompts []Prompt
}
