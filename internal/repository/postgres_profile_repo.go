package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/kindred/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// detailColumns はprofilesテーブルの詳細項目カラム（user_id以外）。
var detailColumns = []string{
	"name", "bio", "birthdate", "pronouns", "gender", "sexuality", "height",
	"location", "job", "company", "school", "ethnicity", "politics", "religion",
	"relationship_type", "dating_intention", "drinks", "smokes",
}

// detailScanner はNULL許容カラムを読み取りProfileDetailsへ変換する。
type detailScanner struct {
	strs   [17]sql.NullString
	height sql.NullInt64
}

// targets はdetailColumnsの順序に対応するScan先を返す。
func (s *detailScanner) targets() []any {
	t := make([]any, 0, len(detailColumns))
	si := 0
	for _, col := range detailColumns {
		if col == "height" {
			t = append(t, &s.height)
			continue
		}
		t = append(t, &s.strs[si])
		si++
	}
	return t
}

func (s *detailScanner) details() model.ProfileDetails {
	str := func(i int) *string {
		if !s.strs[i].Valid {
			return nil
		}
		v := s.strs[i].String
		return &v
	}
	d := model.ProfileDetails{
		Name:             str(0),
		Bio:              str(1),
		Birthdate:        str(2),
		Pronouns:         str(3),
		Gender:           str(4),
		Sexuality:        str(5),
		Location:         str(6),
		Job:              str(7),
		Company:          str(8),
		School:           str(9),
		Ethnicity:        str(10),
		Politics:         str(11),
		Religion:         str(12),
		RelationshipType: str(13),
		DatingIntention:  str(14),
		Drinks:           str(15),
		Smokes:           str(16),
	}
	if s.height.Valid {
		h := int(s.height.Int64)
		d.Height = &h
	}
	return d
}

// detailValues はdetailColumnsの順序でINSERT用の値を返す。nilはNULLとして渡す。
func detailValues(d *model.ProfileDetails) []any {
	return []any{
		d.Name, d.Bio, d.Birthdate, d.Pronouns, d.Gender, d.Sexuality, d.Height,
		d.Location, d.Job, d.Company, d.School, d.Ethnicity, d.Politics, d.Religion,
		d.RelationshipType, d.DatingIntention, d.Drinks, d.Smokes,
	}
}

func prefixed(prefix string) string {
	cols := make([]string, len(detailColumns))
	for i, c := range detailColumns {
		cols[i] = prefix + c
	}
	return strings.Join(cols, ", ")
}

// FindDetails はプロフィール詳細を取得する。未作成の場合はnilを返す。
func (r *PostgresProfileRepo) FindDetails(ctx context.Context, userID string) (*model.ProfileDetails, error) {
	var s detailScanner
	err := r.db.QueryRowContext(ctx,
		`SELECT `+prefixed("")+` FROM profiles WHERE user_id = $1`,
		userID,
	).Scan(s.targets()...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile details: %w", err)
	}

	d := s.details()
	return &d, nil
}

// UpsertDetails はプロフィール詳細を部分更新する。
// UNIQUE(user_id)を利用したINSERT ON CONFLICTで、nilの項目は既存値を維持する。
func (r *PostgresProfileRepo) UpsertDetails(ctx context.Context, userID string, details *model.ProfileDetails) error {
	placeholders := make([]string, len(detailColumns))
	updates := make([]string, len(detailColumns))
	for i, col := range detailColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		updates[i] = fmt.Sprintf("%s = COALESCE(EXCLUDED.%s, profiles.%s)", col, col, col)
	}

	query := `INSERT INTO profiles (user_id, ` + prefixed("") + `, updated_at)
		 VALUES ($1, ` + strings.Join(placeholders, ", ") + `, now())
		 ON CONFLICT (user_id) DO UPDATE SET ` + strings.Join(updates, ", ") + `, updated_at = now()`

	args := append([]any{userID}, detailValues(details)...)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert profile details: %w", err)
	}
	return nil
}

// ListSuggestions はフィードに表示する候補プロフィールを返す。
// 名前未入力のプロフィール、自分自身、既に操作済みのユーザーは除外する。
// プロフィール完成済みのユーザーを優先し、更新が新しい順に並べる。
func (r *PostgresProfileRepo) ListSuggestions(ctx context.Context, userID string, genders []string, limit int) ([]Suggestion, error) {
	if genders == nil {
		genders = []string{}
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT p.user_id, `+prefixed("p.")+`,
		        COALESCE(array_agg(i.object_key ORDER BY i.position) FILTER (WHERE i.id IS NOT NULL), '{}')
		 FROM profiles p
		 JOIN users u ON u.id = p.user_id
		 LEFT JOIN profile_images i ON i.user_id = p.user_id
		 WHERE p.user_id <> $1
		   AND p.name IS NOT NULL AND p.name <> ''
		   AND NOT EXISTS (
		       SELECT 1 FROM interactions x WHERE x.from_user_id = $1 AND x.to_user_id = p.user_id
		   )
		   AND (cardinality($2::text[]) = 0 OR p.gender = ANY($2::text[]))
		 GROUP BY p.user_id, u.is_complete
		 ORDER BY u.is_complete DESC, p.updated_at DESC
		 LIMIT $3`,
		userID, pq.Array(genders), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list suggestions: %w", err)
	}
	defer rows.Close()

	var suggestions []Suggestion
	for rows.Next() {
		var (
			s    detailScanner
			sug  Suggestion
			keys []string
		)
		targets := append([]any{&sug.UserID}, s.targets()...)
		targets = append(targets, pq.Array(&keys))
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("failed to scan suggestion: %w", err)
		}
		sug.Details = s.details()
		sug.ImageKeys = keys
		suggestions = append(suggestions, sug)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate suggestions: %w", err)
	}
	return suggestions, nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
