package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/kindred/internal/model"
)

// ErrConflict は一意制約違反を表す。
var ErrConflict = errors.New("unique constraint violation")

// uniqueViolation はPostgreSQLの一意制約違反コード。
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, email, phone, firebase_uid, is_complete, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	user := &model.User{}
	var email, phone, uid sql.NullString
	if err := row.Scan(&user.ID, &email, &phone, &uid, &user.IsComplete, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	user.Email = email.String
	user.Phone = phone.String
	user.FirebaseUID = uid.String
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByIdentifier はメールアドレスまたは電話番号に一致するユーザーを取得する。
// メールアドレスは大文字小文字を区別しない。
func (r *PostgresUserRepo) FindByIdentifier(ctx context.Context, email, phone string) (*model.User, error) {
	if email == "" && phone == "" {
		return nil, nil
	}

	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE ($1::text <> '' AND lower(email) = lower($1::text))
		    OR ($2::text <> '' AND phone = $2::text)
		 ORDER BY created_at
		 LIMIT 1`,
		email, phone,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by identifier: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
// メールアドレスまたは電話番号が既存ユーザーと重複する場合はErrConflictを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, phone, firebase_uid, is_complete, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, nullString(strings.TrimSpace(user.Email)), nullString(user.Phone), nullString(user.FirebaseUID),
		user.IsComplete, user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

type ageRangeDocument struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// preferencesDocument はusers.preferences(JSONB)の保存形式。
type preferencesDocument struct {
	AgeRange            *ageRangeDocument `json:"ageRange,omitempty"`
	DistanceMax         *int              `json:"distanceMax,omitempty"`
	GenderPreference    []string          `json:"genderPreference,omitempty"`
	EthnicityPreference []string          `json:"ethnicityPreference,omitempty"`
	ReligionPreference  []string          `json:"religionPreference,omitempty"`
}

// GetPreferences はユーザーの希望条件を取得する。未設定の場合はnilを返す。
func (r *PostgresUserRepo) GetPreferences(ctx context.Context, userID string) (*model.Preferences, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT preferences FROM users WHERE id = $1`,
		userID,
	).Scan(&raw)
	if err == sql.ErrNoRows || (err == nil && raw == nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}

	var doc preferencesDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse preferences: %w", err)
	}

	prefs := &model.Preferences{
		DistanceMax:         doc.DistanceMax,
		GenderPreference:    doc.GenderPreference,
		EthnicityPreference: doc.EthnicityPreference,
		ReligionPreference:  doc.ReligionPreference,
	}
	if doc.AgeRange != nil {
		prefs.AgeRange = &model.AgeRange{Min: doc.AgeRange.Min, Max: doc.AgeRange.Max}
	}
	return prefs, nil
}

// UpdatePreferences はユーザーの希望条件を上書きする。
func (r *PostgresUserRepo) UpdatePreferences(ctx context.Context, userID string, prefs *model.Preferences) error {
	doc := preferencesDocument{
		DistanceMax:         prefs.DistanceMax,
		GenderPreference:    prefs.GenderPreference,
		EthnicityPreference: prefs.EthnicityPreference,
		ReligionPreference:  prefs.ReligionPreference,
	}
	if prefs.AgeRange != nil {
		doc.AgeRange = &ageRangeDocument{Min: prefs.AgeRange.Min, Max: prefs.AgeRange.Max}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET preferences = $2::jsonb, updated_at = now() WHERE id = $1`,
		userID, string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to update preferences: %w", err)
	}
	return requireAffected(result, "user", userID)
}

// MarkComplete はプロフィール完成フラグを立てる。
func (r *PostgresUserRepo) MarkComplete(ctx context.Context, userID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_complete = true, updated_at = now() WHERE id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark profile complete: %w", err)
	}
	return requireAffected(result, "user", userID)
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するprofiles、profile_images、prompts、interactions、matchesはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return requireAffected(result, "user", id)
}

func requireAffected(result sql.Result, kind, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s not found: %s", kind, id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
