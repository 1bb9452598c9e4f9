package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/kindred/internal/model"
)

// PostgresImageRepo はPostgreSQLを使用したプロフィール画像リポジトリ。
type PostgresImageRepo struct {
	db *sql.DB
}

// NewPostgresImageRepo はPostgresImageRepoを生成する。
func NewPostgresImageRepo(db *sql.DB) *PostgresImageRepo {
	return &PostgresImageRepo{db: db}
}

// ListByUserID はユーザーの画像を表示順で返す。
func (r *PostgresImageRepo) ListByUserID(ctx context.Context, userID string) ([]model.Image, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, object_key, position, created_at
		 FROM profile_images WHERE user_id = $1 ORDER BY position`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	defer rows.Close()

	var images []model.Image
	for rows.Next() {
		var img model.Image
		if err := rows.Scan(&img.ID, &img.UserID, &img.ObjectKey, &img.Order, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate images: %w", err)
	}
	return images, nil
}

// CountByUserID はユーザーの画像枚数を返す。
func (r *PostgresImageRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM profile_images WHERE user_id = $1`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count images: %w", err)
	}
	return count, nil
}

// Append は画像を末尾に追加する。
// 同一ユーザーの同時追加は一意制約(user_id, position)で検出し、ErrConflictを返す。
func (r *PostgresImageRepo) Append(ctx context.Context, userID, objectKey string) (*model.Image, error) {
	img := &model.Image{
		ID:        uuid.New().String(),
		UserID:    userID,
		ObjectKey: objectKey,
		CreatedAt: time.Now().UTC(),
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO profile_images (id, user_id, object_key, position, created_at)
		 SELECT $1, $2, $3, COALESCE(MAX(position), 0) + 1, $4
		 FROM profile_images WHERE user_id = $2
		 RETURNING position`,
		img.ID, img.UserID, img.ObjectKey, img.CreatedAt,
	).Scan(&img.Order)
	if isUniqueViolation(err) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to append image: %w", err)
	}
	return img, nil
}

// Delete は指定画像を削除する。該当がない場合はfalseを返す。
func (r *PostgresImageRepo) Delete(ctx context.Context, userID, imageID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM profile_images WHERE id = $1 AND user_id = $2`,
		imageID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete image: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ ImageRepository = (*PostgresImageRepo)(nil)
