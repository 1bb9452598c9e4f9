package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/kindred/internal/model"
)

// PostgresPromptRepo はPostgreSQLを使用したプロンプトリポジトリ。
type PostgresPromptRepo struct {
	db *sql.DB
}

// NewPostgresPromptRepo はPostgresPromptRepoを生成する。
func NewPostgresPromptRepo(db *sql.DB) *PostgresPromptRepo {
	return &PostgresPromptRepo{db: db}
}

// ListByUserID はユーザーのプロンプトを表示順で返す。
func (r *PostgresPromptRepo) ListByUserID(ctx context.Context, userID string) ([]model.Prompt, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, question, answer, position, created_at
		 FROM prompts WHERE user_id = $1 ORDER BY position`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	defer rows.Close()

	var prompts []model.Prompt
	for rows.Next() {
		var p model.Prompt
		if err := rows.Scan(&p.ID, &p.UserID, &p.Question, &p.Answer, &p.Order, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		prompts = append(prompts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prompts: %w", err)
	}
	return prompts, nil
}

// CountByUserID はユーザーのプロンプト数を返す。
func (r *PostgresPromptRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM prompts WHERE user_id = $1`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count prompts: %w", err)
	}
	return count, nil
}

// Create はプロンプトを末尾に追加する。
func (r *PostgresPromptRepo) Create(ctx context.Context, prompt *model.Prompt) error {
	if prompt.ID == "" {
		prompt.ID = uuid.New().String()
	}
	if prompt.CreatedAt.IsZero() {
		prompt.CreatedAt = time.Now().UTC()
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO prompts (id, user_id, question, answer, position, created_at, updated_at)
		 SELECT $1, $2, $3, $4, COALESCE(MAX(position), 0) + 1, $5, $5
		 FROM prompts WHERE user_id = $2
		 RETURNING position`,
		prompt.ID, prompt.UserID, prompt.Question, prompt.Answer, prompt.CreatedAt,
	).Scan(&prompt.Order)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create prompt: %w", err)
	}
	return nil
}

// UpdateByOrder は表示順で指定したプロンプトを更新する。
func (r *PostgresPromptRepo) UpdateByOrder(ctx context.Context, userID string, order int, question, answer string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE prompts SET question = $3, answer = $4, updated_at = now()
		 WHERE user_id = $1 AND position = $2`,
		userID, order, question, answer,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update prompt: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteByOrder は表示順で指定したプロンプトを削除する。
func (r *PostgresPromptRepo) DeleteByOrder(ctx context.Context, userID string, order int) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM prompts WHERE user_id = $1 AND position = $2`,
		userID, order,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete prompt: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ PromptRepository = (*PostgresPromptRepo)(nil)
