package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/kindred/internal/model"
)

// PostgresInteractionRepo はPostgreSQLを使用した操作記録リポジトリ。
type PostgresInteractionRepo struct {
	db *sql.DB
}

// NewPostgresInteractionRepo はPostgresInteractionRepoを生成する。
func NewPostgresInteractionRepo(db *sql.DB) *PostgresInteractionRepo {
	return &PostgresInteractionRepo{db: db}
}

// Record は操作を (from, to) 単位でUPSERTし、相互LIKEならマッチを作成する。
// UPSERT、相手側LIKEの確認、マッチ作成は同一トランザクションで行う。
func (r *PostgresInteractionRepo) Record(ctx context.Context, in *model.Interaction) (*model.Match, error) {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}

	var contextType, contextID sql.NullString
	if in.Context != nil {
		contextType = nullString(in.Context.Type)
		contextID = nullString(in.Context.ID)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. 操作をUPSERT
	_, err = tx.ExecContext(ctx,
		`INSERT INTO interactions (id, from_user_id, to_user_id, action, context_type, context_id, comment, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (from_user_id, to_user_id)
		 DO UPDATE SET action = EXCLUDED.action, context_type = EXCLUDED.context_type,
		               context_id = EXCLUDED.context_id, comment = EXCLUDED.comment,
		               created_at = EXCLUDED.created_at`,
		in.ID, in.FromUserID, in.ToUserID, string(in.Action), contextType, contextID, in.Comment, in.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert interaction: %w", err)
	}

	if in.Action != model.ActionLike {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil, nil
	}

	// 2. 相手からのLIKEを確認
	var reciprocal bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM interactions
		     WHERE from_user_id = $1 AND to_user_id = $2 AND action = 'LIKE'
		 )`,
		in.ToUserID, in.FromUserID,
	).Scan(&reciprocal)
	if err != nil {
		return nil, fmt.Errorf("failed to check reciprocal like: %w", err)
	}
	if !reciprocal {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil, nil
	}

	// 3. マッチを作成（既存なら取得）
	a, b := in.FromUserID, in.ToUserID
	if b < a {
		a, b = b, a
	}
	match := &model.Match{}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO matches (id, user_a, user_b, created_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (user_a, user_b) DO UPDATE SET user_a = matches.user_a
		 RETURNING id, user_a, user_b, created_at`,
		uuid.New().String(), a, b,
	).Scan(&match.ID, &match.UserA, &match.UserB, &match.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create match: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return match, nil
}

// ListReceived は指定ユーザー宛の操作を新しい順に返す。
func (r *PostgresInteractionRepo) ListReceived(ctx context.Context, userID string, action model.Action) ([]model.Interaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, from_user_id, to_user_id, action, context_type, context_id, comment, created_at
		 FROM interactions WHERE to_user_id = $1 AND action = $2
		 ORDER BY created_at DESC`,
		userID, string(action),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list received interactions: %w", err)
	}
	defer rows.Close()

	var result []model.Interaction
	for rows.Next() {
		var (
			in             model.Interaction
			act            string
			ctxType, ctxID sql.NullString
			comment        sql.NullString
		)
		if err := rows.Scan(&in.ID, &in.FromUserID, &in.ToUserID, &act, &ctxType, &ctxID, &comment, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		in.Action = model.Action(act)
		if ctxType.Valid {
			in.Context = &model.InteractionContext{Type: ctxType.String, ID: ctxID.String}
		}
		if comment.Valid {
			in.Comment = &comment.String
		}
		result = append(result, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate interactions: %w", err)
	}
	return result, nil
}

// DeletePassesBefore はcutoffより前に記録されたPASSを削除し、削除件数を返す。
func (r *PostgresInteractionRepo) DeletePassesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM interactions WHERE action = 'PASS' AND created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired passes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ InteractionRepository = (*PostgresInteractionRepo)(nil)
