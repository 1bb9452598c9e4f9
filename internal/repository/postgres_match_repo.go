package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/kindred/internal/model"
)

// PostgresMatchRepo はPostgreSQLを使用したマッチ・メッセージリポジトリ。
type PostgresMatchRepo struct {
	db *sql.DB
}

// NewPostgresMatchRepo はPostgresMatchRepoを生成する。
func NewPostgresMatchRepo(db *sql.DB) *PostgresMatchRepo {
	return &PostgresMatchRepo{db: db}
}

// FindByID は指定IDのマッチを取得する。見つからない場合はnilを返す。
func (r *PostgresMatchRepo) FindByID(ctx context.Context, id string) (*model.Match, error) {
	m := &model.Match{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_a, user_b, created_at FROM matches WHERE id = $1`,
		id,
	).Scan(&m.ID, &m.UserA, &m.UserB, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find match by ID: %w", err)
	}
	return m, nil
}

// ListByUserID はユーザーが参加するマッチを最終メッセージ付きで返す。
// 最終メッセージが新しい順（メッセージがない場合はマッチ成立日時）に並べる。
func (r *PostgresMatchRepo) ListByUserID(ctx context.Context, userID string) ([]model.MatchSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT m.id, m.user_a, m.user_b, m.created_at,
		        p.name,
		        lm.id, lm.sender_id, lm.body, lm.is_read, lm.created_at
		 FROM matches m
		 LEFT JOIN profiles p
		        ON p.user_id = CASE WHEN m.user_a = $1 THEN m.user_b ELSE m.user_a END
		 LEFT JOIN LATERAL (
		     SELECT id, sender_id, body, is_read, created_at
		     FROM messages WHERE match_id = m.id
		     ORDER BY created_at DESC LIMIT 1
		 ) lm ON true
		 WHERE m.user_a = $1 OR m.user_b = $1
		 ORDER BY COALESCE(lm.created_at, m.created_at) DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	var summaries []model.MatchSummary
	for rows.Next() {
		var (
			s                     model.MatchSummary
			name                  sql.NullString
			msgID, senderID, body sql.NullString
			isRead                sql.NullBool
			msgAt                 sql.NullTime
		)
		if err := rows.Scan(
			&s.Match.ID, &s.Match.UserA, &s.Match.UserB, &s.Match.CreatedAt,
			&name,
			&msgID, &senderID, &body, &isRead, &msgAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		s.WithUserID = s.Match.OtherUser(userID)
		if name.Valid {
			s.WithName = &name.String
		}
		if msgID.Valid {
			s.LastMessage = &model.Message{
				ID:        msgID.String,
				MatchID:   s.Match.ID,
				SenderID:  senderID.String,
				Text:      body.String,
				IsRead:    isRead.Bool,
				CreatedAt: msgAt.Time,
			}
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate matches: %w", err)
	}
	return summaries, nil
}

// ListMessages はマッチ内のメッセージを古い順に返す。
// limit件を超える場合は最新のlimit件を返す。
func (r *PostgresMatchRepo) ListMessages(ctx context.Context, matchID string, limit int) ([]model.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, match_id, sender_id, body, is_read, created_at FROM (
		     SELECT id, match_id, sender_id, body, is_read, created_at
		     FROM messages WHERE match_id = $1
		     ORDER BY created_at DESC LIMIT $2
		 ) recent ORDER BY created_at`,
		matchID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var msg model.Message
		if err := rows.Scan(&msg.ID, &msg.MatchID, &msg.SenderID, &msg.Text, &msg.IsRead, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

// CreateMessage はメッセージを保存する。
func (r *PostgresMatchRepo) CreateMessage(ctx context.Context, msg *model.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, match_id, sender_id, body, is_read, created_at)
		 VALUES ($1, $2, $3, $4, false, $5)`,
		msg.ID, msg.MatchID, msg.SenderID, msg.Text, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// MarkRead は相手から届いた未読メッセージを既読にする。
func (r *PostgresMatchRepo) MarkRead(ctx context.Context, matchID, readerID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE messages SET is_read = true
		 WHERE match_id = $1 AND sender_id <> $2 AND is_read = false`,
		matchID, readerID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark messages read: %w", err)
	}
	return nil
}

// compile-time interface check
var _ MatchRepository = (*PostgresMatchRepo)(nil)
