// Package interaction はLIKE/PASS、マッチ、メッセージのドメインロジックを提供する。
package interaction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/kindred/internal/bus"
	"github.com/hitoshi/kindred/internal/metrics"
	"github.com/hitoshi/kindred/internal/model"
	"github.com/hitoshi/kindred/internal/repository"
	"github.com/hitoshi/kindred/internal/security"
)

// メッセージの制約
const (
	maxMessageLength    = 2000
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

// Publisher はドメインイベントを発行する。
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// compile-time interface check
var _ Publisher = (*bus.Bus)(nil)

// NopPublisher はイベントを破棄するPublisher。NATS未設定時に使う。
type NopPublisher struct{}

// Publish は何もしない。
func (NopPublisher) Publish(context.Context, string, any) error { return nil }

// InteractRequest はLIKE/PASSの入力。
type InteractRequest struct {
	TargetUserID string
	Action       string
	Context      *model.InteractionContext
	Comment      *string
}

// InteractResult はLIKE/PASSの結果。StatusはMATCHまたはSENT。
type InteractResult struct {
	Status  string
	MatchID string
}

// Service はユーザー間操作のサービス層。
type Service struct {
	userRepo     repository.UserRepository
	interactions repository.InteractionRepository
	matches      repository.MatchRepository
	publisher    Publisher
	sanitizer    *security.TextSanitizer
	metrics      metrics.MetricsCollector
	now          func() time.Time
}

// NewService はServiceを生成する。publisherとmcはnilの場合に何もしない実装を使う。
func NewService(
	userRepo repository.UserRepository,
	interactions repository.InteractionRepository,
	matches repository.MatchRepository,
	publisher Publisher,
	mc metrics.MetricsCollector,
) *Service {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		userRepo:     userRepo,
		interactions: interactions,
		matches:      matches,
		publisher:    publisher,
		sanitizer:    security.NewTextSanitizer(),
		metrics:      mc,
		now:          time.Now,
	}
}

// Interact はLIKEまたはPASSを記録する。
// 相手からのLIKEが既にある状態でLIKEした場合はマッチが成立しMATCHを返す。
func (s *Service) Interact(ctx context.Context, fromUserID string, req InteractRequest) (*InteractResult, error) {
	// 1. 入力検証
	action := model.Action(req.Action)
	if !action.Valid() {
		return nil, model.NewInvalidActionError(req.Action)
	}
	if req.TargetUserID == fromUserID {
		return nil, model.NewSelfInteractionError()
	}
	if _, err := uuid.Parse(req.TargetUserID); err != nil {
		return nil, model.NewInvalidInputError("Invalid target user ID")
	}

	// 2. 相手の存在確認
	target, err := s.userRepo.FindByID(ctx, req.TargetUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find target user: %w", err)
	}
	if target == nil {
		return nil, model.NewUserNotFoundError()
	}

	// 3. 記録
	in := &model.Interaction{
		FromUserID: fromUserID,
		ToUserID:   req.TargetUserID,
		Action:     action,
	}
	if action == model.ActionLike {
		in.Context = req.Context
		if c := s.sanitizer.SanitizePtr(req.Comment); c != nil && *c != "" {
			in.Comment = c
		}
	}

	match, err := s.interactions.Record(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to record interaction: %w", err)
	}
	s.metrics.RecordInteraction(string(action))

	// 4. イベント発行
	if action == model.ActionLike {
		ev := bus.LikeSent{FromUserID: fromUserID, ToUserID: req.TargetUserID, SentAt: s.now()}
		if in.Comment != nil {
			ev.Comment = *in.Comment
		}
		s.publish(ctx, bus.SubjectLikeSent, ev)
	}

	if match == nil {
		return &InteractResult{Status: model.InteractionSent}, nil
	}

	s.metrics.RecordMatch()
	slog.Info("match created",
		slog.String("match_id", match.ID),
		slog.String("user_a", match.UserA),
		slog.String("user_b", match.UserB),
	)
	s.publish(ctx, bus.SubjectMatchCreate, bus.MatchCreated{
		MatchID:   match.ID,
		UserA:     match.UserA,
		UserB:     match.UserB,
		CreatedAt: match.CreatedAt,
	})
	return &InteractResult{Status: model.InteractionMatch, MatchID: match.ID}, nil
}

// publish はイベントを発行する。失敗はログとメトリクスに残し、呼び出し元には返さない。
func (s *Service) publish(ctx context.Context, subject string, v any) {
	if err := s.publisher.Publish(ctx, subject, v); err != nil {
		s.metrics.RecordEventPublishFailure(subject)
		slog.Warn("failed to publish event",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
	}
}

// ReceivedLikes は自分宛のLIKEを新しい順に返す。
func (s *Service) ReceivedLikes(ctx context.Context, userID string) ([]model.Interaction, error) {
	likes, err := s.interactions.ListReceived(ctx, userID, model.ActionLike)
	if err != nil {
		return nil, fmt.Errorf("failed to list likes: %w", err)
	}
	return likes, nil
}

// Matches は参加しているマッチを最終メッセージ付きで返す。
func (s *Service) Matches(ctx context.Context, userID string) ([]model.MatchSummary, error) {
	summaries, err := s.matches.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	return summaries, nil
}

// Messages はマッチ内のメッセージを古い順に返し、相手からの未読を既読にする。
func (s *Service) Messages(ctx context.Context, userID, matchID string, limit int) ([]model.Message, error) {
	if _, err := s.memberMatch(ctx, userID, matchID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}

	msgs, err := s.matches.ListMessages(ctx, matchID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	if err := s.matches.MarkRead(ctx, matchID, userID); err != nil {
		slog.Warn("failed to mark messages read",
			slog.String("match_id", matchID),
			slog.String("error", err.Error()),
		)
	}
	return msgs, nil
}

// SendMessage はマッチ内にメッセージを送信する。
func (s *Service) SendMessage(ctx context.Context, userID, matchID, text string) (*model.Message, error) {
	text = s.sanitizer.Sanitize(text)
	if text == "" {
		return nil, model.NewInvalidInputError("Message text is required")
	}
	if len([]rune(text)) > maxMessageLength {
		return nil, model.NewInvalidInputError(fmt.Sprintf("Messages are limited to %d characters", maxMessageLength))
	}

	if _, err := s.memberMatch(ctx, userID, matchID); err != nil {
		return nil, err
	}

	msg := &model.Message{MatchID: matchID, SenderID: userID, Text: text}
	if err := s.matches.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	s.metrics.RecordMessageSent()
	return msg, nil
}

// memberMatch はユーザーが参加しているマッチを返す。
// 存在しない、または参加していないマッチはどちらもMATCH_NOT_FOUNDとする。
func (s *Service) memberMatch(ctx context.Context, userID, matchID string) (*model.Match, error) {
	if _, err := uuid.Parse(matchID); err != nil {
		return nil, model.NewMatchNotFoundError(matchID)
	}

	m, err := s.matches.FindByID(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to find match: %w", err)
	}
	if m == nil || (m.UserA != userID && m.UserB != userID) {
		return nil, model.NewMatchNotFoundError(matchID)
	}
	return m, nil
}
