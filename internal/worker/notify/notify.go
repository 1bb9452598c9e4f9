// Package notify はドメインイベントを購読し、ユーザーへの通知に変換するワーカーを提供する。
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/kindred/internal/bus"
)

// 購読に使うdurableコンシューマ名
const (
	DurableMatchCreated = "notify-match-created"
	DurableLikeSent     = "notify-like-sent"
)

// 通知の種別
const (
	KindMatch = "match"
	KindLike  = "like"
)

// DefaultMaxConcurrency は1イベントあたりの並行通知数のデフォルト値。
const DefaultMaxConcurrency = 4

// Notification はユーザー1人に届ける通知。
type Notification struct {
	UserID      string
	Kind        string
	MatchID     string
	OtherUserID string
	Comment     string
}

// Notifier は通知を配送する。
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Subscriber はサブジェクトを購読する。*bus.Busが満たす。
type Subscriber interface {
	Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error)
}

// compile-time interface check
var _ Subscriber = (*bus.Bus)(nil)

// LogNotifier は通知を構造化ログとして出力するNotifier。
// プッシュ配送を持たない環境での既定実装。
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier は新しいLogNotifierを生成する。
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify は通知内容をINFOレベルで記録する。
func (n *LogNotifier) Notify(ctx context.Context, notif Notification) error {
	n.logger.InfoContext(ctx, "通知を配送しました",
		slog.String("user_id", notif.UserID),
		slog.String("kind", notif.Kind),
		slog.String("match_id", notif.MatchID),
		slog.String("other_user_id", notif.OtherUserID),
	)
	return nil
}

// Consumer はマッチ成立とLIKE送信のイベントを購読して通知するワーカー。
type Consumer struct {
	subscriber     Subscriber
	notifier       Notifier
	logger         *slog.Logger
	maxConcurrency int
}

// NewConsumer は新しいConsumerを生成する。
// maxConcurrencyが0以下の場合はDefaultMaxConcurrencyを使う。
func NewConsumer(subscriber Subscriber, notifier Notifier, logger *slog.Logger, maxConcurrency int) *Consumer {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &Consumer{
		subscriber:     subscriber,
		notifier:       notifier,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start は各サブジェクトの購読を開始する。
// 購読はctxのキャンセルで停止する。途中で失敗した場合は開始済みの購読を閉じてエラーを返す。
func (c *Consumer) Start(ctx context.Context) ([]io.Closer, error) {
	subs := []struct {
		subject string
		durable string
		fn      func(ctx context.Context, data []byte) error
	}{
		{bus.SubjectMatchCreate, DurableMatchCreated, c.HandleMatchCreated},
		{bus.SubjectLikeSent, DurableLikeSent, c.HandleLikeSent},
	}

	closers := make([]io.Closer, 0, len(subs))
	for _, s := range subs {
		closer, err := c.subscriber.Subscribe(ctx, s.subject, s.durable, s.fn)
		if err != nil {
			for _, cl := range closers {
				_ = cl.Close()
			}
			return nil, fmt.Errorf("failed to subscribe %s: %w", s.subject, err)
		}
		closers = append(closers, closer)
	}

	c.logger.Info("イベント購読を開始しました", slog.Int("subscriptions", len(closers)))
	return closers, nil
}

// HandleMatchCreated はマッチ成立イベントを両ユーザーへの通知に変換する。
// デコードできないイベントは再配送しても解消しないため、記録して破棄する。
func (c *Consumer) HandleMatchCreated(ctx context.Context, data []byte) error {
	var ev bus.MatchCreated
	if err := bus.Decode(data, &ev); err != nil {
		c.logger.Warn("不正なマッチイベントを破棄しました", slog.String("error", err.Error()))
		return nil
	}
	if ev.UserA == "" || ev.UserB == "" {
		c.logger.Warn("ユーザーIDが欠けたマッチイベントを破棄しました", slog.String("match_id", ev.MatchID))
		return nil
	}

	return c.deliver(ctx,
		Notification{UserID: ev.UserA, Kind: KindMatch, MatchID: ev.MatchID, OtherUserID: ev.UserB},
		Notification{UserID: ev.UserB, Kind: KindMatch, MatchID: ev.MatchID, OtherUserID: ev.UserA},
	)
}

// HandleLikeSent はLIKE送信イベントを受信者への通知に変換する。
func (c *Consumer) HandleLikeSent(ctx context.Context, data []byte) error {
	var ev bus.LikeSent
	if err := bus.Decode(data, &ev); err != nil {
		c.logger.Warn("不正なLIKEイベントを破棄しました", slog.String("error", err.Error()))
		return nil
	}
	if ev.ToUserID == "" {
		c.logger.Warn("受信者が欠けたLIKEイベントを破棄しました", slog.String("from_user_id", ev.FromUserID))
		return nil
	}

	return c.deliver(ctx, Notification{
		UserID:      ev.ToUserID,
		Kind:        KindLike,
		OtherUserID: ev.FromUserID,
		Comment:     ev.Comment,
	})
}

// deliver は通知を並行に配送する。1件でも失敗した場合はエラーを返し、イベントを再配送させる。
func (c *Consumer) deliver(ctx context.Context, notifications ...Notification) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrency)

	errs := make([]error, len(notifications))
	for i, n := range notifications {
		g.Go(func() error {
			if err := c.notifier.Notify(gctx, n); err != nil {
				c.logger.Error("通知の配送に失敗しました",
					slog.String("user_id", n.UserID),
					slog.String("kind", n.Kind),
					slog.String("error", err.Error()),
				)
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to deliver notifications: %w", err)
	}
	return nil
}
