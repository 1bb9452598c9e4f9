// Package cleanup は古いPASS記録の自動削除ジョブを提供する。
// 保持期間を過ぎたPASSを削除し、見送ったプロフィールがフィードに再び現れるようにする。
// LIKEとマッチは削除しない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/kindred/internal/metrics"
)

// DefaultRetention はPASSの保持期間のデフォルト値。
const DefaultRetention = 30 * 24 * time.Hour

// PassPurger は指定時刻より前のPASSを削除する。
type PassPurger interface {
	DeletePassesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupJob は保持期間を超過したPASSの削除ジョブ。
// 定期実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	purger    PassPurger
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
	now       func() time.Time
	Retention time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionが0以下の場合はDefaultRetentionを使う。mcがnilの場合はメトリクスを記録しない。
func NewCleanupJob(purger PassPurger, logger *slog.Logger, mc metrics.MetricsCollector, retention time.Duration) *CleanupJob {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &CleanupJob{
		purger:    purger,
		logger:    logger,
		metrics:   mc,
		now:       time.Now,
		Retention: retention,
	}
}

// Run は保持期間を超過したPASSを削除し、削除件数を返す。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	start := j.now()
	cutoff := start.Add(-j.Retention)

	deleted, err := j.purger.DeletePassesBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("PASSクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("retention", j.Retention),
		)
		return 0, fmt.Errorf("failed to purge passes: %w", err)
	}

	j.metrics.RecordPassesPurged(deleted)
	j.logger.Info("PASSクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return deleted, nil
}

// Start は起動直後に1回、その後intervalごとにRunを実行する。
// コンテキストがキャンセルされるまでブロックする。失敗は記録して次の周期に持ち越す。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("PASSクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	// エラーはRun内で記録済み
	_, _ = j.Run(ctx)
}
