// Package purge は期限切れセッショントークンの自動回収ジョブを提供する。
// 設定された間隔で期限切れトークンをバッチ削除する。
package purge

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// TokenPurger は期限切れトークンの一括削除インターフェース。
// repository.TokenRepositoryの部分集合として定義する。
type TokenPurger interface {
	// PurgeExpired は期限切れトークンを全ユーザー分削除し、削除件数を返す。
	PurgeExpired(ctx context.Context) (int64, error)
}

// Recorder は回収件数のメトリクス記録インターフェース。
type Recorder interface {
	RecordTokensPurged(count int64)
}

// nopRecorder は何も記録しないRecorder。
type nopRecorder struct{}

func (nopRecorder) RecordTokensPurged(count int64) {}

// PurgeJob は期限切れトークンの回収ジョブ。
// 定期実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type PurgeJob struct {
	tokens  TokenPurger
	logger  *slog.Logger
	metrics Recorder
}

// NewPurgeJob は新しいPurgeJobを生成する。metricsがnilの場合は記録しない。
func NewPurgeJob(tokens TokenPurger, logger *slog.Logger, metrics Recorder) *PurgeJob {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &PurgeJob{
		tokens:  tokens,
		logger:  logger,
		metrics: metrics,
	}
}

// Run は期限切れトークンを1回削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *PurgeJob) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.tokens.PurgeExpired(ctx)
	if err != nil {
		j.logger.Error("token purge job failed",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to purge expired tokens: %w", err)
	}

	j.metrics.RecordTokensPurged(deleted)

	duration := time.Since(start)
	j.logger.Info("token purge job completed",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は指定間隔のティッカーで回収ジョブを起動する。
// 起動直後に1回実行し、以降はコンテキストがキャンセルされるまで継続する。
func (j *PurgeJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("token purge job starting",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := j.Run(ctx); err != nil {
		j.logger.Error("token purge run failed",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("token purge job stopped")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("token purge run failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
