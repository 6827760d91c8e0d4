// Package cleanup は期限切れデータの自動削除ジョブを提供する。
// 期限切れのセッションと同期トークン引き換え記録を定期バッチで削除する。
// 引き換え記録の有効期限はトークン自体の有効期限と一致するため、
// 削除後に同じトークンが再提示されても署名検証の時点で期限切れになる。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionPurger は期限切れセッションの削除インターフェース。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// RedemptionPurger は期限切れ引き換え記録の削除インターフェース。
type RedemptionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob は期限切れセッション・引き換え記録の自動削除ジョブ。
// 定期実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	sessions    SessionPurger
	redemptions RedemptionPurger
	logger      *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(sessions SessionPurger, redemptions RedemptionPurger, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions:    sessions,
		redemptions: redemptions,
		logger:      logger,
	}
}

// Run は期限切れのセッションと引き換え記録を削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
// 片方の削除が失敗してももう片方は実行する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	var firstErr error

	sessionCount, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		firstErr = fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}

	redemptionCount, err := j.redemptions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("期限切れ引き換え記録の削除に失敗しました",
			slog.String("error", err.Error()),
		)
		if firstErr == nil {
			firstErr = fmt.Errorf("期限切れ引き換え記録の削除に失敗: %w", err)
		}
	}

	if firstErr != nil {
		return firstErr
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessionCount),
		slog.Int64("deleted_redemptions", redemptionCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// RunLoop はintervalごとにRunを繰り返し実行する。
// contextのキャンセルで停止する。起動直後にも1回実行する。
func (j *CleanupJob) RunLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := j.Run(ctx); err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップループを停止します")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("クリーンアップジョブの実行に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}
