// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// 終了済みで保持期間（デフォルト24時間）を過ぎたセッションと、
// 状態に関わらず作成から7日を超えたセッションを定期バッチで削除する。
// 参加者はCASCADE削除で自動的に処理される。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionDeleter は期限切れセッションの削除を抽象化するインターフェース。
type SessionDeleter interface {
	// DeleteExpired は保持期限を過ぎたセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, finishedBefore, anyBefore time.Time) (int64, error)
}

// CleanupJob は期限切れセッションの自動削除ジョブ。
// 定期実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	sessions SessionDeleter
	logger   *slog.Logger

	// SessionTTL は終了済みセッションを削除するまでの保持期間（デフォルト: 24時間）。
	SessionTTL time.Duration
	// HardRetention は状態に関わらずセッションを削除する上限期間（デフォルト: 7日）。
	// 放置されたロビーや進行中のまま捨てられたセッションの回収用。
	HardRetention time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(sessions SessionDeleter, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions:      sessions,
		logger:        logger,
		SessionTTL:    24 * time.Hour,
		HardRetention: 7 * 24 * time.Hour,
	}
}

// Run は保持期限を過ぎたセッションを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	finishedBefore := start.Add(-j.SessionTTL)
	anyBefore := start.Add(-j.HardRetention)

	deletedCount, err := j.sessions.DeleteExpired(ctx, finishedBefore, anyBefore)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("session_ttl", j.SessionTTL),
		)
		return fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Duration("session_ttl", j.SessionTTL),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は指定間隔のティッカーでクリーンアップジョブを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップスケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := j.Run(ctx); err != nil {
		j.logger.Error("クリーンアップサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップスケジューラを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("クリーンアップサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
