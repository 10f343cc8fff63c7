// Package cleanup は有効期限切れの認証情報スナップショットの削除ジョブを提供する。
// サイドチャネルCookieの有効期間（SESSION_TTL）より古いスナップショットは
// バックエンド側でもトークンが失効しているため、起動時の復元対象から外す。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// DefaultMaxAge はスナップショットの既定の保持期間。Cookieの既定TTLと同じ。
const DefaultMaxAge = 24 * time.Hour

// CleanupJob は保持期間を超過した認証情報スナップショットの削除ジョブ。
// ハイドレーション前に実行し、冪等な削除処理を保証する。
type CleanupJob struct {
	db     Executor
	logger *slog.Logger
	MaxAge time.Duration // スナップショットの保持期間（デフォルト: 24時間）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// maxAgeが0以下の場合はDefaultMaxAgeを使う。
func NewCleanupJob(db Executor, logger *slog.Logger, maxAge time.Duration) *CleanupJob {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &CleanupJob{
		db:     db,
		logger: logger,
		MaxAge: maxAge,
	}
}

// Run は最終更新がMaxAgeより前のスナップショットを削除し、削除件数を返す。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()

	interval := fmt.Sprintf("%d seconds", int64(j.MaxAge/time.Second))

	query := `DELETE FROM credential_snapshots WHERE updated_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("snapshot cleanup failed",
			slog.String("error", err.Error()),
			slog.Duration("max_age", j.MaxAge),
		)
		return 0, fmt.Errorf("failed to delete expired snapshots: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted count: %w", err)
	}

	j.logger.Info("snapshot cleanup completed",
		slog.Int64("deleted_count", deletedCount),
		slog.Duration("max_age", j.MaxAge),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return deletedCount, nil
}
