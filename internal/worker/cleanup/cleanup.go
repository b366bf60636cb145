// Package cleanup はworkerプロセスが定期実行するメンテナンスジョブを提供する。
//
// 期限切れセッションの削除と、もう承認できなくなったPENDINGスワップリクエストの
// キャンセルを行う。どちらも冪等で、対象がなければ何もしない。
package cleanup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/slotswap/internal/metrics"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SessionPurger は期限切れセッションを削除するインターフェース。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

const (
	// TaskExpiredSessions は期限切れセッション削除のタスク名。
	TaskExpiredSessions = "expired_sessions"
	// TaskStaleSwapRequests は承認不能なスワップリクエストのキャンセルのタスク名。
	TaskStaleSwapRequests = "stale_swap_requests"
)

// スロットが削除された、所有者が変わった、SWAPPABLEでなくなったリクエストを対象にする。
// 削除済みスロットはNULLなので、NOT EXISTSの条件に含まれる。
const cancelStaleSwapRequestsQuery = `
UPDATE swap_requests sr
   SET status = 'CANCELLED', responded_at = now()
 WHERE sr.status = 'PENDING'
   AND (
        NOT EXISTS (SELECT 1 FROM events e
                     WHERE e.id = sr.requester_slot_id
                       AND e.owner_id = sr.requester_id
                       AND e.status = 'SWAPPABLE')
     OR NOT EXISTS (SELECT 1 FROM events e
                     WHERE e.id = sr.responder_slot_id
                       AND e.owner_id = sr.responder_id
                       AND e.status = 'SWAPPABLE')
   )`

// CleanupJob は定期実行のクリーンアップジョブ。
type CleanupJob struct {
	db       Executor
	sessions SessionPurger
	logger   *slog.Logger
	metrics  metrics.MetricsCollector
}

// NewCleanupJob は新しいCleanupJobを生成する。mcがnilの場合はメトリクスを記録しない。
func NewCleanupJob(db Executor, sessions SessionPurger, logger *slog.Logger, mc metrics.MetricsCollector) *CleanupJob {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &CleanupJob{
		db:       db,
		sessions: sessions,
		logger:   logger,
		metrics:  mc,
	}
}

// Run は全タスクを順に実行する。
// あるタスクが失敗しても残りのタスクは実行し、失敗はまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	var errs []error

	if _, err := j.runTask(ctx, TaskExpiredSessions, j.sessions.DeleteExpired); err != nil {
		errs = append(errs, err)
	}

	cancelled, err := j.runTask(ctx, TaskStaleSwapRequests, j.cancelStaleSwapRequests)
	if err != nil {
		errs = append(errs, err)
	} else if cancelled > 0 {
		j.metrics.RecordSwapCancelled("stale", int(cancelled))
	}

	return errors.Join(errs...)
}

// Start は起動直後に1回実行し、以降intervalごとにRunを実行する。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("クリーンアップジョブが失敗しました", slog.String("error", err.Error()))
	}
}

// runTask は1タスクを実行し、処理件数をログとメトリクスに記録する。
func (j *CleanupJob) runTask(ctx context.Context, task string, fn func(context.Context) (int64, error)) (int64, error) {
	start := time.Now()

	affected, err := fn(ctx)
	if err != nil {
		j.logger.Error("クリーンアップタスクの実行に失敗しました",
			slog.String("task", task),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("%s の実行に失敗: %w", task, err)
	}

	j.metrics.RecordCleanup(task, affected)
	j.logger.Info("クリーンアップタスクが完了しました",
		slog.String("task", task),
		slog.Int64("affected_count", affected),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return affected, nil
}

func (j *CleanupJob) cancelStaleSwapRequests(ctx context.Context) (int64, error) {
	result, err := j.db.ExecContext(ctx, cancelStaleSwapRequestsQuery)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("件数取得に失敗: %w", err)
	}
	return affected, nil
}
