// Package user はユーザーアカウント管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/slotswap/internal/metrics"
	"github.com/hitoshi/slotswap/internal/model"
	"github.com/hitoshi/slotswap/internal/notify"
	"github.com/hitoshi/slotswap/internal/repository"
)

// Service はユーザー管理のサービス層。
// 退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	txm      repository.TxManager
	notifier notify.Notifier
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewService はServiceを生成する。notifierとmcはnilでもよい。
func NewService(
	userRepo repository.UserRepository,
	txm repository.TxManager,
	notifier notify.Notifier,
	mc metrics.MetricsCollector,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		userRepo: userRepo,
		txm:      txm,
		notifier: notifier,
		metrics:  mc,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 当事者になっているPENDINGリクエストを取り消して相手に通知し、ユーザーを削除する。
// 所有イベント、セッション、identities、当事者のリクエストはCASCADEで消える。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	var cancelled []model.SwapRequest
	err = s.txm.WithTx(ctx, func(tx repository.Tx) error {
		// スワップ応答と同じく、イベント行を先にロックしてからリクエスト行を更新する
		if _, err := tx.LockEventsByOwner(ctx, userID); err != nil {
			return err
		}
		var err error
		cancelled, err = tx.CancelPendingByUser(ctx, userID, s.now())
		if err != nil {
			return err
		}
		return tx.DeleteUser(ctx, userID)
	})
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return apiErr
		}
		return fmt.Errorf("退会処理に失敗しました: %w", err)
	}

	if len(cancelled) > 0 {
		s.metrics.RecordSwapCancelled("withdrawal", len(cancelled))
	}
	if s.notifier != nil {
		for _, r := range cancelled {
			counterparty := r.RequesterID
			if counterparty == userID {
				counterparty = r.ResponderID
			}
			s.notifier.Publish(counterparty, notify.NewMessage("swap_request", "cancelled", r.ID))
		}
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
		slog.Int("cancelled_swap_requests", len(cancelled)),
	)
	return nil
}
