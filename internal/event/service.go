// Package event はカレンダーイベント（スロット）の管理を提供する。
package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/slotswap/internal/metrics"
	"github.com/hitoshi/slotswap/internal/model"
	"github.com/hitoshi/slotswap/internal/notify"
	"github.com/hitoshi/slotswap/internal/repository"
	"github.com/hitoshi/slotswap/internal/security"
)

// MaxTitleLength はタイトルの最大文字数。
const MaxTitleLength = 200

// datetime-local入力（秒なし・秒あり）はUTCとして解釈する
var localLayouts = []string{"2006-01-02T15:04", "2006-01-02T15:04:05"}

// CreateInput はイベント作成の入力。時刻は文字列のまま受け取りサービス層で解釈する。
type CreateInput struct {
	Title     string
	StartTime string
	EndTime   string
}

// Service はイベント管理のサービス層。
type Service struct {
	events    repository.EventRepository
	txm       repository.TxManager
	sanitizer security.TextSanitizer
	notifier  notify.Notifier
	metrics   metrics.MetricsCollector
	now       func() time.Time
}

// NewService はServiceを生成する。notifierとmcはnilでもよい。
func NewService(
	events repository.EventRepository,
	txm repository.TxManager,
	sanitizer security.TextSanitizer,
	notifier notify.Notifier,
	mc metrics.MetricsCollector,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		events:    events,
		txm:       txm,
		sanitizer: sanitizer,
		notifier:  notifier,
		metrics:   mc,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ParseTime はRFC3339またはdatetime-local形式の時刻を解釈する。
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}

// Create はBUSY状態のイベントを作成する。
func (s *Service) Create(ctx context.Context, ownerID string, in CreateInput) (*model.Event, error) {
	if in.Title == "" || in.StartTime == "" || in.EndTime == "" {
		return nil, model.NewValidationError("Fields are missing")
	}

	title := s.sanitizer.Sanitize(in.Title)
	if title == "" {
		return nil, model.NewValidationError("Title must contain text")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return nil, model.NewValidationError(fmt.Sprintf("Title must be at most %d characters", MaxTitleLength))
	}

	start, errStart := ParseTime(in.StartTime)
	end, errEnd := ParseTime(in.EndTime)
	if errStart != nil || errEnd != nil {
		return nil, model.NewValidationError("Invalid date and time format")
	}
	if !start.Before(end) {
		return nil, model.NewInvalidTimeRangeError()
	}

	now := s.now()
	e := &model.Event{
		ID:        uuid.New().String(),
		Title:     title,
		StartTime: start,
		EndTime:   end,
		OwnerID:   ownerID,
		Status:    model.EventStatusBusy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.events.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("イベントの作成に失敗しました: %w", err)
	}

	slog.Info("イベントを作成しました",
		slog.String("event_id", e.ID),
		slog.String("owner_id", ownerID),
	)
	return e, nil
}

// ListMine は所有イベントを開始時刻順に返す。
func (s *Service) ListMine(ctx context.Context, ownerID string) ([]*model.Event, error) {
	events, err := s.events.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("イベント一覧の取得に失敗しました: %w", err)
	}
	return events, nil
}

// UpdateStatus はイベントをBUSYとSWAPPABLEの間で切り替える。
// SWAPPABLEでなくなる場合、そのイベントを参照するPENDINGリクエストを同じトランザクションで取り消す。
func (s *Service) UpdateStatus(ctx context.Context, ownerID, eventID string, status model.EventStatus) (*model.Event, error) {
	if status != model.EventStatusBusy && status != model.EventStatusSwappable {
		return nil, model.NewValidationError("status must be BUSY or SWAPPABLE")
	}
	if !isUUID(eventID) {
		return nil, model.NewValidationError("Invalid event id")
	}

	var (
		updated   *model.Event
		cancelled []model.SwapRequest
	)
	err := s.txm.WithTx(ctx, func(tx repository.Tx) error {
		e, err := s.lockOwned(ctx, tx, ownerID, eventID, "Not authorized to update this event")
		if err != nil {
			return err
		}
		if e.Status == model.EventStatusSwapPending {
			return model.NewSwapConflictError("Event has a swap in progress")
		}
		if e.Status == status {
			updated = e
			return nil
		}

		now := s.now()
		if e.Status == model.EventStatusSwappable {
			cancelled, err = tx.CancelPendingByEvent(ctx, e.ID, now)
			if err != nil {
				return err
			}
		}
		if err := tx.UpdateEventStatus(ctx, e.ID, status, now); err != nil {
			return err
		}
		e.Status = status
		e.UpdatedAt = now
		updated = e
		return nil
	})
	if err != nil {
		return nil, wrapTxError("イベント状態の更新に失敗しました", err)
	}

	s.afterCancel(ownerID, cancelled)
	return updated, nil
}

// Delete は自分のイベントを削除する。
// 参照しているPENDINGリクエストは削除前に取り消し、リクエストの履歴は残す。
func (s *Service) Delete(ctx context.Context, ownerID, eventID string) error {
	if !isUUID(eventID) {
		return model.NewValidationError("Invalid event id")
	}

	var cancelled []model.SwapRequest
	err := s.txm.WithTx(ctx, func(tx repository.Tx) error {
		e, err := s.lockOwned(ctx, tx, ownerID, eventID, "Not authorized to delete this event")
		if err != nil {
			return err
		}
		cancelled, err = tx.CancelPendingByEvent(ctx, e.ID, s.now())
		if err != nil {
			return err
		}
		return tx.DeleteEvent(ctx, e.ID)
	})
	if err != nil {
		return wrapTxError("イベントの削除に失敗しました", err)
	}

	s.afterCancel(ownerID, cancelled)
	slog.Info("イベントを削除しました",
		slog.String("event_id", eventID),
		slog.String("owner_id", ownerID),
		slog.Int("cancelled_swap_requests", len(cancelled)),
	)
	return nil
}

// lockOwned はイベントをロックし、存在と所有者を確認する。
func (s *Service) lockOwned(ctx context.Context, tx repository.Tx, ownerID, eventID, forbiddenMsg string) (*model.Event, error) {
	locked, err := tx.LockEvents(ctx, eventID)
	if err != nil {
		return nil, err
	}
	e := locked[eventID]
	if e == nil {
		return nil, model.NewEventNotFoundError()
	}
	if e.OwnerID != ownerID {
		return nil, model.NewForbiddenError(forbiddenMsg)
	}
	return e, nil
}

// afterCancel は取り消したリクエストの相手側に通知する。
func (s *Service) afterCancel(ownerID string, cancelled []model.SwapRequest) {
	if len(cancelled) == 0 {
		return
	}
	s.metrics.RecordSwapCancelled("event_changed", len(cancelled))
	if s.notifier == nil {
		return
	}
	for _, r := range cancelled {
		counterparty := r.RequesterID
		if counterparty == ownerID {
			counterparty = r.ResponderID
		}
		s.notifier.Publish(counterparty, notify.NewMessage("swap_request", "cancelled", r.ID))
	}
}

func wrapTxError(msg string, err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
