// Package swap はスロット交換リクエストのドメインロジックを提供する。
//
// 応答（ACCEPT / REJECT）はひとつのトランザクションで処理する。
// 2つのイベント行、リクエスト行の順に FOR UPDATE でロックし、
// 所有者と状態を再検証してから書き込む。途中で失敗した場合は何も書き込まれない。
package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/slotswap/internal/metrics"
	"github.com/hitoshi/slotswap/internal/model"
	"github.com/hitoshi/slotswap/internal/notify"
	"github.com/hitoshi/slotswap/internal/repository"
)

const notifyEntity = "swap_request"

// CreateRequestInput はスワップリクエスト作成の入力。
// ResponderIDは任意で、指定された場合は相手スロットの所有者と一致する必要がある。
type CreateRequestInput struct {
	RequesterSlotID string
	ResponderSlotID string
	ResponderID     string
}

// Service はスワップリクエストのサービス層。
type Service struct {
	txm      repository.TxManager
	swaps    repository.SwapRepository
	events   repository.EventRepository
	notifier notify.Notifier
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewService はServiceを生成する。notifierとmcはnilでもよい。
func NewService(
	txm repository.TxManager,
	swaps repository.SwapRepository,
	events repository.EventRepository,
	notifier notify.Notifier,
	mc metrics.MetricsCollector,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		txm:      txm,
		swaps:    swaps,
		events:   events,
		notifier: notifier,
		metrics:  mc,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ListSwappableSlots は呼び出しユーザー以外が所有するSWAPPABLEなスロットを返す。
func (s *Service) ListSwappableSlots(ctx context.Context, userID string) ([]model.EventWithOwner, error) {
	slots, err := s.events.ListSwappable(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("交換可能スロットの取得に失敗しました: %w", err)
	}
	return slots, nil
}

// ListIncoming は受信したリクエストを新しい順に返す。
func (s *Service) ListIncoming(ctx context.Context, userID string) ([]model.SwapRequestDetail, error) {
	reqs, err := s.swaps.ListByResponder(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("受信リクエストの取得に失敗しました: %w", err)
	}
	return reqs, nil
}

// ListOutgoing は送信したリクエストを新しい順に返す。
func (s *Service) ListOutgoing(ctx context.Context, userID string) ([]model.SwapRequestDetail, error) {
	reqs, err := s.swaps.ListByRequester(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("送信リクエストの取得に失敗しました: %w", err)
	}
	return reqs, nil
}

// CreateRequest は自分のスロットと相手のスロットの交換リクエストを作成する。
// イベントの状態は変更しない。
func (s *Service) CreateRequest(ctx context.Context, userID string, in CreateRequestInput) (*model.SwapRequest, error) {
	if in.RequesterSlotID == "" || in.ResponderSlotID == "" {
		return nil, model.NewValidationError("Fields are missing")
	}
	if in.RequesterSlotID == in.ResponderSlotID {
		return nil, model.NewValidationError("Cannot swap a slot with itself")
	}
	if !isUUID(in.RequesterSlotID) {
		return nil, model.NewInvalidSlotError("requester")
	}
	if !isUUID(in.ResponderSlotID) {
		return nil, model.NewInvalidSlotError("responder")
	}

	var created *model.SwapRequest
	err := s.txm.WithTx(ctx, func(tx repository.Tx) error {
		locked, err := tx.LockEvents(ctx, in.RequesterSlotID, in.ResponderSlotID)
		if err != nil {
			return err
		}

		mine := locked[in.RequesterSlotID]
		if mine == nil || mine.OwnerID != userID || mine.Status != model.EventStatusSwappable {
			return model.NewInvalidSlotError("requester")
		}
		theirs := locked[in.ResponderSlotID]
		if theirs == nil || theirs.OwnerID == userID || theirs.Status != model.EventStatusSwappable {
			return model.NewInvalidSlotError("responder")
		}
		if in.ResponderID != "" && theirs.OwnerID != in.ResponderID {
			return model.NewInvalidSlotError("responder")
		}

		pending, err := tx.HasPendingSwapRequest(ctx, mine.ID, theirs.ID)
		if err != nil {
			return err
		}
		if pending {
			return model.NewDuplicateSwapRequestError()
		}

		created = &model.SwapRequest{
			ID:              uuid.New().String(),
			RequesterID:     userID,
			ResponderID:     theirs.OwnerID,
			RequesterSlotID: mine.ID,
			ResponderSlotID: theirs.ID,
			Status:          model.SwapStatusPending,
			CreatedAt:       s.now(),
		}
		return tx.InsertSwapRequest(ctx, created)
	})
	if err != nil {
		if model.HasCode(err, model.ErrCodeDuplicateSwapRequest) {
			s.metrics.RecordSwapConflict("create")
		}
		return nil, wrapTxError("スワップリクエストの作成に失敗しました", err)
	}

	s.metrics.RecordSwapRequestCreated()
	s.publish(created.ResponderID, "created", created.ID)
	slog.Info("スワップリクエストを作成しました",
		slog.String("swap_request_id", created.ID),
		slog.String("requester_id", created.RequesterID),
		slog.String("responder_id", created.ResponderID),
	)
	return created, nil
}

// Respond は自分宛てのPENDINGリクエストを承認または拒否する。
//
// ACCEPTの場合、2つのスロットの所有者を入れ替えてリクエストをACCEPTEDにする。
// スロットが削除されている、所有者が変わっている、SWAPPABLEでない場合は
// SWAP_CONFLICTを返し、何も書き込まない。
// REJECTの場合はリクエストの状態のみを変更する。
func (s *Service) Respond(ctx context.Context, userID, requestID string, response model.SwapResponse) (*model.SwapRequest, error) {
	if requestID == "" {
		return nil, model.NewValidationError("Fields are missing")
	}
	if response != model.SwapResponseAccept && response != model.SwapResponseReject {
		return nil, model.NewValidationError("response must be ACCEPT or REJECT")
	}
	if !isUUID(requestID) {
		return nil, model.NewSwapRequestNotFoundError()
	}

	// ロック順はイベント行（ID昇順）→リクエスト行。イベントの削除・状態変更と同じ順にそろえる。
	// ロック前にスロットIDを知るため、ロックなしで一度読む。
	snapshot, err := s.swaps.FindByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("スワップリクエストの取得に失敗しました: %w", err)
	}
	// 他人宛てのリクエストは存在を明かさない
	if snapshot == nil || snapshot.ResponderID != userID {
		return nil, model.NewSwapRequestNotFoundError()
	}

	start := time.Now()
	var result *model.SwapRequest
	err = s.txm.WithTx(ctx, func(tx repository.Tx) error {
		var locked map[string]*model.Event
		if response == model.SwapResponseAccept {
			ids := slotIDs(snapshot)
			if len(ids) > 0 {
				var err error
				if locked, err = tx.LockEvents(ctx, ids...); err != nil {
					return err
				}
			}
		}

		req, err := tx.LockSwapRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req == nil || req.ResponderID != userID {
			return model.NewSwapRequestNotFoundError()
		}
		if req.Status != model.SwapStatusPending {
			return model.NewSwapConflictError(fmt.Sprintf("Swap request is already %s", req.Status))
		}

		now := s.now()
		if response == model.SwapResponseAccept {
			// 読み取り後にスロットが削除されるとIDがNULLになる
			if req.RequesterSlotID != snapshot.RequesterSlotID || req.ResponderSlotID != snapshot.ResponderSlotID {
				return model.NewSwapConflictError("A slot in this swap request no longer exists")
			}
			if err := s.exchangeOwners(ctx, tx, req, locked, now); err != nil {
				return err
			}
			req.Status = model.SwapStatusAccepted
		} else {
			req.Status = model.SwapStatusRejected
		}

		if err := tx.UpdateSwapRequestStatus(ctx, req.ID, req.Status, now); err != nil {
			return err
		}
		req.RespondedAt = &now
		result = req
		return nil
	})
	s.metrics.RecordSwapTxLatency(time.Since(start))
	if err != nil {
		if model.HasCode(err, model.ErrCodeSwapConflict) {
			s.metrics.RecordSwapConflict("respond")
		}
		return nil, wrapTxError("スワップ応答の処理に失敗しました", err)
	}

	action := "rejected"
	if result.Status == model.SwapStatusAccepted {
		action = "accepted"
	}
	s.metrics.RecordSwapResponse(action)
	s.publish(result.RequesterID, action, result.ID)
	slog.Info("スワップリクエストに応答しました",
		slog.String("swap_request_id", result.ID),
		slog.String("status", string(result.Status)),
		slog.String("responder_id", userID),
	)
	return result, nil
}

// exchangeOwners はロック済みの2つのスロットを再検証し、所有者を入れ替える。
func (s *Service) exchangeOwners(ctx context.Context, tx repository.Tx, req *model.SwapRequest, locked map[string]*model.Event, now time.Time) error {
	if req.RequesterSlotID == "" || req.ResponderSlotID == "" {
		return model.NewSwapConflictError("A slot in this swap request no longer exists")
	}

	reqSlot := locked[req.RequesterSlotID]
	respSlot := locked[req.ResponderSlotID]
	if reqSlot == nil || respSlot == nil {
		return model.NewSwapConflictError("A slot in this swap request no longer exists")
	}
	if reqSlot.OwnerID != req.RequesterID || respSlot.OwnerID != req.ResponderID {
		return model.NewSwapConflictError("A slot in this swap request has changed owner")
	}
	if reqSlot.Status != model.EventStatusSwappable || respSlot.Status != model.EventStatusSwappable {
		return model.NewSwapConflictError("A slot in this swap request is no longer swappable")
	}

	if err := tx.UpdateEventOwner(ctx, reqSlot.ID, req.ResponderID, now); err != nil {
		return err
	}
	return tx.UpdateEventOwner(ctx, respSlot.ID, req.RequesterID, now)
}

// Cancel は自分が送ったPENDINGリクエストを取り消す。
func (s *Service) Cancel(ctx context.Context, userID, requestID string) (*model.SwapRequest, error) {
	if !isUUID(requestID) {
		return nil, model.NewSwapRequestNotFoundError()
	}

	var result *model.SwapRequest
	err := s.txm.WithTx(ctx, func(tx repository.Tx) error {
		req, err := tx.LockSwapRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req == nil || req.RequesterID != userID {
			return model.NewSwapRequestNotFoundError()
		}
		if req.Status != model.SwapStatusPending {
			return model.NewSwapConflictError(fmt.Sprintf("Swap request is already %s", req.Status))
		}

		now := s.now()
		if err := tx.UpdateSwapRequestStatus(ctx, req.ID, model.SwapStatusCancelled, now); err != nil {
			return err
		}
		req.Status = model.SwapStatusCancelled
		req.RespondedAt = &now
		result = req
		return nil
	})
	if err != nil {
		if model.HasCode(err, model.ErrCodeSwapConflict) {
			s.metrics.RecordSwapConflict("cancel")
		}
		return nil, wrapTxError("スワップリクエストの取り消しに失敗しました", err)
	}

	s.metrics.RecordSwapCancelled("requester", 1)
	s.publish(result.ResponderID, "cancelled", result.ID)
	return result, nil
}

func (s *Service) publish(userID, action, requestID string) {
	if s.notifier == nil || userID == "" {
		return
	}
	s.notifier.Publish(userID, notify.NewMessage(notifyEntity, action, requestID))
}

// slotIDs はリクエストが参照しているスロットIDを返す。削除済みのスロットは含まない。
func slotIDs(req *model.SwapRequest) []string {
	ids := make([]string, 0, 2)
	for _, id := range []string{req.RequesterSlotID, req.ResponderSlotID} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// wrapTxError はAPIErrorをそのまま返し、それ以外のエラーにメッセージを付与する。
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
