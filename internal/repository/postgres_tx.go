package repository

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/hitoshi/slotswap/internal/model"
)

// PostgresTxManager はdatabase/sqlのトランザクションでTxを提供する。
type PostgresTxManager struct {
	db TxBeginner
}

// NewPostgresTxManager はPostgresTxManagerを生成する。
func NewPostgresTxManager(db TxBeginner) *PostgresTxManager {
	return &PostgresTxManager{db: db}
}

// WithTx はfnをREAD COMMITTEDのトランザクション内で実行する。
// 整合性は行ロック（FOR UPDATE）で確保する。
// デッドロック検出などで中断された場合はSWAP_CONFLICTを返す。
func (m *PostgresTxManager) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&postgresTx{tx: sqlTx}); err != nil {
		return mapTxError(err)
	}

	if err := sqlTx.Commit(); err != nil {
		return mapTxError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

type postgresTx struct {
	tx *sql.Tx
}

// LockEvents はデッドロックを避けるためID昇順に1行ずつロックする。
func (t *postgresTx) LockEvents(ctx context.Context, ids ...string) (map[string]*model.Event, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	events := make(map[string]*model.Event, len(sorted))
	for _, id := range sorted {
		e, err := scanEvent(t.tx.QueryRowContext(ctx,
			`SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, id))
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock event %s: %w", id, err)
		}
		events[id] = e
	}
	return events, nil
}

func (t *postgresTx) LockEventsByOwner(ctx context.Context, ownerID string) ([]model.Event, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE owner_id = $1 ORDER BY id FOR UPDATE`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock owned events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan owned event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate owned events: %w", err)
	}
	return events, nil
}

func (t *postgresTx) LockSwapRequest(ctx context.Context, id string) (*model.SwapRequest, error) {
	req, err := scanSwapRequest(t.tx.QueryRowContext(ctx,
		`SELECT `+swapColumns+` FROM swap_requests WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock swap request: %w", err)
	}
	return req, nil
}

func (t *postgresTx) UpdateEventOwner(ctx context.Context, eventID, ownerID string, now time.Time) error {
	return t.execOne(ctx, "update event owner",
		`UPDATE events SET owner_id = $2, updated_at = $3 WHERE id = $1`, eventID, ownerID, now)
}

func (t *postgresTx) UpdateEventStatus(ctx context.Context, eventID string, status model.EventStatus, now time.Time) error {
	return t.execOne(ctx, "update event status",
		`UPDATE events SET status = $2, updated_at = $3 WHERE id = $1`, eventID, status, now)
}

func (t *postgresTx) DeleteEvent(ctx context.Context, eventID string) error {
	return t.execOne(ctx, "delete event", `DELETE FROM events WHERE id = $1`, eventID)
}

func (t *postgresTx) HasPendingSwapRequest(ctx context.Context, requesterSlotID, responderSlotID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM swap_requests
		   WHERE requester_slot_id = $1 AND responder_slot_id = $2 AND status = 'PENDING'
		 )`,
		requesterSlotID, responderSlotID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pending swap request: %w", err)
	}
	return exists, nil
}

func (t *postgresTx) InsertSwapRequest(ctx context.Context, req *model.SwapRequest) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO swap_requests (`+swapColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.ID, req.RequesterID, req.ResponderID,
		nullIfEmpty(req.RequesterSlotID), nullIfEmpty(req.ResponderSlotID),
		req.Status, req.CreatedAt, req.RespondedAt,
	)
	if isUniqueViolation(err, "uq_swap_requests_pending_pair") {
		return model.NewDuplicateSwapRequestError()
	}
	if err != nil {
		return fmt.Errorf("failed to insert swap request: %w", err)
	}
	return nil
}

func (t *postgresTx) UpdateSwapRequestStatus(ctx context.Context, id string, status model.SwapStatus, respondedAt time.Time) error {
	return t.execOne(ctx, "update swap request status",
		`UPDATE swap_requests SET status = $2, responded_at = $3 WHERE id = $1`,
		id, status, respondedAtArg(respondedAt))
}

func (t *postgresTx) CancelPendingByEvent(ctx context.Context, eventID string, now time.Time) ([]model.SwapRequest, error) {
	return t.cancelPending(ctx, `requester_slot_id = $1 OR responder_slot_id = $1`, eventID, now)
}

func (t *postgresTx) CancelPendingByUser(ctx context.Context, userID string, now time.Time) ([]model.SwapRequest, error) {
	return t.cancelPending(ctx, `requester_id = $1 OR responder_id = $1`, userID, now)
}

// cancelPending はcondに一致するPENDINGリクエストをCANCELLEDにして返す。
// condは$1だけを参照すること。
func (t *postgresTx) cancelPending(ctx context.Context, cond, id string, now time.Time) ([]model.SwapRequest, error) {
	rows, err := t.tx.QueryContext(ctx,
		`UPDATE swap_requests SET status = 'CANCELLED', responded_at = $2
		 WHERE status = 'PENDING' AND (`+cond+`)
		 RETURNING `+swapColumns,
		id, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel pending swap requests: %w", err)
	}
	defer rows.Close()

	var cancelled []model.SwapRequest
	for rows.Next() {
		req, err := scanSwapRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cancelled swap request: %w", err)
		}
		cancelled = append(cancelled, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cancelled swap requests: %w", err)
	}
	return cancelled, nil
}

// DeleteUser はユーザーを削除する。
// identities、sessions、events、当事者であるswap_requestsはCASCADEで削除される。
func (t *postgresTx) DeleteUser(ctx context.Context, userID string) error {
	return t.execOne(ctx, "delete user", `DELETE FROM users WHERE id = $1`, userID)
}

// execOne は1行だけ更新されることを期待するSQLを実行する。
func (t *postgresTx) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("failed to %s: %d rows affected", op, n)
	}
	return nil
}

var (
	_ TxManager = (*PostgresTxManager)(nil)
	_ Tx        = (*postgresTx)(nil)
)
