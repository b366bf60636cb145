package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/slotswap/internal/model"
)

// PostgresSwapRepo はPostgreSQLを使用したスワップリクエストリポジトリ。
type PostgresSwapRepo struct {
	db *sql.DB
}

// NewPostgresSwapRepo はPostgresSwapRepoを生成する。
func NewPostgresSwapRepo(db *sql.DB) *PostgresSwapRepo {
	return &PostgresSwapRepo{db: db}
}

const swapColumns = `id, requester_id, responder_id, requester_slot_id, responder_slot_id, status, created_at, responded_at`

func scanSwapRequest(row rowScanner) (*model.SwapRequest, error) {
	var (
		req               model.SwapRequest
		reqSlot, respSlot sql.NullString
		respondedAt       sql.NullTime
	)
	if err := row.Scan(&req.ID, &req.RequesterID, &req.ResponderID, &reqSlot, &respSlot,
		&req.Status, &req.CreatedAt, &respondedAt); err != nil {
		return nil, err
	}
	req.RequesterSlotID = reqSlot.String
	req.ResponderSlotID = respSlot.String
	if respondedAt.Valid {
		t := respondedAt.Time
		req.RespondedAt = &t
	}
	return &req, nil
}

// FindByID は指定IDのリクエストを取得する。見つからない場合はnilを返す。
func (r *PostgresSwapRepo) FindByID(ctx context.Context, id string) (*model.SwapRequest, error) {
	req, err := scanSwapRequest(r.db.QueryRowContext(ctx,
		`SELECT `+swapColumns+` FROM swap_requests WHERE id = $1`, id))
	if err == sql.ErrNoRows || isInvalidText(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find swap request: %w", err)
	}
	return req, nil
}

// ListByResponder は受信したリクエストを新しい順に返す。
func (r *PostgresSwapRepo) ListByResponder(ctx context.Context, userID string) ([]model.SwapRequestDetail, error) {
	return r.listDetails(ctx, "sr.responder_id = $1", userID)
}

// ListByRequester は送信したリクエストを新しい順に返す。
func (r *PostgresSwapRepo) ListByRequester(ctx context.Context, userID string) ([]model.SwapRequestDetail, error) {
	return r.listDetails(ctx, "sr.requester_id = $1", userID)
}

// listDetails はリクエストに当事者とスロットをJOINして返す。
// 削除済みスロットはLEFT JOINによりNULLになる。
func (r *PostgresSwapRepo) listDetails(ctx context.Context, where string, userID string) ([]model.SwapRequestDetail, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT sr.id, sr.requester_id, sr.responder_id, sr.requester_slot_id, sr.responder_slot_id,
		        sr.status, sr.created_at, sr.responded_at,
		        rq.name, rq.email, rp.name, rp.email,
		        es.id, es.title, es.start_time, es.end_time, es.owner_id, es.status, es.created_at, es.updated_at,
		        ep.id, ep.title, ep.start_time, ep.end_time, ep.owner_id, ep.status, ep.created_at, ep.updated_at
		 FROM swap_requests sr
		 JOIN users rq ON rq.id = sr.requester_id
		 JOIN users rp ON rp.id = sr.responder_id
		 LEFT JOIN events es ON es.id = sr.requester_slot_id
		 LEFT JOIN events ep ON ep.id = sr.responder_slot_id
		 WHERE `+where+`
		 ORDER BY sr.created_at DESC, sr.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list swap requests: %w", err)
	}
	defer rows.Close()

	result := []model.SwapRequestDetail{}
	for rows.Next() {
		var (
			d                 model.SwapRequestDetail
			reqSlot, respSlot sql.NullString
			respondedAt       sql.NullTime
			es, ep            nullableEvent
		)
		dest := []any{
			&d.ID, &d.RequesterID, &d.ResponderID, &reqSlot, &respSlot,
			&d.Status, &d.CreatedAt, &respondedAt,
			&d.Requester.Name, &d.Requester.Email, &d.Responder.Name, &d.Responder.Email,
		}
		dest = append(dest, es.dest()...)
		dest = append(dest, ep.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan swap request: %w", err)
		}
		d.RequesterSlotID = reqSlot.String
		d.ResponderSlotID = respSlot.String
		if respondedAt.Valid {
			t := respondedAt.Time
			d.RespondedAt = &t
		}
		d.Requester.ID = d.RequesterID
		d.Responder.ID = d.ResponderID
		d.RequesterSlot = es.event()
		d.ResponderSlot = ep.event()
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate swap requests: %w", err)
	}
	return result, nil
}

// nullableEvent はLEFT JOINで取得するイベント列のスキャン先。
type nullableEvent struct {
	id, title, ownerID, status       sql.NullString
	start, end, createdAt, updatedAt sql.NullTime
}

func (n *nullableEvent) dest() []any {
	return []any{&n.id, &n.title, &n.start, &n.end, &n.ownerID, &n.status, &n.createdAt, &n.updatedAt}
}

func (n *nullableEvent) event() *model.Event {
	if !n.id.Valid {
		return nil
	}
	return &model.Event{
		ID:        n.id.String,
		Title:     n.title.String,
		StartTime: n.start.Time,
		EndTime:   n.end.Time,
		OwnerID:   n.ownerID.String,
		Status:    model.EventStatus(n.status.String),
		CreatedAt: n.createdAt.Time,
		UpdatedAt: n.updatedAt.Time,
	}
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// respondedAtArg は終端状態への遷移時刻をSQL引数に変換する。
func respondedAtArg(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

var _ SwapRepository = (*PostgresSwapRepo)(nil)
