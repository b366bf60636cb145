// Package memstore はテスト用のインメモリなリポジトリ実装を提供する。
//
// WithTxはストア全体のロックを保持したままfnを実行し、
// 成功時のみ変更を反映する。トランザクションは直列に実行される。
package memstore

import (
	"cmp"
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/slotswap/internal/model"
	"github.com/hitoshi/slotswap/internal/repository"
)

// ErrInjected はFailOnで指定した操作が返すエラー。
var ErrInjected = errors.New("memstore: injected failure")

// Store はイベントとスワップリクエストを保持するインメモリストア。
type Store struct {
	mu     sync.Mutex
	users  map[string]model.User
	events map[string]model.Event
	swaps  map[string]model.SwapRequest

	// FailOn に操作名（例: "UpdateSwapRequestStatus"）を設定すると、その操作がErrInjectedを返す。
	FailOn string
	// LockOrder はTx内でロックした行を順に記録する。
	// イベントはID、スワップリクエストは "swap_request:" を前置したIDで記録する。
	LockOrder []string
}

// New は空のStoreを生成する。
func New() *Store {
	return &Store{
		users:  make(map[string]model.User),
		events: make(map[string]model.Event),
		swaps:  make(map[string]model.SwapRequest),
	}
}

func (s *Store) AddUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) AddEvent(e model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = e
}

func (s *Store) AddSwapRequest(r model.SwapRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swaps[r.ID] = r
}

// Event は確定済みのイベントを返す。
func (s *Store) Event(id string) (model.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	return e, ok
}

// SwapRequest は確定済みのリクエストを返す。
func (s *Store) SwapRequest(id string) (model.SwapRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.swaps[id]
	return r, ok
}

// Events は確定済みの全イベントをID順に返す。
func (s *Store) Events() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.SortedFunc(maps.Values(s.events), func(a, b model.Event) int { return cmp.Compare(a.ID, b.ID) })
}

// SwapRequests は確定済みの全リクエストをID順に返す。
func (s *Store) SwapRequests() []model.SwapRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.SortedFunc(maps.Values(s.swaps), func(a, b model.SwapRequest) int { return cmp.Compare(a.ID, b.ID) })
}

// WithTx はスナップショットに対してfnを実行し、成功時のみ反映する。
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:  s,
		users:  maps.Clone(s.users),
		events: maps.Clone(s.events),
		swaps:  maps.Clone(s.swaps),
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.users = tx.users
	s.events = tx.events
	s.swaps = tx.swaps
	return nil
}

type memTx struct {
	store  *Store
	users  map[string]model.User
	events map[string]model.Event
	swaps  map[string]model.SwapRequest
}

func (t *memTx) fail(op string) error {
	if t.store.FailOn == op {
		return ErrInjected
	}
	return nil
}

func (t *memTx) LockEvents(ctx context.Context, ids ...string) (map[string]*model.Event, error) {
	if err := t.fail("LockEvents"); err != nil {
		return nil, err
	}
	sorted := slices.Compact(slices.Sorted(slices.Values(ids)))
	result := make(map[string]*model.Event, len(sorted))
	for _, id := range sorted {
		t.store.LockOrder = append(t.store.LockOrder, id)
		if e, ok := t.events[id]; ok {
			result[id] = &e
		}
	}
	return result, nil
}

func (t *memTx) LockEventsByOwner(ctx context.Context, ownerID string) ([]model.Event, error) {
	if err := t.fail("LockEventsByOwner"); err != nil {
		return nil, err
	}
	var owned []model.Event
	for _, id := range slices.Sorted(maps.Keys(t.events)) {
		if e := t.events[id]; e.OwnerID == ownerID {
			t.store.LockOrder = append(t.store.LockOrder, id)
			owned = append(owned, e)
		}
	}
	return owned, nil
}

// SwapLockKey はLockOrderに記録されるスワップリクエストのキーを返す。
func SwapLockKey(id string) string {
	return "swap_request:" + id
}

func (t *memTx) LockSwapRequest(ctx context.Context, id string) (*model.SwapRequest, error) {
	if err := t.fail("LockSwapRequest"); err != nil {
		return nil, err
	}
	t.store.LockOrder = append(t.store.LockOrder, SwapLockKey(id))
	r, ok := t.swaps[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (t *memTx) UpdateEventOwner(ctx context.Context, eventID, ownerID string, now time.Time) error {
	if err := t.fail("UpdateEventOwner"); err != nil {
		return err
	}
	e, ok := t.events[eventID]
	if !ok {
		return errors.New("memstore: event not found")
	}
	e.OwnerID = ownerID
	e.UpdatedAt = now
	t.events[eventID] = e
	return nil
}

func (t *memTx) UpdateEventStatus(ctx context.Context, eventID string, status model.EventStatus, now time.Time) error {
	if err := t.fail("UpdateEventStatus"); err != nil {
		return err
	}
	e, ok := t.events[eventID]
	if !ok {
		return errors.New("memstore: event not found")
	}
	e.Status = status
	e.UpdatedAt = now
	t.events[eventID] = e
	return nil
}

// DeleteEvent はイベントを削除し、参照しているリクエストのスロットIDを空にする。
func (t *memTx) DeleteEvent(ctx context.Context, eventID string) error {
	if err := t.fail("DeleteEvent"); err != nil {
		return err
	}
	if _, ok := t.events[eventID]; !ok {
		return errors.New("memstore: event not found")
	}
	delete(t.events, eventID)
	for id, r := range t.swaps {
		if r.RequesterSlotID == eventID {
			r.RequesterSlotID = ""
		}
		if r.ResponderSlotID == eventID {
			r.ResponderSlotID = ""
		}
		t.swaps[id] = r
	}
	return nil
}

func (t *memTx) HasPendingSwapRequest(ctx context.Context, requesterSlotID, responderSlotID string) (bool, error) {
	for _, r := range t.swaps {
		if r.Status == model.SwapStatusPending && r.RequesterSlotID == requesterSlotID && r.ResponderSlotID == responderSlotID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertSwapRequest(ctx context.Context, req *model.SwapRequest) error {
	if err := t.fail("InsertSwapRequest"); err != nil {
		return err
	}
	if pending, _ := t.HasPendingSwapRequest(ctx, req.RequesterSlotID, req.ResponderSlotID); pending && req.Status == model.SwapStatusPending {
		return model.NewDuplicateSwapRequestError()
	}
	t.swaps[req.ID] = *req
	return nil
}

func (t *memTx) UpdateSwapRequestStatus(ctx context.Context, id string, status model.SwapStatus, respondedAt time.Time) error {
	if err := t.fail("UpdateSwapRequestStatus"); err != nil {
		return err
	}
	r, ok := t.swaps[id]
	if !ok {
		return errors.New("memstore: swap request not found")
	}
	r.Status = status
	r.RespondedAt = &respondedAt
	t.swaps[id] = r
	return nil
}

func (t *memTx) CancelPendingByEvent(ctx context.Context, eventID string, now time.Time) ([]model.SwapRequest, error) {
	if err := t.fail("CancelPendingByEvent"); err != nil {
		return nil, err
	}
	return t.cancelPending(now, func(r model.SwapRequest) bool {
		return r.RequesterSlotID == eventID || r.ResponderSlotID == eventID
	}), nil
}

func (t *memTx) CancelPendingByUser(ctx context.Context, userID string, now time.Time) ([]model.SwapRequest, error) {
	if err := t.fail("CancelPendingByUser"); err != nil {
		return nil, err
	}
	return t.cancelPending(now, func(r model.SwapRequest) bool {
		return r.RequesterID == userID || r.ResponderID == userID
	}), nil
}

func (t *memTx) cancelPending(now time.Time, match func(model.SwapRequest) bool) []model.SwapRequest {
	var cancelled []model.SwapRequest
	for _, id := range slices.Sorted(maps.Keys(t.swaps)) {
		r := t.swaps[id]
		if r.Status != model.SwapStatusPending || !match(r) {
			continue
		}
		r.Status = model.SwapStatusCancelled
		at := now
		r.RespondedAt = &at
		t.swaps[id] = r
		cancelled = append(cancelled, r)
	}
	return cancelled
}

// DeleteUser はPostgreSQLのON DELETE CASCADE / SET NULLと同じ結果になるよう関連データを消す。
func (t *memTx) DeleteUser(ctx context.Context, userID string) error {
	if err := t.fail("DeleteUser"); err != nil {
		return err
	}
	if _, ok := t.users[userID]; !ok {
		return errors.New("memstore: user not found")
	}
	delete(t.users, userID)
	for id, r := range t.swaps {
		if r.RequesterID == userID || r.ResponderID == userID {
			delete(t.swaps, id)
		}
	}
	for id, e := range t.events {
		if e.OwnerID == userID {
			if err := t.DeleteEvent(ctx, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// --- トランザクション外の参照 ---

// User は指定IDのユーザーを返す。
func (s *Store) User(id string) (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok
}

// Users はUserRepositoryとしてのビューを返す。
func (s *Store) Users() repository.UserRepository {
	return userView{s}
}

type userView struct{ s *Store }

func (v userView) FindByID(ctx context.Context, id string) (*model.User, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if v.s.FailOn == "FindUserByID" {
		return nil, ErrInjected
	}
	u, ok := v.s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (v userView) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, u := range v.s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

func (v userView) Create(ctx context.Context, user *model.User) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, u := range v.s.users {
		if u.Email == user.Email {
			return model.NewEmailTakenError()
		}
	}
	v.s.users[user.ID] = *user
	return nil
}

func (v userView) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	return v.Create(ctx, user)
}

func (s *Store) Create(ctx context.Context, event *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailOn == "CreateEvent" {
		return ErrInjected
	}
	s.events[event.ID] = *event
	return nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []*model.Event{}
	for _, e := range s.events {
		if e.OwnerID == ownerID {
			result = append(result, &e)
		}
	}
	slices.SortFunc(result, func(a, b *model.Event) int {
		return cmp.Or(a.StartTime.Compare(b.StartTime), cmp.Compare(a.ID, b.ID))
	})
	return result, nil
}

func (s *Store) ListSwappable(ctx context.Context, excludeOwnerID string) ([]model.EventWithOwner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []model.EventWithOwner{}
	for _, e := range s.events {
		if e.Status != model.EventStatusSwappable || e.OwnerID == excludeOwnerID {
			continue
		}
		owner := s.users[e.OwnerID]
		result = append(result, model.EventWithOwner{Event: e, Owner: owner.Summary()})
	}
	slices.SortFunc(result, func(a, b model.EventWithOwner) int {
		return cmp.Or(a.StartTime.Compare(b.StartTime), cmp.Compare(a.ID, b.ID))
	})
	return result, nil
}

// Swaps はSwapRepositoryとしてのビューを返す。
// Store本体はEventRepositoryを実装するため、別の型にしている。
func (s *Store) Swaps() repository.SwapRepository {
	return swapView{s}
}

type swapView struct{ s *Store }

func (v swapView) FindByID(ctx context.Context, id string) (*model.SwapRequest, error) {
	r, ok := v.s.SwapRequest(id)
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (v swapView) ListByResponder(ctx context.Context, userID string) ([]model.SwapRequestDetail, error) {
	return v.list(func(r model.SwapRequest) bool { return r.ResponderID == userID }), nil
}

func (v swapView) ListByRequester(ctx context.Context, userID string) ([]model.SwapRequestDetail, error) {
	return v.list(func(r model.SwapRequest) bool { return r.RequesterID == userID }), nil
}

func (v swapView) list(match func(model.SwapRequest) bool) []model.SwapRequestDetail {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()

	result := []model.SwapRequestDetail{}
	for _, r := range s.swaps {
		if !match(r) {
			continue
		}
		requester := s.users[r.RequesterID]
		responder := s.users[r.ResponderID]
		d := model.SwapRequestDetail{
			SwapRequest: r,
			Requester:   requester.Summary(),
			Responder:   responder.Summary(),
		}
		if e, ok := s.events[r.RequesterSlotID]; ok {
			d.RequesterSlot = &e
		}
		if e, ok := s.events[r.ResponderSlotID]; ok {
			d.ResponderSlot = &e
		}
		result = append(result, d)
	}
	slices.SortFunc(result, func(a, b model.SwapRequestDetail) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return result
}

var (
	_ repository.TxManager       = (*Store)(nil)
	_ repository.EventRepository = (*Store)(nil)
	_ repository.SwapRepository  = swapView{}
	_ repository.Tx              = (*memTx)(nil)
)
