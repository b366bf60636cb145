package model

import "time"

// SwapStatus はスワップリクエストの状態を表す。
type SwapStatus string

const (
	SwapStatusPending   SwapStatus = "PENDING"
	SwapStatusAccepted  SwapStatus = "ACCEPTED"
	SwapStatusRejected  SwapStatus = "REJECTED"
	SwapStatusCancelled SwapStatus = "CANCELLED"
)

// IsTerminal は終端状態（これ以上遷移しない状態）かどうかを返す。
func (s SwapStatus) IsTerminal() bool {
	return s == SwapStatusAccepted || s == SwapStatusRejected || s == SwapStatusCancelled
}

// SwapResponse はスワップリクエストへの応答種別。
type SwapResponse string

const (
	SwapResponseAccept SwapResponse = "ACCEPT"
	SwapResponseReject SwapResponse = "REJECT"
)

// SwapRequest は2者間のスロット交換リクエストを表す。
// スロットが削除された場合、対応するスロットIDは空文字になる。
type SwapRequest struct {
	ID              string
	RequesterID     string
	ResponderID     string
	RequesterSlotID string
	ResponderSlotID string
	Status          SwapStatus
	CreatedAt       time.Time
	RespondedAt     *time.Time
}

// SwapRequestDetail は一覧表示用に関係者とスロット情報を結合したスワップリクエスト。
// スロットが削除済みの場合はnil。
type SwapRequestDetail struct {
	SwapRequest
	Requester     UserSummary
	Responder     UserSummary
	RequesterSlot *Event
	ResponderSlot *Event
}
