package model

import "time"

// EventStatus はイベント（スロット）の状態を表す。
type EventStatus string

const (
	// EventStatusBusy は交換に出していない通常の予定。
	EventStatusBusy EventStatus = "BUSY"
	// EventStatusSwappable は交換可能として公開されている予定。
	EventStatusSwappable EventStatus = "SWAPPABLE"
	// EventStatusSwapPending は交換処理中で状態変更できない予定。
	EventStatusSwapPending EventStatus = "SWAP_PENDING"
)

// Valid は定義済みのステータスかどうかを返す。
func (s EventStatus) Valid() bool {
	switch s {
	case EventStatusBusy, EventStatusSwappable, EventStatusSwapPending:
		return true
	}
	return false
}

// Event はユーザーが所有するカレンダー上の時間枠を表す。
// StartTime < EndTime を常に満たす。
type Event struct {
	ID        string
	Title     string
	StartTime time.Time
	EndTime   time.Time
	OwnerID   string
	Status    EventStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EventWithOwner はマーケットプレイス表示用に所有者情報を付与したイベント。
type EventWithOwner struct {
	Event
	Owner UserSummary
}
