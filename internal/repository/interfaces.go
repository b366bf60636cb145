// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/slotswap/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はEMAIL_TAKENのAPIErrorを返す。
	Create(ctx context.Context, user *model.User) error

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// Create は既存ユーザーにidentityを紐付ける。
	Create(ctx context.Context, identity *model.Identity) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	DeleteByID(ctx context.Context, id string) error
}

// EventRepository はトランザクション外で行うイベントの参照と作成。
// 状態変更と削除はTx経由で行う。
type EventRepository interface {
	Create(ctx context.Context, event *model.Event) error


	// ListByOwner は所有イベントを開始時刻順に返す。
	ListByOwner(ctx context.Context, ownerID string) ([]*model.Event, error)

	// ListSwappable は指定ユーザー以外が所有するSWAPPABLEなイベントを所有者情報付きで開始時刻順に返す。
	ListSwappable(ctx context.Context, excludeOwnerID string) ([]model.EventWithOwner, error)
}

// SwapRepository はトランザクション外で行うスワップリクエストの参照。
type SwapRepository interface {
	// FindByID は指定IDのリクエストを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.SwapRequest, error)

	// ListByResponder は受信したリクエストを新しい順に返す。
	ListByResponder(ctx context.Context, userID string) ([]model.SwapRequestDetail, error)

	// ListByRequester は送信したリクエストを新しい順に返す。
	ListByRequester(ctx context.Context, userID string) ([]model.SwapRequestDetail, error)
}

// Tx はひとつのデータベーストランザクション内で行う操作。
// Lock系メソッドは対象行を SELECT ... FOR UPDATE でロックする。
type Tx interface {
	// LockEvents は指定IDのイベントをID昇順にロックして返す。
	// 存在しないIDはマップに含まれない。
	LockEvents(ctx context.Context, ids ...string) (map[string]*model.Event, error)

	// LockEventsByOwner は指定ユーザーが所有するイベントをID昇順にロックして返す。
	LockEventsByOwner(ctx context.Context, ownerID string) ([]model.Event, error)

	// LockSwapRequest はリクエスト行をロックして返す。見つからない場合はnilを返す。
	LockSwapRequest(ctx context.Context, id string) (*model.SwapRequest, error)

	UpdateEventOwner(ctx context.Context, eventID, ownerID string, now time.Time) error
	UpdateEventStatus(ctx context.Context, eventID string, status model.EventStatus, now time.Time) error
	DeleteEvent(ctx context.Context, eventID string) error

	// HasPendingSwapRequest は同じスロットの組に対するPENDINGリクエストがあるかを返す。
	HasPendingSwapRequest(ctx context.Context, requesterSlotID, responderSlotID string) (bool, error)

	// InsertSwapRequest はリクエストを作成する。
	// 保留中の組が重複する場合はDUPLICATE_SWAP_REQUESTのAPIErrorを返す。
	InsertSwapRequest(ctx context.Context, req *model.SwapRequest) error

	UpdateSwapRequestStatus(ctx context.Context, id string, status model.SwapStatus, respondedAt time.Time) error

	// CancelPendingByEvent は指定イベントを参照するPENDINGリクエストをCANCELLEDにして返す。
	CancelPendingByEvent(ctx context.Context, eventID string, now time.Time) ([]model.SwapRequest, error)

	// CancelPendingByUser は指定ユーザーが当事者のPENDINGリクエストをCANCELLEDにして返す。
	CancelPendingByUser(ctx context.Context, userID string, now time.Time) ([]model.SwapRequest, error)

	// DeleteUser はユーザーと所有イベント、セッション、当事者のリクエストを削除する。
	DeleteUser(ctx context.Context, userID string) error
}

// TxManager はトランザクションの開始と終了を管理する。
type TxManager interface {
	// WithTx はfnをトランザクション内で実行する。
	// fnがエラーを返した場合はロールバックし、そのエラーを返す。
	// デッドロックなど同時更新による中断はSWAP_CONFLICTのAPIErrorになる。
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
