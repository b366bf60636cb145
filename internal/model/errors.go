// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, event, swap, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeInvalidTimeRange     = "INVALID_TIME_RANGE"
	ErrCodeInvalidSlot          = "INVALID_SLOT"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeEventNotFound        = "EVENT_NOT_FOUND"
	ErrCodeSwapRequestNotFound  = "SWAP_REQUEST_NOT_FOUND"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeSwapConflict         = "SWAP_CONFLICT"
	ErrCodeDuplicateSwapRequest = "DUPLICATE_SWAP_REQUEST"
	ErrCodeEmailTaken           = "EMAIL_TAKEN"
)

// NewValidationError は入力値の検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "Check the request fields and try again.",
	}
}

// NewInvalidTimeRangeError は開始時刻が終了時刻以降の場合のエラーを生成する。
func NewInvalidTimeRangeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTimeRange,
		Message:  "startTime must be before endTime",
		Category: "validation",
		Action:   "Pick an end time later than the start time.",
	}
}

// NewInvalidSlotError はスワップ対象スロットが条件を満たさない場合のエラーを生成する。
// side は "requester" または "responder"。
func NewInvalidSlotError(side string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSlot,
		Message:  fmt.Sprintf("Invalid %s slot", side),
		Category: "validation",
		Action:   "Both slots must exist, be marked swappable and belong to the right users.",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "User is not logged in",
		Category: "auth",
		Action:   "Log in and try again.",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// メールアドレスとパスワードのどちらが誤っているかは区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid email or password",
		Category: "auth",
		Action:   "Check your email and password.",
	}
}

// NewForbiddenError は所有者以外による操作のエラーを生成する。
func NewForbiddenError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  message,
		Category: "auth",
		Action:   "Only the owner can perform this action.",
	}
}

// NewEventNotFoundError はイベント未検出エラーを生成する。
func NewEventNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeEventNotFound,
		Message:  "Event not found",
		Category: "event",
		Action:   "Reload your calendar.",
	}
}

// NewSwapRequestNotFoundError はスワップリクエスト未検出エラーを生成する。
func NewSwapRequestNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeSwapRequestNotFound,
		Message:  "Swap request not found",
		Category: "swap",
		Action:   "Reload your notifications.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "auth",
		Action:   "Log in again.",
	}
}

// NewSwapConflictError はリクエストまたはスロットの状態が変わっていて処理できない場合のエラーを生成する。
func NewSwapConflictError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeSwapConflict,
		Message:  message,
		Category: "swap",
		Action:   "Reload and check the current state of the request.",
	}
}

// NewDuplicateSwapRequestError は同じスロットの組に対する保留中リクエストが既にある場合のエラーを生成する。
func NewDuplicateSwapRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateSwapRequest,
		Message:  "A pending swap request for these slots already exists",
		Category: "swap",
		Action:   "Wait for the other user to respond.",
	}
}

// NewEmailTakenError は登録済みメールアドレスでのサインアップエラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "Email is already registered",
		Category: "auth",
		Action:   "Log in instead, or use another email address.",
	}
}

// HasCode はerrがAPIErrorであり、指定コードを持つかどうかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
