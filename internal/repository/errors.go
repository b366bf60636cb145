package repository

import (
	"errors"

	"github.com/hitoshi/slotswap/internal/model"
	"github.com/lib/pq"
)

// PostgreSQLのSQLSTATE
const (
	pqUniqueViolation = "23505"
	pqInvalidTextRepr = "22P02"

	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// isUniqueViolation はerrが一意制約違反かどうかを返す。
// constraintが空でなければ制約名も一致する必要がある。
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != pqUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// isInvalidText はUUID列に不正な文字列を渡した場合などの変換エラーかどうかを返す。
func isInvalidText(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqInvalidTextRepr
}

// isConcurrencyFailure はデッドロック検出または直列化失敗でトランザクションが中断されたかどうかを返す。
func isConcurrencyFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqDeadlockDetected || pqErr.Code == pqSerializationFailure
}

// mapTxError は同時更新による中断をSWAP_CONFLICTに変換する。それ以外はそのまま返す。
func mapTxError(err error) error {
	if isConcurrencyFailure(err) {
		return model.NewSwapConflictError("The data was changed by another request. Please retry")
	}
	return err
}
