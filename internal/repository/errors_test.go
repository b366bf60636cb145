package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hitoshi/slotswap/internal/model"
	"github.com/lib/pq"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{"nil", nil, "", false},
		{"通常のエラー", errors.New("boom"), "", false},
		{"一意制約違反", &pq.Error{Code: "23505", Constraint: "users_email_key"}, "", true},
		{"ラップされた一意制約違反", fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), "", true},
		{"制約名一致", &pq.Error{Code: "23505", Constraint: "users_email_key"}, "users_email_key", true},
		{"制約名不一致", &pq.Error{Code: "23505", Constraint: "other"}, "users_email_key", false},
		{"別のSQLSTATE", &pq.Error{Code: "23503"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err, tt.constraint); got != tt.want {
				t.Errorf("isUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsInvalidText(t *testing.T) {
	if !isInvalidText(&pq.Error{Code: "22P02"}) {
		t.Error("22P02 は不正テキストとして判定されるべき")
	}
	if isInvalidText(&pq.Error{Code: "23505"}) {
		t.Error("23505 は不正テキストではない")
	}
	if isInvalidText(nil) {
		t.Error("nil は不正テキストではない")
	}
}

func TestMapTxError(t *testing.T) {
	plain := errors.New("boom")
	tests := []struct {
		name         string
		err          error
		wantConflict bool
	}{
		{"デッドロック", fmt.Errorf("failed to lock event: %w", &pq.Error{Code: "40P01"}), true},
		{"直列化失敗", &pq.Error{Code: "40001"}, true},
		{"一意制約違反", &pq.Error{Code: "23505"}, false},
		{"通常のエラー", plain, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapTxError(tt.err)
			if model.HasCode(got, model.ErrCodeSwapConflict) != tt.wantConflict {
				t.Fatalf("mapTxError() = %v, wantConflict %v", got, tt.wantConflict)
			}
			if !tt.wantConflict && got != tt.err {
				t.Errorf("mapTxError() = %v, want original error", got)
			}
		})
	}
}
