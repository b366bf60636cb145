package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestEventStatus_Valid(t *testing.T) {
	tests := []struct {
		status EventStatus
		want   bool
	}{
		{EventStatusBusy, true},
		{EventStatusSwappable, true},
		{EventStatusSwapPending, true},
		{EventStatus("busy"), false},
		{EventStatus(""), false},
	}
	for _, tt := range tests {
		if got := tt.status.Valid(); got != tt.want {
			t.Errorf("EventStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestSwapStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status SwapStatus
		want   bool
	}{
		{SwapStatusPending, false},
		{SwapStatusAccepted, true},
		{SwapStatusRejected, true},
		{SwapStatusCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("SwapStatus(%q).IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

// ラップされたAPIErrorでもコード判定できることを検証する。
func TestHasCode_WrappedError(t *testing.T) {
	err := fmt.Errorf("respond: %w", NewSwapConflictError("Swap request is no longer pending"))

	if !HasCode(err, ErrCodeSwapConflict) {
		t.Error("HasCode should find SWAP_CONFLICT through wrapping")
	}
	if HasCode(err, ErrCodeEventNotFound) {
		t.Error("HasCode should not match a different code")
	}
	if HasCode(errors.New("plain"), ErrCodeSwapConflict) {
		t.Error("HasCode should be false for non-APIError")
	}
}

func TestUser_Summary_OmitsPasswordHash(t *testing.T) {
	u := &User{ID: "u1", Name: "Alice", Email: "alice@example.com", PasswordHash: "secret"}
	s := u.Summary()
	if s.ID != "u1" || s.Name != "Alice" || s.Email != "alice@example.com" {
		t.Errorf("Summary() = %+v", s)
	}
}
