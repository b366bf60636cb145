package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/slotswap/internal/middleware"
	"github.com/hitoshi/slotswap/internal/model"
)

// 1MBを超えるリクエストボディは受け付けない
const maxRequestBodySize = 1 << 20

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// eventResponse はイベントのAPIレスポンス。
type eventResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Status    string    `json:"status"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// swappableSlotResponse はマーケットプレイスに並ぶスロット。
type swappableSlotResponse struct {
	eventResponse
	Owner userResponse `json:"owner"`
}

// swapRequestResponse はスワップリクエストのAPIレスポンス。
// 一覧では関係者とスロットを埋め込む。削除済みスロットはnull。
type swapRequestResponse struct {
	ID              string         `json:"id"`
	RequesterID     string         `json:"requesterId"`
	ResponderID     string         `json:"responderId"`
	RequesterSlotID *string        `json:"requesterSlotId"`
	ResponderSlotID *string        `json:"responderSlotId"`
	Status          string         `json:"status"`
	CreatedAt       time.Time      `json:"createdAt"`
	RespondedAt     *time.Time     `json:"respondedAt"`
	Requester       *userResponse  `json:"requester,omitempty"`
	Responder       *userResponse  `json:"responder,omitempty"`
	RequesterSlot   *eventResponse `json:"requesterSlot,omitempty"`
	ResponderSlot   *eventResponse `json:"responderSlot,omitempty"`
}

func toUserResponse(u model.UserSummary) userResponse {
	return userResponse{ID: u.ID, Name: u.Name, Email: u.Email}
}

func toEventResponse(e *model.Event) eventResponse {
	return eventResponse{
		ID:        e.ID,
		Title:     e.Title,
		StartTime: e.StartTime,
		EndTime:   e.EndTime,
		Status:    string(e.Status),
		OwnerID:   e.OwnerID,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func toEventResponses(events []*model.Event) []eventResponse {
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, toEventResponse(e))
	}
	return out
}

func toSwappableSlotResponses(slots []model.EventWithOwner) []swappableSlotResponse {
	out := make([]swappableSlotResponse, 0, len(slots))
	for i := range slots {
		out = append(out, swappableSlotResponse{
			eventResponse: toEventResponse(&slots[i].Event),
			Owner:         toUserResponse(slots[i].Owner),
		})
	}
	return out
}

func optionalID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func toSwapRequestResponse(r *model.SwapRequest) swapRequestResponse {
	return swapRequestResponse{
		ID:              r.ID,
		RequesterID:     r.RequesterID,
		ResponderID:     r.ResponderID,
		RequesterSlotID: optionalID(r.RequesterSlotID),
		ResponderSlotID: optionalID(r.ResponderSlotID),
		Status:          string(r.Status),
		CreatedAt:       r.CreatedAt,
		RespondedAt:     r.RespondedAt,
	}
}

func toSwapRequestDetailResponses(details []model.SwapRequestDetail) []swapRequestResponse {
	out := make([]swapRequestResponse, 0, len(details))
	for i := range details {
		d := &details[i]
		resp := toSwapRequestResponse(&d.SwapRequest)
		requester := toUserResponse(d.Requester)
		responder := toUserResponse(d.Responder)
		resp.Requester = &requester
		resp.Responder = &responder
		if d.RequesterSlot != nil {
			slot := toEventResponse(d.RequesterSlot)
			resp.RequesterSlot = &slot
		}
		if d.ResponderSlot != nil {
			slot := toEventResponse(d.ResponderSlot)
			resp.ResponderSlot = &slot
		}
		out = append(out, resp)
	}
	return out
}

// decodeJSONBody はリクエストボディをdstにデコードする。
// 不正なJSONは検証エラーとして扱う。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return model.NewValidationError("Fields are missing")
		}
		return model.NewValidationError("Invalid JSON body")
	}
	return nil
}

// requireUserID はセッションミドルウェアが注入したユーザーIDを取り出す。
// 取り出せない場合は401を書き込んでfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return "", false
	}
	return userID, true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは詳細をログにのみ残す
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation, model.ErrCodeInvalidTimeRange, model.ErrCodeInvalidSlot:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized, model.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeEventNotFound, model.ErrCodeSwapRequestNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeSwapConflict, model.ErrCodeEmailTaken, model.ErrCodeDuplicateSwapRequest:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
