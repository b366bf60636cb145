package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/slotswap/internal/middleware"
	"github.com/hitoshi/slotswap/internal/model"
	"github.com/hitoshi/slotswap/internal/swap"
)

// SwapServiceInterface はスワップハンドラーが必要とするサービスインターフェース。
type SwapServiceInterface interface {
	ListSwappableSlots(ctx context.Context, userID string) ([]model.EventWithOwner, error)
	ListIncoming(ctx context.Context, userID string) ([]model.SwapRequestDetail, error)
	ListOutgoing(ctx context.Context, userID string) ([]model.SwapRequestDetail, error)
	CreateRequest(ctx context.Context, userID string, in swap.CreateRequestInput) (*model.SwapRequest, error)
	Respond(ctx context.Context, userID, requestID string, response model.SwapResponse) (*model.SwapRequest, error)
	Cancel(ctx context.Context, userID, requestID string) (*model.SwapRequest, error)
}

// SwapHandler はスワップリクエストのHTTPハンドラー。
type SwapHandler struct {
	service SwapServiceInterface
}

// NewSwapHandler はSwapHandlerを生成する。
func NewSwapHandler(service SwapServiceInterface) *SwapHandler {
	return &SwapHandler{service: service}
}

// createSwapRequest はスワップリクエスト作成のボディ。
// mySlotId / theirSlotId はSPAが送る別名。
type createSwapRequest struct {
	RequesterSlotID string `json:"requesterSlotId"`
	ResponderSlotID string `json:"responderSlotId"`
	ResponderID     string `json:"responderId"`
	MySlotID        string `json:"mySlotId"`
	TheirSlotID     string `json:"theirSlotId"`
}

func (req createSwapRequest) input() swap.CreateRequestInput {
	in := swap.CreateRequestInput{
		RequesterSlotID: req.RequesterSlotID,
		ResponderSlotID: req.ResponderSlotID,
		ResponderID:     req.ResponderID,
	}
	if in.RequesterSlotID == "" {
		in.RequesterSlotID = req.MySlotID
	}
	if in.ResponderSlotID == "" {
		in.ResponderSlotID = req.TheirSlotID
	}
	return in
}

// swapResponseRequest はスワップ応答のボディ。
// responseの代わりにaccept（真偽値）も受け付ける。
type swapResponseRequest struct {
	SwapRequestID string `json:"swapRequestId"`
	RequestID     string `json:"requestId"`
	Response      string `json:"response"`
	Accept        *bool  `json:"accept"`
}

func (req swapResponseRequest) id() string {
	if req.SwapRequestID != "" {
		return req.SwapRequestID
	}
	return req.RequestID
}

func (req swapResponseRequest) response() model.SwapResponse {
	if req.Response != "" {
		return model.SwapResponse(strings.ToUpper(strings.TrimSpace(req.Response)))
	}
	if req.Accept != nil {
		if *req.Accept {
			return model.SwapResponseAccept
		}
		return model.SwapResponseReject
	}
	return ""
}

// SwappableSlots は他ユーザーの交換可能スロットを返す。
// GET /api/v1/swap/swappable-slots
func (h *SwapHandler) SwappableSlots(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	slots, err := h.service.ListSwappableSlots(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toSwappableSlotResponses(slots), "All the swappable slots")
}

// CreateSwapRequest はスワップリクエストを作成する。
// POST /api/v1/swap/swap-request
func (h *SwapHandler) CreateSwapRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createSwapRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	created, err := h.service.CreateRequest(r.Context(), userID, req.input())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, toSwapRequestResponse(created), "Swap request created successfully")
}

// Incoming は自分宛てのスワップリクエスト一覧を返す。
// GET /api/v1/swap/swap-incoming-requests
func (h *SwapHandler) Incoming(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.service.ListIncoming, "Incoming swap requests")
}

// Outgoing は自分が送ったスワップリクエスト一覧を返す。
// GET /api/v1/swap/swap-outgoing-requests
func (h *SwapHandler) Outgoing(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.service.ListOutgoing, "Outgoing swap requests")
}

func (h *SwapHandler) list(
	w http.ResponseWriter,
	r *http.Request,
	fetch func(ctx context.Context, userID string) ([]model.SwapRequestDetail, error),
	message string,
) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	details, err := fetch(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toSwapRequestDetailResponses(details), message)
}

// Respond はスワップリクエストを承認または拒否する。
// POST /api/v1/swap/swap-response
// POST /api/v1/swap/response/{id}
func (h *SwapHandler) Respond(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req swapResponseRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	requestID := chi.URLParam(r, "id")
	if requestID == "" {
		requestID = req.id()
	}

	result, err := h.service.Respond(r.Context(), userID, requestID, req.response())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	message := "Swap request rejected"
	if result.Status == model.SwapStatusAccepted {
		message = "Swap request accepted"
	}
	middleware.WriteJSON(w, http.StatusOK, toSwapRequestResponse(result), message)
}

// Cancel は自分が送ったPENDINGリクエストを取り消す。
// POST /api/v1/swap/swap-cancel/{id}
func (h *SwapHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	result, err := h.service.Cancel(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toSwapRequestResponse(result), "Swap request cancelled")
}
