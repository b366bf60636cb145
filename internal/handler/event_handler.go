package handler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/slotswap/internal/event"
	"github.com/hitoshi/slotswap/internal/middleware"
	"github.com/hitoshi/slotswap/internal/model"
)

// EventServiceInterface はイベントハンドラーが必要とするサービスインターフェース。
type EventServiceInterface interface {
	Create(ctx context.Context, ownerID string, in event.CreateInput) (*model.Event, error)
	ListMine(ctx context.Context, ownerID string) ([]*model.Event, error)
	UpdateStatus(ctx context.Context, ownerID, eventID string, status model.EventStatus) (*model.Event, error)
	Delete(ctx context.Context, ownerID, eventID string) error
	ExportICal(ctx context.Context, ownerID string, w io.Writer) error
}

// EventHandler はイベント管理のHTTPハンドラー。
type EventHandler struct {
	service EventServiceInterface
}

// NewEventHandler はEventHandlerを生成する。
func NewEventHandler(service EventServiceInterface) *EventHandler {
	return &EventHandler{service: service}
}

type createEventRequest struct {
	Title     string `json:"title"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type updateEventStatusRequest struct {
	Status string `json:"status"`
}

// CreateEvent はイベントを作成する。
// POST /api/v1/events/create-event
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createEventRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	ev, err := h.service.Create(r.Context(), userID, event.CreateInput{
		Title:     req.Title,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, toEventResponse(ev), "Event created successfully")
}

// MyEvents は自分のイベント一覧を返す。
// GET /api/v1/events/my-events
func (h *EventHandler) MyEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	events, err := h.service.ListMine(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toEventResponses(events), "All events of the user")
}

// MyEventsICal は自分のイベントをiCalendarとして返す。
// GET /api/v1/events/my-events.ics
func (h *EventHandler) MyEventsICal(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	// エンコード失敗時にエラーレスポンスを返せるよう一度バッファに書く
	var buf bytes.Buffer
	if err := h.service.ExportICal(r.Context(), userID, &buf); err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="slotswap.ics"`)
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Warn("failed to write calendar", slog.String("error", err.Error()))
	}
}

// UpdateEventStatus はイベントのステータスをBUSYとSWAPPABLEの間で切り替える。
// PATCH /api/v1/events/{id}
func (h *EventHandler) UpdateEventStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateEventStatusRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	ev, err := h.service.UpdateStatus(r.Context(), userID, chi.URLParam(r, "id"), model.EventStatus(req.Status))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toEventResponse(ev), "Event updated successfully")
}

// DeleteEvent は自分のイベントを削除する。
// DELETE /api/v1/events/delete-event/{id}
func (h *EventHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, nil, "Event deleted successfully")
}
