package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	ws "github.com/coder/websocket"
	"github.com/hitoshi/slotswap/internal/middleware"
	"github.com/hitoshi/slotswap/internal/notify"
)

// WSHandler はリアルタイム通知用のWebSocket接続を受け付ける。
type WSHandler struct {
	hub            *notify.Hub
	sessions       middleware.SessionFinder
	originPatterns []string
}

// NewWSHandler はWSHandlerを生成する。
// allowedOriginのホスト部をWebSocketのOriginチェックに使う。
func NewWSHandler(hub *notify.Hub, sessions middleware.SessionFinder, allowedOrigin string) *WSHandler {
	return &WSHandler{
		hub:            hub,
		sessions:       sessions,
		originPatterns: originPatterns(allowedOrigin),
	}
}

// Connect はセッションを検証してWebSocketへアップグレードし、切断までブロックする。
// ブラウザのWebSocketはヘッダーを付けられないため、tokenクエリでもセッションIDを受け付ける。
// GET /api/v1/ws
func (h *WSHandler) Connect(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("token")
	if sessionID == "" {
		sessionID = middleware.SessionIDFromRequest(r)
	}
	if sessionID == "" {
		middleware.WriteUnauthorized(w)
		return
	}

	session, err := h.sessions.FindByID(r.Context(), sessionID)
	if err != nil {
		slog.Error("failed to find session", slog.String("error", err.Error()))
		middleware.WriteUnauthorized(w)
		return
	}
	if session == nil || !session.ExpiresAt.After(time.Now()) {
		middleware.WriteUnauthorized(w)
		return
	}

	// サーバー全体のRead/WriteTimeoutを長寿命の接続から外す
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		slog.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	notify.NewClient(h.hub, conn, session.UserID).Run(r.Context())
	conn.Close(ws.StatusNormalClosure, "")
}

func originPatterns(allowedOrigin string) []string {
	u, err := url.Parse(allowedOrigin)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}
