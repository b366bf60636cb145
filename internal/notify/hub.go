// Package notify はWebSocketによるユーザー単位のリアルタイム通知を提供する。
//
// スワップリクエストの作成・応答・キャンセル時に、相手ユーザーの接続中クライアントへ
// 軽量なメッセージを送る。クライアントはメッセージを受けて一覧を再取得する。
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/slotswap/internal/metrics"
)

// Message はクライアントへ送る通知。
type Message struct {
	Type   string `json:"type"`
	Entity string `json:"entity"`
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
}

// NewMessage はentityとactionからTypeを組み立てたMessageを生成する。
func NewMessage(entity, action, id string) Message {
	return Message{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
	}
}

// Notifier は指定ユーザーへ通知を送るインターフェース。
// 送信はブロックしてはならない。
type Notifier interface {
	Publish(userID string, msg Message)
}

// Hub はユーザーIDごとの接続中クライアントを管理する。
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	count   int
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// NewHub は新しいHubを生成する。mcがnilの場合はメトリクスを記録しない。
func NewHub(logger *slog.Logger, mc metrics.MetricsCollector) *Hub {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		logger:  logger,
		metrics: mc,
	}
}

// Register はクライアントを登録する。
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	h.count++
	n := h.count
	h.mu.Unlock()

	h.metrics.SetWebSocketConnections(n)
}

// Unregister はクライアントを登録解除し、送信チャネルを閉じる。
// 二重に呼んでも安全。
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := set[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	close(c.send)
	h.count--
	n := h.count
	h.mu.Unlock()

	h.metrics.SetWebSocketConnections(n)
}

// Publish は指定ユーザーの全クライアントへメッセージを送る。
// 送信バッファが一杯のクライアントには送らずに破棄する。
func (h *Hub) Publish(userID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("通知メッセージのエンコードに失敗しました", slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[userID] {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("送信バッファが一杯のため通知を破棄しました",
				slog.String("user_id", userID),
				slog.String("type", msg.Type),
			)
		}
	}
}

// ClientCount は接続中のクライアント総数を返す。
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// UserClientCount は指定ユーザーの接続中クライアント数を返す。
func (h *Hub) UserClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

var _ Notifier = (*Hub)(nil)
