// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordSwapRequestCreated()
	// RecordSwapResponse は応答結果（accepted / rejected）を記録する。
	RecordSwapResponse(result string)
	// RecordSwapCancelled はキャンセル理由（requester / event_changed / stale / withdrawal）ごとの件数を記録する。
	RecordSwapCancelled(reason string, count int)
	// RecordSwapConflict は状態競合で失敗した操作を記録する。
	RecordSwapConflict(operation string)
	RecordSwapTxLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
	// RecordCleanup はクリーンアップタスクごとの処理件数を記録する。
	RecordCleanup(task string, count int64)
	SetWebSocketConnections(n int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	swapCreated   prometheus.Counter
	swapResponses *prometheus.CounterVec
	swapCancelled *prometheus.CounterVec
	swapConflicts *prometheus.CounterVec
	swapTxLatency prometheus.Histogram
	httpStatus    *prometheus.CounterVec
	cleanupRows   *prometheus.CounterVec
	wsConnections prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		swapCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slotswap_swap_requests_created_total",
			Help: "作成されたスワップリクエストの合計数",
		}),
		swapResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slotswap_swap_responses_total",
			Help: "結果別のスワップ応答数",
		}, []string{"result"}),
		swapCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slotswap_swap_requests_cancelled_total",
			Help: "理由別のキャンセルされたスワップリクエスト数",
		}, []string{"reason"}),
		swapConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slotswap_swap_conflicts_total",
			Help: "状態競合で失敗した操作の数",
		}, []string{"operation"}),
		swapTxLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "slotswap_swap_tx_latency_seconds",
			Help:    "スワップ応答トランザクションのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slotswap_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		cleanupRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slotswap_cleanup_rows_total",
			Help: "クリーンアップタスクで処理した行数",
		}, []string{"task"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "slotswap_websocket_connections",
			Help: "接続中のWebSocketクライアント数",
		}),
	}

	reg.MustRegister(
		c.swapCreated,
		c.swapResponses,
		c.swapCancelled,
		c.swapConflicts,
		c.swapTxLatency,
		c.httpStatus,
		c.cleanupRows,
		c.wsConnections,
	)

	return c
}

func (c *Collector) RecordSwapRequestCreated() {
	c.swapCreated.Inc()
}

func (c *Collector) RecordSwapResponse(result string) {
	c.swapResponses.WithLabelValues(result).Inc()
}

func (c *Collector) RecordSwapCancelled(reason string, count int) {
	c.swapCancelled.WithLabelValues(reason).Add(float64(count))
}

func (c *Collector) RecordSwapConflict(operation string) {
	c.swapConflicts.WithLabelValues(operation).Inc()
}

func (c *Collector) RecordSwapTxLatency(duration time.Duration) {
	c.swapTxLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

func (c *Collector) RecordCleanup(task string, count int64) {
	c.cleanupRows.WithLabelValues(task).Add(float64(count))
}

func (c *Collector) SetWebSocketConnections(n int) {
	c.wsConnections.Set(float64(n))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsのみを提供するHTTPハンドラーを返す。
// APIサーバーを持たないworkerプロセスが単独で公開するために使う。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// Nop は何も記録しないMetricsCollector。テストや未設定時に使う。
type Nop struct{}

func (Nop) RecordSwapRequestCreated()         {}
func (Nop) RecordSwapResponse(string)         {}
func (Nop) RecordSwapCancelled(string, int)   {}
func (Nop) RecordSwapConflict(string)         {}
func (Nop) RecordSwapTxLatency(time.Duration) {}
func (Nop) RecordHTTPStatus(int)              {}
func (Nop) RecordCleanup(string, int64)       {}
func (Nop) SetWebSocketConnections(int)       {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
