// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層・ビュー・ワーカーから利用する。
type MetricsCollector interface {
	RecordBookmarkCreated()
	RecordBookmarkDeleted()
	RecordRefreshFailure()
	RecordChangeEvent(op string)
	RecordFaviconFetch(success bool)
	AddStreamClient(delta int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	bookmarksCreated prometheus.Counter
	bookmarksDeleted prometheus.Counter
	refreshFail      prometheus.Counter
	changeEvents     *prometheus.CounterVec
	faviconFetch     *prometheus.CounterVec
	streamClients    prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		bookmarksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookman_bookmarks_created_total",
			Help: "作成されたブックマークの合計数",
		}),
		bookmarksDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookman_bookmarks_deleted_total",
			Help: "削除されたブックマークの合計数",
		}),
		refreshFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookman_refresh_fail_total",
			Help: "ブックマーク一覧再取得失敗の合計数",
		}),
		changeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookman_change_events_total",
			Help: "受信した変更通知イベントの操作種別ごとの合計数",
		}, []string{"op"}),
		faviconFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookman_favicon_fetch_total",
			Help: "favicon取得試行の結果別合計数",
		}, []string{"result"}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bookman_stream_clients",
			Help: "現在接続中のイベントストリームクライアント数",
		}),
	}

	reg.MustRegister(
		c.bookmarksCreated,
		c.bookmarksDeleted,
		c.refreshFail,
		c.changeEvents,
		c.faviconFetch,
		c.streamClients,
	)

	return c
}

// RecordBookmarkCreated はブックマーク作成を記録する。
func (c *Collector) RecordBookmarkCreated() {
	c.bookmarksCreated.Inc()
}

// RecordBookmarkDeleted はブックマーク削除を記録する。
func (c *Collector) RecordBookmarkDeleted() {
	c.bookmarksDeleted.Inc()
}

// RecordRefreshFailure は一覧再取得の失敗を記録する。
func (c *Collector) RecordRefreshFailure() {
	c.refreshFail.Inc()
}

// RecordChangeEvent は変更通知イベントの受信を記録する。
// 操作種別が空のイベント（再接続シグナルなど）は "unknown" として数える。
func (c *Collector) RecordChangeEvent(op string) {
	if op == "" {
		op = "unknown"
	}
	c.changeEvents.WithLabelValues(op).Inc()
}

// RecordFaviconFetch はfavicon取得試行の結果を記録する。
func (c *Collector) RecordFaviconFetch(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.faviconFetch.WithLabelValues(result).Inc()
}

// AddStreamClient はストリームクライアント数の増減を記録する。
func (c *Collector) AddStreamClient(delta int) {
	c.streamClients.Add(float64(delta))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
