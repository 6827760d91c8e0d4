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
// ハンドラーやサービス層から利用する。
type MetricsCollector interface {
	RecordTokenIssued(target string)
	RecordTokenRedeemed(replayed bool)
	RecordRedeemFailure(reason string)
	RecordEventReceived()
	RecordEventDropped(reason string)
	RecordPeerNotify(success bool)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	tokenIssued    *prometheus.CounterVec
	tokenRedeemed  *prometheus.CounterVec
	redeemFail     *prometheus.CounterVec
	eventReceived  prometheus.Counter
	eventDropped   *prometheus.CounterVec
	peerNotify     *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tokenIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flixsync_token_issued_total",
			Help: "発行された同期トークンのターゲット別合計数",
		}, []string{"target"}),
		tokenRedeemed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flixsync_token_redeemed_total",
			Help: "引き換えに成功した同期トークンの合計数（初回/リプレイ別）",
		}, []string{"replayed"}),
		redeemFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flixsync_redeem_fail_total",
			Help: "同期トークン引き換え失敗の理由別合計数",
		}, []string{"reason"}),
		eventReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flixsync_sync_event_received_total",
			Help: "受信した同期イベントの合計数",
		}),
		eventDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flixsync_sync_event_dropped_total",
			Help: "破棄された同期イベントの理由別合計数",
		}, []string{"reason"}),
		peerNotify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flixsync_peer_notify_total",
			Help: "ピアへのサーバ間通知の結果別合計数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flixsync_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flixsync_request_latency_seconds",
			Help:    "HTTPリクエスト処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.tokenIssued,
		c.tokenRedeemed,
		c.redeemFail,
		c.eventReceived,
		c.eventDropped,
		c.peerNotify,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordTokenIssued は同期トークンの発行を記録する。
func (c *Collector) RecordTokenIssued(target string) {
	c.tokenIssued.WithLabelValues(target).Inc()
}

// RecordTokenRedeemed は引き換え成功を記録する。
func (c *Collector) RecordTokenRedeemed(replayed bool) {
	c.tokenRedeemed.WithLabelValues(strconv.FormatBool(replayed)).Inc()
}

// RecordRedeemFailure は引き換え失敗を理由付きで記録する。
// クライアントには内訳を返さないため、運用での切り分けはこのメトリクスとログに頼る。
func (c *Collector) RecordRedeemFailure(reason string) {
	c.redeemFail.WithLabelValues(reason).Inc()
}

// RecordEventReceived は同期イベントの受信を記録する。
func (c *Collector) RecordEventReceived() {
	c.eventReceived.Inc()
}

// RecordEventDropped は同期イベントの破棄を理由付きで記録する。
func (c *Collector) RecordEventDropped(reason string) {
	c.eventDropped.WithLabelValues(reason).Inc()
}

// RecordPeerNotify はピア通知の結果を記録する。
func (c *Collector) RecordPeerNotify(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.peerNotify.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理のレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
