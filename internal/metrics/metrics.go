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
// Edge Gate、マウントガード、認証チェック、HTTPクライアント、認証サービスから利用する。
type MetricsCollector interface {
	RecordEdgeRedirect(target string)
	RecordGuardVerdict(state string)
	RecordAuthCheck(result string)
	RecordAuthClear(reason string)
	RecordBackendRequest(statusCode int, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	edgeRedirects  *prometheus.CounterVec
	guardVerdicts  *prometheus.CounterVec
	authChecks     *prometheus.CounterVec
	authClears     *prometheus.CounterVec
	backendStatus  *prometheus.CounterVec
	backendLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		edgeRedirects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_edge_redirects_total",
			Help: "Edge Gateによるリダイレクト数（リダイレクト先別）",
		}, []string{"target"}),
		guardVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_guard_verdicts_total",
			Help: "マウントガードの判定数（状態別）",
		}, []string{"state"}),
		authChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_auth_checks_total",
			Help: "認証チェックの結果数",
		}, []string{"result"}),
		authClears: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_auth_clears_total",
			Help: "認証情報の破棄数（理由別）",
		}, []string{"reason"}),
		backendStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_backend_requests_total",
			Help: "バックエンドへのリクエスト数（ステータスコード別、0は通信失敗）",
		}, []string{"status_code"}),
		backendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dashboard_backend_latency_seconds",
			Help:    "バックエンドへのリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.edgeRedirects,
		c.guardVerdicts,
		c.authChecks,
		c.authClears,
		c.backendStatus,
		c.backendLatency,
	)

	return c
}

// RecordEdgeRedirect はEdge Gateのリダイレクトを記録する。
func (c *Collector) RecordEdgeRedirect(target string) {
	c.edgeRedirects.WithLabelValues(target).Inc()
}

// RecordGuardVerdict はマウントガードの判定を記録する。
func (c *Collector) RecordGuardVerdict(state string) {
	c.guardVerdicts.WithLabelValues(state).Inc()
}

// RecordAuthCheck は認証チェックの結果を記録する。
func (c *Collector) RecordAuthCheck(result string) {
	c.authChecks.WithLabelValues(result).Inc()
}

// RecordAuthClear は認証情報の破棄を記録する。
func (c *Collector) RecordAuthClear(reason string) {
	c.authClears.WithLabelValues(reason).Inc()
}

// RecordBackendRequest はバックエンドへのリクエストのステータスとレイテンシを記録する。
func (c *Collector) RecordBackendRequest(statusCode int, duration time.Duration) {
	c.backendStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	c.backendLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
