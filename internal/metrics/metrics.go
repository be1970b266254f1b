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
// リゾルバ、サービス層、ワーカーから利用する。
type MetricsCollector interface {
	RecordAuthResolution(strategy, outcome string)
	RecordTokenIssued()
	RecordTokensPurged(count int64)
	RecordIdPStatus(statusCode int)
	RecordIdPLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authResolution *prometheus.CounterVec
	tokensIssued   prometheus.Counter
	tokensPurged   prometheus.Counter
	idpStatus      *prometheus.CounterVec
	idpLatency     prometheus.Histogram
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authResolution: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authbridge_auth_resolution_total",
			Help: "資格情報解決の試行数（戦略・結果別）",
		}, []string{"strategy", "outcome"}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authbridge_tokens_issued_total",
			Help: "発行されたセッショントークンの合計数",
		}),
		tokensPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authbridge_tokens_purged_total",
			Help: "削除された期限切れトークンの合計数",
		}),
		idpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authbridge_idp_status_total",
			Help: "IdP APIのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		idpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authbridge_idp_latency_seconds",
			Help:    "IdP APIリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authbridge_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.authResolution,
		c.tokensIssued,
		c.tokensPurged,
		c.idpStatus,
		c.idpLatency,
		c.httpStatus,
	)

	return c
}

// RecordAuthResolution は資格情報解決の試行を戦略・結果別に記録する。
func (c *Collector) RecordAuthResolution(strategy, outcome string) {
	c.authResolution.WithLabelValues(strategy, outcome).Inc()
}

// RecordTokenIssued はトークン発行を記録する。
func (c *Collector) RecordTokenIssued() {
	c.tokensIssued.Inc()
}

// RecordTokensPurged は削除された期限切れトークン数を記録する。
func (c *Collector) RecordTokensPurged(count int64) {
	c.tokensPurged.Add(float64(count))
}

// RecordIdPStatus はIdP APIのHTTPステータスコードを記録する。
func (c *Collector) RecordIdPStatus(statusCode int) {
	c.idpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordIdPLatency はIdP APIリクエストのレイテンシを記録する。
func (c *Collector) RecordIdPLatency(duration time.Duration) {
	c.idpLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
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
