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
	RecordLogin(method string, success bool)
	RecordInteraction(action string)
	RecordMatch()
	RecordMessageSent()
	RecordImageImport(result string)
	RecordPassesPurged(count int64)
	RecordEventPublishFailure(subject string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins         *prometheus.CounterVec
	interactions   *prometheus.CounterVec
	matches        prometheus.Counter
	messages       prometheus.Counter
	imageImports   *prometheus.CounterVec
	passesPurged   prometheus.Counter
	publishFail    *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kindred_logins_total",
			Help: "ログイン試行の合計数",
		}, []string{"method", "result"}),
		interactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kindred_interactions_total",
			Help: "LIKE/PASS操作の合計数",
		}, []string{"action"}),
		matches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kindred_matches_total",
			Help: "成立したマッチの合計数",
		}),
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kindred_messages_sent_total",
			Help: "送信されたメッセージの合計数",
		}),
		imageImports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kindred_image_imports_total",
			Help: "外部URLからの画像取り込みの結果別合計数",
		}, []string{"result"}),
		passesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kindred_passes_purged_total",
			Help: "保持期間を過ぎて削除されたPASSの合計数",
		}),
		publishFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kindred_event_publish_fail_total",
			Help: "イベント発行失敗の合計数",
		}, []string{"subject"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kindred_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kindred_http_request_duration_seconds",
			Help:    "APIリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.logins,
		c.interactions,
		c.matches,
		c.messages,
		c.imageImports,
		c.passesPurged,
		c.publishFail,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordLogin はログイン試行を記録する。methodは "phone" または "firebase"。
func (c *Collector) RecordLogin(method string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.logins.WithLabelValues(method, result).Inc()
}

// RecordInteraction はLIKE/PASSを記録する。
func (c *Collector) RecordInteraction(action string) {
	c.interactions.WithLabelValues(action).Inc()
}

// RecordMatch はマッチ成立を記録する。
func (c *Collector) RecordMatch() {
	c.matches.Inc()
}

// RecordMessageSent はメッセージ送信を記録する。
func (c *Collector) RecordMessageSent() {
	c.messages.Inc()
}

// RecordImageImport は画像取り込みの結果を記録する。
func (c *Collector) RecordImageImport(result string) {
	c.imageImports.WithLabelValues(result).Inc()
}

// RecordPassesPurged は削除したPASSの件数を記録する。
func (c *Collector) RecordPassesPurged(count int64) {
	c.passesPurged.Add(float64(count))
}

// RecordEventPublishFailure はイベント発行失敗を記録する。
func (c *Collector) RecordEventPublishFailure(subject string) {
	c.publishFail.WithLabelValues(subject).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

var _ MetricsCollector = Nop{}

func (Nop) RecordLogin(string, bool)           {}
func (Nop) RecordInteraction(string)           {}
func (Nop) RecordMatch()                       {}
func (Nop) RecordMessageSent()                 {}
func (Nop) RecordImageImport(string)           {}
func (Nop) RecordPassesPurged(int64)           {}
func (Nop) RecordEventPublishFailure(string)   {}
func (Nop) RecordHTTPStatus(int)               {}
func (Nop) RecordRequestLatency(time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
