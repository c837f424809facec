// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ガード、認証ハンドラー、ライブビュー、ワーカーから利用する。
type MetricsCollector interface {
	RecordGuardDecision(outcome string)
	RecordLogin(result string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	LiveViewOpened(view string)
	LiveViewClosed(view string)
	RecordStoreNotification(collection string)
	RecordSessionsCleaned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	guardDecisions     *prometheus.CounterVec
	logins             *prometheus.CounterVec
	httpStatus         *prometheus.CounterVec
	requestLatency     prometheus.Histogram
	liveViews          *prometheus.GaugeVec
	storeNotifications *prometheus.CounterVec
	sessionsCleaned    prometheus.Counter
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicman_guard_decisions_total",
			Help: "セッションガードの判定結果別の件数",
		}, []string{"outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicman_login_attempts_total",
			Help: "ログイン試行の結果別の件数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clinicman_request_latency_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		liveViews: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clinicman_live_views",
			Help: "接続中のライブビュー数",
		}, []string{"view"}),
		storeNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicman_store_notifications_total",
			Help: "ドキュメントストアの変更通知の件数",
		}, []string{"collection"}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinicman_sessions_cleaned_total",
			Help: "削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.guardDecisions,
		c.logins,
		c.httpStatus,
		c.requestLatency,
		c.liveViews,
		c.storeNotifications,
		c.sessionsCleaned,
	)

	return c
}

// RecordGuardDecision はガードの判定結果を記録する。
func (c *Collector) RecordGuardDecision(outcome string) {
	c.guardDecisions.WithLabelValues(outcome).Inc()
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

func (c *Collector) LiveViewOpened(view string) { c.liveViews.WithLabelValues(view).Inc() }

func (c *Collector) LiveViewClosed(view string) { c.liveViews.WithLabelValues(view).Dec() }

// RecordStoreNotification はコレクションの変更通知を記録する。
func (c *Collector) RecordStoreNotification(collection string) {
	c.storeNotifications.WithLabelValues(collection).Inc()
}

// RecordSessionsCleaned は削除したセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

// Middleware はHTTPステータスと処理時間を記録するミドルウェアを返す。
func Middleware(c MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			c.RecordHTTPStatus(rec.status)
			c.RecordRequestLatency(time.Since(start))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Hijack はWebSocketのアップグレードのために下位のコネクションを引き渡す。
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	w.wroteHeader = true
	return hj.Hijack()
}

// Unwrap はhttp.ResponseControllerが下位のWriterに到達できるようにする。
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type NopCollector struct{}

var _ MetricsCollector = NopCollector{}

func (NopCollector) RecordGuardDecision(string)         {}
func (NopCollector) RecordLogin(string)                 {}
func (NopCollector) RecordHTTPStatus(int)               {}
func (NopCollector) RecordRequestLatency(time.Duration) {}
func (NopCollector) LiveViewOpened(string)              {}
func (NopCollector) LiveViewClosed(string)              {}
func (NopCollector) RecordStoreNotification(string)     {}
func (NopCollector) RecordSessionsCleaned(int64)        {}
