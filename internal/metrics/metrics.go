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
// バックエンドクライアント、サインアウト処理、ワーカーから利用する。
type MetricsCollector interface {
	RecordBackendRequest(operation string, statusCode int, duration time.Duration)
	RecordBackendTransportError(operation string)
	RecordLogin(method string, success bool)
	RecordTokenRefresh(success bool)
	RecordSignOutStep(step, outcome string)
	RecordSignOut(remoteTerminated bool)
	RecordDuplicateMutation(action string)
	RecordSessionsPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	backendRequests  *prometheus.CounterVec
	backendErrors    *prometheus.CounterVec
	backendLatency   *prometheus.HistogramVec
	logins           *prometheus.CounterVec
	tokenRefreshes   *prometheus.CounterVec
	signOutSteps     *prometheus.CounterVec
	signOuts         *prometheus.CounterVec
	duplicateMutates *prometheus.CounterVec
	sessionsPurged   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		backendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approvalportal_backend_requests_total",
			Help: "ワークフローバックエンド呼び出しのステータスコード別件数",
		}, []string{"operation", "status_code"}),
		backendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approvalportal_backend_transport_errors_total",
			Help: "ワークフローバックエンドへの通信エラー件数",
		}, []string{"operation"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "approvalportal_backend_latency_seconds",
			Help:    "ワークフローバックエンド呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approvalportal_logins_total",
			Help: "ログイン試行の件数",
		}, []string{"method", "result"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approvalportal_token_refreshes_total",
			Help: "アクセストークンのリフレッシュ件数",
		}, []string{"result"}),
		signOutSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approvalportal_signout_steps_total",
			Help: "サインアウト各ステップの結果別件数",
		}, []string{"step", "outcome"}),
		signOuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approvalportal_signouts_total",
			Help: "サインアウト件数（IdPセッション終了の有無別）",
		}, []string{"remote_terminated"}),
		duplicateMutates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approvalportal_duplicate_mutations_total",
			Help: "重複送信として1回にまとめられた操作の件数",
		}, []string{"action"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "approvalportal_sessions_purged_total",
			Help: "期限切れで削除されたセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.backendRequests,
		c.backendErrors,
		c.backendLatency,
		c.logins,
		c.tokenRefreshes,
		c.signOutSteps,
		c.signOuts,
		c.duplicateMutates,
		c.sessionsPurged,
	)

	return c
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordBackendRequest はバックエンド呼び出しのステータスとレイテンシを記録する。
func (c *Collector) RecordBackendRequest(operation string, statusCode int, duration time.Duration) {
	c.backendRequests.WithLabelValues(operation, strconv.Itoa(statusCode)).Inc()
	c.backendLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBackendTransportError はバックエンドへの通信エラーを記録する。
func (c *Collector) RecordBackendTransportError(operation string) {
	c.backendErrors.WithLabelValues(operation).Inc()
}

// RecordLogin はログイン試行を記録する。methodは"authorization_code"または"password"。
func (c *Collector) RecordLogin(method string, success bool) {
	c.logins.WithLabelValues(method, resultLabel(success)).Inc()
}

// RecordTokenRefresh はトークンリフレッシュを記録する。
func (c *Collector) RecordTokenRefresh(success bool) {
	c.tokenRefreshes.WithLabelValues(resultLabel(success)).Inc()
}

// RecordSignOutStep はサインアウトの各ステップの結果を記録する。
func (c *Collector) RecordSignOutStep(step, outcome string) {
	c.signOutSteps.WithLabelValues(step, outcome).Inc()
}

// RecordSignOut はサインアウトの完了を記録する。
func (c *Collector) RecordSignOut(remoteTerminated bool) {
	c.signOuts.WithLabelValues(strconv.FormatBool(remoteTerminated)).Inc()
}

// RecordDuplicateMutation は重複送信をまとめたことを記録する。
func (c *Collector) RecordDuplicateMutation(action string) {
	c.duplicateMutates.WithLabelValues(action).Inc()
}

// RecordSessionsPurged は削除したセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。メトリクスを使わない構成とテストで使う。
type Nop struct{}

func (Nop) RecordBackendRequest(string, int, time.Duration) {}
func (Nop) RecordBackendTransportError(string)              {}
func (Nop) RecordLogin(string, bool)                        {}
func (Nop) RecordTokenRefresh(bool)                         {}
func (Nop) RecordSignOutStep(string, string)                {}
func (Nop) RecordSignOut(bool)                              {}
func (Nop) RecordDuplicateMutation(string)                  {}
func (Nop) RecordSessionsPurged(int64)                      {}

// compile-time interface checks
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

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
