// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// 各サービスが定義する記録用インターフェース（session.Stats、roster.Stats、
// game.Stats、chain.Stats、notify.Stats、middleware.HTTPStats）をすべて満たす。
type Collector struct {
	sessionsCreated *prometheus.CounterVec
	sessionsStarted *prometheus.CounterVec
	joins           prometheus.Counter
	phaseAdvances   prometheus.Counter
	votesResolved   prometheus.Counter
	eliminations    prometheus.Counter
	conflictRetries prometheus.Counter
	eventsPublished *prometheus.CounterVec
	eventsDropped   prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpLatency     prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asobiba_sessions_created_total",
			Help: "作成されたセッションの合計数（ゲーム種類別）",
		}, []string{"game_kind"}),
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asobiba_sessions_started_total",
			Help: "開始されたゲームの合計数（ゲーム種類別）",
		}, []string{"game_kind"}),
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asobiba_joins_total",
			Help: "新規参加の合計数",
		}),
		phaseAdvances: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asobiba_phase_advances_total",
			Help: "フェーズ遷移の合計数",
		}),
		votesResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asobiba_votes_resolved_total",
			Help: "投票解決の合計数",
		}),
		eliminations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asobiba_eliminations_total",
			Help: "暗殺チェーンの脱落処理の合計数",
		}),
		conflictRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asobiba_elimination_conflict_retries_total",
			Help: "脱落処理の直列化競合による内部リトライの合計数",
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asobiba_notify_events_published_total",
			Help: "配信された変更通知イベントの合計数（種別別）",
		}, []string{"kind"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asobiba_notify_events_dropped_total",
			Help: "購読者バッファ溢れで破棄されたイベントの合計数",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asobiba_http_requests_total",
			Help: "HTTPリクエストの合計数（メソッド・ステータス別）",
		}, []string{"method", "status"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "asobiba_http_request_duration_seconds",
			Help:    "HTTPリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.sessionsCreated,
		c.sessionsStarted,
		c.joins,
		c.phaseAdvances,
		c.votesResolved,
		c.eliminations,
		c.conflictRetries,
		c.eventsPublished,
		c.eventsDropped,
		c.httpRequests,
		c.httpLatency,
	)

	return c
}

// RecordSessionCreated はセッション作成を記録する。
func (c *Collector) RecordSessionCreated(kind string) {
	c.sessionsCreated.WithLabelValues(kind).Inc()
}

// RecordSessionStarted はゲーム開始を記録する。
func (c *Collector) RecordSessionStarted(kind string) {
	c.sessionsStarted.WithLabelValues(kind).Inc()
}

// RecordJoin は新規参加を記録する。
func (c *Collector) RecordJoin() {
	c.joins.Inc()
}

// RecordPhaseAdvanced はフェーズ遷移を記録する。
func (c *Collector) RecordPhaseAdvanced() {
	c.phaseAdvances.Inc()
}

// RecordVoteResolved は投票解決を記録する。
func (c *Collector) RecordVoteResolved() {
	c.votesResolved.Inc()
}

// RecordElimination は脱落処理を記録する。
func (c *Collector) RecordElimination() {
	c.eliminations.Inc()
}

// RecordConflictRetry は直列化競合による内部リトライを記録する。
func (c *Collector) RecordConflictRetry() {
	c.conflictRetries.Inc()
}

// RecordEventPublished は変更通知イベントの配信を記録する。
func (c *Collector) RecordEventPublished(kind string) {
	c.eventsPublished.WithLabelValues(kind).Inc()
}

// RecordEventDropped は購読者バッファ溢れによるイベント破棄を記録する。
func (c *Collector) RecordEventDropped() {
	c.eventsDropped.Inc()
}

// RecordHTTPRequest はHTTPリクエストの完了を記録する。
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.httpLatency.Observe(duration.Seconds())
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
