package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/asobiba/internal/chain"
	"github.com/hitoshi/asobiba/internal/game"
	"github.com/hitoshi/asobiba/internal/middleware"
	"github.com/hitoshi/asobiba/internal/notify"
	"github.com/hitoshi/asobiba/internal/roster"
	"github.com/hitoshi/asobiba/internal/session"
)

// Collectorが各サービスの記録用インターフェースを満たすことのコンパイル時チェック。
var (
	_ session.Stats        = (*Collector)(nil)
	_ roster.Stats         = (*Collector)(nil)
	_ game.Stats           = (*Collector)(nil)
	_ chain.Stats          = (*Collector)(nil)
	_ notify.Stats         = (*Collector)(nil)
	_ middleware.HTTPStats = (*Collector)(nil)
)

// counterValue はGatherの結果から指定メトリクスの合計値を取り出す。
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		total := 0.0
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	t.Fatalf("metric %q not found", name)
	return 0
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if NewCollector(reg) == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordSessionCreated_IncrementsCounter はセッション作成カウンタが
// ゲーム種類別に増加することを検証する。
func TestRecordSessionCreated_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionCreated("jinro")
	c.RecordSessionCreated("jinro")
	c.RecordSessionCreated("murder")

	if got := counterValue(t, reg, "asobiba_sessions_created_total"); got != 3 {
		t.Errorf("sessions_created_total = %v, want 3", got)
	}
}

// TestRecordConflictRetry_IncrementsCounter は競合リトライカウンタの増加を検証する。
func TestRecordConflictRetry_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordConflictRetry()

	if got := counterValue(t, reg, "asobiba_elimination_conflict_retries_total"); got != 1 {
		t.Errorf("conflict_retries_total = %v, want 1", got)
	}
}

// TestRecordEventPublished_IncrementsCounter は通知イベントカウンタが
// 種別別に増加することを検証する。
func TestRecordEventPublished_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordEventPublished("joined")
	c.RecordEventPublished("elimination")
	c.RecordEventDropped()

	if got := counterValue(t, reg, "asobiba_notify_events_published_total"); got != 2 {
		t.Errorf("events_published_total = %v, want 2", got)
	}
	if got := counterValue(t, reg, "asobiba_notify_events_dropped_total"); got != 1 {
		t.Errorf("events_dropped_total = %v, want 1", got)
	}
}

// TestRecordHTTPRequest_RecordsCounterAndLatency はHTTPリクエストの記録を検証する。
func TestRecordHTTPRequest_RecordsCounterAndLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPRequest("POST", "/api/sessions", 201, 50*time.Millisecond)

	if got := counterValue(t, reg, "asobiba_http_requests_total"); got != 1 {
		t.Errorf("http_requests_total = %v, want 1", got)
	}
}

// TestSetupMetricsRoute_ServesMetrics は/metricsパスでメトリクスが返ることを検証する。
func TestSetupMetricsRoute_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordJoin()

	handler := SetupMetricsRoute(reg)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "asobiba_joins_total") {
		t.Error("response should contain asobiba_joins_total metric")
	}
}
