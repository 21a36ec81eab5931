package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/doc-converter/internal/core/domain"
)

func TestWorkerMetricsRecordsPipelineObservations(t *testing.T) {
	m := NewWorkerMetrics("worker")

	m.ObserveAttempt(domain.MethodVision, "accepted", 2*time.Second, 0.82)
	m.ObserveAttempt(domain.MethodVision, "escalate", time.Second, 0.4)
	m.ItemStarted()
	m.ItemStarted()
	m.ItemFinished("done", 3*time.Second)
	m.QueueDepth(7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	exposition := string(body)

	for _, want := range []string{
		`docconv_worker_attempt_total{method="VISION",outcome="accepted",service="worker"} 1`,
		`docconv_worker_attempt_total{method="VISION",outcome="escalate",service="worker"} 1`,
		`docconv_worker_item_total{outcome="done",service="worker"} 1`,
		`docconv_worker_items_in_flight{service="worker"} 1`,
		`docconv_worker_queue_depth{service="worker"} 7`,
	} {
		if !strings.Contains(exposition, want) {
			t.Fatalf("missing %q in exposition:\n%s", want, exposition)
		}
	}
}
