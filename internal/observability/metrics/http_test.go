package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveOperationAndCache(t *testing.T) {
	before := testutil.ToFloat64(operations.WithLabelValues("create_goal", "success"))
	ObserveOperation("create_goal", "success", 3*time.Millisecond)
	if got := testutil.ToFloat64(operations.WithLabelValues("create_goal", "success")); got != before+1 {
		t.Fatalf("expected counter %v, got %v", before+1, got)
	}

	hits := testutil.ToFloat64(cacheLookups.WithLabelValues("goal", "hit"))
	ObserveCacheLookup("goal", true)
	ObserveCacheLookup("goal", false)
	if got := testutil.ToFloat64(cacheLookups.WithLabelValues("goal", "hit")); got != hits+1 {
		t.Fatalf("unexpected hit count %v", got)
	}

	ObserveBatchItems("batch_get_tasks", "success", 0)
	ObserveBatchItems("batch_get_tasks", "success", 3)
	if got := testutil.ToFloat64(batchItems.WithLabelValues("batch_get_tasks", "success")); got < 3 {
		t.Fatalf("unexpected batch count %v", got)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	ObserveHTTPRequest("/api/v1/tools", http.MethodPost, http.StatusInternalServerError, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		"goal_agent_http_requests_total",
		"goal_agent_http_request_errors_total",
		"go_goroutines",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}
