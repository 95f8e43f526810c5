package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveStream(t *testing.T) {
	before := testutil.ToFloat64(streamRecordsTotal.WithLabelValues("calls"))
	ObserveStream("calls", 3, true, "", time.Now())
	if got := testutil.ToFloat64(streamRecordsTotal.WithLabelValues("calls")) - before; got != 3 {
		t.Errorf("records delta = %v, want 3", got)
	}

	fBefore := testutil.ToFloat64(streamFailuresTotal.WithLabelValues("contacts", "transport"))
	ObserveStream("contacts", 5, false, "transport", time.Now())
	if got := testutil.ToFloat64(streamFailuresTotal.WithLabelValues("contacts", "transport")) - fBefore; got != 1 {
		t.Errorf("failures delta = %v, want 1", got)
	}
}

func TestRouter(t *testing.T) {
	SetWatermark("calls", 1234)
	srv := httptest.NewServer(Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}

	rec := httptest.NewRecorder()
	Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `crmsync_watermark_unix_ms{stream="calls"} 1234`) {
		t.Error("metrics output missing watermark gauge")
	}
}
