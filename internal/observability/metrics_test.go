package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/urbilink/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordReceived("robot", 42)
	RecordSent("robot", 12)
	RecordMessage("robot", "data", 3)
	RecordClientError("robot", "overflow")
	RecordDiscarded("robot", 2)
	SetRegistrations("robot", 5)
}

func TestRouterServesMetricsAndHealth(t *testing.T) {
	testlog.Start(t)
	RecordMessage("router-test", "system", 1)
	srv := httptest.NewServer(Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status=%d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `urbilink_client_messages_total{host="router-test",kind="system"} 1`) {
		t.Fatalf("metrics body missing counter:\n%s", body)
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(string(body), "ok") {
		t.Fatalf("healthz status=%d body=%q", resp.StatusCode, body)
	}
}
