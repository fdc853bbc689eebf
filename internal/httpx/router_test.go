package httpx

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AngelCh415/salesinsight/internal/analysis"
	"github.com/AngelCh415/salesinsight/internal/config"
	"github.com/AngelCh415/salesinsight/internal/ingest"
	"github.com/AngelCh415/salesinsight/internal/metrics"
	"github.com/AngelCh415/salesinsight/internal/models"
	"github.com/AngelCh415/salesinsight/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.DefaultAnalysisConfig()
	cfg.Forecast.HorizonDays = 7
	st := store.NewMemoryStore()
	rec := metrics.NewRecorder(prometheus.NewRegistry())
	h := NewRouter(Deps{
		Log:      log,
		Store:    st,
		Loader:   ingest.NewLoader(ingest.NewHTTPClient(time.Second), st, log, config.Config{}),
		Analysis: analysis.NewService(config.NewStaticHolder(cfg), st, log, rec),
		Metrics:  metrics.NewService(st),
		Recorder: rec,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, ctype, body string) (int, []byte) {
	t.Helper()
	req, _ := http.NewRequest(method, url, strings.NewReader(body))
	if ctype != "" {
		req.Header.Set("Content-Type", ctype)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b
}

func thirtyDaysCSV() string {
	var sb strings.Builder
	sb.WriteString("date,product_id,quantity,amount\n")
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&sb, "%s,SKU1,10,100\n", start.AddDate(0, 0, i).Format("2006-01-02"))
	}
	sb.WriteString("garbage,SKU1,1,1\n")
	return sb.String()
}

func TestAnalysisFlow(t *testing.T) {
	srv := newTestServer(t)

	code, body := do(t, http.MethodPost, srv.URL+"/events/csv", "text/csv", thirtyDaysCSV())
	if code != 200 {
		t.Fatalf("csv upload: %d %s", code, body)
	}
	var ing ingestReply
	_ = json.Unmarshal(body, &ing)
	if ing.Added != 30 || len(ing.Rejected) != 1 || ing.Stored != 30 {
		t.Fatalf("unexpected ingest reply: %s", body)
	}

	code, body = do(t, http.MethodPost, srv.URL+"/analysis/run?analysis_date=2024-05-30", "application/json",
		`{"current_stock":{"SKU1":0}}`)
	if code != 200 {
		t.Fatalf("analysis run: %d %s", code, body)
	}
	var started struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(body, &started)

	code, body = do(t, http.MethodGet, srv.URL+"/analysis/latest", "", "")
	if code != 200 {
		t.Fatalf("latest: %d", code)
	}
	var run models.RunResult
	if err := json.Unmarshal(body, &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.ID != started.ID {
		t.Fatalf("latest %s != started %s", run.ID, started.ID)
	}
	rec, ok := run.Stock["SKU1"]
	if !ok || rec.Urgency != models.UrgencyCritical {
		t.Fatalf("expected critical SKU1 recommendation, got %+v", rec)
	}

	code, body = do(t, http.MethodGet, srv.URL+"/analysis/"+run.ID+"/rfm", "", "")
	if code != 200 || !strings.Contains(string(body), `"available": false`) {
		t.Fatalf("rfm: %d %s", code, body)
	}
	code, _ = do(t, http.MethodGet, srv.URL+"/analysis/"+run.ID+"/forecasts", "", "")
	if code != 200 {
		t.Fatalf("forecasts: %d", code)
	}
	code, _ = do(t, http.MethodGet, srv.URL+"/analysis/nope", "", "")
	if code != 404 {
		t.Fatalf("expected 404 for unknown run, got %d", code)
	}

	code, body = do(t, http.MethodGet, srv.URL+"/metrics", "", "")
	if code != 200 || !strings.Contains(string(body), `salesinsight_analysis_runs_total{outcome="complete"} 1`) {
		t.Fatalf("prometheus exposition missing run counter: %d", code)
	}
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	cases := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/analysis/latest", "", 404},
		{http.MethodPost, "/analysis/run?analysis_date=30-05-2024", "", 400},
		{http.MethodPost, "/events", "{not json", 400},
		{http.MethodPost, "/events/csv", "product_id,amount\nA,1\n", 400},
		{http.MethodPost, "/ingest/run", "", 400},
		{http.MethodPost, "/export/run", "", 404},
		{http.MethodGet, "/metrics/products?sort=margin", "", 400},
		{http.MethodGet, "/metrics/daily?from=yesterday", "", 400},
		{http.MethodGet, "/healthz", "", 200},
	}
	for _, c := range cases {
		code, body := do(t, c.method, srv.URL+c.path, "", c.body)
		if code != c.want {
			t.Errorf("%s %s: got %d want %d (%s)", c.method, c.path, code, c.want, body)
		}
	}
}

func TestEventsJSONThenMetrics(t *testing.T) {
	srv := newTestServer(t)
	code, body := do(t, http.MethodPost, srv.URL+"/events", "application/json", `[
		{"date":"2024-05-01","product_id":"A","category":"x","quantity":2,"amount":"5"},
		{"date":"2024-05-02","product_id":"B","category":"x","quantity":1,"amount":20},
		{"date":"??","product_id":"C","quantity":1,"amount":1}
	]`)
	if code != 200 {
		t.Fatalf("events: %d %s", code, body)
	}
	code, body = do(t, http.MethodGet, srv.URL+"/metrics/categories", "", "")
	if code != 200 || !strings.Contains(string(body), `"revenue": 30`) {
		t.Fatalf("categories: %d %s", code, body)
	}
	code, body = do(t, http.MethodGet, srv.URL+"/metrics/compare?period=last_30", "", "")
	if code != 200 || !strings.Contains(string(body), `"period": "last_30"`) {
		t.Fatalf("compare: %d %s", code, body)
	}
	code, body = do(t, http.MethodPost, srv.URL+"/analysis/run", "", "")
	if code != 200 {
		t.Fatalf("run without body: %d %s", code, body)
	}
	code, _ = do(t, http.MethodPost, srv.URL+"/export/run", "", "")
	if code != 400 {
		t.Fatalf("export without sink: expected 400, got %d", code)
	}
}

func TestReplayedPayloadIsIgnored(t *testing.T) {
	srv := newTestServer(t)
	payload := `[
		{"date":"2024-05-01","product_id":"A","quantity":2,"amount":"5","customer_id":"c1","order_id":"o1"},
		{"date":"2024-05-01","product_id":"A","quantity":2,"amount":"5","customer_id":"c1","order_id":"o1"}
	]`
	for i, want := range []ingestReply{{Added: 2, Stored: 2}, {Duplicates: 2, Stored: 2}} {
		code, body := do(t, http.MethodPost, srv.URL+"/events", "application/json", payload)
		if code != 200 {
			t.Fatalf("post %d: %d %s", i, code, body)
		}
		var got ingestReply
		_ = json.Unmarshal(body, &got)
		if got.Added != want.Added || got.Duplicates != want.Duplicates || got.Stored != want.Stored {
			t.Fatalf("post %d: got %+v want %+v", i, got, want)
		}
	}

	csv := thirtyDaysCSV()
	do(t, http.MethodPost, srv.URL+"/events/csv", "text/csv", csv)
	code, body := do(t, http.MethodPost, srv.URL+"/events/csv", "text/csv", csv)
	var got ingestReply
	_ = json.Unmarshal(body, &got)
	if code != 200 || got.Added != 0 || got.Duplicates != 30 || got.Stored != 32 {
		t.Fatalf("csv replay: %d %s", code, body)
	}

	code, body = do(t, http.MethodGet, srv.URL+"/metrics/products?sort=quantity", "", "")
	if code != 200 || !strings.Contains(string(body), `"quantity": 300`) {
		t.Fatalf("products after replay: %d %s", code, body)
	}
}

func TestWriteJSONLogsEncodeError(t *testing.T) {
	var buf strings.Builder
	log := slog.New(slog.NewTextHandler(&buf, nil))
	req := httptest.NewRequest(http.MethodGet, "/metrics/daily", nil)
	writeJSON(log, httptest.NewRecorder(), req, map[string]any{"bad": func() {}})
	if !strings.Contains(buf.String(), "write response") || !strings.Contains(buf.String(), "path=/metrics/daily") {
		t.Fatalf("expected encode failure to be logged, got %q", buf.String())
	}
}
