package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AngelCh415/salesinsight/internal/config"
	"github.com/AngelCh415/salesinsight/internal/models"
	"github.com/AngelCh415/salesinsight/internal/store"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestFetchRemoteIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"date":"2025-05-01","product_id":"A","quantity":2,"amount":"9.90","order_id":"O1"},
			{"date":"01/05/2025","product_id":"B","quantity":1,"amount":5,"customer_id":"C1"},
			{"date":"2025-04-01","product_id":"old","quantity":1,"amount":1},
			{"date":"not a date","product_id":"C","quantity":1,"amount":1}
		]`))
	}))
	defer srv.Close()

	st := store.NewMemoryStore()
	l := NewLoader(NewHTTPClient(2*time.Second), st, quietLogger(), config.Config{SalesURL: srv.URL})
	since := time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)

	n, err := l.FetchRemote(context.Background(), &since)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 added, got %d", n)
	}
	n, err = l.FetchRemote(context.Background(), &since)
	if err != nil || n != 0 {
		t.Fatalf("second fetch: n=%d err=%v", n, err)
	}
	if st.Len() != 2 {
		t.Fatalf("expected 2 stored events, got %d", st.Len())
	}
}

func TestFetchRemoteNotConfigured(t *testing.T) {
	l := NewLoader(NewHTTPClient(time.Second), store.NewMemoryStore(), quietLogger(), config.Config{})
	if _, err := l.FetchRemote(context.Background(), nil); !errors.Is(err, ErrSourceNotConfigured) {
		t.Fatalf("expected ErrSourceNotConfigured, got %v", err)
	}
}

func TestExportRunSignsBody(t *testing.T) {
	const secret = "s3cret"
	var gotSig, wantSig, gotRun string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Signature")
		gotRun = r.Header.Get("X-Run-ID")
		wantSig = Sign(secret, b)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	l := NewLoader(NewHTTPClient(2*time.Second), store.NewMemoryStore(), quietLogger(),
		config.Config{SinkURL: srv.URL, SinkSecret: secret})
	if err := l.ExportRun(context.Background(), &models.RunResult{ID: "run-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotSig == "" || gotSig != wantSig {
		t.Fatalf("bad signature: got %q want %q", gotSig, wantSig)
	}
	if gotRun != "run-1" {
		t.Fatalf("expected run id header, got %q", gotRun)
	}
}

func TestExportRunSinkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	l := NewLoader(NewHTTPClient(2*time.Second), store.NewMemoryStore(), quietLogger(),
		config.Config{SinkURL: srv.URL, SinkSecret: "x"})
	err := l.ExportRun(context.Background(), &models.RunResult{ID: "r"})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 StatusError, got %v", err)
	}

	l = NewLoader(NewHTTPClient(time.Second), store.NewMemoryStore(), quietLogger(), config.Config{})
	if err := l.ExportRun(context.Background(), &models.RunResult{}); !errors.Is(err, ErrSinkNotConfigured) {
		t.Fatalf("expected ErrSinkNotConfigured, got %v", err)
	}
}

func TestEventKeysNumberRepeats(t *testing.T) {
	d := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	line := models.SalesEvent{Date: d, ProductID: "A", Quantity: 1, OrderID: "O1"}
	other := line
	other.Quantity = 2

	first := EventKeys([]models.SalesEvent{line, line, other})
	if first[0] == first[1] || first[0] == first[2] {
		t.Fatalf("expected distinct keys, got %v", first)
	}
	again := EventKeys([]models.SalesEvent{line, line, other})
	for i := range first {
		if first[i] != again[i] {
			t.Fatalf("key %d not stable: %s vs %s", i, first[i], again[i])
		}
	}
	// la hora no cambia la clave
	later := line
	later.Date = d.Add(5 * time.Hour)
	if EventKeys([]models.SalesEvent{later})[0] != first[0] {
		t.Fatal("expected key to depend on the day only")
	}
}
