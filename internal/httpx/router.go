package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/AngelCh415/salesinsight/internal/analysis"
	"github.com/AngelCh415/salesinsight/internal/ingest"
	"github.com/AngelCh415/salesinsight/internal/metrics"
	"github.com/AngelCh415/salesinsight/internal/models"
	"github.com/AngelCh415/salesinsight/internal/store"
	"github.com/AngelCh415/salesinsight/internal/utils"
)

const maxBody = 32 << 20

// Deps are the services behind the routes.
type Deps struct {
	Log      *slog.Logger
	Store    *store.MemoryStore
	Loader   *ingest.Loader
	Analysis *analysis.Service
	Metrics  *metrics.Service
	Recorder *metrics.Recorder
}

type ingestReply struct {
	Added      int                        `json:"added"`
	Duplicates int                        `json:"duplicates"`
	Rejected   []*models.DataQualityError `json:"rejected,omitempty"`
	Stored     int                        `json:"stored"`
}

func NewRouter(d Deps) http.Handler {
	mux := chi.NewRouter()
	mux.Use(utils.RequestID)
	mux.Use(utils.Logger(d.Log))

	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
	mux.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ready")) })
	mux.Handle("/metrics", d.Recorder.Handler())

	// re-posting a payload adds nothing
	keep := func(w http.ResponseWriter, r *http.Request, events []models.SalesEvent, rejects []*models.DataQualityError) {
		reply := ingestReply{Rejected: rejects}
		for i, key := range ingest.EventKeys(events) {
			if d.Store.AddEvent(key, events[i]) {
				reply.Added++
			} else {
				reply.Duplicates++
			}
		}
		reply.Stored = d.Store.Len()
		writeJSON(d.Log, w, r, reply)
	}
	mux.Post("/events", func(w http.ResponseWriter, r *http.Request) {
		events, rejects, err := ingest.DecodeEvents(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			http.Error(w, "bad json: "+err.Error(), 400)
			return
		}
		keep(w, r, events, rejects)
	})
	mux.Post("/events/csv", func(w http.ResponseWriter, r *http.Request) {
		events, rejects, err := ingest.ReadCSV(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		keep(w, r, events, rejects)
	})

	mux.Post("/ingest/run", func(w http.ResponseWriter, r *http.Request) {
		since, err := queryDay(r, "since")
		if err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		var sp *time.Time
		if !since.IsZero() {
			sp = &since
		}
		n, err := d.Loader.FetchRemote(r.Context(), sp)
		if errors.Is(err, ingest.ErrSourceNotConfigured) {
			http.Error(w, err.Error(), 400)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), 502)
			return
		}
		writeJSON(d.Log, w, r, map[string]int{"added": n, "stored": d.Store.Len()})
	})

	mux.Post("/analysis/run", func(w http.ResponseWriter, r *http.Request) {
		date, err := queryDay(r, "analysis_date")
		if err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		var body struct {
			CurrentStock map[string]int `json:"current_stock"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "bad json: "+err.Error(), 400)
			return
		}
		res, err := d.Analysis.Run(r.Context(), date, body.CurrentStock)
		switch {
		case errors.Is(err, analysis.ErrRunInProgress):
			http.Error(w, err.Error(), 409)
			return
		case models.IsConfigurationError(err):
			http.Error(w, err.Error(), 400)
			return
		case err != nil:
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(d.Log, w, r, map[string]any{"id": res.ID, "partial": res.Partial, "meta": res.Meta})
	})

	mux.Get("/analysis/latest", func(w http.ResponseWriter, r *http.Request) {
		res, ok := d.Store.LatestRun()
		if !ok {
			http.Error(w, "no analysis run yet", 404)
			return
		}
		writeJSON(d.Log, w, r, res)
	})
	mux.Route("/analysis/{id}", func(sub chi.Router) {
		run := func(w http.ResponseWriter, r *http.Request) (*models.RunResult, bool) {
			res, ok := d.Store.Run(chi.URLParam(r, "id"))
			if !ok {
				http.Error(w, "unknown run", 404)
			}
			return res, ok
		}
		sub.Get("/", func(w http.ResponseWriter, r *http.Request) {
			if res, ok := run(w, r); ok {
				writeJSON(d.Log, w, r, res)
			}
		})
		sub.Get("/rfm", func(w http.ResponseWriter, r *http.Request) {
			if res, ok := run(w, r); ok {
				writeJSON(d.Log, w, r, map[string]any{"available": res.RFMAvailable, "scores": res.RFM, "segments": res.Segments})
			}
		})
		sub.Get("/forecasts", func(w http.ResponseWriter, r *http.Request) {
			if res, ok := run(w, r); ok {
				writeJSON(d.Log, w, r, res.Forecasts)
			}
		})
		sub.Get("/stock", func(w http.ResponseWriter, r *http.Request) {
			if res, ok := run(w, r); ok {
				writeJSON(d.Log, w, r, res.Stock)
			}
		})
	})

	mux.Post("/export/run", func(w http.ResponseWriter, r *http.Request) {
		var (
			res *models.RunResult
			ok  bool
		)
		if id := r.URL.Query().Get("run_id"); id != "" {
			res, ok = d.Store.Run(id)
		} else {
			res, ok = d.Store.LatestRun()
		}
		if !ok {
			http.Error(w, "unknown run", 404)
			return
		}
		err := d.Loader.ExportRun(r.Context(), res)
		if errors.Is(err, ingest.ErrSinkNotConfigured) {
			http.Error(w, err.Error(), 400)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), 502)
			return
		}
		writeJSON(d.Log, w, r, map[string]any{"exported": res.ID})
	})

	mux.Get("/metrics/categories", queryHandler(d.Log, d.Metrics.QueryCategories))
	mux.Get("/metrics/products", queryHandler(d.Log, d.Metrics.QueryProducts))
	mux.Get("/metrics/daily", queryHandler(d.Log, d.Metrics.QueryDaily))
	mux.Get("/metrics/compare", queryHandler(d.Log, d.Metrics.Compare))

	return mux
}

func queryHandler[T any](log *slog.Logger, q func(url.Values) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := q(r.URL.Query())
		if err != nil {
			code := 500
			if errors.Is(err, metrics.ErrInvalidQuery) {
				code = 400
			}
			http.Error(w, err.Error(), code)
			return
		}
		writeJSON(log, w, r, rows)
	}
}

func queryDay(r *http.Request, key string) (time.Time, error) {
	q := r.URL.Query().Get(key)
	if q == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", q)
	if err != nil {
		return time.Time{}, errors.New("bad " + key + " (YYYY-MM-DD)")
	}
	return t, nil
}

func writeJSON(log *slog.Logger, w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	if err := enc.Encode(v); err != nil {
		log.Warn("write response",
			slog.String("path", r.URL.Path),
			slog.String("rid", utils.RID(r.Context())),
			slog.String("err", err.Error()),
		)
	}
}
