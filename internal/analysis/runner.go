package analysis

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AngelCh415/salesinsight/internal/config"
	"github.com/AngelCh415/salesinsight/internal/forecast"
	"github.com/AngelCh415/salesinsight/internal/ingest"
	"github.com/AngelCh415/salesinsight/internal/metrics"
	"github.com/AngelCh415/salesinsight/internal/models"
	"github.com/AngelCh415/salesinsight/internal/rfm"
	"github.com/AngelCh415/salesinsight/internal/stock"
)

// Input is one run's data. Events are not modified.
type Input struct {
	Events []models.SalesEvent
	// AnalysisDate defaults to the latest event date.
	AnalysisDate time.Time
	// CurrentStock by product id; products missing here get a target stock level.
	CurrentStock map[string]int
	// OnEntityDone is called from worker goroutines after each forecast entity, including
	// cancelled ones. It must be safe for concurrent use.
	OnEntityDone func(entityID string, done, total int)
}

// Runner executes analysis runs against a fixed configuration.
type Runner struct {
	cfg      config.AnalysisConfig
	rfm      *rfm.Engine
	forecast *forecast.Engine
	stock    *stock.Engine
	log      *slog.Logger
	rec      *metrics.Recorder
	now      func() time.Time
}

// NewRunner validates cfg and builds every engine, so configuration errors surface before any
// data is touched. log and rec may be nil.
func NewRunner(cfg config.AnalysisConfig, log *slog.Logger, rec *metrics.Recorder, fm ...forecast.Model) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	re, err := rfm.NewEngine(cfg.RFM)
	if err != nil {
		return nil, err
	}
	fe, err := forecast.NewEngine(cfg.Forecast, fm...)
	if err != nil {
		return nil, err
	}
	se, err := stock.NewEngine(cfg.Stock)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{cfg: cfg, rfm: re, forecast: fe, stock: se, log: log, rec: rec, now: time.Now}, nil
}

// Check reports whether cfg would build a runner. It fits config.NewAnalysisHolder.
func Check(cfg config.AnalysisConfig) error {
	_, err := NewRunner(cfg, nil, nil)
	return err
}

// Run computes RFM scores and forecasts in parallel, then a stock recommendation for each product
// right after its forecast. Cancelling ctx stops dispatching new entities; the result is then
// marked partial and still returned with a nil error. Only configuration problems return an error.
func (r *Runner) Run(ctx context.Context, in Input) (*models.RunResult, error) {
	started := r.now()
	res := &models.RunResult{
		ID:   uuid.NewString(),
		Meta: models.RunMeta{StartedAt: started.UTC(), Records: len(in.Events)},
	}
	analysisDate := in.AnalysisDate
	if analysisDate.IsZero() {
		analysisDate = latest(in.Events, started)
	}
	analysisDate = dayUTC(analysisDate)
	res.Meta.AnalysisDate = analysisDate

	acc := NewAccumulator()
	events, rejects := ingest.Sanitize(in.Events, analysisDate)
	acc.Rejected(rejects)
	r.rec.AddRejected(len(rejects))

	series, err := forecast.BuildSeries(events, r.cfg.Forecast.Measure, r.cfg.Forecast.IncludeAggregate)
	if err != nil {
		r.rec.ObserveRun(metrics.OutcomeRejected, r.now().Sub(started))
		return nil, err
	}
	res.Meta.Entities = len(series)

	log := r.log.With(slog.String("run_id", res.ID))
	log.Info("analysis run started",
		slog.String("analysis_date", analysisDate.Format("2006-01-02")),
		slog.Int("records", len(in.Events)),
		slog.Int("rejected", len(rejects)),
		slog.Int("entities", len(series)),
	)

	var rfmRes rfm.Result
	var g errgroup.Group
	g.Go(func() error {
		var err error
		rfmRes, err = r.rfm.Compute(events, analysisDate)
		if errors.Is(err, models.ErrRFMUnavailable) {
			acc.RFMUnavailable(err.Error())
			return nil
		}
		return err
	})
	g.Go(func() error {
		r.forecastAll(ctx, log, series, in, acc)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res.RFMAvailable = rfmRes.Available
	res.RFM = rfmRes.Scores
	if res.RFM == nil {
		res.RFM = []models.RFMScore{}
	}
	res.Segments = rfm.Summarize(rfmRes)
	res.Meta.Customers = rfmRes.Coverage.Customers
	res.Meta.EventsWithoutCustomer = rfmRes.Coverage.WithoutCustomer
	acc.Fill(res)
	res.Meta.FinishedAt = r.now().UTC()

	outcome := metrics.OutcomeComplete
	if res.Partial {
		outcome = metrics.OutcomePartial
	}
	r.rec.ObserveRun(outcome, res.Meta.FinishedAt.Sub(started))
	log.Info("analysis run finished",
		slog.Bool("partial", res.Partial),
		slog.Int("forecasted", res.Meta.Forecasted),
		slog.Int("degraded", res.Meta.Degraded),
		slog.Int("unavailable", res.Meta.Unavailable),
		slog.Int("stock", res.Meta.StockRecommended),
		slog.Bool("rfm", res.RFMAvailable),
		slog.Duration("took", res.Meta.FinishedAt.Sub(started)),
	)
	return res, nil
}

// forecastAll feeds series to a bounded pool. Dispatch stops at cancellation; whatever was not
// handed to a worker is recorded as cancelled.
func (r *Runner) forecastAll(ctx context.Context, log *slog.Logger, series []models.TimeSeries, in Input, acc *Accumulator) {
	total := len(series)
	var done atomic.Int64
	finish := func(id string) {
		n := int(done.Add(1))
		if in.OnEntityDone != nil {
			in.OnEntityDone(id, n, total)
		}
	}

	tasks := make(chan models.TimeSeries)
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range tasks {
				r.processEntity(ctx, log, s, in.CurrentStock, acc)
				finish(s.EntityID)
			}
		}()
	}

	dispatched := 0
dispatch:
	for _, s := range series {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case tasks <- s:
			dispatched++
		}
	}
	close(tasks)
	wg.Wait()

	for _, s := range series[dispatched:] {
		acc.Cancelled(s.EntityID)
		r.rec.IncEntity("cancelled")
		finish(s.EntityID)
	}
	if dispatched < total {
		log.Warn("analysis run cancelled", slog.Int("dispatched", dispatched), slog.Int("total", total))
	}
}

func (r *Runner) processEntity(ctx context.Context, log *slog.Logger, s models.TimeSeries, currentStock map[string]int, acc *Accumulator) {
	t0 := time.Now()
	fc, err := r.forecast.Forecast(ctx, s, r.cfg.Forecast.HorizonDays, r.cfg.Forecast.ConfidenceLevel)
	r.rec.ObserveForecast(time.Since(t0))
	isProduct := s.EntityID != models.AggregateEntity

	if err != nil {
		acc.Unavailable(s.EntityID, err)
		r.rec.IncEntity("unavailable")
		log.Warn("forecast unavailable", slog.String("entity", s.EntityID), slog.String("err", err.Error()))
		if isProduct {
			acc.StockSkipped(s.EntityID, models.ErrForecastUnavailable)
		}
		return
	}

	acc.Forecasted(fc)
	status := "ok"
	if fc.Degraded {
		status = "degraded"
		for _, name := range r.forecast.ModelNames() {
			if !slices.Contains(fc.Models, name) {
				r.rec.IncModelFailure(name)
			}
		}
		log.Warn("forecast degraded", slog.String("entity", s.EntityID), slog.Any("models", fc.Models))
	}
	r.rec.IncEntity(status)
	log.Debug("forecast done", slog.String("entity", s.EntityID), slog.String("status", status), slog.Duration("took", time.Since(t0)))

	if !isProduct {
		return
	}
	var cur *int
	if v, ok := currentStock[s.EntityID]; ok {
		cur = &v
	}
	rec, err := r.stock.Recommend(&fc, s, r.cfg.Stock.ReviewWindowDays, cur)
	if err != nil {
		acc.StockSkipped(s.EntityID, err)
		log.Warn("stock recommendation skipped", slog.String("product", s.EntityID), slog.String("err", err.Error()))
		return
	}
	acc.Recommended(rec)
}

func latest(events []models.SalesEvent, fallback time.Time) time.Time {
	var out time.Time
	for _, e := range events {
		if e.Date.After(out) {
			out = e.Date
		}
	}
	if out.IsZero() {
		return fallback
	}
	return out
}

func dayUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
