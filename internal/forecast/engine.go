package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/AngelCh415/salesinsight/internal/config"
	"github.com/AngelCh415/salesinsight/internal/models"
)

// agreementEps keeps the relative difference defined when both models predict zero.
const agreementEps = 1e-6

// Engine runs every model on a series and reconciles the survivors: mean point, widest band.
type Engine struct {
	models     []Model
	fitTimeout time.Duration
}

// NewEngine uses the decomposition and ARIMA models unless others are given.
func NewEngine(cfg config.ForecastConfig, ms ...Model) (*Engine, error) {
	if cfg.FitTimeout <= 0 {
		return nil, models.ConfigErr("forecast.fit_timeout", "must be positive, got %s", cfg.FitTimeout)
	}
	if len(ms) == 0 {
		ms = []Model{NewDecomposition(cfg), NewARIMA(cfg)}
	}
	return &Engine{models: ms, fitTimeout: cfg.FitTimeout}, nil
}

// ModelNames lists the configured models in reconciliation order.
func (e *Engine) ModelNames() []string {
	out := make([]string, len(e.models))
	for i, m := range e.models {
		out[i] = m.Name()
	}
	return out
}

// Forecast predicts horizon days after the last point of series. Missing days between the first and
// last point are zero demand; repeated or decreasing dates are a *models.DataQualityError.
//
// Out-of-range horizon or confidence is a *models.ConfigurationError. Series shorter than
// MinHistoryDays, or where every model fails, give a *models.InsufficientHistoryError. A single
// failing model only degrades the result. Each fit gets its own fit timeout and is not cancelled by
// ctx, so a fit already running is allowed to finish.
func (e *Engine) Forecast(ctx context.Context, series models.TimeSeries, horizon int, confidence float64) (models.ForecastResult, error) {
	if horizon < 1 || horizon > config.MaxHorizonDays {
		return models.ForecastResult{}, models.ConfigErr("forecast.horizon_days", "must be in [1, %d], got %d", config.MaxHorizonDays, horizon)
	}
	if !(confidence > 0 && confidence < 1) {
		return models.ForecastResult{}, models.ConfigErr("forecast.confidence_level", "must be in (0, 1), got %v", confidence)
	}
	series, err := normalizeSeries(series)
	if err != nil {
		return models.ForecastResult{}, err
	}
	if n := len(series.Points); n < MinHistoryDays {
		return models.ForecastResult{}, &models.InsufficientHistoryError{EntityID: series.EntityID, Days: n, Required: MinHistoryDays}
	}

	history := series.Values()
	var (
		preds []Prediction
		errs  []error
	)
	for _, m := range e.models {
		p, err := e.fit(ctx, m, history, horizon, confidence)
		if err != nil {
			errs = append(errs, &models.ModelConvergenceError{Model: m.Name(), EntityID: series.EntityID, Err: err})
			continue
		}
		preds = append(preds, p)
	}
	if len(preds) == 0 {
		return models.ForecastResult{}, &models.InsufficientHistoryError{
			EntityID: series.EntityID,
			Days:     len(history),
			Required: MinHistoryDays,
			Cause:    errors.Join(errs...),
		}
	}

	res := reconcile(preds, day(series.LastDate()), horizon)
	res.EntityID = series.EntityID
	res.HorizonDays = horizon
	res.ConfidenceLevel = confidence
	res.Degraded = len(preds) < len(e.models)
	for _, err := range errs {
		res.Notes = append(res.Notes, err.Error())
	}
	return res, nil
}

// fit runs one model under its own deadline, detached from the caller's cancellation.
func (e *Engine) fit(ctx context.Context, m Model, history []float64, horizon int, confidence float64) (Prediction, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.fitTimeout)
	defer cancel()

	type out struct {
		p   Prediction
		err error
	}
	ch := make(chan out, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- out{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		p, err := m.FitPredict(fctx, history, horizon, confidence)
		ch <- out{p, err}
	}()

	select {
	case <-fctx.Done():
		return Prediction{}, fmt.Errorf("fit exceeded %s: %w", e.fitTimeout, fctx.Err())
	case o := <-ch:
		if o.err != nil {
			return Prediction{}, o.err
		}
		if err := o.p.validate(horizon); err != nil {
			return Prediction{}, err
		}
		return o.p, nil
	}
}

// reconcile averages points with equal weights and takes the union of the bands.
func reconcile(preds []Prediction, last time.Time, horizon int) models.ForecastResult {
	res := models.ForecastResult{Points: make([]models.ForecastPoint, horizon)}
	for _, p := range preds {
		res.Models = append(res.Models, p.Model)
	}

	var disagreement float64
	for h := 0; h < horizon; h++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		var sum float64
		for _, p := range preds {
			sum += p.Point[h]
			lo = math.Min(lo, p.Lower[h])
			hi = math.Max(hi, p.Upper[h])
		}
		pt := sum / float64(len(preds))
		res.Points[h] = models.ForecastPoint{
			Date:  last.AddDate(0, 0, h+1),
			Point: pt,
			Lower: math.Min(lo, pt),
			Upper: math.Max(hi, pt),
		}
		if len(preds) > 1 {
			disagreement += pairwiseRelDiff(preds, h, pt)
		}
	}
	if len(preds) > 1 {
		v := disagreement / float64(horizon)
		res.ModelAgreement = &v
	}
	return res
}

// pairwiseRelDiff is the mean |a-b| over model pairs, relative to the ensemble point.
func pairwiseRelDiff(preds []Prediction, h int, center float64) float64 {
	var sum float64
	var pairs int
	for i := 0; i < len(preds); i++ {
		for j := i + 1; j < len(preds); j++ {
			sum += math.Abs(preds[i].Point[h] - preds[j].Point[h])
			pairs++
		}
	}
	return sum / float64(pairs) / math.Max(math.Abs(center), agreementEps)
}
