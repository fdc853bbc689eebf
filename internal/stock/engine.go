package stock

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/AngelCh415/salesinsight/internal/config"
	"github.com/AngelCh415/salesinsight/internal/models"
)

// demandEps stands in for zero projected demand in the urgency ratio.
const demandEps = 1e-9

// Engine turns a forecast and recent demand into a reorder signal.
type Engine struct {
	volatilityWindow int
	urgency          config.UrgencyThresholds
}

func NewEngine(cfg config.StockConfig) (*Engine, error) {
	if cfg.VolatilityWindowDays < 2 {
		return nil, models.ConfigErr("stock.volatility_window_days", "must be >= 2, got %d", cfg.VolatilityWindowDays)
	}
	u := cfg.Urgency
	if !(u.Critical > 0 && u.Critical < u.High && u.High < u.Medium) {
		return nil, models.ConfigErr("stock.urgency", "thresholds must satisfy 0 < critical < high < medium")
	}
	return &Engine{volatilityWindow: cfg.VolatilityWindowDays, urgency: u}, nil
}

// Recommend computes the reorder point for the next reviewWindow days.
//
//	projected = Σ point over the window
//	safety    = z·sqrt(vol²·W + Σ σ_h²),  z = Φ⁻¹(confidence), σ_h from the forecast band
//	reorder   = projected + safety
//
// A nil forecast returns models.ErrForecastUnavailable. Without currentStock the order quantity is
// the target stock level and urgency is Unknown.
func (e *Engine) Recommend(fc *models.ForecastResult, history models.TimeSeries, reviewWindow int, currentStock *int) (models.StockRecommendation, error) {
	if fc == nil || len(fc.Points) == 0 {
		return models.StockRecommendation{}, models.ErrForecastUnavailable
	}
	if reviewWindow < 1 || reviewWindow > len(fc.Points) {
		return models.StockRecommendation{}, models.ConfigErr("stock.review_window_days", "must be in [1, %d], got %d", len(fc.Points), reviewWindow)
	}
	if currentStock != nil && *currentStock < 0 {
		return models.StockRecommendation{}, &models.DataQualityError{EntityID: fc.EntityID, Field: "current_stock", Reason: "negative stock"}
	}

	window := fc.Points[:reviewWindow]
	zBand := distuv.UnitNormal.Quantile(0.5 + fc.ConfidenceLevel/2)
	var projected, bandVar float64
	for _, p := range window {
		projected += p.Point
		if zBand > 0 {
			s := (p.Upper - p.Lower) / (2 * zBand)
			bandVar += s * s
		}
	}
	vol := e.Volatility(history)
	z := math.Max(0, distuv.UnitNormal.Quantile(fc.ConfidenceLevel))
	safety := z * math.Sqrt(vol*vol*float64(reviewWindow)+bandVar)
	rop := projected + safety

	rec := models.StockRecommendation{
		ProductID:        fc.EntityID,
		ProjectedDemand:  round2(projected),
		DemandVolatility: round2(vol),
		SafetyStock:      round2(safety),
		ReorderPoint:     round2(rop),
		ReviewWindowDays: reviewWindow,
		Urgency:          models.UrgencyUnknown,
	}
	if currentStock == nil {
		rec.RecommendedOrderQuantity = int(math.Ceil(math.Max(0, rop)))
		rec.TargetStockLevel = true
		return rec, nil
	}

	stock := *currentStock
	rec.CurrentStock = &stock
	rec.RecommendedOrderQuantity = int(math.Ceil(math.Max(0, rop-float64(stock))))
	rec.Urgency = e.band(float64(stock) / math.Max(projected, demandEps))
	if projected > 0 {
		cover := round2(float64(stock) / (projected / float64(reviewWindow)))
		rec.DaysOfCover = &cover
	}
	return rec, nil
}

// Volatility is the sample standard deviation of the trailing window of daily demand.
func (e *Engine) Volatility(history models.TimeSeries) float64 {
	v := history.Values()
	if len(v) > e.volatilityWindow {
		v = v[len(v)-e.volatilityWindow:]
	}
	if len(v) < 2 {
		return 0
	}
	return stat.StdDev(v, nil)
}

func (e *Engine) band(ratio float64) models.Urgency {
	switch {
	case ratio < e.urgency.Critical:
		return models.UrgencyCritical
	case ratio < e.urgency.High:
		return models.UrgencyHigh
	case ratio < e.urgency.Medium:
		return models.UrgencyMedium
	default:
		return models.UrgencyLow
	}
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
