package analysis

import (
	"errors"
	"sort"
	"sync"

	"github.com/AngelCh415/salesinsight/internal/models"
)

// Accumulator collects one run's per-entity outcomes. Workers share it; everything else in a run
// is read-only.
type Accumulator struct {
	mu        sync.Mutex
	meta      models.RunMeta
	forecasts map[string]models.ForecastResult
	stock     map[string]models.StockRecommendation
	manifest  []models.Issue
	partial   bool
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		forecasts: map[string]models.ForecastResult{},
		stock:     map[string]models.StockRecommendation{},
	}
}

func (a *Accumulator) add(i models.Issue) { a.manifest = append(a.manifest, i) }

func (a *Accumulator) Rejected(errs []*models.DataQualityError) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range errs {
		a.meta.Rejected++
		a.add(models.Issue{Kind: models.IssueDataQuality, EntityID: e.EntityID, Record: e.Index, Reason: e.Field + ": " + e.Reason})
	}
}

func (a *Accumulator) Forecasted(fc models.ForecastResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.meta.Forecasted++
	a.forecasts[fc.EntityID] = fc
	if fc.Degraded {
		a.meta.Degraded++
		for _, n := range fc.Notes {
			a.add(models.Issue{Kind: models.IssueDegraded, EntityID: fc.EntityID, Reason: n})
		}
	}
}

func (a *Accumulator) Unavailable(entityID string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.meta.Unavailable++
	a.add(models.Issue{Kind: models.IssueUnavailable, EntityID: entityID, Reason: err.Error()})
}

func (a *Accumulator) Recommended(rec models.StockRecommendation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.meta.StockRecommended++
	a.stock[rec.ProductID] = rec
}

func (a *Accumulator) StockSkipped(productID string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.meta.StockSkipped++
	reason := err.Error()
	if errors.Is(err, models.ErrForecastUnavailable) {
		reason = "no forecast for product"
	}
	a.add(models.Issue{Kind: models.IssueStockSkipped, EntityID: productID, Reason: reason})
}

// Cancelled records an entity that was never dispatched and marks the run partial.
func (a *Accumulator) Cancelled(entityID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.partial = true
	a.add(models.Issue{Kind: models.IssueCancelled, EntityID: entityID, Reason: "run cancelled before dispatch"})
}

func (a *Accumulator) RFMUnavailable(reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.add(models.Issue{Kind: models.IssueRFMUnavailable, Reason: reason})
}

// Fill copies the accumulated state into res with the manifest in a stable order.
func (a *Accumulator) Fill(res *models.RunResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	m := res.Meta
	m.Rejected = a.meta.Rejected
	m.Forecasted = a.meta.Forecasted
	m.Degraded = a.meta.Degraded
	m.Unavailable = a.meta.Unavailable
	m.StockRecommended = a.meta.StockRecommended
	m.StockSkipped = a.meta.StockSkipped
	res.Meta = m

	res.Forecasts = make(map[string]models.ForecastResult, len(a.forecasts))
	for k, v := range a.forecasts {
		res.Forecasts[k] = v
	}
	res.Stock = make(map[string]models.StockRecommendation, len(a.stock))
	for k, v := range a.stock {
		res.Stock[k] = v
	}

	manifest := append([]models.Issue(nil), a.manifest...)
	sort.SliceStable(manifest, func(i, j int) bool {
		x, y := manifest[i], manifest[j]
		if x.Kind != y.Kind {
			return x.Kind < y.Kind
		}
		if x.EntityID != y.EntityID {
			return x.EntityID < y.EntityID
		}
		if x.Record != y.Record {
			return x.Record < y.Record
		}
		return x.Reason < y.Reason
	})
	if manifest == nil {
		manifest = []models.Issue{}
	}
	res.Manifest = manifest
	res.Partial = res.Partial || a.partial
}
