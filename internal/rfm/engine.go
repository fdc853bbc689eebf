package rfm

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AngelCh415/salesinsight/internal/config"
	"github.com/AngelCh415/salesinsight/internal/models"
)

// Coverage counts how many events could be attributed to a customer.
type Coverage struct {
	Events          int `json:"events"`
	WithCustomer    int `json:"with_customer"`
	WithoutCustomer int `json:"without_customer"`
	Customers       int `json:"customers"`
}

type Result struct {
	Available bool                     `json:"available"`
	Scores    []models.RFMScore        `json:"scores"`
	Profiles  []models.CustomerProfile `json:"profiles"`
	Coverage  Coverage                 `json:"coverage"`
}

// Engine scores customers against fixed bin boundaries and a compiled segment table.
// It holds no per-run state and is safe for concurrent use.
type Engine struct {
	recency   []float64
	frequency []float64
	monetary  []float64
	table     *SegmentTable
}

// NewEngine validates the bins and compiles the segment table. Any problem is a
// configuration error so runs fail before touching data.
func NewEngine(cfg config.RFMConfig) (*Engine, error) {
	for _, b := range []struct {
		name string
		bins []float64
	}{
		{"rfm.recency_bins", cfg.RecencyBins},
		{"rfm.frequency_bins", cfg.FrequencyBins},
		{"rfm.monetary_bins", cfg.MonetaryBins},
	} {
		if len(b.bins) == 0 {
			return nil, models.ConfigErr(b.name, "needs at least one boundary")
		}
		if !sort.Float64sAreSorted(b.bins) {
			return nil, models.ConfigErr(b.name, "boundaries must be ascending")
		}
	}
	t, err := CompileTable(cfg.Segments, cfg.DefaultSegment,
		len(cfg.RecencyBins)+1, len(cfg.FrequencyBins)+1, len(cfg.MonetaryBins)+1)
	if err != nil {
		return nil, err
	}
	return &Engine{
		recency:   append([]float64(nil), cfg.RecencyBins...),
		frequency: append([]float64(nil), cfg.FrequencyBins...),
		monetary:  append([]float64(nil), cfg.MonetaryBins...),
		table:     t,
	}, nil
}

// MaxScore returns the top ordinal on each axis.
func (e *Engine) MaxScore() Triple {
	return Triple{len(e.recency) + 1, len(e.frequency) + 1, len(e.monetary) + 1}
}

func (e *Engine) Table() *SegmentTable { return e.table }

// Compute builds one profile per customer and scores it. Events without a customer id are
// only counted. When no event has one, the result is empty and ErrRFMUnavailable is returned.
func (e *Engine) Compute(events []models.SalesEvent, analysisDate time.Time) (Result, error) {
	profiles, cov := BuildProfiles(events, analysisDate)
	res := Result{
		Scores:   []models.RFMScore{},
		Profiles: profiles,
		Coverage: cov,
	}
	if len(profiles) == 0 {
		return res, models.ErrRFMUnavailable
	}

	res.Available = true
	res.Scores = make([]models.RFMScore, 0, len(profiles))
	for _, p := range profiles {
		res.Scores = append(res.Scores, e.Score(p))
	}
	return res, nil
}

// Score bins a single profile and looks up its segment.
func (e *Engine) Score(p models.CustomerProfile) models.RFMScore {
	tr := Triple{
		R: inverseScore(e.recency, float64(p.RecencyDays)),
		F: directScore(e.frequency, float64(p.Frequency)),
		M: directScore(e.monetary, p.Monetary.InexactFloat64()),
	}
	return models.RFMScore{
		CustomerID:     p.CustomerID,
		RecencyScore:   tr.R,
		FrequencyScore: tr.F,
		MonetaryScore:  tr.M,
		Segment:        e.table.Lookup(tr),
	}
}

// BuildProfiles groups events by customer. Frequency counts distinct order ids; an event without
// an order id counts as its own order. Monetary is total spend, quantity times unit amount.
// Profiles come back sorted by customer id.
func BuildProfiles(events []models.SalesEvent, analysisDate time.Time) ([]models.CustomerProfile, Coverage) {
	type acc struct {
		last     time.Time
		orders   map[string]struct{}
		loose    int
		monetary decimal.Decimal
	}
	cov := Coverage{Events: len(events)}
	by := map[string]*acc{}
	for _, ev := range events {
		id := strings.TrimSpace(ev.CustomerID)
		if id == "" {
			cov.WithoutCustomer++
			continue
		}
		cov.WithCustomer++
		a, ok := by[id]
		if !ok {
			a = &acc{orders: map[string]struct{}{}}
			by[id] = a
		}
		d := day(ev.Date)
		if d.After(a.last) {
			a.last = d
		}
		if oid := strings.TrimSpace(ev.OrderID); oid != "" {
			a.orders[oid] = struct{}{}
		} else {
			a.loose++
		}
		a.monetary = a.monetary.Add(ev.Revenue())
	}
	cov.Customers = len(by)

	ref := day(analysisDate)
	out := make([]models.CustomerProfile, 0, len(by))
	for id, a := range by {
		rec := daysBetween(a.last, ref)
		if rec < 0 {
			rec = 0
		}
		out = append(out, models.CustomerProfile{
			CustomerID:  id,
			RecencyDays: rec,
			Frequency:   len(a.orders) + a.loose,
			Monetary:    a.monetary,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out, cov
}

// binIndex counts boundaries <= x: a value on a boundary lands in the bin that starts there.
func binIndex(bins []float64, x float64) int {
	return sort.Search(len(bins), func(i int) bool { return bins[i] > x })
}

func directScore(bins []float64, x float64) int { return binIndex(bins, x) + 1 }

func inverseScore(bins []float64, x float64) int { return len(bins) + 1 - binIndex(bins, x) }

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Round(time.Hour).Hours() / 24)
}
