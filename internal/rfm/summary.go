package rfm

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/AngelCh415/salesinsight/internal/models"
)

// Summarize rolls scores up per segment with mean recency, frequency and monetary value.
// Largest segments come first; ties are broken by name.
func Summarize(res Result) []models.SegmentSummary {
	if !res.Available {
		return []models.SegmentSummary{}
	}
	prof := make(map[string]models.CustomerProfile, len(res.Profiles))
	for _, p := range res.Profiles {
		prof[p.CustomerID] = p
	}

	type acc struct {
		n        int
		recency  int
		freq     int
		monetary decimal.Decimal
	}
	by := map[models.Segment]*acc{}
	for _, s := range res.Scores {
		p, ok := prof[s.CustomerID]
		if !ok {
			continue
		}
		a, ok := by[s.Segment]
		if !ok {
			a = &acc{}
			by[s.Segment] = a
		}
		a.n++
		a.recency += p.RecencyDays
		a.freq += p.Frequency
		a.monetary = a.monetary.Add(p.Monetary)
	}

	out := make([]models.SegmentSummary, 0, len(by))
	for seg, a := range by {
		n := float64(a.n)
		out = append(out, models.SegmentSummary{
			Segment:     seg,
			Customers:   a.n,
			AvgRecency:  round2(float64(a.recency) / n),
			AvgFreq:     round2(float64(a.freq) / n),
			AvgMonetary: a.monetary.Div(decimal.NewFromInt(int64(a.n))).Round(2).InexactFloat64(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Customers != out[j].Customers {
			return out[i].Customers > out[j].Customers
		}
		return out[i].Segment < out[j].Segment
	})
	return out
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
