package forecast

import (
	"sort"
	"time"

	"github.com/AngelCh415/salesinsight/internal/config"
	"github.com/AngelCh415/salesinsight/internal/models"
)

// MinHistoryDays is the shortest series the engine will fit.
const MinHistoryDays = 14

// BuildSeries turns events into one daily series per product, plus the all-products series when
// includeAggregate is set. Each series runs from the entity's first sale to the last day seen in
// any event; days without sales are zero. Output is sorted by entity id.
func BuildSeries(events []models.SalesEvent, measure string, includeAggregate bool) ([]models.TimeSeries, error) {
	value, err := measureFunc(measure)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return []models.TimeSeries{}, nil
	}

	byEntity := map[string]map[time.Time]float64{}
	add := func(id string, d time.Time, v float64) {
		m, ok := byEntity[id]
		if !ok {
			m = map[time.Time]float64{}
			byEntity[id] = m
		}
		m[d] += v
	}
	var last time.Time
	for _, ev := range events {
		d := day(ev.Date)
		if d.After(last) {
			last = d
		}
		v := value(ev)
		add(ev.ProductID, d, v)
		if includeAggregate {
			add(models.AggregateEntity, d, v)
		}
	}

	out := make([]models.TimeSeries, 0, len(byEntity))
	for id, m := range byEntity {
		first := last
		for d := range m {
			if d.Before(first) {
				first = d
			}
		}
		out = append(out, models.TimeSeries{EntityID: id, Points: FillGaps(m, first, last)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

// FillGaps lays values on every calendar day in [from, to]; missing days are real zeros.
func FillGaps(values map[time.Time]float64, from, to time.Time) []models.Point {
	from, to = day(from), day(to)
	if to.Before(from) {
		return []models.Point{}
	}
	out := make([]models.Point, 0, daysBetween(from, to)+1)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		out = append(out, models.Point{Date: d, Value: values[d]})
	}
	return out
}

func measureFunc(measure string) (func(models.SalesEvent) float64, error) {
	switch measure {
	case config.MeasureRevenue, "":
		return func(e models.SalesEvent) float64 { return e.Revenue().InexactFloat64() }, nil
	case config.MeasureQuantity:
		return func(e models.SalesEvent) float64 { return float64(e.Quantity) }, nil
	case config.MeasureAmount:
		return func(e models.SalesEvent) float64 { return e.Amount.InexactFloat64() }, nil
	}
	return nil, models.ConfigErr("forecast.measure", "unknown measure %q", measure)
}

// normalizeSeries zero-fills missing days between the first and last point. Dates must be strictly
// increasing; a repeated or earlier day is rejected.
func normalizeSeries(s models.TimeSeries) (models.TimeSeries, error) {
	if len(s.Points) == 0 {
		return s, nil
	}
	values := make(map[time.Time]float64, len(s.Points))
	for i, p := range s.Points {
		d := day(p.Date)
		if i > 0 {
			if prev := day(s.Points[i-1].Date); !d.After(prev) {
				return models.TimeSeries{}, &models.DataQualityError{
					Index:    i,
					EntityID: s.EntityID,
					Field:    "date",
					Reason:   "dates must be strictly increasing, got " + prev.Format("2006-01-02") + " then " + d.Format("2006-01-02"),
				}
			}
		}
		values[d] = p.Value
	}
	return models.TimeSeries{
		EntityID: s.EntityID,
		Points:   FillGaps(values, s.Points[0].Date, s.Points[len(s.Points)-1].Date),
	}, nil
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Round(time.Hour).Hours() / 24)
}
