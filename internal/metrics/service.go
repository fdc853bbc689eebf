package metrics

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/AngelCh415/salesinsight/internal/models"
	"github.com/AngelCh415/salesinsight/internal/store"
)

// ErrInvalidQuery wraps every bad query parameter.
var ErrInvalidQuery = errors.New("invalid query")

const uncategorized = "uncategorized"

// Service answers descriptive sales queries over the store's daily aggregates.
type Service struct{ st *store.MemoryStore }

func NewService(st *store.MemoryStore) *Service { return &Service{st: st} }
func norm(s string) string                      { return strings.ToLower(strings.TrimSpace(s)) }

func csvSet(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, p := range strings.Split(s, ",") {
		p = norm(p)
		if p != "" {
			out[p] = struct{}{}
		}
	}
	return out
}

type filter struct {
	from, to   time.Time
	categories map[string]struct{}
	products   map[string]struct{}
	limit      int
	offset     int
}

func parseFilter(v url.Values) (filter, error) {
	f := filter{
		categories: csvSet(v.Get("category")),
		products:   csvSet(v.Get("product")),
		limit:      atoiDef(v.Get("limit"), 100),
		offset:     atoiDef(v.Get("offset"), 0),
	}
	var err error
	if f.from, err = parseDay(v.Get("from")); err != nil {
		return f, err
	}
	if f.to, err = parseDay(v.Get("to")); err != nil {
		return f, err
	}
	if !f.from.IsZero() && !f.to.IsZero() && f.to.Before(f.from) {
		return f, fmt.Errorf("%w: to before from", ErrInvalidQuery)
	}
	return f, nil
}

func (f filter) match(a models.DailyAgg) bool {
	if len(f.categories) > 0 {
		if _, ok := f.categories[norm(categoryOf(a.Key.Category))]; !ok {
			return false
		}
	}
	if len(f.products) > 0 {
		if _, ok := f.products[norm(a.Key.ProductID)]; !ok {
			return false
		}
	}
	return true
}

func (s *Service) QueryCategories(v url.Values) ([]models.CategoryMetrics, error) {
	f, err := parseFilter(v)
	if err != nil {
		return nil, err
	}
	type acc struct {
		m       models.CategoryMetrics
		lines   int
		byMonth map[time.Time]float64
	}
	cats := map[string]*acc{}
	for _, a := range s.st.Query(f.from, f.to, f.match) {
		name := categoryOf(a.Key.Category)
		c, ok := cats[name]
		if !ok {
			c = &acc{m: models.CategoryMetrics{Category: name}, byMonth: map[time.Time]float64{}}
			cats[name] = c
		}
		c.m.Revenue += a.Revenue
		c.m.Orders += a.Orders
		c.m.Quantity += a.Quantity
		c.lines += a.Lines
		c.byMonth[monthStart(a.Key.Date)] += a.Revenue
	}

	rows := make([]models.CategoryMetrics, 0, len(cats))
	for _, c := range cats {
		m := c.m
		m.MeanLineRevenue = round2(safeDivF(m.Revenue, float64(c.lines)))
		m.Revenue = round2(m.Revenue)
		m.MoMGrowthPct = lastMonthGrowth(c.byMonth)
		rows = append(rows, m)
	}
	// orden determinista
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Revenue != rows[j].Revenue {
			return rows[i].Revenue > rows[j].Revenue
		}
		return rows[i].Category < rows[j].Category
	})
	limit, offset := clampLimitOffset(f.limit, f.offset, len(rows))
	return paginate(rows, limit, offset), nil
}

// lastMonthGrowth compares the two latest calendar months; missing months count as zero revenue.
func lastMonthGrowth(byMonth map[time.Time]float64) *float64 {
	var last time.Time
	for m := range byMonth {
		if m.After(last) {
			last = m
		}
	}
	if last.IsZero() {
		return nil
	}
	return pctChange(byMonth[last], byMonth[last.AddDate(0, -1, 0)])
}

func (s *Service) QueryProducts(v url.Values) ([]models.ProductMetrics, error) {
	f, err := parseFilter(v)
	if err != nil {
		return nil, err
	}
	by := norm(v.Get("sort"))
	if by == "" {
		by = "revenue"
	}
	if by != "revenue" && by != "quantity" {
		return nil, fmt.Errorf("%w: sort must be quantity or revenue", ErrInvalidQuery)
	}

	prods := map[string]*models.ProductMetrics{}
	days := map[string]map[time.Time]struct{}{}
	for _, a := range s.st.Query(f.from, f.to, f.match) {
		p, ok := prods[a.Key.ProductID]
		if !ok {
			p = &models.ProductMetrics{ProductID: a.Key.ProductID, Category: a.Key.Category}
			prods[a.Key.ProductID] = p
			days[a.Key.ProductID] = map[time.Time]struct{}{}
		}
		p.Quantity += a.Quantity
		p.Revenue += a.Revenue
		p.Orders += a.Orders
		if a.Quantity > 0 {
			days[a.Key.ProductID][a.Key.Date] = struct{}{}
		}
	}

	rows := make([]models.ProductMetrics, 0, len(prods))
	for id, p := range prods {
		p.Revenue = round2(p.Revenue)
		p.DaysSold = len(days[id])
		rows = append(rows, *p)
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if by == "quantity" && a.Quantity != b.Quantity {
			return a.Quantity > b.Quantity
		}
		if a.Revenue != b.Revenue {
			return a.Revenue > b.Revenue
		}
		if a.Quantity != b.Quantity {
			return a.Quantity > b.Quantity
		}
		return a.ProductID < b.ProductID
	})
	limit, offset := clampLimitOffset(f.limit, f.offset, len(rows))
	return paginate(rows, limit, offset), nil
}

// QueryDaily returns one row per calendar day between the first and last matching sale, days
// without sales included as zero. Moving averages need a full window.
func (s *Service) QueryDaily(v url.Values) ([]models.DailyMetrics, error) {
	f, err := parseFilter(v)
	if err != nil {
		return nil, err
	}
	revenue := map[time.Time]float64{}
	qty := map[time.Time]int{}
	var first, last time.Time
	for _, a := range s.st.Query(f.from, f.to, f.match) {
		d := a.Key.Date
		revenue[d] += a.Revenue
		qty[d] += a.Quantity
		if first.IsZero() || d.Before(first) {
			first = d
		}
		if d.After(last) {
			last = d
		}
	}
	if first.IsZero() {
		return []models.DailyMetrics{}, nil
	}

	var series []float64
	var rows []models.DailyMetrics
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		series = append(series, revenue[d])
		n := len(series)
		row := models.DailyMetrics{
			Date:     d.Format("2006-01-02"),
			Revenue:  round2(revenue[d]),
			Quantity: qty[d],
			MA7:      movingAvg(series, 7),
			MA30:     movingAvg(series, 30),
		}
		if n > 1 {
			row.GrowthPct = pctChange(series[n-1], series[n-2])
		}
		rows = append(rows, row)
	}
	limit, offset := clampLimitOffset(f.limit, f.offset, len(rows))
	return paginate(rows, limit, offset), nil
}

func movingAvg(series []float64, w int) *float64 {
	if len(series) < w {
		return nil
	}
	sum := 0.0
	for _, x := range series[len(series)-w:] {
		sum += x
	}
	m := round2(sum / float64(w))
	return &m
}

// Compare sets the current period, ending at ?date (default: last day with sales), against the
// preceding period of the same length.
func (s *Service) Compare(v url.Values) (*models.PeriodComparison, error) {
	period := norm(v.Get("period"))
	if period == "" {
		period = "last_30"
	}
	ref, err := parseDay(v.Get("date"))
	if err != nil {
		return nil, err
	}
	events := s.st.Events()
	if ref.IsZero() {
		for _, e := range events {
			if d := dayUTC(e.Date); d.After(ref) {
				ref = d
			}
		}
		if ref.IsZero() {
			return nil, fmt.Errorf("%w: no sales stored", ErrInvalidQuery)
		}
	}

	var curFrom, prevFrom, prevTo time.Time
	switch period {
	case "this_month":
		curFrom = monthStart(ref)
		prevFrom = curFrom.AddDate(0, -1, 0)
		prevTo = prevFrom.AddDate(0, 0, ref.Day()-1)
		if end := curFrom.AddDate(0, 0, -1); prevTo.After(end) {
			prevTo = end
		}
	case "this_week":
		offset := (int(ref.Weekday()) + 6) % 7 // lunes = 0
		curFrom = ref.AddDate(0, 0, -offset)
		prevFrom, prevTo = curFrom.AddDate(0, 0, -7), ref.AddDate(0, 0, -7)
	case "last_30", "last_90":
		n := 30
		if period == "last_90" {
			n = 90
		}
		curFrom = ref.AddDate(0, 0, -(n - 1))
		prevFrom, prevTo = curFrom.AddDate(0, 0, -n), curFrom.AddDate(0, 0, -1)
	default:
		return nil, fmt.Errorf("%w: unknown period %q", ErrInvalidQuery, period)
	}

	cur := totals(events, curFrom, ref)
	prev := totals(events, prevFrom, prevTo)
	return &models.PeriodComparison{
		Period:           period,
		Current:          cur,
		Previous:         prev,
		RevenueChangePct: pctChange(cur.Revenue, prev.Revenue),
		OrdersChangePct:  pctChange(float64(cur.Orders), float64(prev.Orders)),
		BasketChangePct:  pctChange(cur.AvgBasket, prev.AvgBasket),
	}, nil
}

// totals counts distinct order ids; lines without one are their own order.
func totals(events []models.SalesEvent, from, to time.Time) models.PeriodTotals {
	t := models.PeriodTotals{From: from.Format("2006-01-02"), To: to.Format("2006-01-02")}
	orders := map[string]struct{}{}
	for _, e := range events {
		d := dayUTC(e.Date)
		if d.Before(from) || d.After(to) {
			continue
		}
		t.Revenue += e.Revenue().InexactFloat64()
		t.Quantity += e.Quantity
		if e.OrderID == "" {
			t.Orders++
		} else if _, ok := orders[e.OrderID]; !ok {
			orders[e.OrderID] = struct{}{}
			t.Orders++
		}
	}
	t.AvgBasket = round2(safeDivF(t.Revenue, float64(t.Orders)))
	t.Revenue = round2(t.Revenue)
	return t
}

func paginate[T any](rows []T, limit, offset int) []T {
	if offset >= len(rows) {
		return []T{}
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}

func atoiDef(s string, d int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}
func clampLimitOffset(limit, offset, n int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = n
	}
	if limit > 1000 {
		limit = 1000
	} // tope sano
	if offset > n {
		offset = n
	}
	return limit, offset
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date %q", ErrInvalidQuery, s)
	}
	return t, nil
}

// pctChange is nil when the base is zero.
func pctChange(cur, prev float64) *float64 {
	if prev == 0 {
		return nil
	}
	p := round2((cur - prev) / prev * 100)
	return &p
}

func categoryOf(c string) string {
	if strings.TrimSpace(c) == "" {
		return uncategorized
	}
	return c
}
func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
func dayUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
func safeDivF(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// round2 rounds half away from zero.
func round2(f float64) float64 {
	if f < 0 {
		return -round2(-f)
	}
	return float64(int64(f*100+0.5)) / 100
}
