package rfm

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AngelCh415/salesinsight/internal/config"
	"github.com/AngelCh415/salesinsight/internal/ingest"
	"github.com/AngelCh415/salesinsight/internal/models"
)

var today = time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

func newDefaultEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(config.DefaultAnalysisConfig().RFM)
	require.NoError(t, err)
	return e
}

func ev(customer, order string, daysAgo int, amount int64) models.SalesEvent {
	return models.SalesEvent{
		Date:       today.AddDate(0, 0, -daysAgo),
		ProductID:  "SKU1",
		Quantity:   1,
		Amount:     decimal.NewFromInt(amount),
		CustomerID: customer,
		OrderID:    order,
	}
}

func TestChampionScenario(t *testing.T) {
	e := newDefaultEngine(t)
	events := []models.SalesEvent{
		ev("c1", "o1", 40, 2000),
		ev("c1", "o2", 30, 2000),
		ev("c1", "o3", 20, 2000),
		ev("c1", "o4", 10, 2000),
		ev("c1", "o5", 0, 2000),
	}
	res, err := e.Compute(events, today)
	require.NoError(t, err)
	require.Len(t, res.Scores, 1)

	s := res.Scores[0]
	assert.Equal(t, 5, s.RecencyScore)
	assert.Equal(t, 5, s.FrequencyScore)
	assert.Equal(t, 5, s.MonetaryScore)
	assert.Equal(t, models.Segment("Champions"), s.Segment)

	p := res.Profiles[0]
	assert.Equal(t, 0, p.RecencyDays)
	assert.Equal(t, 5, p.Frequency)
	assert.True(t, p.Monetary.Equal(decimal.NewFromInt(10000)))
}

func TestSingleOrderToday(t *testing.T) {
	e := newDefaultEngine(t)
	res, err := e.Compute([]models.SalesEvent{ev("c9", "o1", 0, 50)}, today)
	require.NoError(t, err)
	require.Len(t, res.Scores, 1)
	assert.Equal(t, 0, res.Profiles[0].RecencyDays)
	assert.Equal(t, e.MaxScore().R, res.Scores[0].RecencyScore)
	assert.Equal(t, 1, res.Scores[0].FrequencyScore)
	assert.Equal(t, models.Segment("New"), res.Scores[0].Segment)
}

func TestMonetaryIsTotalSpend(t *testing.T) {
	e := newDefaultEngine(t)
	line := ev("c1", "o1", 0, 100)
	line.Quantity = 10
	res, err := e.Compute([]models.SalesEvent{line, ev("c1", "o2", 3, 250)}, today)
	require.NoError(t, err)
	require.Len(t, res.Profiles, 1)

	assert.True(t, res.Profiles[0].Monetary.Equal(decimal.NewFromInt(1250)), "got %s", res.Profiles[0].Monetary)
	// 1250 cae en el cuarto bin (1000..5000)
	assert.Equal(t, 4, res.Scores[0].MonetaryScore)
}

func TestMonetaryFromLineTotalCSV(t *testing.T) {
	in := "tarih,urun_adi,miktar,satis_tutari,musteri_id,siparis_id\n" +
		"30.06.2024,Kalem,10,1000,M1,S1\n"
	events, rejects, err := ingest.ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Empty(t, rejects)

	res, err := newDefaultEngine(t).Compute(events, today)
	require.NoError(t, err)
	assert.True(t, res.Profiles[0].Monetary.Equal(decimal.NewFromInt(1000)), "got %s", res.Profiles[0].Monetary)
	assert.Equal(t, 4, res.Scores[0].MonetaryScore)
}

func TestNoCustomerIDsIsUnavailable(t *testing.T) {
	e := newDefaultEngine(t)
	events := make([]models.SalesEvent, 30)
	for i := range events {
		events[i] = ev("", "", i, 100)
	}
	res, err := e.Compute(events, today)
	require.True(t, errors.Is(err, models.ErrRFMUnavailable))
	assert.False(t, res.Available)
	assert.Empty(t, res.Scores)
	assert.Equal(t, 30, res.Coverage.WithoutCustomer)
	assert.Empty(t, Summarize(res))
}

func TestMissingCustomerCountedAsCoverage(t *testing.T) {
	e := newDefaultEngine(t)
	res, err := e.Compute([]models.SalesEvent{ev("a", "1", 3, 10), ev("", "2", 3, 10)}, today)
	require.NoError(t, err)
	assert.Equal(t, Coverage{Events: 2, WithCustomer: 1, WithoutCustomer: 1, Customers: 1}, res.Coverage)
}

func TestFrequencyWithoutOrderIDCountsEvents(t *testing.T) {
	e := newDefaultEngine(t)
	events := []models.SalesEvent{ev("a", "", 1, 10), ev("a", "", 2, 10), ev("a", "x", 3, 10), ev("a", "x", 3, 10)}
	res, err := e.Compute(events, today)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Profiles[0].Frequency)
}

func TestBoundaryTieGoesToUpperBin(t *testing.T) {
	bins := []float64{100, 500, 1000, 5000}
	assert.Equal(t, 1, directScore(bins, 99.99))
	assert.Equal(t, 2, directScore(bins, 100))
	assert.Equal(t, 5, directScore(bins, 5000))

	rec := []float64{7, 30, 90, 180}
	assert.Equal(t, 5, inverseScore(rec, 6))
	assert.Equal(t, 4, inverseScore(rec, 7))
	assert.Equal(t, 1, inverseScore(rec, 180))
}

func TestZeroMonetaryScoresLowest(t *testing.T) {
	e := newDefaultEngine(t)
	res, err := e.Compute([]models.SalesEvent{ev("z", "1", 0, 0)}, today)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scores[0].MonetaryScore)
}

func TestFutureEventClampsRecency(t *testing.T) {
	e := newDefaultEngine(t)
	res, err := e.Compute([]models.SalesEvent{ev("f", "1", -3, 10)}, today)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Profiles[0].RecencyDays)
}

func TestScoresInRangeAndDeterministic(t *testing.T) {
	e := newDefaultEngine(t)
	rng := rand.New(rand.NewSource(7))
	var events []models.SalesEvent
	for i := 0; i < 500; i++ {
		c := fmt.Sprintf("c%03d", rng.Intn(80))
		events = append(events, ev(c, fmt.Sprintf("o%d", rng.Intn(300)), rng.Intn(400), int64(rng.Intn(3000))))
	}

	first, err := e.Compute(events, today)
	require.NoError(t, err)
	top := e.MaxScore()
	bySeg := map[Triple]models.Segment{}
	for i, s := range first.Scores {
		assert.True(t, s.RecencyScore >= 1 && s.RecencyScore <= top.R)
		assert.True(t, s.FrequencyScore >= 1 && s.FrequencyScore <= top.F)
		assert.True(t, s.MonetaryScore >= 1 && s.MonetaryScore <= top.M)
		if i > 0 {
			assert.Less(t, first.Scores[i-1].CustomerID, s.CustomerID)
		}
		tr := Triple{s.RecencyScore, s.FrequencyScore, s.MonetaryScore}
		if prev, ok := bySeg[tr]; ok {
			assert.Equal(t, prev, s.Segment)
		}
		bySeg[tr] = s.Segment
	}

	// reversed input, same output bytes
	rev := make([]models.SalesEvent, len(events))
	for i := range events {
		rev[len(events)-1-i] = events[i]
	}
	second, err := e.Compute(rev, today)
	require.NoError(t, err)
	a, _ := json.Marshal(first.Scores)
	b, _ := json.Marshal(second.Scores)
	assert.Equal(t, string(a), string(b))
}

func TestIncompleteTableIsConfigurationError(t *testing.T) {
	cfg := config.DefaultAnalysisConfig().RFM
	cfg.DefaultSegment = ""
	_, err := NewEngine(cfg)
	require.Error(t, err)
	assert.True(t, models.IsConfigurationError(err))

	cfg.Segments = []config.SegmentRule{{Label: "Everyone"}}
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	assert.Equal(t, []models.Segment{"Everyone"}, e.Table().Labels())
}

func TestSummarize(t *testing.T) {
	e := newDefaultEngine(t)
	events := []models.SalesEvent{
		ev("a", "1", 0, 100), ev("b", "2", 2, 300), ev("c", "3", 365, 10),
	}
	res, err := e.Compute(events, today)
	require.NoError(t, err)
	sum := Summarize(res)
	require.Len(t, sum, 2)
	assert.Equal(t, models.Segment("New"), sum[0].Segment)
	assert.Equal(t, 2, sum[0].Customers)
	assert.Equal(t, 1.0, sum[0].AvgRecency)
	assert.Equal(t, 200.0, sum[0].AvgMonetary)
	assert.Equal(t, models.Segment("Lost"), sum[1].Segment)
}
