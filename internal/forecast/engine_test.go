package forecast

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AngelCh415/salesinsight/internal/config"
	"github.com/AngelCh415/salesinsight/internal/models"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func seriesOf(id string, values ...float64) models.TimeSeries {
	s := models.TimeSeries{EntityID: id}
	for i, v := range values {
		s.Points = append(s.Points, models.Point{Date: start.AddDate(0, 0, i), Value: v})
	}
	return s
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func newTestEngine(t *testing.T, ms ...Model) *Engine {
	t.Helper()
	e, err := NewEngine(config.DefaultAnalysisConfig().Forecast, ms...)
	require.NoError(t, err)
	return e
}

func TestFlatSeries(t *testing.T) {
	e := newTestEngine(t)
	s := seriesOf("SKU1", constant(30, 1000)...)

	res, err := e.Forecast(context.Background(), s, 7, 0.95)
	require.NoError(t, err)
	require.Len(t, res.Points, 7)
	assert.False(t, res.Degraded)
	assert.Equal(t, []string{"decomposition", "arima"}, res.Models)
	require.NotNil(t, res.ModelAgreement)
	assert.InDelta(t, 0, *res.ModelAgreement, 1e-6)

	for i, p := range res.Points {
		assert.InDelta(t, 1000, p.Point, 1e-3)
		assert.Less(t, p.Lower, p.Point)
		assert.Greater(t, p.Upper, p.Point)
		assert.True(t, p.Date.Equal(start.AddDate(0, 0, 30+i)), "day %d is %s", i, p.Date)
	}
}

func TestLinearTrend(t *testing.T) {
	e := newTestEngine(t)
	vals := make([]float64, 60)
	for i := range vals {
		vals[i] = 100 + 5*float64(i)
	}
	res, err := e.Forecast(context.Background(), seriesOf("SKU2", vals...), 14, 0.9)
	require.NoError(t, err)
	for h, p := range res.Points {
		want := 100 + 5*float64(60+h)
		assert.InDelta(t, want, p.Point, want*1e-3, "h=%d", h)
	}
	require.NotNil(t, res.ModelAgreement)
	assert.Less(t, *res.ModelAgreement, 1e-3)
}

func TestShortSeriesIsUnavailable(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Forecast(context.Background(), seriesOf("SKU3", constant(13, 5)...), 7, 0.95)
	var ih *models.InsufficientHistoryError
	require.True(t, errors.As(err, &ih), "got %v", err)
	assert.Equal(t, 13, ih.Days)
	assert.Equal(t, MinHistoryDays, ih.Required)
}

func TestRejectsBadArguments(t *testing.T) {
	e := newTestEngine(t)
	s := seriesOf("SKU", constant(20, 1)...)
	for _, tc := range []struct {
		horizon int
		conf    float64
	}{{0, 0.9}, {91, 0.9}, {7, 0}, {7, 1}, {7, math.NaN()}} {
		_, err := e.Forecast(context.Background(), s, tc.horizon, tc.conf)
		assert.True(t, models.IsConfigurationError(err), "horizon=%d conf=%v: %v", tc.horizon, tc.conf, err)
	}
}

func TestGappedSeriesIsZeroFilled(t *testing.T) {
	e := newTestEngine(t)
	s := seriesOf("SKU", constant(20, 1)...)
	s.Points = append(s.Points[:10:10], s.Points[11:]...)
	require.Len(t, s.Points, 19)

	filled, err := normalizeSeries(s)
	require.NoError(t, err)
	require.Len(t, filled.Points, 20)
	assert.True(t, filled.Points[10].Date.Equal(start.AddDate(0, 0, 10)))
	assert.Equal(t, 0.0, filled.Points[10].Value)
	assert.Equal(t, 1.0, filled.Points[11].Value)

	res, err := e.Forecast(context.Background(), s, 7, 0.9)
	require.NoError(t, err)
	require.Len(t, res.Points, 7)
	assert.True(t, res.Points[0].Date.Equal(start.AddDate(0, 0, 20)))
}

func TestRejectsUnorderedSeries(t *testing.T) {
	e := newTestEngine(t)
	dup := seriesOf("SKU", constant(20, 1)...)
	dup.Points[10].Date = dup.Points[9].Date
	back := seriesOf("SKU", constant(20, 1)...)
	back.Points[10].Date = back.Points[10].Date.AddDate(0, 0, -5)

	for _, s := range []models.TimeSeries{dup, back} {
		_, err := e.Forecast(context.Background(), s, 7, 0.9)
		var dq *models.DataQualityError
		require.True(t, errors.As(err, &dq), "got %v", err)
		assert.Equal(t, 10, dq.Index)
	}
}

type failingModel struct{ name string }

func (f failingModel) Name() string { return f.name }
func (f failingModel) FitPredict(context.Context, []float64, int, float64) (Prediction, error) {
	return Prediction{}, errors.New("singular fit")
}

type blockingModel struct{}

func (blockingModel) Name() string { return "slow" }
func (blockingModel) FitPredict(ctx context.Context, _ []float64, _ int, _ float64) (Prediction, error) {
	<-ctx.Done()
	return Prediction{}, ctx.Err()
}

func TestSingleModelFallback(t *testing.T) {
	cfg := config.DefaultAnalysisConfig().Forecast
	e := newTestEngine(t, NewDecomposition(cfg), failingModel{"broken"})

	res, err := e.Forecast(context.Background(), seriesOf("SKU", constant(21, 10)...), 5, 0.8)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Nil(t, res.ModelAgreement)
	assert.Equal(t, []string{"decomposition"}, res.Models)
	require.Len(t, res.Notes, 1)
	assert.Contains(t, res.Notes[0], "broken")
}

func TestAllModelsFailing(t *testing.T) {
	e := newTestEngine(t, failingModel{"a"}, failingModel{"b"})
	_, err := e.Forecast(context.Background(), seriesOf("SKU", constant(21, 10)...), 5, 0.8)

	var ih *models.InsufficientHistoryError
	require.True(t, errors.As(err, &ih))
	var mc *models.ModelConvergenceError
	require.True(t, errors.As(err, &mc))
	assert.Equal(t, "a", mc.Model)
}

func TestFitTimeoutIsConvergenceFailure(t *testing.T) {
	cfg := config.DefaultAnalysisConfig().Forecast
	cfg.FitTimeout = 20 * time.Millisecond
	e, err := NewEngine(cfg, blockingModel{}, NewARIMA(cfg))
	require.NoError(t, err)

	res, err := e.Forecast(context.Background(), seriesOf("SKU", constant(30, 3)...), 3, 0.9)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, []string{"arima"}, res.Models)
}

func TestCancelledCallerStillCompletesFit(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := e.Forecast(ctx, seriesOf("SKU", constant(30, 3)...), 3, 0.9)
	require.NoError(t, err)
	assert.Len(t, res.Points, 3)
}

func TestBoundsHoldOnNoisySeries(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	weekly := []float64{0.6, 0.9, 1.0, 1.1, 1.3, 1.6, 0.5}
	vals := make([]float64, 150)
	for i := range vals {
		v := (50 + 0.2*float64(i)) * weekly[i%7]
		v += rng.NormFloat64() * 8
		if rng.Float64() < 0.05 {
			v = 0
		}
		vals[i] = math.Max(0, v)
	}

	for _, mode := range []string{config.SeasonalityAdditive, config.SeasonalityMultiplicative} {
		t.Run(mode, func(t *testing.T) {
			cfg := config.DefaultAnalysisConfig().Forecast
			cfg.SeasonalityMode = mode
			e, err := NewEngine(cfg)
			require.NoError(t, err)

			res, err := e.Forecast(context.Background(), seriesOf("NOISY", vals...), 30, 0.95)
			require.NoError(t, err)
			require.Len(t, res.Points, 30)
			for i, p := range res.Points {
				assert.LessOrEqual(t, p.Lower, p.Point, "h=%d", i)
				assert.LessOrEqual(t, p.Point, p.Upper, "h=%d", i)
				assert.GreaterOrEqual(t, p.Lower, 0.0)
				assert.True(t, p.Date.Equal(start.AddDate(0, 0, 150+i)))
			}
		})
	}
}

func TestBuildSeriesFillsGaps(t *testing.T) {
	ev := func(d int, product string, qty int, amount int64) models.SalesEvent {
		return models.SalesEvent{Date: start.AddDate(0, 0, d), ProductID: product, Quantity: qty, Amount: decimal.NewFromInt(amount)}
	}
	events := []models.SalesEvent{ev(0, "A", 2, 10), ev(3, "A", 1, 10), ev(2, "B", 5, 1), ev(5, "B", 1, 1)}

	out, err := BuildSeries(events, config.MeasureRevenue, true)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "A", out[0].EntityID)
	assert.Equal(t, models.AggregateEntity, out[1].EntityID)
	assert.Equal(t, "B", out[2].EntityID)

	assert.Equal(t, []float64{20, 0, 0, 10, 0, 0}, out[0].Values())
	assert.Equal(t, []float64{20, 0, 5, 10, 0, 1}, out[1].Values())
	assert.Equal(t, []float64{5, 0, 0, 1}, out[2].Values())
	for _, s := range out {
		n, err := normalizeSeries(s)
		require.NoError(t, err)
		assert.Equal(t, s.Values(), n.Values())
	}

	qty, err := BuildSeries(events, config.MeasureQuantity, false)
	require.NoError(t, err)
	require.Len(t, qty, 2)
	assert.Equal(t, []float64{2, 0, 0, 1, 0, 0}, qty[0].Values())

	_, err = BuildSeries(events, "margin", false)
	assert.True(t, models.IsConfigurationError(err))
}
