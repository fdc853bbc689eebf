package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/AngelCh415/salesinsight/internal/config"
)

const (
	weeklyPeriod = 7.0
	yearlyPeriod = 365.25
	// yearly terms need two full cycles
	yearlyMinDays = 730
	// changepoints live in the first 80% of history
	changepointRange = 0.8
	// ridge weight on changepoint deltas, relative to the number of observations
	changepointPrior = 0.05
)

// Decomposition is an additive regression of trend and seasonality:
// intercept, piecewise-linear trend with hinge changepoints, weekly Fourier terms and, with two
// years of history, yearly Fourier terms. Multiplicative mode fits log1p of the series.
type Decomposition struct {
	mode         string
	weeklyOrder  int
	yearlyOrder  int
	changepoints int
	minRelSigma  float64
}

func NewDecomposition(cfg config.ForecastConfig) *Decomposition {
	return &Decomposition{
		mode:         cfg.SeasonalityMode,
		weeklyOrder:  cfg.WeeklyOrder,
		yearlyOrder:  cfg.YearlyOrder,
		changepoints: cfg.Changepoints,
		minRelSigma:  cfg.MinRelativeSigma,
	}
}

func (d *Decomposition) Name() string { return "decomposition" }

type designSpec struct {
	n       int
	cps     []float64
	weekly  int
	yearly  int
	columns int
}

func (d *Decomposition) spec(n int) designSpec {
	s := designSpec{n: n, weekly: d.weeklyOrder}
	k := d.changepoints
	if k > n/10 {
		k = n / 10
	}
	for j := 0; j < k; j++ {
		s.cps = append(s.cps, changepointRange*float64(j+1)/float64(k+1))
	}
	if n >= yearlyMinDays {
		s.yearly = d.yearlyOrder
	}
	s.columns = 2 + len(s.cps) + 2*s.weekly + 2*s.yearly
	return s
}

// row builds the design row for day index i (0 = first history day).
func (s designSpec) row(i int) []float64 {
	t := float64(i) / float64(s.n-1)
	r := make([]float64, 0, s.columns)
	r = append(r, 1, t)
	for _, c := range s.cps {
		r = append(r, math.Max(0, t-c))
	}
	for k := 1; k <= s.weekly; k++ {
		a := 2 * math.Pi * float64(k) * float64(i) / weeklyPeriod
		r = append(r, math.Sin(a), math.Cos(a))
	}
	for k := 1; k <= s.yearly; k++ {
		a := 2 * math.Pi * float64(k) * float64(i) / yearlyPeriod
		r = append(r, math.Sin(a), math.Cos(a))
	}
	return r
}

func (d *Decomposition) FitPredict(ctx context.Context, history []float64, horizon int, confidence float64) (Prediction, error) {
	n := len(history)
	if n < 2 {
		return Prediction{}, errors.New("history too short")
	}
	multiplicative := d.mode == config.SeasonalityMultiplicative

	// work on a unit scale so the normal equations stay well conditioned
	y := make([]float64, n)
	scale := 1.0
	if multiplicative {
		for i, v := range history {
			y[i] = math.Log1p(math.Max(0, v))
		}
	} else {
		for _, v := range history {
			scale = math.Max(scale, math.Abs(v))
		}
		for i, v := range history {
			y[i] = v / scale
		}
	}

	s := d.spec(n)
	x := mat.NewDense(n, s.columns, nil)
	for i := 0; i < n; i++ {
		x.SetRow(i, s.row(i))
	}
	penalty := make([]float64, s.columns)
	for j := range s.cps {
		penalty[2+j] = changepointPrior * float64(n)
	}
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	fit, err := fitOLS(x, y, penalty)
	if err != nil {
		return Prediction{}, err
	}
	if fit.dof <= 0 {
		return Prediction{}, fmt.Errorf("%d observations for %d terms", n, s.columns)
	}
	sigma := math.Sqrt(fit.ssr / float64(fit.dof))
	if math.IsNaN(sigma) {
		return Prediction{}, errors.New("residual variance is not finite")
	}
	if multiplicative {
		sigma = math.Max(sigma, d.minRelSigma)
	} else {
		sigma = sigmaFloor(sigma, d.minRelSigma, y)
	}

	z := intervalZ(confidence)
	p := newPrediction(d.Name(), horizon)
	for h := 0; h < horizon; h++ {
		if err := ctx.Err(); err != nil {
			return Prediction{}, err
		}
		row := s.row(n + h)
		mu := fit.predict(row)
		half := z * sigma * math.Sqrt(1+fit.leverage(row))
		if multiplicative {
			p.Point[h] = math.Expm1(mu)
			p.Lower[h] = math.Expm1(mu - half)
			p.Upper[h] = math.Expm1(mu + half)
		} else {
			p.Point[h] = mu * scale
			p.Lower[h] = (mu - half) * scale
			p.Upper[h] = (mu + half) * scale
		}
	}
	clampBands(&p)
	p.Detail = fmt.Sprintf("%s changepoints=%d weekly=%d yearly=%d sigma=%.4g", d.mode, len(s.cps), s.weekly, s.yearly, sigma*scale)
	return p, nil
}
