package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"

	"github.com/AngelCh415/salesinsight/internal/config"
)

const (
	seasonalPeriod = 7
	// a difference must cut variance by at least this factor to be taken
	diffGain = 0.9
	// differenced series shorter than this are not worth another difference
	minWorkingLength = 10
	// coefficients must keep their roots strictly inside this radius
	rootRadius  = 0.999
	hrTolerance = 1e-4
	minVariance = 1e-12
)

// ARIMA is a seasonal ARIMA(p,d,q)(0,D,0)[7] with a constant. Differencing orders come from a
// variance reduction rule, (p, q) from AIC over the configured grid, and coefficients from
// iterated Hannan-Rissanen regressions.
type ARIMA struct {
	maxP, maxD, maxQ int
	maxIter          int
	minRelSigma      float64
}

func NewARIMA(cfg config.ForecastConfig) *ARIMA {
	return &ARIMA{
		maxP:        cfg.MaxP,
		maxD:        cfg.MaxD,
		maxQ:        cfg.MaxQ,
		maxIter:     cfg.MaxIterations,
		minRelSigma: cfg.MinRelativeSigma,
	}
}

func (a *ARIMA) Name() string { return "arima" }

// armaFit is an ARMA(p,q) with constant on the differenced series, in original units.
type armaFit struct {
	p, q  int
	c     float64
	phi   []float64
	theta []float64
	resid []float64 // aligned with the differenced series; zero before max(p,q)
	sigma float64
	aic   float64
}

func (a *ARIMA) FitPredict(ctx context.Context, history []float64, horizon int, confidence float64) (Prediction, error) {
	d, D, w := chooseDifferencing(history, a.maxD)
	if len(w) < minWorkingLength {
		return Prediction{}, fmt.Errorf("only %d points after differencing", len(w))
	}

	var best *armaFit
	var lastErr error
	for p := 0; p <= a.maxP; p++ {
		for q := 0; q <= a.maxQ; q++ {
			if err := ctx.Err(); err != nil {
				return Prediction{}, err
			}
			f, err := a.fitARMA(ctx, w, p, q)
			if err != nil {
				lastErr = fmt.Errorf("order (%d,%d): %w", p, q, err)
				continue
			}
			if best == nil || f.aic < best.aic {
				best = f
			}
		}
	}
	if best == nil {
		if lastErr == nil {
			lastErr = errors.New("empty order grid")
		}
		return Prediction{}, lastErr
	}

	sigma := sigmaFloor(best.sigma, a.minRelSigma, history)
	p := a.forecast(history, best, d, D, horizon, sigma, intervalZ(confidence))
	p.Detail = fmt.Sprintf("ARIMA(%d,%d,%d)(0,%d,0)[7] aic=%.4g sigma=%.4g", best.p, d, best.q, D, best.aic, sigma)
	return p, nil
}

// chooseDifferencing takes the seasonal difference, then up to maxD ordinary differences, each only
// when it reduces variance by the diffGain factor. Ties keep the smaller order.
func chooseDifferencing(y []float64, maxD int) (d, D int, w []float64) {
	w = y
	if v := variance(w); !flat(w) && len(w)-seasonalPeriod >= minWorkingLength {
		if s := diff(w, seasonalPeriod); variance(s) < diffGain*v {
			w, D = s, 1
		}
	}
	for d < maxD && len(w)-1 >= minWorkingLength {
		if flat(w) {
			break
		}
		v := variance(w)
		next := diff(w, 1)
		if variance(next) >= diffGain*v {
			break
		}
		w, d = next, d+1
	}
	return d, D, w
}

func (a *ARIMA) fitARMA(ctx context.Context, w []float64, p, q int) (*armaFit, error) {
	n := len(w)
	mu := mean(w)
	sd := math.Sqrt(variance(w))

	// a constant series only admits the mean model
	if flat(w) {
		if p > 0 || q > 0 {
			return nil, errors.New("zero variance")
		}
		return &armaFit{c: mu, resid: make([]float64, n), aic: float64(n) * math.Log(minVariance)}, nil
	}

	z := make([]float64, n)
	for i, v := range w {
		z[i] = (v - mu) / sd
	}

	var (
		c     float64
		phi   []float64
		theta []float64
		err   error
	)
	if q == 0 {
		c, phi, err = fitAR(z, p)
		if err != nil {
			return nil, err
		}
	} else {
		c, phi, theta, err = a.hannanRissanen(ctx, z, p, q)
		if err != nil {
			return nil, err
		}
	}
	if !rootsInside(phi) {
		return nil, errors.New("not stationary")
	}
	if !rootsInside(negate(theta)) {
		return nil, errors.New("not invertible")
	}

	e := armaResiduals(z, c, phi, theta)
	start := maxInt(a.maxP, a.maxQ)
	if start >= n {
		start = maxInt(p, q)
	}
	var ssr float64
	for t := start; t < n; t++ {
		ssr += e[t] * e[t]
	}
	neff := n - start
	k := 1 + p + q
	if neff-k <= 0 {
		return nil, fmt.Errorf("%d observations for %d parameters", neff, k)
	}
	mle := math.Max(ssr/float64(neff), minVariance)

	// back to original units: w = mu + sd*z
	var phiSum float64
	for _, v := range phi {
		phiSum += v
	}
	resid := make([]float64, n)
	for i := range e {
		resid[i] = sd * e[i]
	}
	return &armaFit{
		p:     p,
		q:     q,
		c:     mu*(1-phiSum) + sd*c,
		phi:   phi,
		theta: theta,
		resid: resid,
		sigma: sd * math.Sqrt(ssr/float64(neff-k)),
		aic:   float64(neff)*math.Log(mle) + 2*float64(k),
	}, nil
}

// fitAR regresses z_t on a constant and p lags.
func fitAR(z []float64, p int) (float64, []float64, error) {
	n := len(z)
	rows := n - p
	if rows <= p+1 {
		return 0, nil, errSingular
	}
	x := mat.NewDense(rows, p+1, nil)
	y := make([]float64, rows)
	for t := p; t < n; t++ {
		r := t - p
		x.Set(r, 0, 1)
		for i := 1; i <= p; i++ {
			x.Set(r, i, z[t-i])
		}
		y[r] = z[t]
	}
	f, err := fitOLS(x, y, nil)
	if err != nil {
		return 0, nil, err
	}
	return f.beta[0], append([]float64(nil), f.beta[1:]...), nil
}

// hannanRissanen estimates ARMA(p,q): innovations from a long autoregression, then repeated
// regressions on lagged values and lagged innovations until the coefficients settle.
func (a *ARIMA) hannanRissanen(ctx context.Context, z []float64, p, q int) (float64, []float64, []float64, error) {
	n := len(z)
	m := maxInt(p+q+2, 6)
	if m > n/3 {
		m = n / 3
	}
	if m <= maxInt(p, q) {
		return 0, nil, nil, errors.New("history too short for a long autoregression")
	}
	c0, long, err := fitAR(z, m)
	if err != nil {
		return 0, nil, nil, err
	}
	e := armaResiduals(z, c0, long, nil)
	for t := 0; t < m; t++ {
		e[t] = 0
	}

	start := m + q
	if p > start {
		start = p
	}
	rows := n - start
	k := 1 + p + q
	if rows <= k {
		return 0, nil, nil, fmt.Errorf("%d rows for %d parameters", rows, k)
	}

	prev := make([]float64, k)
	for it := 0; it < a.maxIter; it++ {
		if err := ctx.Err(); err != nil {
			return 0, nil, nil, err
		}
		x := mat.NewDense(rows, k, nil)
		y := make([]float64, rows)
		for t := start; t < n; t++ {
			r := t - start
			x.Set(r, 0, 1)
			for i := 1; i <= p; i++ {
				x.Set(r, i, z[t-i])
			}
			for j := 1; j <= q; j++ {
				x.Set(r, p+j, e[t-j])
			}
			y[r] = z[t]
		}
		f, err := fitOLS(x, y, nil)
		if err != nil {
			return 0, nil, nil, err
		}
		c, phi, theta := f.beta[0], f.beta[1:1+p], f.beta[1+p:]
		if !rootsInside(negate(theta)) {
			return 0, nil, nil, errors.New("not invertible")
		}

		var delta float64
		for i, v := range f.beta {
			delta = math.Max(delta, math.Abs(v-prev[i]))
		}
		copy(prev, f.beta)
		if it > 0 && delta < hrTolerance {
			return c, append([]float64(nil), phi...), append([]float64(nil), theta...), nil
		}
		e = armaResiduals(z, c, phi, theta)
	}
	return 0, nil, nil, fmt.Errorf("no convergence in %d iterations", a.maxIter)
}

// armaResiduals filters z through the ARMA recursion with pre-sample innovations set to zero.
func armaResiduals(z []float64, c float64, phi, theta []float64) []float64 {
	e := make([]float64, len(z))
	start := maxInt(len(phi), len(theta))
	for t := start; t < len(z); t++ {
		v := z[t] - c
		for i, f := range phi {
			v -= f * z[t-1-i]
		}
		for j, th := range theta {
			v -= th * e[t-1-j]
		}
		e[t] = v
	}
	return e
}

// rootsInside reports whether x_t = Σ coef_i x_{t-i} is stable, via the companion matrix eigenvalues.
func rootsInside(coef []float64) bool {
	k := len(coef)
	switch k {
	case 0:
		return true
	case 1:
		return math.Abs(coef[0]) < rootRadius
	}
	comp := mat.NewDense(k, k, nil)
	for i, v := range coef {
		comp.Set(0, i, v)
	}
	for i := 1; i < k; i++ {
		comp.Set(i, i-1, 1)
	}
	var eig mat.Eigen
	if ok := eig.Factorize(comp, mat.EigenNone); !ok {
		return false
	}
	for _, v := range eig.Values(nil) {
		if cmplx.Abs(v) >= rootRadius || cmplx.IsNaN(v) {
			return false
		}
	}
	return true
}

// forecast integrates the fitted ARMA back through the differences:
// A(B) = φ(B)(1-B)^d(1-B^7)^D, y_t = c + Σ a_i y_{t-i} + e_t + Σ θ_j e_{t-j}.
func (a *ARIMA) forecast(y []float64, f *armaFit, d, D, horizon int, sigma, z float64) Prediction {
	poly := []float64{1}
	if len(f.phi) > 0 {
		ar := make([]float64, len(f.phi)+1)
		ar[0] = 1
		for i, v := range f.phi {
			ar[i+1] = -v
		}
		poly = ar
	}
	for i := 0; i < d; i++ {
		poly = polyMul(poly, []float64{1, -1})
	}
	if D > 0 {
		s := make([]float64, seasonalPeriod+1)
		s[0], s[seasonalPeriod] = 1, -1
		poly = polyMul(poly, s)
	}
	coef := make([]float64, len(poly)-1)
	for i := range coef {
		coef[i] = -poly[i+1]
	}

	n := len(y)
	off := d + D*seasonalPeriod
	total := n + horizon
	ext := make([]float64, total)
	copy(ext, y)
	errs := make([]float64, total)
	for t := off; t < n; t++ {
		errs[t] = f.resid[t-off]
	}

	for t := n; t < total; t++ {
		v := f.c
		for i, ai := range coef {
			if j := t - 1 - i; j >= 0 {
				v += ai * ext[j]
			}
		}
		for j, th := range f.theta {
			if k := t - 1 - j; k >= 0 {
				v += th * errs[k]
			}
		}
		ext[t] = v
	}

	// ψ-weights of θ(B)/A(B)
	psi := make([]float64, horizon)
	psi[0] = 1
	for j := 1; j < horizon; j++ {
		var v float64
		if j <= len(f.theta) {
			v = f.theta[j-1]
		}
		for i := 1; i <= len(coef) && i <= j; i++ {
			v += coef[i-1] * psi[j-i]
		}
		psi[j] = v
	}

	p := newPrediction(a.Name(), horizon)
	var cum float64
	for h := 0; h < horizon; h++ {
		cum += psi[h] * psi[h]
		half := z * sigma * math.Sqrt(cum)
		pt := ext[n+h]
		p.Point[h], p.Lower[h], p.Upper[h] = pt, pt-half, pt+half
	}
	clampBands(&p)
	return p
}

// flat treats variance at rounding level as zero.
func flat(v []float64) bool {
	var scale float64
	for _, x := range v {
		scale = math.Max(scale, math.Abs(x))
	}
	return variance(v) <= 1e-20*math.Max(1, scale*scale)
}

func negate(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = -x
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
