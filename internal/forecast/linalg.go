package forecast

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var errSingular = errors.New("design matrix is singular")

// maxCond rejects fits whose normal equations are numerically singular.
const maxCond = 1e12

// olsFit is a least-squares fit of y on the columns of x with an optional ridge penalty per
// coefficient, solved through the Cholesky factor of XᵀX + diag(penalty).
type olsFit struct {
	beta  []float64
	resid []float64
	ssr   float64
	dof   int
	chol  mat.Cholesky
}

func fitOLS(x *mat.Dense, y []float64, penalty []float64) (*olsFit, error) {
	n, k := x.Dims()
	if n != len(y) {
		return nil, errors.New("design rows do not match observations")
	}
	if n == 0 || k == 0 {
		return nil, errSingular
	}

	a := mat.NewSymDense(k, nil)
	a.SymOuterK(1, x.T())
	for i := 0; i < k && i < len(penalty); i++ {
		a.SetSym(i, i, a.At(i, i)+penalty[i])
	}

	f := &olsFit{dof: n - k}
	if ok := f.chol.Factorize(a); !ok {
		return nil, errSingular
	}
	if c := f.chol.Cond(); math.IsInf(c, 0) || math.IsNaN(c) || c > maxCond {
		return nil, errSingular
	}

	yv := mat.NewVecDense(n, append([]float64(nil), y...))
	var xty, beta mat.VecDense
	xty.MulVec(x.T(), yv)
	if err := f.chol.SolveVecTo(&beta, &xty); err != nil {
		return nil, err
	}

	var fitted mat.VecDense
	fitted.MulVec(x, &beta)
	f.beta = make([]float64, k)
	for i := range f.beta {
		f.beta[i] = beta.AtVec(i)
		if math.IsNaN(f.beta[i]) || math.IsInf(f.beta[i], 0) {
			return nil, errSingular
		}
	}
	f.resid = make([]float64, n)
	for i := range f.resid {
		r := y[i] - fitted.AtVec(i)
		f.resid[i] = r
		f.ssr += r * r
	}
	return f, nil
}

func (f *olsFit) predict(row []float64) float64 {
	var s float64
	for i, v := range row {
		s += v * f.beta[i]
	}
	return s
}

// leverage returns x₀ᵀ(XᵀX + P)⁻¹x₀ for a new design row.
func (f *olsFit) leverage(row []float64) float64 {
	x0 := mat.NewVecDense(len(row), append([]float64(nil), row...))
	var s mat.VecDense
	if err := f.chol.SolveVecTo(&s, x0); err != nil {
		return 0
	}
	return math.Max(0, mat.Dot(x0, &s))
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return stat.Mean(v, nil)
}

func meanAbs(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	abs := make([]float64, len(v))
	for i, x := range v {
		abs[i] = math.Abs(x)
	}
	return stat.Mean(abs, nil)
}

// variance is the population variance.
func variance(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return stat.PopVariance(v, nil)
}

func diff(v []float64, lag int) []float64 {
	if len(v) <= lag {
		return nil
	}
	out := make([]float64, len(v)-lag)
	for i := lag; i < len(v); i++ {
		out[i-lag] = v[i] - v[i-lag]
	}
	return out
}

// polyMul multiplies polynomials in the backshift operator, coefficients by ascending power.
func polyMul(a, b []float64) []float64 {
	out := make([]float64, len(a)+len(b)-1)
	for i, x := range a {
		for j, y := range b {
			out[i+j] += x * y
		}
	}
	return out
}
