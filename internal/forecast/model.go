package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Prediction is one model's output over the horizon.
type Prediction struct {
	Model  string
	Point  []float64
	Lower  []float64
	Upper  []float64
	Detail string
}

// Model fits a history of equally spaced daily values and predicts the next horizon days with a
// central interval at the given confidence. Implementations must honour ctx.
type Model interface {
	Name() string
	FitPredict(ctx context.Context, history []float64, horizon int, confidence float64) (Prediction, error)
}

// intervalZ is the two-sided normal quantile for a central interval.
func intervalZ(confidence float64) float64 {
	return distuv.UnitNormal.Quantile(0.5 + confidence/2)
}

// sigmaFloor keeps intervals open on perfectly regular histories.
func sigmaFloor(sigma, minRelative float64, history []float64) float64 {
	return math.Max(sigma, minRelative*meanAbs(history))
}

// clampBands forces non-negative demand while keeping lower <= point <= upper.
func clampBands(p *Prediction) {
	for i := range p.Point {
		p.Point[i] = math.Max(0, p.Point[i])
		p.Lower[i] = math.Min(math.Max(0, p.Lower[i]), p.Point[i])
		p.Upper[i] = math.Max(p.Upper[i], p.Point[i])
	}
}

func (p Prediction) validate(horizon int) error {
	if len(p.Point) != horizon || len(p.Lower) != horizon || len(p.Upper) != horizon {
		return fmt.Errorf("prediction has %d/%d/%d values, want %d", len(p.Point), len(p.Lower), len(p.Upper), horizon)
	}
	for i := 0; i < horizon; i++ {
		for _, v := range [...]float64{p.Point[i], p.Lower[i], p.Upper[i]} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.New("prediction contains non-finite values")
			}
		}
	}
	return nil
}

func newPrediction(name string, horizon int) Prediction {
	return Prediction{
		Model: name,
		Point: make([]float64, horizon),
		Lower: make([]float64, horizon),
		Upper: make([]float64, horizon),
	}
}
