package metrics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	NameRMSE = "rmse"
	NameMAE  = "mae"
	NameR2   = "r2"
)

var (
	ErrEmptyInput     = errors.New("metrics: empty input")
	ErrLengthMismatch = errors.New("metrics: length mismatch")
)

// Result holds the regression metrics of one evaluation.
type Result struct {
	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`
	R2   float64 `json:"r2"`
}

func (r Result) Map() map[string]float64 {
	return map[string]float64{
		NameRMSE: r.RMSE,
		NameMAE:  r.MAE,
		NameR2:   r.R2,
	}
}

// Compute returns root mean squared error, mean absolute error and the
// coefficient of determination of predicted against actual.
//
// When actual is constant R² is 1 for a perfect prediction and 0 otherwise.
func Compute(actual, predicted []float64) (Result, error) {
	if len(actual) == 0 || len(predicted) == 0 {
		return Result{}, ErrEmptyInput
	}
	if len(actual) != len(predicted) {
		return Result{}, fmt.Errorf("%w: %d actual, %d predicted", ErrLengthMismatch, len(actual), len(predicted))
	}
	n := float64(len(actual))
	result := Result{
		RMSE: floats.Distance(actual, predicted, 2) / math.Sqrt(n),
		MAE:  floats.Distance(actual, predicted, 1) / n,
	}
	if floats.Max(actual) == floats.Min(actual) {
		if result.RMSE == 0 {
			result.R2 = 1
		}
		return result, nil
	}
	result.R2 = stat.RSquaredFrom(predicted, actual, nil)
	return result, nil
}
