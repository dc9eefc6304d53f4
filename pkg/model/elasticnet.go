package model

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"kubegems.io/modeleval/pkg/dataset"
	"sigs.k8s.io/yaml"
)

const FlavorElasticNet = "elasticnet"

func init() {
	GlobalLoaders[FlavorElasticNet] = LoadElasticNet
}

// ElasticNet is a linear regressor trained with combined L1 and L2 penalties.
// Only the fitted coefficients are needed to predict.
type ElasticNet struct {
	Features     []string  `json:"features,omitempty"`
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
	Alpha        float64   `json:"alpha,omitempty"`
	L1Ratio      float64   `json:"l1_ratio,omitempty"`
}

func LoadElasticNet(content []byte) (Model, error) {
	m := &ElasticNet{}
	if err := yaml.Unmarshal(content, m); err != nil {
		return nil, err
	}
	if len(m.Coefficients) == 0 {
		return nil, fmt.Errorf("no coefficients")
	}
	if len(m.Features) != 0 && len(m.Features) != len(m.Coefficients) {
		return nil, fmt.Errorf("%d features but %d coefficients", len(m.Features), len(m.Coefficients))
	}
	return m, nil
}

func (m *ElasticNet) Flavor() string {
	return FlavorElasticNet
}

func (m *ElasticNet) FeatureNames() []string {
	return m.Features
}

func (m *ElasticNet) Predict(ctx context.Context, features *dataset.Frame) ([]float64, error) {
	x, err := m.align(features)
	if err != nil {
		return nil, err
	}
	rows, _ := x.Dims()
	y := mat.NewVecDense(rows, nil)
	y.MulVec(x, mat.NewVecDense(len(m.Coefficients), append([]float64(nil), m.Coefficients...)))
	out := make([]float64, rows)
	for i := range out {
		out[i] = y.AtVec(i) + m.Intercept
	}
	return out, nil
}

// align orders the frame columns as they were seen during fit.
func (m *ElasticNet) align(features *dataset.Frame) (mat.Matrix, error) {
	if len(m.Features) == 0 {
		if features.Cols() != len(m.Coefficients) {
			return nil, fmt.Errorf("%w: model expects %d features, got %d",
				ErrFeatureMismatch, len(m.Coefficients), features.Cols())
		}
		return features.Data, nil
	}
	if features.Cols() != len(m.Features) {
		return nil, fmt.Errorf("%w: model expects %v, got %v", ErrFeatureMismatch, m.Features, features.Columns)
	}
	x := mat.NewDense(features.Rows(), len(m.Features), nil)
	for j, name := range m.Features {
		idx := features.ColumnIndex(name)
		if idx < 0 {
			return nil, fmt.Errorf("%w: missing feature %q", ErrFeatureMismatch, name)
		}
		x.SetCol(j, mat.Col(nil, idx, features.Data))
	}
	return x, nil
}
