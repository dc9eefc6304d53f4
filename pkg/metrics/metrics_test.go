package metrics

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name      string
		actual    []float64
		predicted []float64
		want      Result
		wantErr   error
	}{
		{
			name:      "perfect",
			actual:    []float64{1, 2, 3},
			predicted: []float64{1, 2, 3},
			want:      Result{RMSE: 0, MAE: 0, R2: 1},
		},
		{
			name:      "shifted by one",
			actual:    []float64{1, 2, 3},
			predicted: []float64{2, 3, 4},
			want:      Result{RMSE: 1, MAE: 1, R2: -0.5},
		},
		{
			name:      "constant actual perfect",
			actual:    []float64{4, 4},
			predicted: []float64{4, 4},
			want:      Result{R2: 1},
		},
		{
			name:      "constant actual off",
			actual:    []float64{4, 4},
			predicted: []float64{3, 5},
			want:      Result{RMSE: 1, MAE: 1, R2: 0},
		},
		{
			name:    "empty",
			wantErr: ErrEmptyInput,
		},
		{
			name:      "length mismatch",
			actual:    []float64{1, 2},
			predicted: []float64{1},
			wantErr:   ErrLengthMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(tt.actual, tt.predicted)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want.RMSE, got.RMSE, 1e-9)
			assert.InDelta(t, tt.want.MAE, got.MAE, 1e-9)
			assert.InDelta(t, tt.want.R2, got.R2, 1e-9)
		})
	}
}

func TestComputeProperties(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 100; i++ {
		n := 2 + rnd.Intn(50)
		a, b := make([]float64, n), make([]float64, n)
		for j := range a {
			a[j] = rnd.NormFloat64() * 10
			b[j] = rnd.NormFloat64() * 10
		}
		ab, err := Compute(a, b)
		require.NoError(t, err)
		ba, err := Compute(b, a)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, ab.RMSE, 0.0)
		assert.GreaterOrEqual(t, ab.MAE, 0.0)
		assert.LessOrEqual(t, ab.R2, 1.0)
		assert.InDelta(t, ab.RMSE, ba.RMSE, 1e-9)
		assert.InDelta(t, ab.MAE, ba.MAE, 1e-9)
		// rmse is never below mae
		assert.GreaterOrEqual(t, ab.RMSE+1e-12, ab.MAE)
	}

	ab, err := Compute([]float64{1, 2, 3}, []float64{2, 3, 4})
	require.NoError(t, err)
	ba, err := Compute([]float64{2, 3, 4}, []float64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, ab.RMSE, ba.RMSE)
	assert.Equal(t, -0.5, ab.R2)
	assert.Equal(t, -0.5, ba.R2)

	ab, err = Compute([]float64{1, 2, 3, 10}, []float64{1, 1, 1, 1})
	require.NoError(t, err)
	ba, err = Compute([]float64{1, 1, 1, 1}, []float64{1, 2, 3, 10})
	require.NoError(t, err)
	assert.NotEqual(t, ab.R2, ba.R2)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifacts", "model_evaluation", "metrics.json")
	want := Result{RMSE: 0.7, MAE: 0.55, R2: 0.12}

	require.NoError(t, Save(path, want))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// overwrite in place
	want.R2 = 0.5
	require.NoError(t, Save(path, want))
	got, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"rmse": 0.7, "mae": 0.55, "r2": 0.5}`, string(content))
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{name: "missing key", content: `{"rmse": 1, "mae": 1}`},
		{name: "extra key", content: `{"rmse": 1, "mae": 1, "r2": 1, "mse": 1}`},
		{name: "not json", content: `rmse=1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
