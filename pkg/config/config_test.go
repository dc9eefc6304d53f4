package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"kubegems.io/modeleval/pkg/errors"
	"kubegems.io/modeleval/pkg/tracking"
)

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	content := `model_evaluation:
  root_dir: ` + filepath.Join(dir, "model_evaluation") + `
  test_data_path: ` + filepath.Join(dir, "test.csv") + `
  model_path: ` + filepath.Join(dir, "model.json") + `
  metric_file_name: ` + filepath.Join(dir, "model_evaluation", "metrics.json") + `
  mlflow_uri: https://dagshub.com/kubegems/wine-quality.mlflow
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadEvaluationConfig(t *testing.T) {
	dir := t.TempDir()
	opts := NewDefaultOptions()
	opts.ConfigFile = writeConfig(t, dir)
	opts.ParamsFile = "testdata/params.yaml"
	opts.SchemaFile = "testdata/schema.yaml"

	cfg, err := LoadEvaluationConfig(opts)
	require.NoError(t, err)

	assert.Equal(t, &EvaluationConfig{
		RootDir:             filepath.Join(dir, "model_evaluation"),
		TestDataPath:        filepath.Join(dir, "test.csv"),
		ModelPath:           filepath.Join(dir, "model.json"),
		TargetColumn:        "quality",
		MetricFileName:      filepath.Join(dir, "model_evaluation", "metrics.json"),
		TrackingURI:         "https://dagshub.com/kubegems/wine-quality.mlflow",
		ExperimentName:      DefaultExperimentName,
		RegisteredModelName: DefaultRegisteredModelName,
		AllParams:           map[string]any{"alpha": 0.2, "l1_ratio": 0.1},
	}, cfg)

	fi, err := os.Stat(cfg.RootDir)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestLoadEvaluationConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	valid := writeConfig(t, dir)

	tests := []struct {
		name    string
		opts    Options
		code    errors.ErrCode
		notfile bool
	}{
		{
			name: "schema violation",
			opts: Options{ConfigFile: "testdata/config_invalid.yaml", ParamsFile: "testdata/params.yaml", SchemaFile: "testdata/schema.yaml"},
			code: errors.ErrCodeConfigInvalid,
		},
		{
			name: "missing params section",
			opts: Options{ConfigFile: valid, ParamsFile: "testdata/params.yaml", SchemaFile: "testdata/schema.yaml", ParamsSection: "RandomForest"},
			code: errors.ErrCodeConfigInvalid,
		},
		{
			name: "target column absent",
			opts: Options{ConfigFile: valid, ParamsFile: "testdata/params.yaml", SchemaFile: "testdata/params.yaml"},
			code: errors.ErrCodeConfigInvalid,
		},
		{
			name:    "missing file",
			opts:    Options{ConfigFile: filepath.Join(dir, "nope.yaml"), ParamsFile: "testdata/params.yaml", SchemaFile: "testdata/schema.yaml"},
			notfile: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			_, err := LoadEvaluationConfig(&opts)
			require.Error(t, err)
			if tt.notfile {
				assert.ErrorIs(t, err, os.ErrNotExist)
				return
			}
			assert.True(t, errors.IsErrCode(err, tt.code), "got %v", err)
		})
	}
}

func TestEvaluationConfigValidate(t *testing.T) {
	cfg := &EvaluationConfig{TestDataPath: "test.csv", ModelPath: " "}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metric_file_name, model_path, target_column")

	cfg.Default()
	assert.Equal(t, DefaultExperimentName, cfg.ExperimentName)
	assert.Equal(t, DefaultRegisteredModelName, cfg.RegisteredModelName)
	assert.NotNil(t, cfg.AllParams)
}

func TestLoadEvaluationConfigParamTypes(t *testing.T) {
	dir := t.TempDir()
	opts := NewDefaultOptions()
	opts.ConfigFile = writeConfig(t, dir)
	opts.ParamsFile = "testdata/params_types.yaml"
	opts.SchemaFile = "testdata/schema.yaml"

	cfg, err := LoadEvaluationConfig(opts)
	require.NoError(t, err)

	tests := []struct {
		key  string
		want any
	}{
		{key: "alpha", want: 0.2},
		{key: "max_iter", want: 1000000},
		{key: "random_state", want: 42},
		{key: "tol", want: 100000.0},
		{key: "selection", want: "cyclic"},
		{key: "fit_intercept", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.AllParams[tt.key])
		})
	}

	assert.Equal(t, map[string]string{
		"alpha":         "0.2",
		"max_iter":      "1000000",
		"random_state":  "42",
		"tol":           "100000.0",
		"selection":     "cyclic",
		"fit_intercept": "True",
	}, tracking.StringifyParams(cfg.AllParams))
}
