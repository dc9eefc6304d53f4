package tracking

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	"kubegems.io/modeleval/pkg/errors"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(context.Background(), filepath.Join(t.TempDir(), "mlruns"))
	require.NoError(t, err)
	require.NoError(t, store.Ping(context.Background()))
	return store
}

func TestFileStoreExperiments(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t)

	def, err := store.GetOrCreateExperiment(ctx, DefaultExperiment)
	require.NoError(t, err)
	assert.Equal(t, "0", def.ExperimentID)

	wine, err := store.GetOrCreateExperiment(ctx, "wine")
	require.NoError(t, err)
	assert.Equal(t, "1", wine.ExperimentID)

	again, err := store.GetOrCreateExperiment(ctx, "wine")
	require.NoError(t, err)
	assert.Equal(t, wine.ExperimentID, again.ExperimentID)

	experiments, err := store.ListExperiments(ctx)
	require.NoError(t, err)
	assert.Len(t, experiments, 2)
}

func TestFileStoreRun(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t)

	run, err := store.StartRun(ctx, DefaultExperiment, "evaluation")
	require.NoError(t, err)
	assert.Len(t, run.ID(), 32)
	assert.True(t, strings.HasPrefix(run.ArtifactURI(), "file://"))

	require.NoError(t, run.LogParams(ctx, map[string]string{"alpha": "0.2", "l1_ratio": "0.1"}))
	// same value again is fine
	require.NoError(t, run.LogParams(ctx, map[string]string{"alpha": "0.2"}))
	err = run.LogParams(ctx, map[string]string{"alpha": "0.5"})
	assert.True(t, errors.IsErrCode(err, errors.ErrCodeInvalidParameterValue), "got %v", err)

	require.NoError(t, run.LogMetrics(ctx, map[string]float64{"rmse": 0.5, "mae": 0.25, "r2": 0.9}))
	require.NoError(t, run.LogMetrics(ctx, map[string]float64{"rmse": 0.4}))

	artifact := testModelArtifact(t)
	uri, err := run.LogModel(ctx, artifact)
	require.NoError(t, err)
	assert.Equal(t, run.ArtifactURI()+"/model", uri)

	modeldir := LocalPath(uri)
	for _, name := range []string{MLmodelFileName, InputExampleFileName, "elasticnet.json"} {
		assert.FileExists(t, filepath.Join(modeldir, name))
	}

	mlmodelcontent, err := os.ReadFile(filepath.Join(modeldir, MLmodelFileName))
	require.NoError(t, err)
	mlmodel := MLmodel{}
	require.NoError(t, yaml.Unmarshal(mlmodelcontent, &mlmodel))
	assert.Equal(t, run.ID(), mlmodel.RunID)
	assert.Equal(t, "elasticnet", mlmodel.Flavors[FlavorName]["model_type"])
	assert.Equal(t, artifact.Model.Digest.String(), mlmodel.Flavors[FlavorName]["digest"])
	assert.Contains(t, mlmodel.Signature["inputs"], `"name":"volatile acidity"`)

	example := map[string]any{}
	examplecontent, err := os.ReadFile(filepath.Join(modeldir, InputExampleFileName))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(examplecontent, &example))
	assert.Len(t, example["data"], 2)

	require.NoError(t, run.End(ctx, RunStatusFinished))
	assert.True(t, errors.IsErrCode(run.End(ctx, RunStatusFinished), errors.ErrCodeInvalidState))
	assert.True(t, errors.IsErrCode(run.LogMetrics(ctx, map[string]float64{"rmse": 1}), errors.ErrCodeInvalidState))

	data, err := store.GetRun(ctx, run.ID())
	require.NoError(t, err)
	assert.Equal(t, RunStatusFinished, data.Info.Status)
	assert.NotZero(t, data.Info.EndTime)
	assert.Equal(t, "evaluation", data.Info.RunName)
	assert.Equal(t, map[string]string{"alpha": "0.2", "l1_ratio": "0.1"}, data.Params)
	assert.Equal(t, map[string]float64{"rmse": 0.4, "mae": 0.25, "r2": 0.9}, data.Metrics)
	assert.Equal(t, "evaluation", data.Tags[TagRunName])
	assert.Equal(t, artifact.Model.Digest.String(), data.Tags[TagModelDigest])

	history := []MLmodel{}
	require.NoError(t, json.Unmarshal([]byte(data.Tags[TagLogModelHistory]), &history))
	assert.Len(t, history, 1)
	assert.Equal(t, DefaultArtifactPath, history[0].ArtifactPath)
}

func TestFileStoreMetricsHistory(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t)

	run, err := store.StartRun(ctx, "wine", "")
	require.NoError(t, err)
	require.NoError(t, run.LogMetrics(ctx, map[string]float64{"rmse": 0.5}))
	require.NoError(t, run.LogMetrics(ctx, map[string]float64{"rmse": 0.25}))

	content, err := os.ReadFile(filepath.Join(store.Root(), "1", run.ID(), "metrics", "rmse"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 2)
	for i, want := range []string{"0.5", "0.25"} {
		fields := strings.Fields(lines[i])
		require.Len(t, fields, 3)
		assert.Equal(t, want, fields[1])
		assert.Equal(t, "0", fields[2])
	}
}

func TestFileStoreListRuns(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t)

	for _, exp := range []string{DefaultExperiment, "wine"} {
		run, err := store.StartRun(ctx, exp, "")
		require.NoError(t, err)
		require.NoError(t, run.End(ctx, RunStatusFailed))
	}
	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, run := range runs {
		assert.Equal(t, RunStatusFailed, run.Info.Status)
		assert.True(t, strings.HasPrefix(run.Info.RunName, "eval-"))
	}

	_, err = store.GetRun(ctx, "missing")
	assert.True(t, errors.IsErrCode(err, errors.ErrCodeResourceDoesNotExist))
}

func TestFileStoreRegisterModel(t *testing.T) {
	store := newTestFileStore(t)
	_, err := store.RegisterModel(context.Background(), "ElasticnetModel", "file:///tmp/model", "run")
	assert.True(t, errors.IsErrCode(err, errors.ErrCodeUnsupported))
}
