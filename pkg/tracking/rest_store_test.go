package tracking

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"kubegems.io/modeleval/pkg/errors"
	"kubegems.io/modeleval/pkg/tracking/trackingtest"
)

func newTestRestStore(t *testing.T, server *trackingtest.Server) *RestStore {
	t.Helper()
	opts := NewDefaultOptions()
	opts.URI = server.URL
	opts.RegistrationPollInterval = 10 * time.Millisecond
	opts.RegistrationTimeout = time.Second
	store, err := NewRestStore(context.Background(), server.URL, opts)
	require.NoError(t, err)
	return store
}

func TestRestStoreRun(t *testing.T) {
	ctx := context.Background()
	server := trackingtest.NewServer()
	defer server.Close()
	store := newTestRestStore(t, server)

	require.NoError(t, store.Ping(ctx))

	run, err := store.StartRun(ctx, "wine", "evaluation")
	require.NoError(t, err)
	assert.Equal(t, "mlflow-artifacts:/1/"+run.ID()+"/artifacts", run.ArtifactURI())

	require.NoError(t, run.LogParams(ctx, map[string]string{"alpha": "0.2", "l1_ratio": "0.1"}))
	err = run.LogParams(ctx, map[string]string{"alpha": "0.7"})
	assert.True(t, errors.IsErrCode(err, errors.ErrCodeInvalidParameterValue), "got %v", err)
	require.NoError(t, run.LogMetrics(ctx, map[string]float64{"rmse": 0.5, "mae": 0.25, "r2": 0.9}))

	artifact := testModelArtifact(t)
	uri, err := run.LogModel(ctx, artifact)
	require.NoError(t, err)
	assert.Equal(t, run.ArtifactURI()+"/model", uri)

	for _, name := range []string{MLmodelFileName, InputExampleFileName, "elasticnet.json"} {
		_, ok := server.Artifact("1/" + run.ID() + "/artifacts/model/" + name)
		assert.True(t, ok, "artifact %s not uploaded", name)
	}
	require.NoError(t, run.End(ctx, RunStatusFinished))

	data, err := store.GetRun(ctx, run.ID())
	require.NoError(t, err)
	assert.Equal(t, RunStatusFinished, data.Info.Status)
	assert.Equal(t, map[string]string{"alpha": "0.2", "l1_ratio": "0.1"}, data.Params)
	assert.Equal(t, map[string]float64{"rmse": 0.5, "mae": 0.25, "r2": 0.9}, data.Metrics)
	assert.Equal(t, "evaluation", data.Tags[TagRunName])
	assert.Equal(t, artifact.Model.Digest.String(), data.Tags[TagModelDigest])

	history := []MLmodel{}
	require.NoError(t, json.Unmarshal([]byte(data.Tags[TagLogModelHistory]), &history))
	require.Len(t, history, 1)
	assert.Equal(t, run.ID(), history[0].RunID)
}

func TestRestStoreParamsBatching(t *testing.T) {
	ctx := context.Background()
	server := trackingtest.NewServer()
	defer server.Close()
	store := newTestRestStore(t, server)

	run, err := store.StartRun(ctx, DefaultExperiment, "")
	require.NoError(t, err)

	params := map[string]string{}
	for i := 0; i < 250; i++ {
		params["param_"+strconv.Itoa(i)] = "v"
	}
	require.NoError(t, run.LogParams(ctx, params))
	assert.Equal(t, 3, server.CountRequests("/runs/log-batch"))

	data, err := store.GetRun(ctx, run.ID())
	require.NoError(t, err)
	assert.Len(t, data.Params, 250)
}

func TestRestStoreRegisterModel(t *testing.T) {
	tests := []struct {
		name         string
		pendingPolls int
		fail         bool
		wantStatus   string
		wantErr      bool
	}{
		{name: "ready at once", wantStatus: ModelVersionReady},
		{name: "ready after polling", pendingPolls: 3, wantStatus: ModelVersionReady},
		{name: "still pending at timeout", pendingPolls: 1000, wantStatus: ModelVersionPending},
		{name: "registration failed", fail: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			server := trackingtest.NewServer()
			defer server.Close()
			server.SetRegistration(tt.pendingPolls, tt.fail)
			store := newTestRestStore(t, server)
			store.options.RegistrationTimeout = 200 * time.Millisecond

			mv, err := store.RegisterModel(ctx, "ElasticnetModel", "mlflow-artifacts:/0/run/artifacts/model", "run")
			if tt.wantErr {
				assert.True(t, errors.IsErrCode(err, errors.ErrCodeInvalidState), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "1", mv.Version)
			assert.Equal(t, tt.wantStatus, mv.Status)

			// a second registration reuses the registered model
			mv, err = store.RegisterModel(ctx, "ElasticnetModel", "mlflow-artifacts:/0/run/artifacts/model", "run")
			require.NoError(t, err)
			assert.Equal(t, "2", mv.Version)
			assert.Len(t, server.ModelVersions("ElasticnetModel"), 2)
		})
	}
}

func TestRestStoreErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unauthenticated", func(t *testing.T) {
		server := trackingtest.NewServer()
		defer server.Close()
		server.SetToken("secret")
		opts := &Options{Token: "wrong", Timeout: time.Second}
		store, err := NewRestStore(ctx, server.URL, opts)
		require.NoError(t, err)
		err = store.Ping(ctx)
		assert.True(t, errors.IsErrCode(err, errors.ErrCodeUnauthenticated), "got %v", err)
	})

	t.Run("server failure keeps status", func(t *testing.T) {
		server := trackingtest.NewServer()
		defer server.Close()
		store := newTestRestStore(t, server)
		run, err := store.StartRun(ctx, DefaultExperiment, "")
		require.NoError(t, err)

		server.FailOn("/runs/log-batch", http.StatusServiceUnavailable)
		err = run.LogMetrics(ctx, map[string]float64{"rmse": 1})
		info := errors.ErrorInfo{}
		require.ErrorAs(t, err, &info)
		assert.Equal(t, http.StatusServiceUnavailable, info.HttpStatus)
	})

	t.Run("missing host", func(t *testing.T) {
		_, err := NewRestStore(ctx, "http://", nil)
		assert.True(t, errors.IsErrCode(err, errors.ErrCodeInvalidParameterValue))
	})
}
