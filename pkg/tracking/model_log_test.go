package tracking

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"kubegems.io/modeleval/pkg/errors"
	"kubegems.io/modeleval/pkg/model"
	"kubegems.io/modeleval/pkg/tracking/trackingtest"
)

func TestBuildModelFiles(t *testing.T) {
	base := testModelArtifact(t)

	tests := []struct {
		name      string
		modelfile string
		wantErr   bool
	}{
		{name: "model file", modelfile: "elasticnet.json"},
		{name: "named like the descriptor", modelfile: MLmodelFileName, wantErr: true},
		{name: "named like the input example", modelfile: InputExampleFileName, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			artifact := base
			loaded := *base.Model
			loaded.Path = filepath.Join("testdata", tt.modelfile)
			artifact.Model = &loaded

			mlmodel, files, err := buildModelFiles(artifact, "0123", time.Now())
			if tt.wantErr {
				assert.True(t, errors.IsErrCode(err, errors.ErrCodeInvalidParameterValue), "got %v", err)
				return
			}
			require.NoError(t, err)

			names := []string{}
			for _, f := range files {
				names = append(names, f.Name)
			}
			assert.Equal(t, []string{MLmodelFileName, InputExampleFileName, tt.modelfile}, names)

			flavor := mlmodel.Flavors[FlavorName]
			assert.Equal(t, model.FlavorElasticNet, flavor["model_type"])
			assert.Equal(t, tt.modelfile, flavor["model_file"])
			assert.Equal(t, []string{"fixed acidity", "volatile acidity", "alcohol"}, flavor["features"])
		})
	}
}

func TestUploadFilesKeepsExistingModel(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo, err := NewLocalArtifactRepository(fileURI(dir))
	require.NoError(t, err)

	files := []artifactFile{
		{Name: MLmodelFileName, ContentType: "text/yaml", Content: []byte("run_id: first\n")},
		{Name: InputExampleFileName, ContentType: "application/json", Content: []byte("{}")},
	}
	require.NoError(t, uploadFiles(ctx, repo, "model", files))

	tests := []struct {
		name    string
		prefix  string
		wantErr bool
	}{
		{name: "same prefix", prefix: "model", wantErr: true},
		{name: "other prefix", prefix: "model-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			second := []artifactFile{{Name: MLmodelFileName, ContentType: "text/yaml", Content: []byte("run_id: second\n")}}
			err := uploadFiles(ctx, repo, tt.prefix, second)
			if tt.wantErr {
				assert.True(t, errors.IsErrCode(err, errors.ErrCodeResourceAlreadyExists), "got %v", err)
			} else {
				require.NoError(t, err)
			}
		})
	}

	content, err := os.ReadFile(filepath.Join(dir, "model", MLmodelFileName))
	require.NoError(t, err)
	assert.Equal(t, "run_id: first\n", string(content))
}

func TestLogModelTwice(t *testing.T) {
	server := trackingtest.NewServer()
	defer server.Close()

	tests := []struct {
		name  string
		store func(t *testing.T) Client
	}{
		{name: "file", store: func(t *testing.T) Client { return newTestFileStore(t) }},
		{name: "rest", store: func(t *testing.T) Client { return newTestRestStore(t, server) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			run, err := tt.store(t).StartRun(ctx, DefaultExperiment, "")
			require.NoError(t, err)

			artifact := testModelArtifact(t)
			_, err = run.LogModel(ctx, artifact)
			require.NoError(t, err)

			_, err = run.LogModel(ctx, artifact)
			assert.True(t, errors.IsErrCode(err, errors.ErrCodeResourceAlreadyExists), "got %v", err)

			artifact.ArtifactPath = "model-retrained"
			_, err = run.LogModel(ctx, artifact)
			require.NoError(t, err)
		})
	}
}
