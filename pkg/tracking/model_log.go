package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
	"kubegems.io/modeleval/pkg/errors"
)

const (
	MLmodelFileName      = "MLmodel"
	InputExampleFileName = "input_example.json"
	FlavorName           = "modeleval"

	UploadConcurrency = 3
)

// MLmodel is the descriptor stored at the root of a logged model.
type MLmodel struct {
	ArtifactPath          string                    `json:"artifact_path" yaml:"artifact_path"`
	Flavors               map[string]map[string]any `json:"flavors" yaml:"flavors"`
	ModelSizeBytes        int64                     `json:"model_size_bytes" yaml:"model_size_bytes"`
	ModelUUID             string                    `json:"model_uuid" yaml:"model_uuid"`
	RunID                 string                    `json:"run_id" yaml:"run_id"`
	SavedInputExampleInfo map[string]string         `json:"saved_input_example_info" yaml:"saved_input_example_info"`
	Signature             map[string]string         `json:"signature" yaml:"signature"`
	UTCTimeCreated        string                    `json:"utc_time_created" yaml:"utc_time_created"`
}

type artifactFile struct {
	Name        string
	ContentType string
	Content     []byte
	// LocalPath is read lazily instead of Content when set.
	LocalPath string
}

func (f artifactFile) blob() (BlobContent, error) {
	if f.LocalPath == "" {
		return BlobContent{
			ContentType:   f.ContentType,
			ContentLength: int64(len(f.Content)),
			Content:       io.NopCloser(bytes.NewReader(f.Content)),
		}, nil
	}
	fi, err := os.Stat(f.LocalPath)
	if err != nil {
		return BlobContent{}, err
	}
	file, err := os.Open(f.LocalPath)
	if err != nil {
		return BlobContent{}, err
	}
	return BlobContent{ContentType: f.ContentType, ContentLength: fi.Size(), Content: file}, nil
}

func buildModelFiles(artifact ModelArtifact, runID string, now time.Time) (*MLmodel, []artifactFile, error) {
	if artifact.Model == nil {
		return nil, nil, fmt.Errorf("no model to log")
	}
	modelfile := filepath.Base(artifact.Model.Path)
	if modelfile == MLmodelFileName || modelfile == InputExampleFileName {
		return nil, nil, errors.NewParameterInvalidError(fmt.Sprintf("model file name %q is reserved", modelfile))
	}

	signature, err := artifact.Signature.Fields()
	if err != nil {
		return nil, nil, err
	}
	example, err := json.Marshal(artifact.InputExample)
	if err != nil {
		return nil, nil, err
	}

	flavor := map[string]any{
		"model_type": artifact.Model.Model.Flavor(),
		"model_file": modelfile,
		"digest":     artifact.Model.Digest.String(),
	}
	if features := artifact.Model.Model.FeatureNames(); len(features) != 0 {
		flavor["features"] = features
	}
	mlmodel := &MLmodel{
		ArtifactPath:   artifact.ArtifactPath,
		Flavors:        map[string]map[string]any{FlavorName: flavor},
		ModelSizeBytes: artifact.Model.Size,
		ModelUUID:      strings.ReplaceAll(uuid.NewString(), "-", ""),
		RunID:          runID,
		SavedInputExampleInfo: map[string]string{
			"artifact_path": InputExampleFileName,
			"type":          "dataframe",
			"pandas_orient": "split",
		},
		Signature:      signature,
		UTCTimeCreated: now.UTC().Format("2006-01-02 15:04:05.000000"),
	}
	mlmodelcontent, err := yaml.Marshal(mlmodel)
	if err != nil {
		return nil, nil, err
	}

	files := []artifactFile{
		{Name: MLmodelFileName, ContentType: "text/yaml", Content: mlmodelcontent},
		{Name: InputExampleFileName, ContentType: "application/json", Content: example},
		{Name: modelfile, ContentType: "application/octet-stream", LocalPath: artifact.Model.Path},
	}
	return mlmodel, files, nil
}

// uploadFiles puts every file under prefix, a few at a time. A model already
// logged under prefix is never overwritten.
func uploadFiles(ctx context.Context, repo ArtifactRepository, prefix string, files []artifactFile) error {
	log := logr.FromContextOrDiscard(ctx).WithValues("artifacts", repo.URI())

	descriptor := path.Join(prefix, MLmodelFileName)
	exists, err := repo.Exists(ctx, descriptor)
	if err != nil {
		return fmt.Errorf("check artifact %s: %w", descriptor, err)
	}
	if exists {
		return errors.NewResourceExistsError("model", joinURI(repo.URI(), prefix))
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(UploadConcurrency)
	for i := range files {
		file := files[i]
		eg.Go(func() error {
			blob, err := file.blob()
			if err != nil {
				return err
			}
			name := path.Join(prefix, file.Name)
			if err := repo.Put(ctx, name, blob); err != nil {
				return fmt.Errorf("upload artifact %s: %w", name, err)
			}
			log.V(1).Info("artifact logged", "path", name, "size", blob.ContentLength)
			return nil
		})
	}
	return eg.Wait()
}

func modelHistory(existing string, mlmodel *MLmodel) (string, error) {
	history := []*MLmodel{}
	if existing != "" {
		if err := json.Unmarshal([]byte(existing), &history); err != nil {
			return "", err
		}
	}
	history = append(history, mlmodel)
	raw, err := json.Marshal(history)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
