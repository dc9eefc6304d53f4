package model

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/opencontainers/go-digest"
	"kubegems.io/modeleval/pkg/dataset"
	"sigs.k8s.io/yaml"
)

var (
	ErrUnknownFlavor   = errors.New("unknown model flavor")
	ErrFeatureMismatch = errors.New("features do not match model")
)

// Model is a trained predictor.
type Model interface {
	Flavor() string
	FeatureNames() []string
	Predict(ctx context.Context, features *dataset.Frame) ([]float64, error)
}

// Loader decodes a serialized model of one flavor.
type Loader func(content []byte) (Model, error)

var GlobalLoaders = map[string]Loader{}

// Artifact is a model loaded from a file together with the file identity.
type Artifact struct {
	Path   string
	Digest digest.Digest
	Size   int64
	Model  Model
}

type header struct {
	Flavor string `json:"flavor"`
}

// Load reads the model file at path. The file is a json or yaml document
// whose "flavor" field selects the loader.
func Load(ctx context.Context, path string) (*Artifact, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var h header
	if err := yaml.Unmarshal(content, &h); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", path, err)
	}
	loader, ok := GlobalLoaders[h.Flavor]
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrUnknownFlavor, h.Flavor, path)
	}
	m, err := loader(content)
	if err != nil {
		return nil, fmt.Errorf("decode %s model %s: %w", h.Flavor, path, err)
	}
	artifact := &Artifact{
		Path:   path,
		Digest: digest.FromBytes(content),
		Size:   int64(len(content)),
		Model:  m,
	}
	logr.FromContextOrDiscard(ctx).V(1).Info("model loaded",
		"path", path, "flavor", h.Flavor, "digest", artifact.Digest.String())
	return artifact, nil
}
