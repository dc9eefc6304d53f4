package tracking

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-logr/logr"
	"kubegems.io/modeleval/pkg/errors"
	"kubegems.io/modeleval/pkg/model"
)

const (
	SchemeFile  = "file"
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"

	DefaultTrackingURI  = "mlruns"
	DefaultArtifactPath = "model"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusScheduled RunStatus = "SCHEDULED"
	RunStatusFinished  RunStatus = "FINISHED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusKilled    RunStatus = "KILLED"
)

// Client is an initialized session with a tracking backend. It is created
// once by the caller and shared by everything logging to that backend.
type Client interface {
	// Scheme is the storage scheme of the tracking uri, "file" for local stores.
	Scheme() string
	TrackingURI() string
	StartRun(ctx context.Context, experiment string, runName string) (Run, error)
	// RegisterModel creates a new version of the registered model name from source.
	RegisterModel(ctx context.Context, name string, source string, runID string) (*ModelVersion, error)
}

// Run is an open tracking run. End must be called exactly once.
type Run interface {
	ID() string
	ArtifactURI() string
	LogParams(ctx context.Context, params map[string]string) error
	LogMetrics(ctx context.Context, metrics map[string]float64) error
	// LogModel stores the model under its artifact path and returns the artifact uri.
	LogModel(ctx context.Context, artifact ModelArtifact) (string, error)
	End(ctx context.Context, status RunStatus) error
}

// ModelArtifact is a model file plus the metadata logged next to it.
type ModelArtifact struct {
	ArtifactPath string
	Model        *model.Artifact
	Signature    model.Signature
	InputExample model.Example
}

// SchemeOf returns the storage scheme of a tracking uri. Plain paths are file stores.
func SchemeOf(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		return SchemeFile
	}
	// windows drive letters parse as a scheme
	if len(u.Scheme) == 1 {
		return SchemeFile
	}
	return strings.ToLower(u.Scheme)
}

// NewClient connects to the tracking backend addressed by the options and
// verifies it is reachable.
func NewClient(ctx context.Context, opts *Options) (Client, error) {
	uri := opts.TrackingURI()
	log := logr.FromContextOrDiscard(ctx).WithValues("uri", uri)

	switch scheme := SchemeOf(uri); scheme {
	case SchemeFile:
		store, err := NewFileStore(ctx, uri)
		if err != nil {
			return nil, err
		}
		if err := store.Ping(ctx); err != nil {
			return nil, fmt.Errorf("tracking store %s: %w", uri, err)
		}
		log.Info("using local tracking store", "root", store.Root())
		return store, nil
	case SchemeHTTP, SchemeHTTPS:
		store, err := NewRestStore(ctx, uri, opts)
		if err != nil {
			return nil, err
		}
		if err := store.Ping(ctx); err != nil {
			return nil, fmt.Errorf("tracking server %s: %w", uri, err)
		}
		log.Info("using remote tracking server")
		return store, nil
	default:
		return nil, errors.NewUnsupportedError("tracking uri scheme: " + scheme)
	}
}
