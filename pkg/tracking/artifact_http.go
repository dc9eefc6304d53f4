package tracking

import (
	"context"
	"net/http"
	"net/url"

	"kubegems.io/modeleval/pkg/errors"
)

const artifactsAPIPrefix = "/api/2.0/mlflow-artifacts/artifacts"

var _ ArtifactRepository = &HTTPArtifactRepository{}

// HTTPArtifactRepository uploads artifacts through the tracking server
// artifact proxy, or to a plain http location.
type HTTPArtifactRepository struct {
	uri  string
	base string
	api  *apiClient
}

func NewHTTPArtifactRepository(uri string, api *apiClient) (*HTTPArtifactRepository, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	repo := &HTTPArtifactRepository{uri: uri, api: api}
	if u.Scheme == SchemeMLflowArtifacts {
		// mlflow-artifacts:/<experiment>/<run>/artifacts
		repo.base = joinURI(api.Addr+artifactsAPIPrefix, u.Path)
	} else {
		repo.base = uri
	}
	return repo, nil
}

func (h *HTTPArtifactRepository) URI() string {
	return h.uri
}

func (h *HTTPArtifactRepository) Put(ctx context.Context, path string, content BlobContent) error {
	defer content.Close()

	contentType := content.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := map[string]string{"Content-Type": contentType}
	return h.api.request(ctx, http.MethodPut, joinURI(h.base, path), header, content, nil)
}

func (h *HTTPArtifactRepository) Exists(ctx context.Context, path string) (bool, error) {
	err := h.api.request(ctx, http.MethodHead, joinURI(h.base, path), nil, nil, nil)
	if err == nil {
		return true, nil
	}
	if errors.IsErrCode(err, errors.ErrCodeResourceDoesNotExist) {
		return false, nil
	}
	return false, err
}
