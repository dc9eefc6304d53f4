package tracking

import (
	"context"
	"io"
	"net/url"
	"strings"

	"kubegems.io/modeleval/pkg/errors"
)

type BlobContent struct {
	ContentType   string
	ContentLength int64
	Content       io.ReadCloser
}

func (s BlobContent) Close() error {
	if s.Content != nil {
		return s.Content.Close()
	}
	return nil
}

func (s BlobContent) Read(p []byte) (int, error) {
	return s.Content.Read(p)
}

// ArtifactRepository stores the artifacts of one run.
type ArtifactRepository interface {
	URI() string
	Put(ctx context.Context, path string, content BlobContent) error
	Exists(ctx context.Context, path string) (bool, error)
}

const (
	SchemeS3              = "s3"
	SchemeMLflowArtifacts = "mlflow-artifacts"
)

// NewArtifactRepository selects the repository for a run artifact uri as
// reported by the tracking store.
func NewArtifactRepository(ctx context.Context, uri string, opts *Options, api *apiClient) (ArtifactRepository, error) {
	switch scheme := SchemeOf(uri); scheme {
	case SchemeFile:
		return NewLocalArtifactRepository(uri)
	case SchemeS3:
		return NewS3ArtifactRepository(ctx, uri, opts.S3)
	case SchemeMLflowArtifacts, SchemeHTTP, SchemeHTTPS:
		if api == nil {
			return nil, errors.NewUnsupportedError("artifact uri " + uri + " requires a tracking server")
		}
		return NewHTTPArtifactRepository(uri, api)
	default:
		return nil, errors.NewUnsupportedError("artifact uri scheme: " + scheme)
	}
}

// LocalPath converts a file uri or a plain path into a filesystem path.
func LocalPath(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || !strings.EqualFold(u.Scheme, SchemeFile) {
		return uri
	}
	if u.Host != "" && u.Host != "localhost" {
		// file://relative/path
		return u.Host + u.Path
	}
	return u.Path
}

func joinURI(base string, elems ...string) string {
	out := strings.TrimSuffix(base, "/")
	for _, elem := range elems {
		elem = strings.Trim(elem, "/")
		if elem == "" {
			continue
		}
		out += "/" + elem
	}
	return out
}
