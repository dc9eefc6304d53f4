package tracking

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go/transport/http"
	"github.com/go-logr/logr"
	"k8s.io/utils/pointer"
	modelevalerrors "kubegems.io/modeleval/pkg/errors"
)

var _ ArtifactRepository = &S3ArtifactRepository{}

// S3ArtifactRepository stores artifacts under s3://<bucket>/<prefix>.
type S3ArtifactRepository struct {
	uri    string
	Bucket string
	Prefix string
	Client *s3.Client
}

func NewS3ArtifactRepository(ctx context.Context, uri string, options *S3Options) (*S3ArtifactRepository, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid s3 uri %s: missing bucket", uri)
	}
	if options == nil {
		options = NewDefaultS3Options()
	}

	loadoptions := []func(*config.LoadOptions) error{
		config.WithRegion(options.Region),
	}
	if options.AccessKey != "" {
		loadoptions = append(loadoptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(options.AccessKey, options.SecretKey, ""),
		))
	}
	if options.URL != "" {
		loadoptions = append(loadoptions, config.WithEndpointResolverWithOptions(
			aws.EndpointResolverWithOptionsFunc(
				func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{URL: options.URL, HostnameImmutable: options.PathStyle}, nil
				},
			),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadoptions...)
	if err != nil {
		return nil, err
	}
	s3cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = options.PathStyle
	})
	return &S3ArtifactRepository{
		uri:    uri,
		Bucket: u.Host,
		Prefix: strings.Trim(u.Path, "/"),
		Client: s3cli,
	}, nil
}

func (m *S3ArtifactRepository) URI() string {
	return m.uri
}

func (m *S3ArtifactRepository) Put(ctx context.Context, path string, content BlobContent) error {
	defer content.Close()

	uploadobj := &s3.PutObjectInput{
		Bucket:        aws.String(m.Bucket),
		Key:           m.prefixedKey(path),
		Body:          content.Content,
		ContentLength: content.ContentLength,
		ContentType:   aws.String(content.ContentType),
	}
	out, err := manager.NewUploader(m.Client).Upload(ctx, uploadobj)
	if err != nil {
		return toErrorInfo(err)
	}
	logr.FromContextOrDiscard(ctx).V(1).Info("artifact uploaded",
		"location", out.Location, "version", pointer.StringDeref(out.VersionID, ""))
	return nil
}

func (m *S3ArtifactRepository) Exists(ctx context.Context, path string) (bool, error) {
	_, err := m.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.Bucket),
		Key:    m.prefixedKey(path),
	})
	if err != nil {
		if IsS3NotFound(err) {
			return false, nil
		}
		return false, toErrorInfo(err)
	}
	return true, nil
}

func (m *S3ArtifactRepository) prefixedKey(key string) *string {
	return aws.String(path.Join(m.Prefix, key))
}

func IsS3NotFound(err error) bool {
	var apie *http.ResponseError
	if errors.As(err, &apie) {
		return apie.HTTPStatusCode() == 404
	}
	return false
}

// toErrorInfo keeps the http status of s3 failures so callers can tell
// permission problems from transient ones.
func toErrorInfo(err error) error {
	var apie *http.ResponseError
	if errors.As(err, &apie) {
		status := apie.HTTPStatusCode()
		return modelevalerrors.ErrorInfo{
			HttpStatus: status,
			Code:       modelevalerrors.CodeFromStatus(status),
			Message:    err.Error(),
		}
	}
	return err
}
