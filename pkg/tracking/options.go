package tracking

import (
	"os"
	"time"
)

const (
	EnvTrackingURI      = "MLFLOW_TRACKING_URI"
	EnvTrackingUsername = "MLFLOW_TRACKING_USERNAME"
	EnvTrackingPassword = "MLFLOW_TRACKING_PASSWORD"
	EnvTrackingToken    = "MLFLOW_TRACKING_TOKEN"
	EnvTrackingInsecure = "MLFLOW_TRACKING_INSECURE_TLS"
	EnvS3EndpointURL    = "MLFLOW_S3_ENDPOINT_URL"
)

const DagsHubHost = "https://dagshub.com"

type Options struct {
	URI      string
	Username string
	Password string
	Token    string
	// RepoOwner and RepoName identify a DagsHub repository whose tracking
	// server is used when URI is empty.
	RepoOwner string
	RepoName  string
	Insecure  bool

	Timeout                  time.Duration
	RegistrationTimeout      time.Duration
	RegistrationPollInterval time.Duration

	S3 *S3Options
}

type S3Options struct {
	URL       string `json:"url,omitempty"`
	Region    string `json:"region,omitempty"`
	AccessKey string `json:"accessKey,omitempty"`
	SecretKey string `json:"secretKey,omitempty"`
	PathStyle bool   `json:"pathStyle,omitempty"`
}

func NewDefaultOptions() *Options {
	return &Options{
		URI:                      os.Getenv(EnvTrackingURI),
		Username:                 os.Getenv(EnvTrackingUsername),
		Password:                 os.Getenv(EnvTrackingPassword),
		Token:                    os.Getenv(EnvTrackingToken),
		Insecure:                 os.Getenv(EnvTrackingInsecure) == "true",
		Timeout:                  2 * time.Minute,
		RegistrationTimeout:      5 * time.Minute,
		RegistrationPollInterval: time.Second,
		S3:                       NewDefaultS3Options(),
	}
}

func NewDefaultS3Options() *S3Options {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	return &S3Options{
		URL:       os.Getenv(EnvS3EndpointURL),
		Region:    region,
		AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		PathStyle: os.Getenv(EnvS3EndpointURL) != "",
	}
}

// TrackingURI resolves the uri to use, falling back to the DagsHub
// repository identity and then to a local store.
func (o *Options) TrackingURI() string {
	if o.URI != "" {
		return o.URI
	}
	if o.RepoOwner != "" && o.RepoName != "" {
		return DagsHubHost + "/" + o.RepoOwner + "/" + o.RepoName + ".mlflow"
	}
	return DefaultTrackingURI
}
