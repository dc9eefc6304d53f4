package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"k8s.io/apimachinery/pkg/util/wait"
	"kubegems.io/modeleval/pkg/errors"
)

const (
	apiPrefix = "/api/2.0/mlflow"

	// log-batch request limits of the tracking server
	MaxParamsPerBatch  = 100
	MaxMetricsPerBatch = 1000
)

var _ Client = &RestStore{}

// RestStore talks to a tracking server over its REST api.
type RestStore struct {
	uri     string
	options *Options
	api     *apiClient
}

func NewRestStore(ctx context.Context, uri string, opts *Options) (*RestStore, error) {
	if opts == nil {
		opts = NewDefaultOptions()
	}
	if opts.RegistrationPollInterval <= 0 {
		opts.RegistrationPollInterval = time.Second
	}
	if opts.RegistrationTimeout <= 0 {
		opts.RegistrationTimeout = 5 * time.Minute
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, errors.NewParameterInvalidError("invalid tracking uri " + uri + ": missing host")
	}
	return &RestStore{uri: uri, options: opts, api: newAPIClient(uri, opts)}, nil
}

func (s *RestStore) Scheme() string {
	return SchemeOf(s.uri)
}

func (s *RestStore) TrackingURI() string {
	return s.uri
}

// Ping checks the server answers and accepts our credentials.
func (s *RestStore) Ping(ctx context.Context) error {
	body := map[string]any{"max_results": 1}
	return s.api.post(ctx, apiPrefix+"/experiments/search", body, nil)
}

func (s *RestStore) GetExperimentByName(ctx context.Context, name string) (*Experiment, error) {
	resp := struct {
		Experiment Experiment `json:"experiment"`
	}{}
	query := url.Values{"experiment_name": []string{name}}
	if err := s.api.get(ctx, apiPrefix+"/experiments/get-by-name", query, &resp); err != nil {
		return nil, err
	}
	return &resp.Experiment, nil
}

func (s *RestStore) GetOrCreateExperiment(ctx context.Context, name string) (*Experiment, error) {
	exp, err := s.GetExperimentByName(ctx, name)
	if err == nil {
		return exp, nil
	}
	if !errors.IsErrCode(err, errors.ErrCodeResourceDoesNotExist) {
		return nil, err
	}
	resp := struct {
		ExperimentID string `json:"experiment_id"`
	}{}
	if err := s.api.post(ctx, apiPrefix+"/experiments/create", map[string]any{"name": name}, &resp); err != nil {
		// created concurrently by someone else
		if errors.IsErrCode(err, errors.ErrCodeResourceAlreadyExists) {
			return s.GetExperimentByName(ctx, name)
		}
		return nil, err
	}
	logr.FromContextOrDiscard(ctx).Info("experiment created", "name", name, "id", resp.ExperimentID)
	return &Experiment{ExperimentID: resp.ExperimentID, Name: name, LifecycleStage: LifecycleActive}, nil
}

type restRunResponse struct {
	Run struct {
		Info RunInfo `json:"info"`
		Data struct {
			Params  []KeyValue `json:"params"`
			Metrics []Metric   `json:"metrics"`
			Tags    []KeyValue `json:"tags"`
		} `json:"data"`
	} `json:"run"`
}

func (r restRunResponse) runData() *RunData {
	data := &RunData{
		Info:    r.Run.Info,
		Params:  map[string]string{},
		Metrics: map[string]float64{},
		Tags:    map[string]string{},
	}
	for _, kv := range r.Run.Data.Params {
		data.Params[kv.Key] = kv.Value
	}
	for _, m := range r.Run.Data.Metrics {
		data.Metrics[m.Key] = m.Value
	}
	for _, kv := range r.Run.Data.Tags {
		data.Tags[kv.Key] = kv.Value
	}
	return data
}

func (s *RestStore) StartRun(ctx context.Context, experiment string, runName string) (Run, error) {
	exp, err := s.GetOrCreateExperiment(ctx, experiment)
	if err != nil {
		return nil, err
	}
	tags := []KeyValue{
		{Key: TagUser, Value: currentUser()},
		{Key: TagSourceName, Value: sourceName()},
		{Key: TagSourceType, Value: "LOCAL"},
	}
	body := map[string]any{
		"experiment_id": exp.ExperimentID,
		"start_time":    time.Now().UnixMilli(),
		"user_id":       currentUser(),
		"tags":          tags,
	}
	if runName != "" {
		body["run_name"] = runName
		body["tags"] = append(tags, KeyValue{Key: TagRunName, Value: runName})
	}
	resp := restRunResponse{}
	if err := s.api.post(ctx, apiPrefix+"/runs/create", body, &resp); err != nil {
		return nil, err
	}
	info := resp.Run.Info
	run := &restRun{store: s, info: info}

	artifacts, err := NewArtifactRepository(ctx, info.ArtifactURI, s.options, s.api)
	if err != nil {
		// the run exists on the server, do not leave it dangling
		_ = run.End(ctx, RunStatusFailed)
		return nil, fmt.Errorf("artifact store of run %s: %w", info.RunID, err)
	}
	run.artifacts = artifacts
	logr.FromContextOrDiscard(ctx).Info("run started", "experiment", exp.Name, "run", info.RunID, "artifacts", info.ArtifactURI)
	return run, nil
}

func (s *RestStore) GetRun(ctx context.Context, runID string) (*RunData, error) {
	resp := restRunResponse{}
	if err := s.api.get(ctx, apiPrefix+"/runs/get", url.Values{"run_id": []string{runID}}, &resp); err != nil {
		return nil, err
	}
	return resp.runData(), nil
}

// RegisterModel creates the registered model if needed, adds a version for
// source and waits until the server has finished registering it. A version
// still pending after the registration timeout is returned as is.
func (s *RestStore) RegisterModel(ctx context.Context, name string, source string, runID string) (*ModelVersion, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("model", name)

	if err := s.api.post(ctx, apiPrefix+"/registered-models/create", map[string]any{"name": name}, nil); err != nil {
		if !errors.IsErrCode(err, errors.ErrCodeResourceAlreadyExists) {
			return nil, err
		}
		log.V(1).Info("registered model exists")
	} else {
		log.Info("registered model created")
	}

	resp := struct {
		ModelVersion ModelVersion `json:"model_version"`
	}{}
	body := map[string]any{"name": name, "source": source, "run_id": runID}
	if err := s.api.post(ctx, apiPrefix+"/model-versions/create", body, &resp); err != nil {
		return nil, err
	}
	version := resp.ModelVersion
	log = log.WithValues("version", version.Version)

	err := wait.PollImmediateWithContext(ctx, s.options.RegistrationPollInterval, s.options.RegistrationTimeout,
		func(ctx context.Context) (bool, error) {
			switch version.Status {
			case ModelVersionReady, "":
				return true, nil
			case ModelVersionFailed:
				return false, errors.NewInvalidStateError(fmt.Sprintf("registration of model %s version %s failed", name, version.Version))
			}
			query := url.Values{"name": []string{name}, "version": []string{version.Version}}
			if err := s.api.get(ctx, apiPrefix+"/model-versions/get", query, &resp); err != nil {
				return false, err
			}
			version = resp.ModelVersion
			return version.Status == ModelVersionReady, nil
		})
	if err != nil {
		if err == wait.ErrWaitTimeout {
			log.Info("model version still pending registration", "timeout", s.options.RegistrationTimeout)
			return &version, nil
		}
		return nil, err
	}
	log.Info("model version registered")
	return &version, nil
}

var _ Run = &restRun{}

type restRun struct {
	store     *RestStore
	info      RunInfo
	artifacts ArtifactRepository

	mu    sync.Mutex
	ended bool
}

func (r *restRun) ID() string {
	return r.info.RunID
}

func (r *restRun) ArtifactURI() string {
	return r.info.ArtifactURI
}

func (r *restRun) LogParams(ctx context.Context, params map[string]string) error {
	if err := validateParams(params); err != nil {
		return err
	}
	keys := maps.Keys(params)
	slices.Sort(keys)

	for start := 0; start < len(keys); start += MaxParamsPerBatch {
		end := start + MaxParamsPerBatch
		if end > len(keys) {
			end = len(keys)
		}
		batch := make([]KeyValue, 0, end-start)
		for _, k := range keys[start:end] {
			batch = append(batch, KeyValue{Key: k, Value: params[k]})
		}
		if err := r.logBatch(ctx, batch, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func (r *restRun) LogMetrics(ctx context.Context, metrics map[string]float64) error {
	if err := validateMetrics(metrics); err != nil {
		return err
	}
	keys := maps.Keys(metrics)
	slices.Sort(keys)

	now := time.Now().UnixMilli()
	for start := 0; start < len(keys); start += MaxMetricsPerBatch {
		end := start + MaxMetricsPerBatch
		if end > len(keys) {
			end = len(keys)
		}
		batch := make([]Metric, 0, end-start)
		for _, k := range keys[start:end] {
			batch = append(batch, Metric{Key: k, Value: metrics[k], Timestamp: now})
		}
		if err := r.logBatch(ctx, nil, batch, nil); err != nil {
			return err
		}
	}
	return nil
}

func (r *restRun) LogModel(ctx context.Context, artifact ModelArtifact) (string, error) {
	if artifact.ArtifactPath == "" {
		artifact.ArtifactPath = DefaultArtifactPath
	}
	mlmodel, files, err := buildModelFiles(artifact, r.info.RunID, time.Now())
	if err != nil {
		return "", err
	}
	if err := uploadFiles(ctx, r.artifacts, artifact.ArtifactPath, files); err != nil {
		return "", err
	}
	modeljson, err := json.Marshal(mlmodel)
	if err != nil {
		return "", err
	}
	// the server appends model_json to the run's model history
	body := map[string]any{
		"run_id":     r.info.RunID,
		"model_json": string(modeljson),
	}
	if err := r.store.api.post(ctx, apiPrefix+"/runs/log-model", body, nil); err != nil {
		return "", err
	}
	tags := []KeyValue{{Key: TagModelDigest, Value: artifact.Model.Digest.String()}}
	if err := r.logBatch(ctx, nil, nil, tags); err != nil {
		return "", err
	}
	return joinURI(r.info.ArtifactURI, artifact.ArtifactPath), nil
}

func (r *restRun) End(ctx context.Context, status RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return errors.NewInvalidStateError("run " + r.info.RunID + " already ended")
	}
	body := map[string]any{
		"run_id":   r.info.RunID,
		"status":   status,
		"end_time": time.Now().UnixMilli(),
	}
	if err := r.store.api.post(ctx, apiPrefix+"/runs/update", body, nil); err != nil {
		return err
	}
	r.ended = true
	logr.FromContextOrDiscard(ctx).Info("run ended", "run", r.info.RunID, "status", status)
	return nil
}

func (r *restRun) logBatch(ctx context.Context, params []KeyValue, metrics []Metric, tags []KeyValue) error {
	body := map[string]any{
		"run_id":  r.info.RunID,
		"params":  nonNil(params),
		"metrics": nonNil(metrics),
		"tags":    nonNil(tags),
	}
	return r.store.api.post(ctx, apiPrefix+"/runs/log-batch", body, nil)
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
