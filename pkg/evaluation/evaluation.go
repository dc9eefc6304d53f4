package evaluation

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"kubegems.io/modeleval/pkg/config"
	"kubegems.io/modeleval/pkg/dataset"
	"kubegems.io/modeleval/pkg/errors"
	"kubegems.io/modeleval/pkg/metrics"
	"kubegems.io/modeleval/pkg/model"
	"kubegems.io/modeleval/pkg/tracking"
)

// ExampleRows is the number of feature rows logged as the model input example.
const ExampleRows = 1

// Result is what a successful evaluation produced.
type Result struct {
	Metrics  metrics.Result
	RunID    string
	ModelURI string
	// ModelVersion is nil when the tracking store has no model registry.
	ModelVersion *tracking.ModelVersion
}

// Evaluator scores a trained model against a held out test set and logs the
// outcome to a tracking backend.
type Evaluator struct {
	Config  *config.EvaluationConfig
	Tracker tracking.Client
}

// NewEvaluator takes an already initialized tracking client.
func NewEvaluator(cfg *config.EvaluationConfig, tracker tracking.Client) (*Evaluator, error) {
	if cfg == nil {
		return nil, errors.NewConfigInvalidError("no evaluation config")
	}
	cfg.Default()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tracker == nil {
		return nil, errors.NewTrackingInitError(fmt.Errorf("no tracking client"))
	}
	return &Evaluator{Config: cfg, Tracker: tracker}, nil
}

// ComputeMetrics returns rmse, mae and r2 of predicted against actual.
func ComputeMetrics(actual, predicted []float64) (metrics.Result, error) {
	return metrics.Compute(actual, predicted)
}

// Run performs one evaluation. Inputs are loaded and checked before the
// tracking backend is contacted. Once a run is started it is always ended,
// FAILED when Run returns an error.
func (e *Evaluator) Run(ctx context.Context) (*Result, error) {
	cfg := e.Config
	log := logr.FromContextOrDiscard(ctx).WithValues("model", cfg.ModelPath, "data", cfg.TestDataPath)

	data, err := dataset.LoadCSV(ctx, cfg.TestDataPath)
	if err != nil {
		return nil, errors.NewDataAccessError(err)
	}
	artifact, err := model.Load(ctx, cfg.ModelPath)
	if err != nil {
		return nil, errors.NewDataAccessError(err)
	}
	features, target, err := dataset.Split(data, cfg.TargetColumn)
	if err != nil {
		return nil, errors.NewSchemaError(err)
	}

	scheme := tracking.SchemeOf(e.Tracker.TrackingURI())
	log = log.WithValues("tracking", e.Tracker.TrackingURI(), "scheme", scheme)

	run, err := e.Tracker.StartRun(ctx, cfg.ExperimentName, cfg.RunName)
	if err != nil {
		return nil, errors.NewTrackingInitError(err)
	}
	log = log.WithValues("run", run.ID())
	ctx = logr.NewContext(ctx, log)

	result, err := e.evaluate(ctx, run, scheme, artifact, features, target)

	status := tracking.RunStatusFinished
	if err != nil {
		status = tracking.RunStatusFailed
	}
	// the run is closed even when ctx is already cancelled
	if enderr := run.End(context.WithoutCancel(ctx), status); enderr != nil {
		if err == nil {
			return nil, errors.NewTrackingLogError(enderr)
		}
		log.Error(enderr, "end run")
	}
	if err != nil {
		log.Error(err, "evaluation failed")
		return nil, err
	}
	log.Info("evaluation finished", "rmse", result.Metrics.RMSE, "mae", result.Metrics.MAE, "r2", result.Metrics.R2)
	return result, nil
}

func (e *Evaluator) evaluate(ctx context.Context, run tracking.Run, scheme string,
	artifact *model.Artifact, features *dataset.Frame, target []float64,
) (*Result, error) {
	cfg := e.Config
	log := logr.FromContextOrDiscard(ctx)

	predictions, err := artifact.Model.Predict(ctx, features)
	if err != nil {
		return nil, errors.NewSchemaError(err)
	}
	scores, err := ComputeMetrics(target, predictions)
	if err != nil {
		return nil, errors.NewSchemaError(err)
	}
	if err := metrics.Save(cfg.MetricFileName, scores); err != nil {
		return nil, errors.NewDataAccessError(fmt.Errorf("save metrics: %w", err))
	}
	log.V(1).Info("metrics saved", "path", cfg.MetricFileName)

	if err := run.LogParams(ctx, tracking.StringifyParams(cfg.AllParams)); err != nil {
		return nil, errors.NewTrackingLogError(fmt.Errorf("log params: %w", err))
	}
	if err := run.LogMetrics(ctx, scores.Map()); err != nil {
		return nil, errors.NewTrackingLogError(fmt.Errorf("log metrics: %w", err))
	}

	signature, err := model.InferSignature(features, predictions)
	if err != nil {
		return nil, errors.NewSchemaError(err)
	}
	modeluri, err := run.LogModel(ctx, tracking.ModelArtifact{
		ArtifactPath: tracking.DefaultArtifactPath,
		Model:        artifact,
		Signature:    signature,
		InputExample: model.NewExample(features, ExampleRows),
	})
	if err != nil {
		return nil, errors.NewTrackingLogError(fmt.Errorf("log model: %w", err))
	}

	result := &Result{Metrics: scores, RunID: run.ID(), ModelURI: modeluri}
	if scheme == tracking.SchemeFile {
		log.V(1).Info("file store, skip model registration")
		return result, nil
	}
	version, err := e.Tracker.RegisterModel(ctx, cfg.RegisteredModelName, modeluri, run.ID())
	if err != nil {
		return nil, errors.NewTrackingLogError(fmt.Errorf("register model %s: %w", cfg.RegisteredModelName, err))
	}
	log.Info("model registered", "name", version.Name, "version", version.Version, "status", version.Status)
	result.ModelVersion = version
	return result, nil
}
