package commands

import (
	"context"
	"os"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"kubegems.io/modeleval/pkg/config"
	"kubegems.io/modeleval/pkg/errors"
	"kubegems.io/modeleval/pkg/evaluation"
	"kubegems.io/modeleval/pkg/metrics"
	"kubegems.io/modeleval/pkg/tracking"
)

type EvaluateOptions struct {
	Config   *config.Options
	Tracking *tracking.Options

	Experiment          string
	RunName             string
	RegisteredModelName string
}

func NewEvaluateOptions() *EvaluateOptions {
	return &EvaluateOptions{
		Config:   config.NewDefaultOptions(),
		Tracking: tracking.NewDefaultOptions(),
	}
}

func NewEvaluateCmd() *cobra.Command {
	options := NewEvaluateOptions()
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "evaluate a trained model on the test set",
		Example: `
  # evaluate with config/config.yaml, params.yaml and schema.yaml
  modeleval evaluate

  # log to a tracking server
  modeleval evaluate --tracking-uri http://localhost:5000

  # log to the tracking server of a DagsHub repository
  modeleval evaluate --repo-owner owner --repo-name wine-quality
		`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := BaseContext()
			defer cancel()

			result, err := Evaluate(ctx, options)
			if err != nil {
				return err
			}
			cmd.Printf("run: %s\nmodel: %s\n", result.RunID, result.ModelURI)
			if mv := result.ModelVersion; mv != nil {
				cmd.Printf("registered: %s version %s (%s)\n", mv.Name, mv.Version, mv.Status)
			}
			MetricsList(result.Metrics.Map()).Render(cmd.OutOrStdout())
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&options.Config.ConfigFile, "config", options.Config.ConfigFile, "pipeline config file")
	flags.StringVar(&options.Config.ParamsFile, "params", options.Config.ParamsFile, "model params file")
	flags.StringVar(&options.Config.SchemaFile, "schema", options.Config.SchemaFile, "dataset schema file")
	flags.StringVar(&options.Config.ParamsSection, "params-section", options.Config.ParamsSection, "section of the params file logged as run params, empty logs all")
	flags.StringVar(&options.Tracking.URI, "tracking-uri", "", "tracking uri, overrides mlflow_uri of the config")
	flags.StringVar(&options.Tracking.RepoOwner, "repo-owner", options.Tracking.RepoOwner, "DagsHub repository owner")
	flags.StringVar(&options.Tracking.RepoName, "repo-name", options.Tracking.RepoName, "DagsHub repository name")
	flags.DurationVar(&options.Tracking.RegistrationTimeout, "registration-timeout", options.Tracking.RegistrationTimeout, "max time to wait for a model version to be ready")
	flags.StringVar(&options.Experiment, "experiment", "", "experiment name")
	flags.StringVar(&options.RunName, "run-name", "", "run name")
	flags.StringVar(&options.RegisteredModelName, "registered-model-name", "", "registered model name")
	return cmd
}

// Evaluate loads the configuration, connects to the tracking backend and runs
// one evaluation.
func Evaluate(ctx context.Context, options *EvaluateOptions) (*evaluation.Result, error) {
	log := logr.FromContextOrDiscard(ctx)

	cfg, err := config.LoadEvaluationConfig(options.Config)
	if err != nil {
		return nil, err
	}
	if options.Experiment != "" {
		cfg.ExperimentName = options.Experiment
	}
	if options.RunName != "" {
		cfg.RunName = options.RunName
	}
	if options.RegisteredModelName != "" {
		cfg.RegisteredModelName = options.RegisteredModelName
	}

	// --tracking-uri, then the config, then the environment
	trackingopts := *options.Tracking
	switch {
	case trackingopts.URI != "":
	case cfg.TrackingURI != "":
		trackingopts.URI = cfg.TrackingURI
	default:
		trackingopts.URI = os.Getenv(tracking.EnvTrackingURI)
	}
	client, err := tracking.NewClient(ctx, &trackingopts)
	if err != nil {
		return nil, errors.NewTrackingInitError(err)
	}
	cfg.TrackingURI = client.TrackingURI()
	log.Info("tracking initialized", "uri", cfg.TrackingURI, "experiment", cfg.ExperimentName)

	evaluator, err := evaluation.NewEvaluator(cfg, client)
	if err != nil {
		return nil, err
	}
	return evaluator.Run(ctx)
}

func MetricsList(values map[string]float64) ShowList {
	show := ShowList{Header: []any{"Metric", "Value"}}
	for _, name := range []string{metrics.NameRMSE, metrics.NameMAE, metrics.NameR2} {
		if val, ok := values[name]; ok {
			show.Items = append(show.Items, []any{name, formatFloat(val)})
		}
	}
	return show
}

func formatFloat(val float64) string {
	return strconv.FormatFloat(val, 'f', 6, 64)
}

func optional(val float64, ok bool) string {
	if !ok {
		return "-"
	}
	return formatFloat(val)
}
