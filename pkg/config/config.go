package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	yamlv3 "gopkg.in/yaml.v3"
	"kubegems.io/modeleval/pkg/errors"
	"sigs.k8s.io/yaml"
)

const (
	DefaultConfigFile          = "config/config.yaml"
	DefaultParamsFile          = "params.yaml"
	DefaultSchemaFile          = "schema.yaml"
	DefaultParamsSection       = "ElasticNet"
	DefaultExperimentName      = "Default"
	DefaultRegisteredModelName = "ElasticnetModel"
)

// EvaluationConfig is everything one evaluation run needs. It is read only
// once built.
type EvaluationConfig struct {
	RootDir             string         `json:"root_dir"`
	TestDataPath        string         `json:"test_data_path"`
	ModelPath           string         `json:"model_path"`
	TargetColumn        string         `json:"target_column"`
	MetricFileName      string         `json:"metric_file_name"`
	TrackingURI         string         `json:"mlflow_uri"`
	ExperimentName      string         `json:"experiment_name,omitempty"`
	RegisteredModelName string         `json:"registered_model_name,omitempty"`
	RunName             string         `json:"run_name,omitempty"`
	AllParams           map[string]any `json:"all_params"`
}

// ConfigFile is the pipeline configuration document, only the evaluation stage is read.
type ConfigFile struct {
	ArtifactsRoot   string                `json:"artifacts_root,omitempty"`
	ModelEvaluation ModelEvaluationConfig `json:"model_evaluation"`
}

type ModelEvaluationConfig struct {
	RootDir             string `json:"root_dir"`
	TestDataPath        string `json:"test_data_path"`
	ModelPath           string `json:"model_path"`
	MetricFileName      string `json:"metric_file_name"`
	MLflowURI           string `json:"mlflow_uri"`
	ExperimentName      string `json:"experiment_name,omitempty"`
	RegisteredModelName string `json:"registered_model_name,omitempty"`
}

type SchemaFile struct {
	Columns      map[string]string `json:"COLUMNS,omitempty"`
	TargetColumn struct {
		Name string `json:"name"`
	} `json:"TARGET_COLUMN"`
}

type Options struct {
	ConfigFile    string
	ParamsFile    string
	SchemaFile    string
	ParamsSection string
}

func NewDefaultOptions() *Options {
	return &Options{
		ConfigFile:    DefaultConfigFile,
		ParamsFile:    DefaultParamsFile,
		SchemaFile:    DefaultSchemaFile,
		ParamsSection: DefaultParamsSection,
	}
}

// LoadEvaluationConfig reads the config, params and schema documents and
// assembles the evaluation config. The evaluation root directory is created.
func LoadEvaluationConfig(opts *Options) (*EvaluationConfig, error) {
	var configfile ConfigFile
	if err := readValidated(opts.ConfigFile, configSchema, &configfile); err != nil {
		return nil, err
	}
	var schemafile SchemaFile
	if err := readValidated(opts.SchemaFile, schemaSchema, &schemafile); err != nil {
		return nil, err
	}
	params, err := readParams(opts.ParamsFile)
	if err != nil {
		return nil, err
	}

	allparams := params
	if opts.ParamsSection != "" {
		section, ok := params[opts.ParamsSection].(map[string]any)
		if !ok {
			return nil, errors.NewConfigInvalidError(fmt.Sprintf("%s: section %q not found", opts.ParamsFile, opts.ParamsSection))
		}
		allparams = section
	}

	eval := configfile.ModelEvaluation
	cfg := &EvaluationConfig{
		RootDir:             eval.RootDir,
		TestDataPath:        eval.TestDataPath,
		ModelPath:           eval.ModelPath,
		TargetColumn:        schemafile.TargetColumn.Name,
		MetricFileName:      eval.MetricFileName,
		TrackingURI:         eval.MLflowURI,
		ExperimentName:      eval.ExperimentName,
		RegisteredModelName: eval.RegisteredModelName,
		AllParams:           allparams,
	}
	cfg.Default()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RootDir != "" {
		if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
			return nil, fmt.Errorf("create root dir %s: %w", cfg.RootDir, err)
		}
	}
	return cfg, nil
}

func (c *EvaluationConfig) Default() {
	if c.ExperimentName == "" {
		c.ExperimentName = DefaultExperimentName
	}
	if c.RegisteredModelName == "" {
		c.RegisteredModelName = DefaultRegisteredModelName
	}
	if c.AllParams == nil {
		c.AllParams = map[string]any{}
	}
}

func (c *EvaluationConfig) Validate() error {
	missing := []string{}
	for name, val := range map[string]string{
		"test_data_path":   c.TestDataPath,
		"model_path":       c.ModelPath,
		"target_column":    c.TargetColumn,
		"metric_file_name": c.MetricFileName,
	} {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) != 0 {
		return errors.NewConfigInvalidError("missing required fields: " + strings.Join(sorted(missing), ", "))
	}
	return nil
}

func readValidated(path string, schema string, into any) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	jsoncontent, err := yaml.YAMLToJSON(content)
	if err != nil {
		return errors.NewConfigInvalidError(fmt.Sprintf("%s: %v", path, err))
	}
	if schema != "" {
		result, err := gojsonschema.Validate(
			gojsonschema.NewStringLoader(schema),
			gojsonschema.NewBytesLoader(jsoncontent),
		)
		if err != nil {
			return errors.NewConfigInvalidError(fmt.Sprintf("%s: %v", path, err))
		}
		if !result.Valid() {
			msgs := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				msgs = append(msgs, e.String())
			}
			return errors.NewConfigInvalidError(fmt.Sprintf("%s: %s", path, strings.Join(msgs, "; ")))
		}
	}
	if err := yaml.Unmarshal(content, into); err != nil {
		return errors.NewConfigInvalidError(fmt.Sprintf("%s: %v", path, err))
	}
	return nil
}

// readParams decodes the params document natively so integers stay integers
// and floats keep their type.
func readParams(path string) (map[string]any, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	params := map[string]any{}
	if err := yamlv3.Unmarshal(content, &params); err != nil {
		return nil, errors.NewConfigInvalidError(fmt.Sprintf("%s: %v", path, err))
	}
	return params, nil
}
