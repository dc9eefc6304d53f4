package config

import (
	"golang.org/x/exp/slices"
)

const configSchema = `{
  "type": "object",
  "required": ["model_evaluation"],
  "properties": {
    "model_evaluation": {
      "type": "object",
      "required": ["test_data_path", "model_path", "metric_file_name"],
      "properties": {
        "root_dir": {"type": "string"},
        "test_data_path": {"type": "string", "minLength": 1},
        "model_path": {"type": "string", "minLength": 1},
        "metric_file_name": {"type": "string", "minLength": 1},
        "mlflow_uri": {"type": "string"},
        "experiment_name": {"type": "string"},
        "registered_model_name": {"type": "string"}
      }
    }
  }
}`

const schemaSchema = `{
  "type": "object",
  "required": ["TARGET_COLUMN"],
  "properties": {
    "COLUMNS": {"type": "object", "additionalProperties": {"type": "string"}},
    "TARGET_COLUMN": {
      "type": "object",
      "required": ["name"],
      "properties": {"name": {"type": "string", "minLength": 1}}
    }
  }
}`

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	slices.Sort(out)
	return out
}
