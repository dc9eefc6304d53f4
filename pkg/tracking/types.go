package tracking

type Experiment struct {
	ExperimentID     string `json:"experiment_id" yaml:"experiment_id"`
	Name             string `json:"name" yaml:"name"`
	ArtifactLocation string `json:"artifact_location,omitempty" yaml:"artifact_location"`
	LifecycleStage   string `json:"lifecycle_stage,omitempty" yaml:"lifecycle_stage"`
	CreationTime     int64  `json:"creation_time,omitempty" yaml:"creation_time"`
	LastUpdateTime   int64  `json:"last_update_time,omitempty" yaml:"last_update_time"`
}

type RunInfo struct {
	RunID          string    `json:"run_id"`
	RunName        string    `json:"run_name,omitempty"`
	ExperimentID   string    `json:"experiment_id"`
	UserID         string    `json:"user_id,omitempty"`
	Status         RunStatus `json:"status"`
	StartTime      int64     `json:"start_time,omitempty"`
	EndTime        int64     `json:"end_time,omitempty"`
	ArtifactURI    string    `json:"artifact_uri,omitempty"`
	LifecycleStage string    `json:"lifecycle_stage,omitempty"`
}

// RunData is a run with its latest logged values.
type RunData struct {
	Info    RunInfo
	Params  map[string]string
	Metrics map[string]float64
	Tags    map[string]string
}

type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Metric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

type ModelVersion struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Source  string `json:"source,omitempty"`
	RunID   string `json:"run_id,omitempty"`
	Status  string `json:"status,omitempty"`
}

const (
	ModelVersionPending = "PENDING_REGISTRATION"
	ModelVersionFailed  = "FAILED_REGISTRATION"
	ModelVersionReady   = "READY"
)

const (
	LifecycleActive = "active"

	TagRunName         = "mlflow.runName"
	TagUser            = "mlflow.user"
	TagSourceName      = "mlflow.source.name"
	TagSourceType      = "mlflow.source.type"
	TagLogModelHistory = "mlflow.log-model.history"
	TagModelDigest     = "modeleval.model.digest"
)
