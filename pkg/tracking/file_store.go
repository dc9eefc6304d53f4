package tracking

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
	"kubegems.io/modeleval/pkg/errors"
)

const (
	metaFileName        = "meta.yaml"
	DefaultExperiment   = "Default"
	defaultExperimentID = "0"
	sourceTypeLocal     = 4
)

var fileRunStatus = map[RunStatus]int{
	RunStatusRunning:   1,
	RunStatusScheduled: 2,
	RunStatusFinished:  3,
	RunStatusFailed:    4,
	RunStatusKilled:    5,
}

var _ Client = &FileStore{}

// FileStore keeps experiments and runs in a local directory using the
// mlruns layout:
//
//	<root>/<experiment id>/meta.yaml
//	<root>/<experiment id>/<run id>/{meta.yaml,params,metrics,tags,artifacts}
type FileStore struct {
	uri  string
	root string
	mu   sync.Mutex
}

type runMeta struct {
	ArtifactURI    string `yaml:"artifact_uri"`
	EndTime        *int64 `yaml:"end_time"`
	EntryPointName string `yaml:"entry_point_name"`
	ExperimentID   string `yaml:"experiment_id"`
	LifecycleStage string `yaml:"lifecycle_stage"`
	RunID          string `yaml:"run_id"`
	RunName        string `yaml:"run_name"`
	RunUUID        string `yaml:"run_uuid"`
	SourceName     string `yaml:"source_name"`
	SourceType     int    `yaml:"source_type"`
	SourceVersion  string `yaml:"source_version"`
	StartTime      int64  `yaml:"start_time"`
	Status         int    `yaml:"status"`
	Tags           []any  `yaml:"tags"`
	UserID         string `yaml:"user_id"`
}

func (m runMeta) info() RunInfo {
	info := RunInfo{
		RunID:          m.RunID,
		RunName:        m.RunName,
		ExperimentID:   m.ExperimentID,
		UserID:         m.UserID,
		StartTime:      m.StartTime,
		ArtifactURI:    m.ArtifactURI,
		LifecycleStage: m.LifecycleStage,
	}
	if m.EndTime != nil {
		info.EndTime = *m.EndTime
	}
	for status, code := range fileRunStatus {
		if code == m.Status {
			info.Status = status
		}
	}
	return info
}

func NewFileStore(ctx context.Context, uri string) (*FileStore, error) {
	root, err := filepath.Abs(LocalPath(uri))
	if err != nil {
		return nil, err
	}
	return &FileStore{uri: uri, root: root}, nil
}

func (s *FileStore) Scheme() string {
	return SchemeFile
}

func (s *FileStore) TrackingURI() string {
	return s.uri
}

func (s *FileStore) Root() string {
	return s.root
}

// Ping makes sure the store directory is writable and holds the default experiment.
func (s *FileStore) Ping(ctx context.Context) error {
	if err := os.MkdirAll(s.root, DefaultDirMode); err != nil {
		return err
	}
	_, err := s.GetOrCreateExperiment(ctx, DefaultExperiment)
	return err
}

func (s *FileStore) ListExperiments(ctx context.Context) ([]Experiment, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	experiments := []Experiment{}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		var exp Experiment
		if err := readYAML(filepath.Join(s.root, entry.Name(), metaFileName), &exp); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		experiments = append(experiments, exp)
	}
	return experiments, nil
}

func (s *FileStore) GetOrCreateExperiment(ctx context.Context, name string) (*Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	experiments, err := s.ListExperiments(ctx)
	if err != nil {
		return nil, err
	}
	maxid := -1
	for i, exp := range experiments {
		if exp.Name == name && exp.LifecycleStage == LifecycleActive {
			return &experiments[i], nil
		}
		if id, err := strconv.Atoi(exp.ExperimentID); err == nil && id > maxid {
			maxid = id
		}
	}

	id := defaultExperimentID
	if name != DefaultExperiment || maxid >= 0 {
		id = strconv.Itoa(maxid + 1)
	}
	now := time.Now().UnixMilli()
	exp := Experiment{
		ExperimentID:     id,
		Name:             name,
		ArtifactLocation: fileURI(filepath.Join(s.root, id)),
		LifecycleStage:   LifecycleActive,
		CreationTime:     now,
		LastUpdateTime:   now,
	}
	if err := writeYAML(filepath.Join(s.root, id, metaFileName), exp); err != nil {
		return nil, err
	}
	logr.FromContextOrDiscard(ctx).Info("experiment created", "name", name, "id", id)
	return &exp, nil
}

func (s *FileStore) StartRun(ctx context.Context, experiment string, runName string) (Run, error) {
	exp, err := s.GetOrCreateExperiment(ctx, experiment)
	if err != nil {
		return nil, err
	}
	runID := strings.ReplaceAll(uuid.NewString(), "-", "")
	if runName == "" {
		runName = "eval-" + runID[:8]
	}
	dir := filepath.Join(s.root, exp.ExperimentID, runID)
	meta := runMeta{
		ArtifactURI:    fileURI(filepath.Join(dir, "artifacts")),
		ExperimentID:   exp.ExperimentID,
		LifecycleStage: LifecycleActive,
		RunID:          runID,
		RunName:        runName,
		RunUUID:        runID,
		SourceName:     sourceName(),
		SourceType:     sourceTypeLocal,
		StartTime:      time.Now().UnixMilli(),
		Status:         fileRunStatus[RunStatusRunning],
		Tags:           []any{},
		UserID:         currentUser(),
	}
	for _, sub := range []string{"params", "metrics", "tags", "artifacts"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), DefaultDirMode); err != nil {
			return nil, err
		}
	}
	if err := writeYAML(filepath.Join(dir, metaFileName), meta); err != nil {
		return nil, err
	}
	artifacts, err := NewLocalArtifactRepository(meta.ArtifactURI)
	if err != nil {
		return nil, err
	}
	run := &fileRun{dir: dir, meta: meta, artifacts: artifacts}
	if err := run.setTags(map[string]string{
		TagRunName:    runName,
		TagUser:       meta.UserID,
		TagSourceName: meta.SourceName,
		TagSourceType: "LOCAL",
	}); err != nil {
		return nil, err
	}
	logr.FromContextOrDiscard(ctx).Info("run started", "experiment", exp.Name, "run", runID)
	return run, nil
}

// RegisterModel is not available on local stores.
func (s *FileStore) RegisterModel(ctx context.Context, name string, source string, runID string) (*ModelVersion, error) {
	return nil, errors.NewUnsupportedError("model registry is not supported by file store " + s.uri)
}

// ListRuns returns all runs of all experiments, most recent first.
func (s *FileStore) ListRuns(ctx context.Context) ([]RunData, error) {
	experiments, err := s.ListExperiments(ctx)
	if err != nil {
		return nil, err
	}
	runs := []RunData{}
	for _, exp := range experiments {
		entries, err := os.ReadDir(filepath.Join(s.root, exp.ExperimentID))
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			data, err := readRun(filepath.Join(s.root, exp.ExperimentID, entry.Name()))
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return nil, err
			}
			runs = append(runs, *data)
		}
	}
	slices.SortFunc(runs, func(a, b RunData) bool {
		return a.Info.StartTime > b.Info.StartTime
	})
	return runs, nil
}

func (s *FileStore) GetRun(ctx context.Context, runID string) (*RunData, error) {
	experiments, err := s.ListExperiments(ctx)
	if err != nil {
		return nil, err
	}
	for _, exp := range experiments {
		data, err := readRun(filepath.Join(s.root, exp.ExperimentID, runID))
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	return nil, errors.NewResourceNotFoundError("run", runID)
}

var _ Run = &fileRun{}

type fileRun struct {
	mu        sync.Mutex
	dir       string
	meta      runMeta
	artifacts *LocalArtifactRepository
	ended     bool
}

func (r *fileRun) ID() string {
	return r.meta.RunID
}

func (r *fileRun) ArtifactURI() string {
	return r.meta.ArtifactURI
}

func (r *fileRun) LogParams(ctx context.Context, params map[string]string) error {
	if err := validateParams(params); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkActive(); err != nil {
		return err
	}
	keys := maps.Keys(params)
	slices.Sort(keys)
	for _, k := range keys {
		file := filepath.Join(r.dir, "params", filepath.FromSlash(k))
		if existing, err := os.ReadFile(file); err == nil && string(existing) != params[k] {
			return errors.NewParameterInvalidError(fmt.Sprintf(
				"param %q was already logged with value %q, cannot change it to %q", k, existing, params[k]))
		}
		if err := writeFile(file, []byte(params[k])); err != nil {
			return err
		}
	}
	return nil
}

func (r *fileRun) LogMetrics(ctx context.Context, metrics map[string]float64) error {
	if err := validateMetrics(metrics); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkActive(); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for k, v := range metrics {
		file := filepath.Join(r.dir, "metrics", filepath.FromSlash(k))
		if err := os.MkdirAll(filepath.Dir(file), DefaultDirMode); err != nil {
			return err
		}
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, DefaultFileMode)
		if err != nil {
			return err
		}
		line := fmt.Sprintf("%d %s %d\n", now, strconv.FormatFloat(v, 'g', -1, 64), 0)
		_, err = f.WriteString(line)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *fileRun) LogModel(ctx context.Context, artifact ModelArtifact) (string, error) {
	if artifact.ArtifactPath == "" {
		artifact.ArtifactPath = DefaultArtifactPath
	}
	mlmodel, files, err := buildModelFiles(artifact, r.meta.RunID, time.Now())
	if err != nil {
		return "", err
	}
	if err := uploadFiles(ctx, r.artifacts, artifact.ArtifactPath, files); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	existing, _ := os.ReadFile(filepath.Join(r.dir, "tags", TagLogModelHistory))
	history, err := modelHistory(string(existing), mlmodel)
	if err != nil {
		return "", err
	}
	if err := r.setTags(map[string]string{
		TagLogModelHistory: history,
		TagModelDigest:     artifact.Model.Digest.String(),
	}); err != nil {
		return "", err
	}
	return joinURI(r.meta.ArtifactURI, artifact.ArtifactPath), nil
}

func (r *fileRun) End(ctx context.Context, status RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return errors.NewInvalidStateError("run " + r.meta.RunID + " already ended")
	}
	code, ok := fileRunStatus[status]
	if !ok {
		return errors.NewParameterInvalidError("invalid run status " + string(status))
	}
	end := time.Now().UnixMilli()
	r.meta.Status = code
	r.meta.EndTime = &end
	if err := writeYAML(filepath.Join(r.dir, metaFileName), r.meta); err != nil {
		return err
	}
	r.ended = true
	logr.FromContextOrDiscard(ctx).Info("run ended", "run", r.meta.RunID, "status", status)
	return nil
}

func (r *fileRun) checkActive() error {
	if r.ended {
		return errors.NewInvalidStateError("run " + r.meta.RunID + " is not active")
	}
	return nil
}

func (r *fileRun) setTags(tags map[string]string) error {
	for k, v := range tags {
		if err := writeFile(filepath.Join(r.dir, "tags", filepath.FromSlash(k)), []byte(v)); err != nil {
			return err
		}
	}
	return nil
}

func readRun(dir string) (*RunData, error) {
	var meta runMeta
	if err := readYAML(filepath.Join(dir, metaFileName), &meta); err != nil {
		return nil, err
	}
	data := &RunData{Info: meta.info()}
	var err error
	if data.Params, err = readValues(filepath.Join(dir, "params")); err != nil {
		return nil, err
	}
	if data.Tags, err = readValues(filepath.Join(dir, "tags")); err != nil {
		return nil, err
	}
	rawmetrics, err := readValues(filepath.Join(dir, "metrics"))
	if err != nil {
		return nil, err
	}
	data.Metrics = make(map[string]float64, len(rawmetrics))
	for k, content := range rawmetrics {
		lines := strings.Split(strings.TrimSpace(content), "\n")
		fields := strings.Fields(lines[len(lines)-1])
		if len(fields) < 2 {
			return nil, fmt.Errorf("metric %s: malformed line %q", k, lines[len(lines)-1])
		}
		val, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %w", k, err)
		}
		data.Metrics[k] = val
	}
	return data, nil
}

// readValues reads every file below dir keyed by its slash separated relative path.
func readValues(dir string) (map[string]string, error) {
	out := map[string]string{}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(content)
		return nil
	})
	return out, err
}

func readYAML(path string, into any) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(content, into)
}

func writeYAML(path string, data any) error {
	content, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	return writeFile(path, content)
}

func writeFile(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), DefaultDirMode); err != nil {
		return err
	}
	return os.WriteFile(path, content, DefaultFileMode)
}

func fileURI(path string) string {
	return (&url.URL{Scheme: SchemeFile, Path: filepath.ToSlash(path)}).String()
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

func sourceName() string {
	if len(os.Args) == 0 {
		return ""
	}
	return os.Args[0]
}
