// Package trackingtest provides an in-memory tracking server for tests.
package trackingtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

type Experiment struct {
	ID   string
	Name string
}

type Run struct {
	ID           string
	ExperimentID string
	Name         string
	Status       string
	Params       map[string]string
	Metrics      map[string]float64
	Tags         map[string]string
	Models       []string
}

type ModelVersion struct {
	Name    string
	Version int
	Source  string
	RunID   string
	Status  string
	// polls left before the version turns READY
	pending int
}

// Server mimics the subset of the tracking REST api used by the client,
// including the artifact proxy.
type Server struct {
	*httptest.Server

	mu sync.Mutex
	// fail maps a path suffix to the http status returned for it.
	fail  map[string]int
	token string
	// model-versions/get calls a new version answers PENDING_REGISTRATION
	pendingPolls     int
	failRegistration bool

	experiments map[string]*Experiment
	runs        map[string]*Run
	registered  map[string][]*ModelVersion
	artifacts   map[string][]byte
	requests    []string
}

func NewServer() *Server {
	s := &Server{
		fail:        map[string]int{},
		experiments: map[string]*Experiment{"0": {ID: "0", Name: "Default"}},
		runs:        map[string]*Run{},
		registered:  map[string][]*ModelVersion{},
		artifacts:   map[string][]byte{},
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.record, s.auth, s.inject)

	api := r.PathPrefix("/api/2.0/mlflow").Subrouter()
	api.HandleFunc("/experiments/search", s.searchExperiments).Methods(http.MethodPost)
	api.HandleFunc("/experiments/get-by-name", s.getExperimentByName).Methods(http.MethodGet)
	api.HandleFunc("/experiments/create", s.createExperiment).Methods(http.MethodPost)
	api.HandleFunc("/runs/create", s.createRun).Methods(http.MethodPost)
	api.HandleFunc("/runs/get", s.getRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/log-batch", s.logBatch).Methods(http.MethodPost)
	api.HandleFunc("/runs/log-model", s.logModel).Methods(http.MethodPost)
	api.HandleFunc("/runs/update", s.updateRun).Methods(http.MethodPost)
	api.HandleFunc("/registered-models/create", s.createRegisteredModel).Methods(http.MethodPost)
	api.HandleFunc("/model-versions/create", s.createModelVersion).Methods(http.MethodPost)
	api.HandleFunc("/model-versions/get", s.getModelVersion).Methods(http.MethodGet)

	r.PathPrefix("/api/2.0/mlflow-artifacts/artifacts/").HandlerFunc(s.putArtifact).Methods(http.MethodPut)
	r.PathPrefix("/api/2.0/mlflow-artifacts/artifacts/").HandlerFunc(s.headArtifact).Methods(http.MethodHead)

	return handlers.ContentTypeHandler(r, "application/json", "text/yaml", "application/octet-stream")
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		token := s.token
		s.mu.Unlock()
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		var status int
		for suffix, code := range s.fail {
			if strings.HasSuffix(r.URL.Path, suffix) {
				status = code
			}
		}
		s.mu.Unlock()
		if status != 0 {
			writeError(w, status, "", "injected failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// FailOn makes requests whose path ends with suffix, like "/runs/log-batch",
// fail with status.
func (s *Server) FailOn(suffix string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[suffix] = status
}

// SetRegistration controls new model versions: they stay pending for
// pendingPolls lookups, or fail at once.
func (s *Server) SetRegistration(pendingPolls int, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingPolls = pendingPolls
	s.failRegistration = fail
}

// SetToken requires requests to carry the bearer token.
func (s *Server) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Requests returns "METHOD /path" of every request received so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.requests...)
}

// CountRequests counts received requests whose path ends with suffix.
func (s *Server) CountRequests(suffix string) int {
	count := 0
	for _, req := range s.Requests() {
		if strings.HasSuffix(req, suffix) {
			count++
		}
	}
	return count
}

func (s *Server) Runs() []Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, *run)
	}
	return out
}

func (s *Server) ModelVersions(name string) []ModelVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ModelVersion{}
	for _, v := range s.registered[name] {
		out = append(out, *v)
	}
	return out
}

// Artifact returns the content uploaded at path below the artifact root.
func (s *Server) Artifact(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.artifacts[strings.TrimPrefix(path, "/")]
	return content, ok
}

func (s *Server) searchExperiments(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := []map[string]string{}
	for _, exp := range s.experiments {
		list = append(list, experimentJSON(exp))
	}
	writeJSON(w, map[string]any{"experiments": list})
}

func (s *Server) getExperimentByName(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("experiment_name")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, exp := range s.experiments {
		if exp.Name == name {
			writeJSON(w, map[string]any{"experiment": experimentJSON(exp)})
			return
		}
	}
	writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "Could not find experiment with name '"+name+"'")
}

func (s *Server) createExperiment(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Name string `json:"name"`
	}{}
	if !readJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, exp := range s.experiments {
		if exp.Name == req.Name {
			writeError(w, http.StatusBadRequest, "RESOURCE_ALREADY_EXISTS", "Experiment '"+req.Name+"' already exists")
			return
		}
	}
	id := strconv.Itoa(len(s.experiments))
	s.experiments[id] = &Experiment{ID: id, Name: req.Name}
	writeJSON(w, map[string]any{"experiment_id": id})
}

type keyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type metric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	req := struct {
		ExperimentID string     `json:"experiment_id"`
		RunName      string     `json:"run_name"`
		StartTime    int64      `json:"start_time"`
		Tags         []keyValue `json:"tags"`
	}{}
	if !readJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experiments[req.ExperimentID]; !ok {
		writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "No Experiment with id="+req.ExperimentID+" exists")
		return
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	run := &Run{
		ID:           id,
		ExperimentID: req.ExperimentID,
		Name:         req.RunName,
		Status:       "RUNNING",
		Params:       map[string]string{},
		Metrics:      map[string]float64{},
		Tags:         map[string]string{},
	}
	for _, tag := range req.Tags {
		run.Tags[tag.Key] = tag.Value
	}
	s.runs[id] = run
	writeJSON(w, map[string]any{"run": s.runJSON(run, req.StartTime)})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[r.URL.Query().Get("run_id")]
	if !ok {
		writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "Run not found")
		return
	}
	writeJSON(w, map[string]any{"run": s.runJSON(run, 0)})
}

func (s *Server) runJSON(run *Run, start int64) map[string]any {
	params, metrics, tags := []keyValue{}, []metric{}, []keyValue{}
	for k, v := range run.Params {
		params = append(params, keyValue{Key: k, Value: v})
	}
	for k, v := range run.Metrics {
		metrics = append(metrics, metric{Key: k, Value: v})
	}
	for k, v := range run.Tags {
		tags = append(tags, keyValue{Key: k, Value: v})
	}
	return map[string]any{
		"info": map[string]any{
			"run_id":          run.ID,
			"run_uuid":        run.ID,
			"run_name":        run.Name,
			"experiment_id":   run.ExperimentID,
			"status":          run.Status,
			"start_time":      start,
			"artifact_uri":    "mlflow-artifacts:/" + run.ExperimentID + "/" + run.ID + "/artifacts",
			"lifecycle_stage": "active",
		},
		"data": map[string]any{"params": params, "metrics": metrics, "tags": tags},
	}
}

func (s *Server) activeRun(w http.ResponseWriter, id string) (*Run, bool) {
	run, ok := s.runs[id]
	if !ok {
		writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "Run '"+id+"' not found")
		return nil, false
	}
	if run.Status != "RUNNING" {
		writeError(w, http.StatusBadRequest, "INVALID_STATE", "The run "+id+" must be in the 'active' state")
		return nil, false
	}
	return run, true
}

func (s *Server) logBatch(w http.ResponseWriter, r *http.Request) {
	req := struct {
		RunID   string     `json:"run_id"`
		Params  []keyValue `json:"params"`
		Metrics []metric   `json:"metrics"`
		Tags    []keyValue `json:"tags"`
	}{}
	if !readJSON(w, r, &req) {
		return
	}
	if len(req.Params) > 100 || len(req.Metrics) > 1000 {
		writeError(w, http.StatusBadRequest, "INVALID_PARAMETER_VALUE", "batch too large")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.activeRun(w, req.RunID)
	if !ok {
		return
	}
	for _, p := range req.Params {
		if old, ok := run.Params[p.Key]; ok && old != p.Value {
			writeError(w, http.StatusBadRequest, "INVALID_PARAMETER_VALUE", "Changing param values is not allowed. Param with key='"+p.Key+"' was already logged")
			return
		}
	}
	for _, p := range req.Params {
		run.Params[p.Key] = p.Value
	}
	for _, m := range req.Metrics {
		run.Metrics[m.Key] = m.Value
	}
	for _, t := range req.Tags {
		run.Tags[t.Key] = t.Value
	}
	writeJSON(w, map[string]any{})
}

func (s *Server) logModel(w http.ResponseWriter, r *http.Request) {
	req := struct {
		RunID     string `json:"run_id"`
		ModelJSON string `json:"model_json"`
	}{}
	if !readJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.activeRun(w, req.RunID)
	if !ok {
		return
	}
	if !json.Valid([]byte(req.ModelJSON)) {
		writeError(w, http.StatusBadRequest, "INVALID_PARAMETER_VALUE", "model_json is not valid json")
		return
	}
	run.Models = append(run.Models, req.ModelJSON)
	run.Tags["mlflow.log-model.history"] = "[" + strings.Join(run.Models, ",") + "]"
	writeJSON(w, map[string]any{})
}

func (s *Server) updateRun(w http.ResponseWriter, r *http.Request) {
	req := struct {
		RunID   string `json:"run_id"`
		Status  string `json:"status"`
		EndTime int64  `json:"end_time"`
	}{}
	if !readJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[req.RunID]
	if !ok {
		writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "Run '"+req.RunID+"' not found")
		return
	}
	run.Status = req.Status
	writeJSON(w, map[string]any{"run_info": map[string]any{"run_id": run.ID, "status": run.Status}})
}

func (s *Server) createRegisteredModel(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Name string `json:"name"`
	}{}
	if !readJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registered[req.Name]; ok {
		writeError(w, http.StatusBadRequest, "RESOURCE_ALREADY_EXISTS", "Registered Model (name="+req.Name+") already exists.")
		return
	}
	s.registered[req.Name] = []*ModelVersion{}
	writeJSON(w, map[string]any{"registered_model": map[string]any{"name": req.Name}})
}

func (s *Server) createModelVersion(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Name   string `json:"name"`
		Source string `json:"source"`
		RunID  string `json:"run_id"`
	}{}
	if !readJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.registered[req.Name]
	if !ok {
		writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "Registered Model with name="+req.Name+" not found")
		return
	}
	mv := &ModelVersion{
		Name:    req.Name,
		Version: len(versions) + 1,
		Source:  req.Source,
		RunID:   req.RunID,
		Status:  "PENDING_REGISTRATION",
		pending: s.pendingPolls,
	}
	if s.failRegistration {
		mv.Status = "FAILED_REGISTRATION"
	} else if mv.pending == 0 {
		mv.Status = "READY"
	}
	s.registered[req.Name] = append(versions, mv)
	writeJSON(w, map[string]any{"model_version": modelVersionJSON(mv)})
}

func (s *Server) getModelVersion(w http.ResponseWriter, r *http.Request) {
	name, version := r.URL.Query().Get("name"), r.URL.Query().Get("version")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, mv := range s.registered[name] {
		if strconv.Itoa(mv.Version) != version {
			continue
		}
		if mv.Status == "PENDING_REGISTRATION" {
			if mv.pending--; mv.pending <= 0 {
				mv.Status = "READY"
			}
		}
		writeJSON(w, map[string]any{"model_version": modelVersionJSON(mv)})
		return
	}
	writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "Model Version (name="+name+", version="+version+") not found")
}

func (s *Server) putArtifact(w http.ResponseWriter, r *http.Request) {
	content, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PARAMETER_VALUE", err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[artifactPath(r)] = content
	writeJSON(w, map[string]any{})
}

func (s *Server) headArtifact(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	_, ok := s.artifacts[artifactPath(r)]
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func artifactPath(r *http.Request) string {
	return strings.TrimPrefix(r.URL.Path, "/api/2.0/mlflow-artifacts/artifacts/")
}

func experimentJSON(exp *Experiment) map[string]string {
	return map[string]string{
		"experiment_id":     exp.ID,
		"name":              exp.Name,
		"artifact_location": "mlflow-artifacts:/" + exp.ID,
		"lifecycle_stage":   "active",
	}
}

func modelVersionJSON(mv *ModelVersion) map[string]any {
	return map[string]any{
		"name":                   mv.Name,
		"version":                strconv.Itoa(mv.Version),
		"source":                 mv.Source,
		"run_id":                 mv.RunID,
		"status":                 mv.Status,
		"creation_timestamp":     time.Now().UnixMilli(),
		"last_updated_timestamp": time.Now().UnixMilli(),
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeError(w, http.StatusBadRequest, "MALFORMED_REQUEST", err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]string{"message": message}
	if code != "" {
		body["error_code"] = code
	}
	_ = json.NewEncoder(w).Encode(body)
}
