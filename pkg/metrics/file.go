package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	DefaultFileMode = 0o644
	DefaultDirMode  = 0o755
)

// Save writes the result as a flat json object. The file is written to a
// temporary sibling and renamed, so readers never observe a partial file.
func Save(path string, result Result) error {
	content, err := json.MarshalIndent(result, "", "    ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DefaultDirMode); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), DefaultFileMode); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads a file written by Save. All three metrics must be present.
func Load(path string) (Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Result{}, err
	}
	raw := map[string]float64{}
	if err := json.Unmarshal(content, &raw); err != nil {
		return Result{}, fmt.Errorf("decode metrics %s: %w", path, err)
	}
	for _, name := range []string{NameRMSE, NameMAE, NameR2} {
		if _, ok := raw[name]; !ok {
			return Result{}, fmt.Errorf("metrics %s: missing %q", path, name)
		}
	}
	if len(raw) != 3 {
		return Result{}, fmt.Errorf("metrics %s: expected 3 metrics, got %d", path, len(raw))
	}
	return Result{RMSE: raw[NameRMSE], MAE: raw[NameMAE], R2: raw[NameR2]}, nil
}
