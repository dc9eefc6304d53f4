package tracking

import (
	"encoding/json"
	"fmt"
	"math"
	"path"
	"regexp"
	"strconv"
	"strings"

	"kubegems.io/modeleval/pkg/errors"
)

const (
	MaxParamValueLength = 6000
	MaxKeyLength        = 250
)

var keyRegexp = regexp.MustCompile(`^[\w\-. /]+$`)

// StringifyParams renders parameter values the way they are stored by the
// backend. Nested values are encoded as json.
func StringifyParams(params map[string]any) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = stringify(v)
	}
	return out
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "None"
	case string:
		return val
	case bool:
		if val {
			return "True"
		}
		return "False"
	case float64:
		return formatFloat(val, 64)
	case float32:
		return formatFloat(float64(val), 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(val)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(raw)
	}
}

// formatFloat renders floats the way python's repr does: integral values keep
// a ".0" and the exponent form is only used outside [1e-4, 1e16).
func formatFloat(val float64, bitSize int) string {
	switch {
	case math.IsNaN(val):
		return "nan"
	case math.IsInf(val, 1):
		return "inf"
	case math.IsInf(val, -1):
		return "-inf"
	}
	if abs := math.Abs(val); abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(val, 'e', -1, bitSize)
	}
	s := strconv.FormatFloat(val, 'f', -1, bitSize)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func validateKey(kind, key string) error {
	if key == "" || len(key) > MaxKeyLength {
		return errors.NewParameterInvalidError(fmt.Sprintf("invalid %s name %q", kind, key))
	}
	if !keyRegexp.MatchString(key) {
		return errors.NewParameterInvalidError(fmt.Sprintf("invalid %s name %q: only alphanumerics, underscores, dashes, periods, spaces and slashes are allowed", kind, key))
	}
	if strings.HasPrefix(key, "/") || path.Clean(key) != key || strings.Contains(key, "..") {
		return errors.NewParameterInvalidError(fmt.Sprintf("invalid %s name %q: must be a normalized relative path", kind, key))
	}
	return nil
}

func validateParams(params map[string]string) error {
	for k, v := range params {
		if err := validateKey("param", k); err != nil {
			return err
		}
		if len(v) > MaxParamValueLength {
			return errors.NewParameterInvalidError(fmt.Sprintf("param %q value exceeds %d characters", k, MaxParamValueLength))
		}
	}
	return nil
}

func validateMetrics(metrics map[string]float64) error {
	for k := range metrics {
		if err := validateKey("metric", k); err != nil {
			return err
		}
	}
	return nil
}
