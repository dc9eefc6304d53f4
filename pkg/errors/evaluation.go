package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies why a model evaluation failed.
type Kind string

const (
	// KindTrackingInit: the tracking backend could not be reached or a run could not be opened.
	KindTrackingInit Kind = "TRACKING_INIT"
	// KindDataAccess: the dataset, the model or the metrics file could not be read or written.
	KindDataAccess Kind = "DATA_ACCESS"
	// KindSchema: dataset and model disagree on columns or shapes.
	KindSchema Kind = "SCHEMA_MISMATCH"
	// KindTrackingLog: the backend rejected a params, metrics or model logging call.
	KindTrackingLog Kind = "TRACKING_LOG"
)

type EvaluationError struct {
	Kind  Kind
	Cause error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("Model Evaluation failed: %s: %v", e.Kind, e.Cause)
}

func (e *EvaluationError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether running the evaluation again may succeed without changing inputs.
func (e *EvaluationError) Retryable() bool {
	switch e.Kind {
	case KindTrackingInit, KindTrackingLog:
		info := ErrorInfo{}
		if errors.As(e.Cause, &info) && info.HttpStatus >= 400 && info.HttpStatus < 500 {
			return info.HttpStatus == http.StatusTooManyRequests
		}
		return true
	default:
		return false
	}
}

func newEvaluationError(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	// keep the innermost classification
	var existing *EvaluationError
	if errors.As(err, &existing) {
		return err
	}
	return &EvaluationError{Kind: kind, Cause: err}
}

func NewTrackingInitError(err error) error { return newEvaluationError(KindTrackingInit, err) }

func NewDataAccessError(err error) error { return newEvaluationError(KindDataAccess, err) }

func NewSchemaError(err error) error { return newEvaluationError(KindSchema, err) }

func NewTrackingLogError(err error) error { return newEvaluationError(KindTrackingLog, err) }

// KindOf returns the kind of an evaluation error, or "" when err is not one.
func KindOf(err error) Kind {
	var evalerr *EvaluationError
	if errors.As(err, &evalerr) {
		return evalerr.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
