package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// error codes returned by an MLflow compatible tracking server.
const (
	ErrCodeResourceAlreadyExists ErrCode = "RESOURCE_ALREADY_EXISTS"
	ErrCodeResourceDoesNotExist  ErrCode = "RESOURCE_DOES_NOT_EXIST"
	ErrCodeInvalidParameterValue ErrCode = "INVALID_PARAMETER_VALUE"
	ErrCodeInvalidState          ErrCode = "INVALID_STATE"
	ErrCodeUnauthenticated       ErrCode = "UNAUTHENTICATED"
	ErrCodePermissionDenied      ErrCode = "PERMISSION_DENIED"
	ErrCodeTooManyRequests       ErrCode = "REQUEST_LIMIT_EXCEEDED"
	ErrCodeUnsupported           ErrCode = "NOT_IMPLEMENTED"
	ErrCodeConfigInvalid         ErrCode = "CONFIG_INVALID"
	ErrCodeUnknow                ErrCode = "UNKNOWN"
	ErrCodeInternal              ErrCode = "INTERNAL_ERROR"
)

type ErrCode string

type ErrorInfo struct {
	HttpStatus int     `json:"-"`
	Code       ErrCode `json:"error_code"`
	Message    string  `json:"message"`
}

func (e ErrorInfo) Error() string {
	if e.HttpStatus != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.HttpStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func IsErrCode(err error, code ErrCode) bool {
	if err == nil {
		return false
	}
	info := ErrorInfo{}
	if errors.As(err, &info) {
		return info.Code == code
	}
	return false
}

// CodeFromStatus is used when a server answers with a non json error body.
func CodeFromStatus(status int) ErrCode {
	switch status {
	case http.StatusBadRequest:
		return ErrCodeInvalidParameterValue
	case http.StatusUnauthorized:
		return ErrCodeUnauthenticated
	case http.StatusForbidden:
		return ErrCodePermissionDenied
	case http.StatusNotFound:
		return ErrCodeResourceDoesNotExist
	case http.StatusConflict:
		return ErrCodeResourceAlreadyExists
	case http.StatusTooManyRequests:
		return ErrCodeTooManyRequests
	case http.StatusInternalServerError:
		return ErrCodeInternal
	case http.StatusNotImplemented:
		return ErrCodeUnsupported
	default:
		return ErrCodeUnknow
	}
}

func NewUnsupportedError(msg string) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusNotImplemented, Code: ErrCodeUnsupported, Message: msg}
}

func NewResourceNotFoundError(kind, name string) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusNotFound, Code: ErrCodeResourceDoesNotExist, Message: fmt.Sprintf("%s: %s not found", kind, name)}
}

func NewResourceExistsError(kind, name string) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusBadRequest, Code: ErrCodeResourceAlreadyExists, Message: fmt.Sprintf("%s: %s already exists", kind, name)}
}

func NewParameterInvalidError(msg string) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusBadRequest, Code: ErrCodeInvalidParameterValue, Message: msg}
}

func NewConfigInvalidError(msg string) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusBadRequest, Code: ErrCodeConfigInvalid, Message: msg}
}

func NewInvalidStateError(msg string) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusBadRequest, Code: ErrCodeInvalidState, Message: msg}
}
