/*
Copyright 2026 ReelScript Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"

	// Generation pipeline failure kinds.
	ErrTransient           ErrorCode = "TRANSIENT"
	ErrMalformedOutput     ErrorCode = "MALFORMED_OUTPUT"
	ErrUnitFailure         ErrorCode = "UNIT_FAILURE"
	ErrBatchFailure        ErrorCode = "BATCH_FAILURE"
	ErrInsufficientCredits ErrorCode = "INSUFFICIENT_CREDITS"
	ErrInvariantViolation  ErrorCode = "INVARIANT_VIOLATION"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	if cause, ok := e.Details.(error); ok && cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes Details when it carries the underlying error.
func (e APIError) Unwrap() error {
	if cause, ok := e.Details.(error); ok {
		return cause
	}
	return nil
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	if details != nil {
		logrus.WithField("code", code).Error(details)
	}
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// CodeOf returns the code of the outermost APIError in err's chain, or "" when there is none.
func CodeOf(err error) ErrorCode {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether the queue should attempt the job again.
// Plain errors without a code are infrastructure failures and are retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case ErrTransient, ErrBatchFailure, ErrInternalServer, "":
		return true
	default:
		return false
	}
}

func MapErrorToHTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrInvalidInput:
		return http.StatusBadRequest
	case ErrInsufficientCredits:
		return http.StatusPaymentRequired
	case ErrInvariantViolation:
		return http.StatusUnprocessableEntity
	case ErrTransient:
		return http.StatusServiceUnavailable
	case ErrMalformedOutput, ErrUnitFailure, ErrBatchFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
