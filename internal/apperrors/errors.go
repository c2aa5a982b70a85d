// Package apperrors defines the error kinds shared across the engine.
package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
)

// MaskedValue replaces sensitive configuration values in errors and logs.
const MaskedValue = "***MASKED***"

var sensitiveKeyParts = []string{"key", "secret", "token", "password", "authorization"}

// IsSensitiveKey reports whether a setting or attribute name refers to a secret.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

// MaskValue returns value unless key names a secret.
func MaskValue(key, value string) string {
	if value == "" {
		return value
	}
	if IsSensitiveKey(key) {
		return MaskedValue
	}
	return value
}

// ConfigurationError reports missing or invalid settings. It is fatal at startup.
type ConfigurationError struct {
	// Problems maps setting name to a description of what is wrong.
	Problems map[string]string
}

// NewConfigurationError returns an empty ConfigurationError ready for Add.
func NewConfigurationError() *ConfigurationError {
	return &ConfigurationError{Problems: make(map[string]string)}
}

// Add records a problem for key. value is masked when key names a secret.
func (e *ConfigurationError) Add(key, value, reason string) {
	if e.Problems == nil {
		e.Problems = make(map[string]string)
	}
	if value != "" {
		reason = fmt.Sprintf("%s (got %q)", reason, MaskValue(key, value))
	}
	e.Problems[key] = reason
}

// Empty reports whether no problems were recorded.
func (e *ConfigurationError) Empty() bool {
	return e == nil || len(e.Problems) == 0
}

func (e *ConfigurationError) Error() string {
	keys := make([]string, 0, len(e.Problems))
	for k := range e.Problems {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Problems[k])
	}
	return "config: invalid configuration: " + strings.Join(parts, "; ")
}

// StoreError wraps a persistence failure. Store errors are retryable.
type StoreError struct {
	Op       string
	ThreadID string
	Err      error
}

func (e *StoreError) Error() string {
	if e.ThreadID != "" {
		return fmt.Sprintf("store: %s %s: %v", e.Op, e.ThreadID, e.Err)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ExternalServiceError wraps a failure of the language model or CRM API.
type ExternalServiceError struct {
	Service    string
	Op         string
	StatusCode int
	Err        error
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s: status %d: %v", e.Service, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// Retryable reports whether the call may succeed when repeated.
func (e *ExternalServiceError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	case e.StatusCode != 0:
		return false
	}
	return isTransient(e.Err)
}

// ValidationError reports malformed input or an unknown enum value.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("validation: %s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// PipelineError records which dialogue step failed for which thread.
type PipelineError struct {
	ThreadID string
	Stage    string
	Step     string
	Err      error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline: thread %s stage %s step %s: %v", e.ThreadID, e.Stage, e.Step, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// IsRetryable classifies err for retry loops.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return true
	}
	var extErr *ExternalServiceError
	if errors.As(err, &extErr) {
		return extErr.Retryable()
	}
	return isTransient(err)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
