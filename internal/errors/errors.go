package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"
)

/**
 * Error taxonomy for the extraction engine
 *
 * Every failure the engine surfaces carries exactly one ErrorCode.
 * IO failures are the exception: they are returned unwrapped so callers
 * can keep matching on fs.ErrNotExist and friends.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	ErrorIO                ErrorCode = "IO"
	ErrorParsing           ErrorCode = "PARSING"
	ErrorOCR               ErrorCode = "OCR"
	ErrorValidation        ErrorCode = "VALIDATION"
	ErrorCache             ErrorCode = "CACHE"
	ErrorImageProcessing   ErrorCode = "IMAGE_PROCESSING"
	ErrorSerialization     ErrorCode = "SERIALIZATION"
	ErrorMissingDependency ErrorCode = "MISSING_DEPENDENCY"
	ErrorPlugin            ErrorCode = "PLUGIN"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorOther             ErrorCode = "OTHER"
)

// ExtractionError represents a structured extraction error
type ExtractionError struct {
	Code      ErrorCode
	Message   string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ExtractionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ExtractionError) Unwrap() error {
	return e.Cause
}

func newError(code ErrorCode, message string, cause error, details map[string]interface{}) *ExtractionError {
	return &ExtractionError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Details:   details,
		Cause:     cause,
	}
}

// Factory functions for common errors

func NewParsingError(message string, cause error) *ExtractionError {
	return newError(ErrorParsing, message, cause, nil)
}

func NewOCRError(backend string, cause error) *ExtractionError {
	return newError(ErrorOCR, fmt.Sprintf("OCR failed in backend %q", backend), cause, map[string]interface{}{
		"backend": backend,
	})
}

func NewValidationError(message string) *ExtractionError {
	return newError(ErrorValidation, message, nil, nil)
}

func NewValidationErrorf(format string, args ...interface{}) *ExtractionError {
	return newError(ErrorValidation, fmt.Sprintf(format, args...), nil, nil)
}

func NewCacheError(message string, cause error) *ExtractionError {
	return newError(ErrorCache, message, cause, nil)
}

func NewImageProcessingError(message string, cause error) *ExtractionError {
	return newError(ErrorImageProcessing, message, cause, nil)
}

func NewSerializationError(message string, cause error) *ExtractionError {
	return newError(ErrorSerialization, message, cause, nil)
}

// NewMissingDependencyError names the absent tool, model or backend and how to obtain it.
func NewMissingDependencyError(dependency string, hint string) *ExtractionError {
	msg := fmt.Sprintf("missing dependency: %s", dependency)
	if hint != "" {
		msg = fmt.Sprintf("%s (%s)", msg, hint)
	}
	return newError(ErrorMissingDependency, msg, nil, map[string]interface{}{
		"dependency": dependency,
	})
}

func NewPluginError(plugin string, message string, cause error) *ExtractionError {
	return newError(ErrorPlugin, fmt.Sprintf("plugin %q: %s", plugin, message), cause, map[string]interface{}{
		"plugin": plugin,
	})
}

func NewUnsupportedFormatError(mimeType string, supported []string) *ExtractionError {
	msg := fmt.Sprintf("Unsupported file format: %s", mimeType)
	if len(supported) > 0 {
		msg = fmt.Sprintf("%s (supported: %s)", msg, strings.Join(supported, ", "))
	}
	return newError(ErrorUnsupportedFormat, msg, nil, map[string]interface{}{
		"mime_type": mimeType,
	})
}

func NewOtherError(message string, cause error) *ExtractionError {
	return newError(ErrorOther, message, cause, nil)
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ExtractionError {
	return newError(ErrorOther, fmt.Sprintf("Processing timed out after %v", duration), cause, map[string]interface{}{
		"job_id":           jobID,
		"timeout_duration": duration.String(),
	})
}

// KindOf classifies any error into the taxonomy.
func KindOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var ee *ExtractionError
	if stderrors.As(err, &ee) {
		return ee.Code
	}
	if IsIO(err) {
		return ErrorIO
	}
	return ErrorOther
}

// Is reports whether err classifies as code.
func Is(err error, code ErrorCode) bool {
	return err != nil && KindOf(err) == code
}

// IsIO reports whether err is a raw filesystem or stream failure.
func IsIO(err error) bool {
	var pathErr *fs.PathError
	var sysErr *os.SyscallError
	var linkErr *os.LinkError
	switch {
	case stderrors.As(err, &pathErr), stderrors.As(err, &sysErr), stderrors.As(err, &linkErr):
		return true
	case stderrors.Is(err, fs.ErrNotExist), stderrors.Is(err, fs.ErrPermission):
		return true
	case stderrors.Is(err, io.ErrUnexpectedEOF), stderrors.Is(err, io.ErrShortBuffer):
		return true
	}
	return false
}

// Message returns the human message without the code prefix.
func Message(err error) string {
	var ee *ExtractionError
	if stderrors.As(err, &ee) {
		if ee.Cause != nil {
			return fmt.Sprintf("%s: %v", ee.Message, ee.Cause)
		}
		return ee.Message
	}
	return err.Error()
}

// ToMap converts error to map for structured logs and job status records
func (e *ExtractionError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
