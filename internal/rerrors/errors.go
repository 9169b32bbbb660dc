package rerrors

import "fmt"

// RetrievalError is the structured error type threaded through the
// retrieval subsystem. Components construct one via New/Wrap so callers
// can branch on Kind without string-matching messages.
type RetrievalError struct {
	// Kind classifies the failure; see kinds.go.
	Kind Kind

	// Component names the subsystem that raised it (e.g. "cache",
	// "pipeline:hybrid_merge", "embed:remote").
	Component string

	// Message is the human-readable description.
	Message string

	// Details carries additional key/value context for logging.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error

	severity  Severity
	retryable bool
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Component, e.Message)
}

func (e *RetrievalError) Unwrap() error {
	return e.Cause
}

// Is enables errors.Is(err, target) to match on Kind rather than identity,
// so callers can write errors.Is(err, rerrors.InvalidInput("", "")).
func (e *RetrievalError) Is(target error) bool {
	t, ok := target.(*RetrievalError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail attaches a key/value pair and returns the error for chaining.
func (e *RetrievalError) WithDetail(key, value string) *RetrievalError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New constructs a RetrievalError of the given kind.
func New(kind Kind, component, message string, cause error) *RetrievalError {
	return &RetrievalError{
		Kind:      kind,
		Component: component,
		Message:   message,
		Cause:     cause,
		severity:  severityForKind(kind),
		retryable: retryable(kind),
	}
}

// Wrap is New with the message taken from the cause.
func Wrap(kind Kind, component string, cause error) *RetrievalError {
	if cause == nil {
		return nil
	}
	return New(kind, component, cause.Error(), cause)
}

// TransientBackend constructs a KindTransientBackend error.
func TransientBackend(component, message string, cause error) *RetrievalError {
	return New(KindTransientBackend, component, message, cause)
}

// IndexCorruption constructs a KindIndexCorruption error.
func IndexCorruption(component, message string, cause error) *RetrievalError {
	return New(KindIndexCorruption, component, message, cause)
}

// CacheIO constructs a KindCacheIO error.
func CacheIO(component, message string, cause error) *RetrievalError {
	return New(KindCacheIO, component, message, cause)
}

// PipelineStage constructs a KindPipelineStage error.
func PipelineStage(component, message string, cause error) *RetrievalError {
	return New(KindPipelineStage, component, message, cause)
}

// InvalidInput constructs the one kind a caller ever observes.
func InvalidInput(component, message string) *RetrievalError {
	return New(KindInvalidInput, component, message, nil)
}

// IsRetryable reports whether err is a RetrievalError worth retrying.
func IsRetryable(err error) bool {
	re, ok := err.(*RetrievalError)
	return ok && re.retryable
}

// IsInvalidInput reports whether err must be surfaced to the caller
// unchanged, per the subsystem's error-handling contract.
func IsInvalidInput(err error) bool {
	re, ok := err.(*RetrievalError)
	return ok && re.Kind == KindInvalidInput
}

// KindOf extracts the Kind from err, or "" if err is not a RetrievalError.
func KindOf(err error) Kind {
	if re, ok := err.(*RetrievalError); ok {
		return re.Kind
	}
	return ""
}
