// Package rerrors provides the error-kind taxonomy shared by every
// retrieval component: callers branch on Kind, never on string matching.
package rerrors

// Kind classifies an error by how the caller (and the component itself)
// should react to it. Components log and handle everything except
// InvalidInput internally; InvalidInput is the only kind a caller ever sees.
type Kind string

const (
	// KindTransientBackend covers network errors, rate limits, and
	// model-loading stalls in an embedding/generative/rerank backend.
	// Retried with jittered backoff; once the retry budget is spent the
	// component degrades (fallback embedding, unranked list, unenhanced
	// query) and annotates its result instead of failing the caller.
	KindTransientBackend Kind = "transient_backend"

	// KindIndexCorruption is raised when an index fails validation on
	// open (bad header, checksum mismatch, truncated segment). The
	// affected index is rebuilt from the chunk store; searches during
	// rebuild fall back to whichever index is still healthy.
	KindIndexCorruption Kind = "index_corruption"

	// KindCacheIO covers read/write failures against the disk cache
	// tier. Reads are demoted to a miss, writes are dropped; both are
	// logged and never surfaced.
	KindCacheIO Kind = "cache_io"

	// KindPipelineStage is caught at the pipeline boundary: the failing
	// stage's output becomes its input, unchanged.
	KindPipelineStage Kind = "pipeline_stage"

	// KindDeadlineExceeded is not an error to callers — the operation
	// returns whatever partial results it accumulated.
	KindDeadlineExceeded Kind = "deadline_exceeded"

	// KindInvalidInput (empty query, negative limit) is the only kind
	// ever surfaced to the caller of a public facade operation.
	KindInvalidInput Kind = "invalid_input"
)

// Severity mirrors the teacher's classification, kept for logging so
// operators can triage without parsing Kind strings.
type Severity string

const (
	SeverityFatal   Severity = "FATAL"
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

func severityForKind(k Kind) Severity {
	switch k {
	case KindIndexCorruption:
		return SeverityFatal
	case KindTransientBackend, KindCacheIO, KindPipelineStage, KindDeadlineExceeded:
		return SeverityWarning
	case KindInvalidInput:
		return SeverityError
	default:
		return SeverityError
	}
}

// retryable reports whether a kind is worth retrying with backoff before
// degrading. Only transient backend failures qualify.
func retryable(k Kind) bool {
	return k == KindTransientBackend
}
