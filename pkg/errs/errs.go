// Package errs defines the error taxonomy shared by the indexing and query paths.
//
// Callers wrap these sentinels with fmt.Errorf("...: %w", ...) and test them with errors.Is.
package errs

import "errors"

var (
	// ErrUnsupportedFileType is returned when a file kind has no extractor.
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrExtractionFailure is returned when a file could not be converted to text.
	ErrExtractionFailure = errors.New("text extraction failed")

	// ErrBlobNotFound is returned when a document's raw file is missing from the blob store.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrEmbeddingProvider is returned when the embedding provider fails or misbehaves.
	ErrEmbeddingProvider = errors.New("embedding provider error")

	// ErrEmptyInput is returned when an index build is attempted with no chunks.
	ErrEmptyInput = errors.New("no chunks to index")

	// ErrIndexNotFound is returned when no index has been persisted for a namespace.
	ErrIndexNotFound = errors.New("index not found")

	// ErrCorruptIndex is returned when a persisted index cannot be decoded or is inconsistent.
	ErrCorruptIndex = errors.New("corrupt index")

	// ErrSynthesis is returned when the language model call fails.
	ErrSynthesis = errors.New("answer synthesis failed")

	// ErrInvalidNamespace is returned for index namespaces that are not safe identifiers.
	ErrInvalidNamespace = errors.New("invalid index namespace")

	// ErrQueueDisabled is returned when an async task is requested but no broker is configured.
	ErrQueueDisabled = errors.New("task queue disabled")

	// ErrLockTimeout is returned when a persist lock could not be acquired in time.
	ErrLockTimeout = errors.New("lock acquisition timed out")
)

// Kind returns a stable machine-readable name for err, or "internal_error".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCorruptIndex):
		return "corrupt_index"
	case errors.Is(err, ErrUnsupportedFileType):
		return "unsupported_file_type"
	case errors.Is(err, ErrExtractionFailure):
		return "extraction_failure"
	case errors.Is(err, ErrBlobNotFound):
		return "blob_not_found"
	case errors.Is(err, ErrEmbeddingProvider):
		return "embedding_provider_error"
	case errors.Is(err, ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, ErrIndexNotFound):
		return "index_not_found"
	case errors.Is(err, ErrSynthesis):
		return "synthesis_error"
	case errors.Is(err, ErrInvalidNamespace):
		return "invalid_namespace"
	case errors.Is(err, ErrQueueDisabled):
		return "queue_disabled"
	case errors.Is(err, ErrLockTimeout):
		return "lock_timeout"
	default:
		return "internal_error"
	}
}

// IsProviderError reports whether err came from an upstream model provider.
// A corrupt persisted index is a storage fault even if its text mentions a provider.
func IsProviderError(err error) bool {
	if errors.Is(err, ErrCorruptIndex) {
		return false
	}
	return errors.Is(err, ErrEmbeddingProvider) || errors.Is(err, ErrSynthesis)
}
