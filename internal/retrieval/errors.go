package retrieval

import "errors"

// Sentinel errors for retrieval operations.
var (
	// ErrInvalidRequest indicates a malformed retrieve request.
	ErrInvalidRequest = errors.New("invalid retrieve request")

	// ErrUpstream indicates the vector search collaborator failed.
	// There is no fallback: no candidates means nothing to retrieve.
	ErrUpstream = errors.New("vector search failed")

	// ErrUpstreamTimeout indicates the vector search exceeded its deadline.
	ErrUpstreamTimeout = errors.New("vector search timed out")
)
