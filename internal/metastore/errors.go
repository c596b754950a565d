package metastore

import (
	"errors"
	"fmt"
)

// Sentinel errors for metadata store operations.
var (
	// ErrNotFound is returned when a document or requested version does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrAlreadyLocked is returned when an advisory lock is held and not stale.
	ErrAlreadyLocked = errors.New("document already locked")

	// ErrBackendUnavailable indicates the underlying persistence failed.
	ErrBackendUnavailable = errors.New("metadata backend unavailable")
)

// ValidationError reports a malformed write input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on field %q: %s", e.Field, e.Reason)
}

// VersionConflictError reports a failed explicit version check.
//
// It is returned only when the caller supplied an expected version that is
// stale or skips ahead of the current record version. Automatic, server
// assigned versioning never produces this error.
type VersionConflictError struct {
	DocID    string
	Expected int64
	Current  int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected %d, current %d", e.DocID, e.Expected, e.Current)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsVersionConflict reports whether err is a VersionConflictError.
func IsVersionConflict(err error) bool {
	var vc *VersionConflictError
	return errors.As(err, &vc)
}
