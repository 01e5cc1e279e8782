/*
errors.go - Centralized error types for the migration engine

PURPOSE:
  All error types in one place for consistency and discoverability.

ERROR CATEGORIES:
  1. Validation errors  - Blocking data-quality failures (pre-flight)
  2. Backup errors      - Snapshot creation failures (abort the phase)
  3. Record errors      - Per-record failures (collected, never abort)
  4. Rollback errors    - Failures inside the restore transaction

PROPAGATION POLICY:
  Expected business outcomes (validation failures, backup conflicts,
  integrity violations) are returned inside result structs, never as
  the error return. The error return of every operation is reserved
  for unexpected store/connection faults, which the caller should
  surface and exit non-zero on.

SEE ALSO:
  - engine.go: Collects per-record errors into MigrationResult
  - rollback.go: Wraps transaction failures
*/
package migration

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidationFailed is returned by stores or controllers when a
	// phase is invoked against data that failed pre-flight validation.
	ErrValidationFailed = errors.New("validation failed")

	// ErrBackupExists is returned when a snapshot name collides with an
	// existing snapshot table.
	ErrBackupExists = errors.New("backup already exists")

	// ErrBackupNotFound is returned when a rollback references a
	// snapshot that does not exist.
	ErrBackupNotFound = errors.New("backup not found")

	// ErrInvalidBackupID is returned when a snapshot name is not a
	// valid store identifier. Snapshot names reach raw SQL, so this is
	// checked before any statement is built.
	ErrInvalidBackupID = errors.New("invalid backup id")

	// ErrTxUnsupported is returned when rollback is attempted against a
	// store without transaction support.
	ErrTxUnsupported = errors.New("store does not support transactions")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// BackupError carries the snapshot id that failed.
type BackupError struct {
	BackupID string
	Reason   string
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("backup %s failed: %s", e.BackupID, e.Reason)
}

// RecordError is a per-record migration failure. It is collected into
// MigrationResult.Errors and never aborts the batch or the run.
type RecordError struct {
	PolicyNumber string
	Err          error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("Failed to migrate policy %s: %v", e.PolicyNumber, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }
