/*
Package migration provides the policy migration engine.

PURPOSE:
  This package contains the types and algorithms that transform the
  legacy, denormalized policy table (one row per client-policy pairing,
  policy metadata duplicated across clients) into the normalized
  two-entity model: PolicyTemplate (canonical policy definition) and
  PolicyInstance (per-client assignment).

KEY CONCEPTS IN THIS FILE (types.go):
  - LegacyPolicyRecord: Original denormalized per-client policy row
  - PolicyTemplate:     Canonical, deduplicated policy definition
  - PolicyInstance:     Per-client assignment with financial specifics
  - TemplateKey:        Composite dedup key (number, type, provider)
  - Result types:       Structured outcomes for every phase

DESIGN PRINCIPLES:
  1. Legacy data is read-only: validation, migration and verification
     never mutate legacy rows. Only the cleanup phase deletes them.
  2. Precision: premium/commission use decimal.Decimal, never float64.
  3. Type Safety: strong typing for IDs prevents mixing client,
     template and instance identifiers.
  4. Expected business outcomes live in result structs; the error
     return of an operation is reserved for infrastructure faults.

USAGE:
  key := migration.KeyOf(record)
  tpl := migration.PolicyTemplate{
      ID:           migration.NewTemplateID(),
      PolicyNumber: record.PolicyNumber,
      PolicyType:   record.PolicyType,
      Provider:     record.Provider,
  }

SEE ALSO:
  - store.go: Persistence interfaces consumed by the engine
  - engine.go: The batched transform-and-load algorithm
  - verifier.go: Post-migration integrity checks
*/
package migration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type LegacyID string
type ClientID string
type TemplateID string
type InstanceID string

func NewTemplateID() TemplateID { return TemplateID(uuid.NewString()) }
func NewInstanceID() InstanceID { return InstanceID(uuid.NewString()) }

// PolicyStatus is the lifecycle state of a policy pairing.
type PolicyStatus string

const (
	StatusActive    PolicyStatus = "active"
	StatusLapsed    PolicyStatus = "lapsed"
	StatusCancelled PolicyStatus = "cancelled"
	StatusExpired   PolicyStatus = "expired"
)

// =============================================================================
// LEGACY MODEL - One row per (client, policy) pairing
// =============================================================================

// LegacyPolicyRecord is the denormalized source row. Policy metadata
// (number, type, provider) repeats across every client sharing a policy.
type LegacyPolicyRecord struct {
	ID           LegacyID
	PolicyNumber string
	PolicyType   string
	Provider     string
	Premium      decimal.Decimal
	Commission   decimal.Decimal
	Status       PolicyStatus
	StartDate    time.Time
	ExpiryDate   time.Time
	ClientID     ClientID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Client is the owning party of a policy pairing. The engine only ever
// resolves clients; CRUD over clients belongs to the surrounding CRM.
type Client struct {
	ID        ClientID
	Name      string
	Email     string
	CreatedAt time.Time
}

// =============================================================================
// NORMALIZED MODEL - Template (canonical) + Instance (per-client)
// =============================================================================

// PolicyTemplate is created once per unique TemplateKey. Timestamps are
// carried over from the first legacy record that produced the template,
// preserving audit fidelity.
type PolicyTemplate struct {
	ID           TemplateID
	PolicyNumber string
	PolicyType   string
	Provider     string
	Description  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PolicyInstance assigns a template to a client, carrying the financial
// and date specifics from the legacy record.
type PolicyInstance struct {
	ID         InstanceID
	TemplateID TemplateID
	ClientID   ClientID
	Premium    decimal.Decimal
	Commission decimal.Decimal
	Status     PolicyStatus
	StartDate  time.Time
	ExpiryDate time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// =============================================================================
// DEDUP KEY
// =============================================================================

// TemplateKey uniquely identifies one PolicyTemplate. Two legacy rows
// with the same key describe the same underlying policy sold to
// different clients.
type TemplateKey struct {
	PolicyNumber string
	PolicyType   string
	Provider     string
}

// KeyOf extracts the dedup key from a legacy record.
func KeyOf(rec LegacyPolicyRecord) TemplateKey {
	return TemplateKey{
		PolicyNumber: rec.PolicyNumber,
		PolicyType:   rec.PolicyType,
		Provider:     rec.Provider,
	}
}

func (k TemplateKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.PolicyNumber, k.PolicyType, k.Provider)
}

// Complete reports whether all key fields are populated. Records with
// incomplete keys are rejected by the validator before migration.
func (k TemplateKey) Complete() bool {
	return k.PolicyNumber != "" && k.PolicyType != "" && k.Provider != ""
}

// =============================================================================
// AGGREGATION PAYLOADS - Typed group-by results (no generic maps)
// =============================================================================

// DuplicateTemplateKey reports a dedup-key collision among templates.
type DuplicateTemplateKey struct {
	Key   TemplateKey
	Count int
}

// DuplicateInstanceKey reports an (template, client) collision among instances.
type DuplicateInstanceKey struct {
	TemplateID TemplateID
	ClientID   ClientID
	Count      int
}

// =============================================================================
// BACKUP SNAPSHOT
// =============================================================================

// BackupInfo describes one point-in-time snapshot of the legacy table.
// CreatedAt is zero when the id does not carry a canonical timestamp.
type BackupInfo struct {
	ID          string
	CreatedAt   time.Time
	RecordCount int
}

// backupIDPattern: snapshot names are interpolated into raw SQL, so they
// must be valid store identifiers. Leading letter, then letters/digits/
// underscore only.
var backupIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

const backupIDPrefix = "policy_backup_"

// BackupIDFor builds the canonical snapshot name for a point in time.
func BackupIDFor(t time.Time) string {
	return fmt.Sprintf("%s%d", backupIDPrefix, t.UnixMilli())
}

// BackupTime recovers the creation time encoded in a canonical backup
// id. Returns the zero time for ids in any other shape.
func BackupTime(id string) time.Time {
	rest, ok := strings.CutPrefix(id, backupIDPrefix)
	if !ok {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// ValidBackupID reports whether id is safe to use as a store identifier.
func ValidBackupID(id string) bool {
	return backupIDPattern.MatchString(id)
}

// =============================================================================
// RESULT TYPES - Structured outcomes, one per phase
// =============================================================================

// ValidationResult is the outcome of the pre-flight data-quality scan.
// Errors block migration; Warnings are advisory.
type ValidationResult struct {
	Valid             bool
	TotalRecords      int
	UniqueTemplates   int
	MissingFieldCount int
	OrphanCount       int
	Errors            []string
	Warnings          []string
}

// MigrationResult carries the run-scoped counters and the ordered list
// of per-record diagnostics.
//
// Duplicate templates and duplicate instances are counted separately:
// DuplicateTemplates counts distinct dedup keys that already existed in
// the store before the run (one increment per key, at lookup time);
// DuplicateInstances counts records whose instance already existed.
type MigrationResult struct {
	Success            bool
	DryRun             bool
	BackupID           string
	TemplatesCreated   int
	InstancesCreated   int
	PoliciesMigrated   int
	DuplicateTemplates int
	DuplicateInstances int
	SkippedPolicies    int
	Errors             []string
}

// BackupResult is the outcome of a snapshot attempt.
type BackupResult struct {
	Success  bool
	BackupID string
	Error    string
}

// IntegrityCheck is one named post-migration invariant check.
type IntegrityCheck struct {
	Name    string
	Passed  bool
	Details string
}

// IntegrityReport aggregates all checks. Success is the logical AND.
type IntegrityReport struct {
	Success bool
	Checks  []IntegrityCheck
}

// Check returns the named check, or nil if the verifier did not run it.
func (r IntegrityReport) Check(name string) *IntegrityCheck {
	for i := range r.Checks {
		if r.Checks[i].Name == name {
			return &r.Checks[i]
		}
	}
	return nil
}

// RollbackResult is the outcome of a transactional restore.
type RollbackResult struct {
	Success       bool
	RestoredCount int
	Error         string
}

// CleanupResult is the outcome of legacy-table deletion.
type CleanupResult struct {
	Success      bool
	DeletedCount int
	BackupID     string
	Error        string
}
