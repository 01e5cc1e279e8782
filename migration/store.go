/*
store.go - Persistence interfaces for the migration engine

PURPOSE:
  Defines the interface between the engine and the relational store.
  Interfaces are narrow on purpose: each component declares only the
  capability it needs, so tests can hand a component exactly the store
  surface it exercises and nothing else.

KEY INTERFACES:
  LegacyStore:   Read access to the denormalized source table
  ClientStore:   Client existence checks (+ create, for fixtures)
  TemplateStore: Canonical template lookup/create + group-by
  InstanceStore: Per-client instance lookup/create + group-by
  StoreAdmin:    The raw-query escape hatch (snapshots, orphan counts)
  Store:         Union of the above
  TxStore:       Store with transactional execution (rollback only)

READ-ONLY CONTRACT:
  The engine treats legacy rows as read-only. CreateLegacyPolicy and
  DeleteAllLegacyPolicies exist for fixtures, cleanup and rollback
  restore; validation, migration and verification never call them.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite (sqlx)
  - migration/store/memory.go: In-memory for testing

SEE ALSO:
  - engine.go: Consumes Store batch-sequentially
  - rollback.go: Requires TxStore
*/
package migration

import "context"

// =============================================================================
// LEGACY STORE - The denormalized source table
// =============================================================================

type LegacyStore interface {
	// CountLegacyPolicies returns the total number of legacy rows.
	CountLegacyPolicies(ctx context.Context) (int, error)

	// ListLegacyPolicies returns up to limit rows starting at offset,
	// ordered by creation time (oldest first, id tie-break). Offset
	// pagination is safe because migration never deletes legacy rows.
	ListLegacyPolicies(ctx context.Context, offset, limit int) ([]LegacyPolicyRecord, error)

	// CreateLegacyPolicy inserts a legacy row. Fixtures and seeding only.
	CreateLegacyPolicy(ctx context.Context, rec LegacyPolicyRecord) error

	// DeleteAllLegacyPolicies removes every legacy row and returns the
	// number deleted. Cleanup and rollback-restore only.
	DeleteAllLegacyPolicies(ctx context.Context) (int, error)
}

// =============================================================================
// CLIENT STORE
// =============================================================================

type ClientStore interface {
	ClientExists(ctx context.Context, id ClientID) (bool, error)
	CountClients(ctx context.Context) (int, error)

	// CreateClient inserts a client. Fixtures and seeding only.
	CreateClient(ctx context.Context, c Client) error
}

// =============================================================================
// TEMPLATE STORE
// =============================================================================

type TemplateStore interface {
	// FindTemplateByKey returns the template with the exact dedup key,
	// or nil when none exists.
	FindTemplateByKey(ctx context.Context, key TemplateKey) (*PolicyTemplate, error)

	CreateTemplate(ctx context.Context, tpl PolicyTemplate) error
	CountTemplates(ctx context.Context) (int, error)
	DeleteAllTemplates(ctx context.Context) error

	// ListDuplicateTemplateKeys returns dedup keys shared by more than
	// one template. Empty when template uniqueness holds.
	ListDuplicateTemplateKeys(ctx context.Context) ([]DuplicateTemplateKey, error)
}

// =============================================================================
// INSTANCE STORE
// =============================================================================

type InstanceStore interface {
	// FindInstance returns the instance keyed by (template, client),
	// or nil when none exists.
	FindInstance(ctx context.Context, templateID TemplateID, clientID ClientID) (*PolicyInstance, error)

	CreateInstance(ctx context.Context, inst PolicyInstance) error
	CountInstances(ctx context.Context) (int, error)

	// ListInstances pages through all instances ordered by id. Used by
	// the integrity verifier's value-sanity scan.
	ListInstances(ctx context.Context, offset, limit int) ([]PolicyInstance, error)

	DeleteAllInstances(ctx context.Context) error

	// ListDuplicateInstanceKeys returns (template, client) pairs shared
	// by more than one instance. Empty when instance uniqueness holds.
	ListDuplicateInstanceKeys(ctx context.Context) ([]DuplicateInstanceKey, error)
}

// =============================================================================
// STORE ADMIN - Raw-query escape hatch
// =============================================================================

// StoreAdmin abstracts the few operations that need raw SQL so the
// engine never couples to a specific query dialect: snapshot-table
// creation/restoration, table-existence checks and orphan counts.
type StoreAdmin interface {
	// SnapshotLegacyPolicies copies the entire legacy table into a new
	// snapshot identified by backupID, as a single atomic statement.
	// It fails without a partial snapshot, including on name collision.
	SnapshotLegacyPolicies(ctx context.Context, backupID string) error

	BackupExists(ctx context.Context, backupID string) (bool, error)
	ListBackups(ctx context.Context) ([]BackupInfo, error)
	CountBackupRecords(ctx context.Context, backupID string) (int, error)

	// RestoreLegacyPolicies re-inserts every row of the snapshot into
	// the legacy table.
	RestoreLegacyPolicies(ctx context.Context, backupID string) error

	// CountOrphanedInstances returns how many instances reference a
	// missing template and how many reference a missing client.
	CountOrphanedInstances(ctx context.Context) (missingTemplates, missingClients int, err error)
}

// =============================================================================
// UNION + TRANSACTIONAL STORE
// =============================================================================

// Store is the full capability set the engine runs against.
type Store interface {
	LegacyStore
	ClientStore
	TemplateStore
	InstanceStore
	StoreAdmin
}

// TxStore adds transactional execution. Rollback is the one fully
// transactional operation in the system: the restore either completes
// entirely or leaves prior state untouched.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error,
	// the transaction is rolled back; otherwise it is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
