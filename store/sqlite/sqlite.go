/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface the migration engine consumes
  (LegacyStore, ClientStore, TemplateStore, InstanceStore, StoreAdmin,
  TxStore) using SQLite via sqlx. In production the same patterns apply
  to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  legacy_policies:      Denormalized source table, one row per
                        client-policy pairing
  clients:              Client records (CRUD owned by the wider CRM)
  policy_templates:     Canonical templates; UNIQUE on the dedup key
  policy_instances:     Per-client assignments; UNIQUE on
                        (policy_template_id, client_id)
  policy_backup_<ms>:   Snapshot tables created atomically with
                        CREATE TABLE ... AS SELECT

INDEXES:
  - idx_legacy_created:            Stable batch iteration order
  - idx_templates_dedup:           Enforces template uniqueness
  - idx_instances_template_client: Enforces instance uniqueness

RAW SQL BOUNDARY:
  Snapshot names are interpolated into DDL because placeholders cannot
  name tables. Every identifier is checked against the backup-id
  pattern before a statement is built; this is the only place raw
  identifiers occur.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so readers don't
  block and crash recovery improves. The engine itself is still
  single-writer.

USAGE:
  store, err := sqlite.New("./data/crm.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := migration.NewEngine(store, validator, backups, logger)

SEE ALSO:
  - migration/store.go: Interface definitions
  - migration/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/policy-engine/migration"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sqlx.DB
	mu sync.RWMutex
	q  queries
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite is single-writer, and ":memory:" databases
	// exist per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: queries{ext: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		created_at TEXT NOT NULL
	);

	-- Denormalized source; destroyed only by cleanup
	CREATE TABLE IF NOT EXISTS legacy_policies (
		id TEXT PRIMARY KEY,
		policy_number TEXT NOT NULL DEFAULT '',
		policy_type TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL DEFAULT '',
		premium_amount TEXT NOT NULL,
		commission_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		start_date TEXT NOT NULL,
		expiry_date TEXT NOT NULL,
		client_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_legacy_created
		ON legacy_policies(created_at, id);
	CREATE INDEX IF NOT EXISTS idx_legacy_client
		ON legacy_policies(client_id);

	CREATE TABLE IF NOT EXISTS policy_templates (
		id TEXT PRIMARY KEY,
		policy_number TEXT NOT NULL,
		policy_type TEXT NOT NULL,
		provider TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_templates_dedup
		ON policy_templates(policy_number, policy_type, provider);

	CREATE TABLE IF NOT EXISTS policy_instances (
		id TEXT PRIMARY KEY,
		policy_template_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		premium_amount TEXT NOT NULL,
		commission_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		start_date TEXT NOT NULL,
		expiry_date TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_instances_template_client
		ON policy_instances(policy_template_id, client_id);
	CREATE INDEX IF NOT EXISTS idx_instances_client
		ON policy_instances(client_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ROW TYPES - sqlx scan targets
// =============================================================================

type legacyRow struct {
	ID           string `db:"id"`
	PolicyNumber string `db:"policy_number"`
	PolicyType   string `db:"policy_type"`
	Provider     string `db:"provider"`
	Premium      string `db:"premium_amount"`
	Commission   string `db:"commission_amount"`
	Status       string `db:"status"`
	StartDate    string `db:"start_date"`
	ExpiryDate   string `db:"expiry_date"`
	ClientID     string `db:"client_id"`
	CreatedAt    string `db:"created_at"`
	UpdatedAt    string `db:"updated_at"`
}

type templateRow struct {
	ID           string `db:"id"`
	PolicyNumber string `db:"policy_number"`
	PolicyType   string `db:"policy_type"`
	Provider     string `db:"provider"`
	Description  string `db:"description"`
	CreatedAt    string `db:"created_at"`
	UpdatedAt    string `db:"updated_at"`
}

type instanceRow struct {
	ID         string `db:"id"`
	TemplateID string `db:"policy_template_id"`
	ClientID   string `db:"client_id"`
	Premium    string `db:"premium_amount"`
	Commission string `db:"commission_amount"`
	Status     string `db:"status"`
	StartDate  string `db:"start_date"`
	ExpiryDate string `db:"expiry_date"`
	CreatedAt  string `db:"created_at"`
	UpdatedAt  string `db:"updated_at"`
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (r legacyRow) toRecord() migration.LegacyPolicyRecord {
	return migration.LegacyPolicyRecord{
		ID:           migration.LegacyID(r.ID),
		PolicyNumber: r.PolicyNumber,
		PolicyType:   r.PolicyType,
		Provider:     r.Provider,
		Premium:      parseDecimal(r.Premium),
		Commission:   parseDecimal(r.Commission),
		Status:       migration.PolicyStatus(r.Status),
		StartDate:    parseTime(r.StartDate),
		ExpiryDate:   parseTime(r.ExpiryDate),
		ClientID:     migration.ClientID(r.ClientID),
		CreatedAt:    parseTime(r.CreatedAt),
		UpdatedAt:    parseTime(r.UpdatedAt),
	}
}

func fromRecord(rec migration.LegacyPolicyRecord) legacyRow {
	return legacyRow{
		ID:           string(rec.ID),
		PolicyNumber: rec.PolicyNumber,
		PolicyType:   rec.PolicyType,
		Provider:     rec.Provider,
		Premium:      rec.Premium.String(),
		Commission:   rec.Commission.String(),
		Status:       string(rec.Status),
		StartDate:    formatTime(rec.StartDate),
		ExpiryDate:   formatTime(rec.ExpiryDate),
		ClientID:     string(rec.ClientID),
		CreatedAt:    formatTime(rec.CreatedAt),
		UpdatedAt:    formatTime(rec.UpdatedAt),
	}
}

func (r templateRow) toTemplate() migration.PolicyTemplate {
	return migration.PolicyTemplate{
		ID:           migration.TemplateID(r.ID),
		PolicyNumber: r.PolicyNumber,
		PolicyType:   r.PolicyType,
		Provider:     r.Provider,
		Description:  r.Description,
		CreatedAt:    parseTime(r.CreatedAt),
		UpdatedAt:    parseTime(r.UpdatedAt),
	}
}

func (r instanceRow) toInstance() migration.PolicyInstance {
	return migration.PolicyInstance{
		ID:         migration.InstanceID(r.ID),
		TemplateID: migration.TemplateID(r.TemplateID),
		ClientID:   migration.ClientID(r.ClientID),
		Premium:    parseDecimal(r.Premium),
		Commission: parseDecimal(r.Commission),
		Status:     migration.PolicyStatus(r.Status),
		StartDate:  parseTime(r.StartDate),
		ExpiryDate: parseTime(r.ExpiryDate),
		CreatedAt:  parseTime(r.CreatedAt),
		UpdatedAt:  parseTime(r.UpdatedAt),
	}
}

// =============================================================================
// QUERIES - Shared between the store and its transactional views
// =============================================================================

// queries holds the SQL against an execution target, which is either
// the database itself or an open transaction.
type queries struct {
	ext sqlx.ExtContext
}

func (q queries) CountLegacyPolicies(ctx context.Context) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, q.ext, &count, "SELECT COUNT(*) FROM legacy_policies")
	return count, err
}

func (q queries) ListLegacyPolicies(ctx context.Context, offset, limit int) ([]migration.LegacyPolicyRecord, error) {
	var rows []legacyRow
	err := sqlx.SelectContext(ctx, q.ext, &rows, `
		SELECT id, policy_number, policy_type, provider, premium_amount, commission_amount,
		       status, start_date, expiry_date, client_id, created_at, updated_at
		FROM legacy_policies
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list legacy policies: %w", err)
	}

	records := make([]migration.LegacyPolicyRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.toRecord())
	}
	return records, nil
}

func (q queries) CreateLegacyPolicy(ctx context.Context, rec migration.LegacyPolicyRecord) error {
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO legacy_policies
		(id, policy_number, policy_type, provider, premium_amount, commission_amount,
		 status, start_date, expiry_date, client_id, created_at, updated_at)
		VALUES (:id, :policy_number, :policy_type, :provider, :premium_amount, :commission_amount,
		        :status, :start_date, :expiry_date, :client_id, :created_at, :updated_at)
	`, fromRecord(rec))
	if err != nil {
		return fmt.Errorf("failed to insert legacy policy %s: %w", rec.ID, err)
	}
	return nil
}

func (q queries) DeleteAllLegacyPolicies(ctx context.Context) (int, error) {
	res, err := q.ext.ExecContext(ctx, "DELETE FROM legacy_policies")
	if err != nil {
		return 0, fmt.Errorf("failed to delete legacy policies: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (q queries) ClientExists(ctx context.Context, id migration.ClientID) (bool, error) {
	var count int
	err := sqlx.GetContext(ctx, q.ext, &count, "SELECT COUNT(*) FROM clients WHERE id = ?", string(id))
	return count > 0, err
}

func (q queries) CountClients(ctx context.Context) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, q.ext, &count, "SELECT COUNT(*) FROM clients")
	return count, err
}

func (q queries) CreateClient(ctx context.Context, c migration.Client) error {
	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO clients (id, name, email, created_at) VALUES (?, ?, ?, ?)
	`, string(c.ID), c.Name, c.Email, formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert client %s: %w", c.ID, err)
	}
	return nil
}

func (q queries) FindTemplateByKey(ctx context.Context, key migration.TemplateKey) (*migration.PolicyTemplate, error) {
	var row templateRow
	err := sqlx.GetContext(ctx, q.ext, &row, `
		SELECT id, policy_number, policy_type, provider, description, created_at, updated_at
		FROM policy_templates
		WHERE policy_number = ? AND policy_type = ? AND provider = ?
	`, key.PolicyNumber, key.PolicyType, key.Provider)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find template %s: %w", key, err)
	}
	tpl := row.toTemplate()
	return &tpl, nil
}

func (q queries) CreateTemplate(ctx context.Context, tpl migration.PolicyTemplate) error {
	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO policy_templates
		(id, policy_number, policy_type, provider, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(tpl.ID), tpl.PolicyNumber, tpl.PolicyType, tpl.Provider, tpl.Description,
		formatTime(tpl.CreatedAt), formatTime(tpl.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert template %s: %w", tpl.ID, err)
	}
	return nil
}

func (q queries) CountTemplates(ctx context.Context) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, q.ext, &count, "SELECT COUNT(*) FROM policy_templates")
	return count, err
}

func (q queries) DeleteAllTemplates(ctx context.Context) error {
	_, err := q.ext.ExecContext(ctx, "DELETE FROM policy_templates")
	return err
}

func (q queries) ListDuplicateTemplateKeys(ctx context.Context) ([]migration.DuplicateTemplateKey, error) {
	var rows []struct {
		PolicyNumber string `db:"policy_number"`
		PolicyType   string `db:"policy_type"`
		Provider     string `db:"provider"`
		Count        int    `db:"n"`
	}
	err := sqlx.SelectContext(ctx, q.ext, &rows, `
		SELECT policy_number, policy_type, provider, COUNT(*) AS n
		FROM policy_templates
		GROUP BY policy_number, policy_type, provider
		HAVING COUNT(*) > 1
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicate template keys: %w", err)
	}

	var dups []migration.DuplicateTemplateKey
	for _, r := range rows {
		dups = append(dups, migration.DuplicateTemplateKey{
			Key:   migration.TemplateKey{PolicyNumber: r.PolicyNumber, PolicyType: r.PolicyType, Provider: r.Provider},
			Count: r.Count,
		})
	}
	return dups, nil
}

func (q queries) FindInstance(ctx context.Context, templateID migration.TemplateID, clientID migration.ClientID) (*migration.PolicyInstance, error) {
	var row instanceRow
	err := sqlx.GetContext(ctx, q.ext, &row, `
		SELECT id, policy_template_id, client_id, premium_amount, commission_amount,
		       status, start_date, expiry_date, created_at, updated_at
		FROM policy_instances
		WHERE policy_template_id = ? AND client_id = ?
	`, string(templateID), string(clientID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find instance: %w", err)
	}
	inst := row.toInstance()
	return &inst, nil
}

func (q queries) CreateInstance(ctx context.Context, inst migration.PolicyInstance) error {
	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO policy_instances
		(id, policy_template_id, client_id, premium_amount, commission_amount,
		 status, start_date, expiry_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(inst.ID), string(inst.TemplateID), string(inst.ClientID),
		inst.Premium.String(), inst.Commission.String(), string(inst.Status),
		formatTime(inst.StartDate), formatTime(inst.ExpiryDate),
		formatTime(inst.CreatedAt), formatTime(inst.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert instance %s: %w", inst.ID, err)
	}
	return nil
}

func (q queries) CountInstances(ctx context.Context) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, q.ext, &count, "SELECT COUNT(*) FROM policy_instances")
	return count, err
}

func (q queries) ListInstances(ctx context.Context, offset, limit int) ([]migration.PolicyInstance, error) {
	var rows []instanceRow
	err := sqlx.SelectContext(ctx, q.ext, &rows, `
		SELECT id, policy_template_id, client_id, premium_amount, commission_amount,
		       status, start_date, expiry_date, created_at, updated_at
		FROM policy_instances
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	instances := make([]migration.PolicyInstance, 0, len(rows))
	for _, r := range rows {
		instances = append(instances, r.toInstance())
	}
	return instances, nil
}

func (q queries) DeleteAllInstances(ctx context.Context) error {
	_, err := q.ext.ExecContext(ctx, "DELETE FROM policy_instances")
	return err
}

func (q queries) ListDuplicateInstanceKeys(ctx context.Context) ([]migration.DuplicateInstanceKey, error) {
	var rows []struct {
		TemplateID string `db:"policy_template_id"`
		ClientID   string `db:"client_id"`
		Count      int    `db:"n"`
	}
	err := sqlx.SelectContext(ctx, q.ext, &rows, `
		SELECT policy_template_id, client_id, COUNT(*) AS n
		FROM policy_instances
		GROUP BY policy_template_id, client_id
		HAVING COUNT(*) > 1
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicate instance keys: %w", err)
	}

	var dups []migration.DuplicateInstanceKey
	for _, r := range rows {
		dups = append(dups, migration.DuplicateInstanceKey{
			TemplateID: migration.TemplateID(r.TemplateID),
			ClientID:   migration.ClientID(r.ClientID),
			Count:      r.Count,
		})
	}
	return dups, nil
}

// =============================================================================
// STORE ADMIN - Snapshot tables and integrity queries
// =============================================================================

// checkIdentifier guards the only place identifiers are interpolated.
func checkIdentifier(backupID string) error {
	if !migration.ValidBackupID(backupID) {
		return fmt.Errorf("%w: %q", migration.ErrInvalidBackupID, backupID)
	}
	return nil
}

func (q queries) SnapshotLegacyPolicies(ctx context.Context, backupID string) error {
	if err := checkIdentifier(backupID); err != nil {
		return err
	}
	exists, err := q.BackupExists(ctx, backupID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", migration.ErrBackupExists, backupID)
	}

	// Single statement: the snapshot table either materializes
	// completely or not at all.
	_, err = q.ext.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE %q AS SELECT * FROM legacy_policies`, backupID))
	if err != nil {
		return fmt.Errorf("failed to snapshot legacy policies into %s: %w", backupID, err)
	}
	return nil
}

func (q queries) BackupExists(ctx context.Context, backupID string) (bool, error) {
	if err := checkIdentifier(backupID); err != nil {
		return false, err
	}
	var count int
	err := sqlx.GetContext(ctx, q.ext, &count,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", backupID)
	return count > 0, err
}

func (q queries) ListBackups(ctx context.Context) ([]migration.BackupInfo, error) {
	var names []string
	err := sqlx.SelectContext(ctx, q.ext, &names, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name LIKE 'policy_backup_%'
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list backup tables: %w", err)
	}

	var infos []migration.BackupInfo
	for _, name := range names {
		count, err := q.CountBackupRecords(ctx, name)
		if err != nil {
			return nil, err
		}
		infos = append(infos, migration.BackupInfo{
			ID:          name,
			CreatedAt:   migration.BackupTime(name),
			RecordCount: count,
		})
	}
	return infos, nil
}

func (q queries) CountBackupRecords(ctx context.Context, backupID string) (int, error) {
	if err := checkIdentifier(backupID); err != nil {
		return 0, err
	}
	var count int
	err := sqlx.GetContext(ctx, q.ext, &count, fmt.Sprintf("SELECT COUNT(*) FROM %q", backupID))
	if err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", backupID, err)
	}
	return count, nil
}

func (q queries) RestoreLegacyPolicies(ctx context.Context, backupID string) error {
	if err := checkIdentifier(backupID); err != nil {
		return err
	}
	_, err := q.ext.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO legacy_policies SELECT * FROM %q", backupID))
	if err != nil {
		return fmt.Errorf("failed to restore from %s: %w", backupID, err)
	}
	return nil
}

func (q queries) CountOrphanedInstances(ctx context.Context) (int, int, error) {
	var missingTemplates int
	err := sqlx.GetContext(ctx, q.ext, &missingTemplates, `
		SELECT COUNT(*) FROM policy_instances i
		LEFT JOIN policy_templates t ON t.id = i.policy_template_id
		WHERE t.id IS NULL
	`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count template orphans: %w", err)
	}

	var missingClients int
	err = sqlx.GetContext(ctx, q.ext, &missingClients, `
		SELECT COUNT(*) FROM policy_instances i
		LEFT JOIN clients c ON c.id = i.client_id
		WHERE c.id IS NULL
	`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count client orphans: %w", err)
	}

	return missingTemplates, missingClients, nil
}

// =============================================================================
// STORE METHODS - Lock, then delegate to the shared queries
// =============================================================================

func (s *Store) CountLegacyPolicies(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.CountLegacyPolicies(ctx)
}

func (s *Store) ListLegacyPolicies(ctx context.Context, offset, limit int) ([]migration.LegacyPolicyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListLegacyPolicies(ctx, offset, limit)
}

func (s *Store) CreateLegacyPolicy(ctx context.Context, rec migration.LegacyPolicyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.CreateLegacyPolicy(ctx, rec)
}

func (s *Store) DeleteAllLegacyPolicies(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.DeleteAllLegacyPolicies(ctx)
}

func (s *Store) ClientExists(ctx context.Context, id migration.ClientID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ClientExists(ctx, id)
}

func (s *Store) CountClients(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.CountClients(ctx)
}

func (s *Store) CreateClient(ctx context.Context, c migration.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.CreateClient(ctx, c)
}

func (s *Store) FindTemplateByKey(ctx context.Context, key migration.TemplateKey) (*migration.PolicyTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.FindTemplateByKey(ctx, key)
}

func (s *Store) CreateTemplate(ctx context.Context, tpl migration.PolicyTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.CreateTemplate(ctx, tpl)
}

func (s *Store) CountTemplates(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.CountTemplates(ctx)
}

func (s *Store) DeleteAllTemplates(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.DeleteAllTemplates(ctx)
}

func (s *Store) ListDuplicateTemplateKeys(ctx context.Context) ([]migration.DuplicateTemplateKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListDuplicateTemplateKeys(ctx)
}

func (s *Store) FindInstance(ctx context.Context, templateID migration.TemplateID, clientID migration.ClientID) (*migration.PolicyInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.FindInstance(ctx, templateID, clientID)
}

func (s *Store) CreateInstance(ctx context.Context, inst migration.PolicyInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.CreateInstance(ctx, inst)
}

func (s *Store) CountInstances(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.CountInstances(ctx)
}

func (s *Store) ListInstances(ctx context.Context, offset, limit int) ([]migration.PolicyInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListInstances(ctx, offset, limit)
}

func (s *Store) DeleteAllInstances(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.DeleteAllInstances(ctx)
}

func (s *Store) ListDuplicateInstanceKeys(ctx context.Context) ([]migration.DuplicateInstanceKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListDuplicateInstanceKeys(ctx)
}

func (s *Store) SnapshotLegacyPolicies(ctx context.Context, backupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SnapshotLegacyPolicies(ctx, backupID)
}

func (s *Store) BackupExists(ctx context.Context, backupID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.BackupExists(ctx, backupID)
}

func (s *Store) ListBackups(ctx context.Context) ([]migration.BackupInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListBackups(ctx)
}

func (s *Store) CountBackupRecords(ctx context.Context, backupID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.CountBackupRecords(ctx, backupID)
}

func (s *Store) RestoreLegacyPolicies(ctx context.Context, backupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.RestoreLegacyPolicies(ctx, backupID)
}

func (s *Store) CountOrphanedInstances(ctx context.Context) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.CountOrphanedInstances(ctx)
}

// =============================================================================
// TRANSACTIONS (migration.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. The Store
// handed to fn runs every statement on the transaction; if fn returns
// an error the transaction is rolled back and the prior state stands.
func (s *Store) WithTx(ctx context.Context, fn func(migration.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{q: queries{ext: tx}}); err != nil {
		return err
	}

	return tx.Commit()
}

// txStore is the Store view handed to WithTx callbacks.
type txStore struct {
	q queries
}

func (ts *txStore) CountLegacyPolicies(ctx context.Context) (int, error) {
	return ts.q.CountLegacyPolicies(ctx)
}

func (ts *txStore) ListLegacyPolicies(ctx context.Context, offset, limit int) ([]migration.LegacyPolicyRecord, error) {
	return ts.q.ListLegacyPolicies(ctx, offset, limit)
}

func (ts *txStore) CreateLegacyPolicy(ctx context.Context, rec migration.LegacyPolicyRecord) error {
	return ts.q.CreateLegacyPolicy(ctx, rec)
}

func (ts *txStore) DeleteAllLegacyPolicies(ctx context.Context) (int, error) {
	return ts.q.DeleteAllLegacyPolicies(ctx)
}

func (ts *txStore) ClientExists(ctx context.Context, id migration.ClientID) (bool, error) {
	return ts.q.ClientExists(ctx, id)
}

func (ts *txStore) CountClients(ctx context.Context) (int, error) {
	return ts.q.CountClients(ctx)
}

func (ts *txStore) CreateClient(ctx context.Context, c migration.Client) error {
	return ts.q.CreateClient(ctx, c)
}

func (ts *txStore) FindTemplateByKey(ctx context.Context, key migration.TemplateKey) (*migration.PolicyTemplate, error) {
	return ts.q.FindTemplateByKey(ctx, key)
}

func (ts *txStore) CreateTemplate(ctx context.Context, tpl migration.PolicyTemplate) error {
	return ts.q.CreateTemplate(ctx, tpl)
}

func (ts *txStore) CountTemplates(ctx context.Context) (int, error) {
	return ts.q.CountTemplates(ctx)
}

func (ts *txStore) DeleteAllTemplates(ctx context.Context) error {
	return ts.q.DeleteAllTemplates(ctx)
}

func (ts *txStore) ListDuplicateTemplateKeys(ctx context.Context) ([]migration.DuplicateTemplateKey, error) {
	return ts.q.ListDuplicateTemplateKeys(ctx)
}

func (ts *txStore) FindInstance(ctx context.Context, templateID migration.TemplateID, clientID migration.ClientID) (*migration.PolicyInstance, error) {
	return ts.q.FindInstance(ctx, templateID, clientID)
}

func (ts *txStore) CreateInstance(ctx context.Context, inst migration.PolicyInstance) error {
	return ts.q.CreateInstance(ctx, inst)
}

func (ts *txStore) CountInstances(ctx context.Context) (int, error) {
	return ts.q.CountInstances(ctx)
}

func (ts *txStore) ListInstances(ctx context.Context, offset, limit int) ([]migration.PolicyInstance, error) {
	return ts.q.ListInstances(ctx, offset, limit)
}

func (ts *txStore) DeleteAllInstances(ctx context.Context) error {
	return ts.q.DeleteAllInstances(ctx)
}

func (ts *txStore) ListDuplicateInstanceKeys(ctx context.Context) ([]migration.DuplicateInstanceKey, error) {
	return ts.q.ListDuplicateInstanceKeys(ctx)
}

func (ts *txStore) SnapshotLegacyPolicies(ctx context.Context, backupID string) error {
	return ts.q.SnapshotLegacyPolicies(ctx, backupID)
}

func (ts *txStore) BackupExists(ctx context.Context, backupID string) (bool, error) {
	return ts.q.BackupExists(ctx, backupID)
}

func (ts *txStore) ListBackups(ctx context.Context) ([]migration.BackupInfo, error) {
	return ts.q.ListBackups(ctx)
}

func (ts *txStore) CountBackupRecords(ctx context.Context, backupID string) (int, error) {
	return ts.q.CountBackupRecords(ctx, backupID)
}

func (ts *txStore) RestoreLegacyPolicies(ctx context.Context, backupID string) error {
	return ts.q.RestoreLegacyPolicies(ctx, backupID)
}

func (ts *txStore) CountOrphanedInstances(ctx context.Context) (int, int, error) {
	return ts.q.CountOrphanedInstances(ctx)
}
