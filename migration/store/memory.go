// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/policy-engine/migration"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	legacy    []migration.LegacyPolicyRecord
	clients   map[migration.ClientID]migration.Client
	templates []migration.PolicyTemplate
	instances []migration.PolicyInstance
	backups   map[string][]migration.LegacyPolicyRecord
}

func NewMemory() *Memory {
	return &Memory{
		clients: make(map[migration.ClientID]migration.Client),
		backups: make(map[string][]migration.LegacyPolicyRecord),
	}
}

// =============================================================================
// LEGACY STORE
// =============================================================================

func (m *Memory) CountLegacyPolicies(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.legacy), nil
}

func (m *Memory) ListLegacyPolicies(_ context.Context, offset, limit int) ([]migration.LegacyPolicyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sorted := make([]migration.LegacyPolicyRecord, len(m.legacy))
	copy(sorted, m.legacy)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	if offset >= len(sorted) {
		return nil, nil
	}
	end := offset + limit
	if end > len(sorted) {
		end = len(sorted)
	}
	result := make([]migration.LegacyPolicyRecord, end-offset)
	copy(result, sorted[offset:end])
	return result, nil
}

func (m *Memory) CreateLegacyPolicy(_ context.Context, rec migration.LegacyPolicyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.legacy = append(m.legacy, rec)
	return nil
}

func (m *Memory) DeleteAllLegacyPolicies(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.legacy)
	m.legacy = nil
	return n, nil
}

// =============================================================================
// CLIENT STORE
// =============================================================================

func (m *Memory) ClientExists(_ context.Context, id migration.ClientID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.clients[id]
	return ok, nil
}

func (m *Memory) CountClients(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients), nil
}

func (m *Memory) CreateClient(_ context.Context, c migration.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = c
	return nil
}

// DeleteClient removes a client. Test helper for orphan scenarios.
func (m *Memory) DeleteClient(id migration.ClientID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, id)
}

// =============================================================================
// TEMPLATE STORE
// =============================================================================

func (m *Memory) FindTemplateByKey(_ context.Context, key migration.TemplateKey) (*migration.PolicyTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.templates {
		t := m.templates[i]
		if t.PolicyNumber == key.PolicyNumber && t.PolicyType == key.PolicyType && t.Provider == key.Provider {
			cp := t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) CreateTemplate(_ context.Context, tpl migration.PolicyTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates = append(m.templates, tpl)
	return nil
}

func (m *Memory) CountTemplates(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.templates), nil
}

func (m *Memory) DeleteAllTemplates(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates = nil
	return nil
}

func (m *Memory) ListDuplicateTemplateKeys(_ context.Context) ([]migration.DuplicateTemplateKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[migration.TemplateKey]int)
	for _, t := range m.templates {
		counts[migration.TemplateKey{PolicyNumber: t.PolicyNumber, PolicyType: t.PolicyType, Provider: t.Provider}]++
	}
	var dups []migration.DuplicateTemplateKey
	for key, n := range counts {
		if n > 1 {
			dups = append(dups, migration.DuplicateTemplateKey{Key: key, Count: n})
		}
	}
	return dups, nil
}

// =============================================================================
// INSTANCE STORE
// =============================================================================

func (m *Memory) FindInstance(_ context.Context, templateID migration.TemplateID, clientID migration.ClientID) (*migration.PolicyInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.instances {
		inst := m.instances[i]
		if inst.TemplateID == templateID && inst.ClientID == clientID {
			cp := inst
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) CreateInstance(_ context.Context, inst migration.PolicyInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances = append(m.instances, inst)
	return nil
}

func (m *Memory) CountInstances(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instances), nil
}

func (m *Memory) ListInstances(_ context.Context, offset, limit int) ([]migration.PolicyInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sorted := make([]migration.PolicyInstance, len(m.instances))
	copy(sorted, m.instances)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	if offset >= len(sorted) {
		return nil, nil
	}
	end := offset + limit
	if end > len(sorted) {
		end = len(sorted)
	}
	result := make([]migration.PolicyInstance, end-offset)
	copy(result, sorted[offset:end])
	return result, nil
}

func (m *Memory) DeleteAllInstances(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances = nil
	return nil
}

func (m *Memory) ListDuplicateInstanceKeys(_ context.Context) ([]migration.DuplicateInstanceKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type pair struct {
		tpl    migration.TemplateID
		client migration.ClientID
	}
	counts := make(map[pair]int)
	for _, inst := range m.instances {
		counts[pair{inst.TemplateID, inst.ClientID}]++
	}
	var dups []migration.DuplicateInstanceKey
	for p, n := range counts {
		if n > 1 {
			dups = append(dups, migration.DuplicateInstanceKey{TemplateID: p.tpl, ClientID: p.client, Count: n})
		}
	}
	return dups, nil
}

// =============================================================================
// STORE ADMIN
// =============================================================================

func (m *Memory) SnapshotLegacyPolicies(_ context.Context, backupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !migration.ValidBackupID(backupID) {
		return migration.ErrInvalidBackupID
	}
	if _, ok := m.backups[backupID]; ok {
		return fmt.Errorf("%w: %s", migration.ErrBackupExists, backupID)
	}
	snapshot := make([]migration.LegacyPolicyRecord, len(m.legacy))
	copy(snapshot, m.legacy)
	m.backups[backupID] = snapshot
	return nil
}

func (m *Memory) BackupExists(_ context.Context, backupID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.backups[backupID]
	return ok, nil
}

func (m *Memory) ListBackups(_ context.Context) ([]migration.BackupInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var infos []migration.BackupInfo
	for id, records := range m.backups {
		infos = append(infos, migration.BackupInfo{
			ID:          id,
			CreatedAt:   migration.BackupTime(id),
			RecordCount: len(records),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

func (m *Memory) CountBackupRecords(_ context.Context, backupID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records, ok := m.backups[backupID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", migration.ErrBackupNotFound, backupID)
	}
	return len(records), nil
}

func (m *Memory) RestoreLegacyPolicies(_ context.Context, backupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	records, ok := m.backups[backupID]
	if !ok {
		return fmt.Errorf("%w: %s", migration.ErrBackupNotFound, backupID)
	}
	restored := make([]migration.LegacyPolicyRecord, len(records))
	copy(restored, records)
	m.legacy = append(m.legacy, restored...)
	return nil
}

func (m *Memory) CountOrphanedInstances(_ context.Context) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	templateIDs := make(map[migration.TemplateID]bool, len(m.templates))
	for _, t := range m.templates {
		templateIDs[t.ID] = true
	}

	var missingTemplates, missingClients int
	for _, inst := range m.instances {
		if !templateIDs[inst.TemplateID] {
			missingTemplates++
		}
		if _, ok := m.clients[inst.ClientID]; !ok {
			missingClients++
		}
	}
	return missingTemplates, missingClients, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support, simulated with a
// full snapshot + restore on error.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

func (tm *TxMemory) WithTx(_ context.Context, fn func(migration.Store) error) error {
	snapshot := tm.snapshotState()

	// The view writes straight through; on error the whole state is
	// restored, giving all-or-nothing semantics.
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restoreState(snapshot)
		return err
	}
	return nil
}

type memoryState struct {
	legacy    []migration.LegacyPolicyRecord
	clients   map[migration.ClientID]migration.Client
	templates []migration.PolicyTemplate
	instances []migration.PolicyInstance
	backups   map[string][]migration.LegacyPolicyRecord
}

func (tm *TxMemory) snapshotState() memoryState {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	s := memoryState{
		legacy:    append([]migration.LegacyPolicyRecord(nil), tm.legacy...),
		templates: append([]migration.PolicyTemplate(nil), tm.templates...),
		instances: append([]migration.PolicyInstance(nil), tm.instances...),
		clients:   make(map[migration.ClientID]migration.Client, len(tm.clients)),
		backups:   make(map[string][]migration.LegacyPolicyRecord, len(tm.backups)),
	}
	for k, v := range tm.clients {
		s.clients[k] = v
	}
	for k, v := range tm.backups {
		s.backups[k] = append([]migration.LegacyPolicyRecord(nil), v...)
	}
	return s
}

func (tm *TxMemory) restoreState(s memoryState) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.legacy = s.legacy
	tm.clients = s.clients
	tm.templates = s.templates
	tm.instances = s.instances
	tm.backups = s.backups
}

// txMemoryView is the Store handed to WithTx callbacks. It delegates to
// the parent; isolation comes from the caller-level snapshot.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) CountLegacyPolicies(ctx context.Context) (int, error) {
	return tv.parent.CountLegacyPolicies(ctx)
}

func (tv *txMemoryView) ListLegacyPolicies(ctx context.Context, offset, limit int) ([]migration.LegacyPolicyRecord, error) {
	return tv.parent.ListLegacyPolicies(ctx, offset, limit)
}

func (tv *txMemoryView) CreateLegacyPolicy(ctx context.Context, rec migration.LegacyPolicyRecord) error {
	return tv.parent.CreateLegacyPolicy(ctx, rec)
}

func (tv *txMemoryView) DeleteAllLegacyPolicies(ctx context.Context) (int, error) {
	return tv.parent.DeleteAllLegacyPolicies(ctx)
}

func (tv *txMemoryView) ClientExists(ctx context.Context, id migration.ClientID) (bool, error) {
	return tv.parent.ClientExists(ctx, id)
}

func (tv *txMemoryView) CountClients(ctx context.Context) (int, error) {
	return tv.parent.CountClients(ctx)
}

func (tv *txMemoryView) CreateClient(ctx context.Context, c migration.Client) error {
	return tv.parent.CreateClient(ctx, c)
}

func (tv *txMemoryView) FindTemplateByKey(ctx context.Context, key migration.TemplateKey) (*migration.PolicyTemplate, error) {
	return tv.parent.FindTemplateByKey(ctx, key)
}

func (tv *txMemoryView) CreateTemplate(ctx context.Context, tpl migration.PolicyTemplate) error {
	return tv.parent.CreateTemplate(ctx, tpl)
}

func (tv *txMemoryView) CountTemplates(ctx context.Context) (int, error) {
	return tv.parent.CountTemplates(ctx)
}

func (tv *txMemoryView) DeleteAllTemplates(ctx context.Context) error {
	return tv.parent.DeleteAllTemplates(ctx)
}

func (tv *txMemoryView) ListDuplicateTemplateKeys(ctx context.Context) ([]migration.DuplicateTemplateKey, error) {
	return tv.parent.ListDuplicateTemplateKeys(ctx)
}

func (tv *txMemoryView) FindInstance(ctx context.Context, templateID migration.TemplateID, clientID migration.ClientID) (*migration.PolicyInstance, error) {
	return tv.parent.FindInstance(ctx, templateID, clientID)
}

func (tv *txMemoryView) CreateInstance(ctx context.Context, inst migration.PolicyInstance) error {
	return tv.parent.CreateInstance(ctx, inst)
}

func (tv *txMemoryView) CountInstances(ctx context.Context) (int, error) {
	return tv.parent.CountInstances(ctx)
}

func (tv *txMemoryView) ListInstances(ctx context.Context, offset, limit int) ([]migration.PolicyInstance, error) {
	return tv.parent.ListInstances(ctx, offset, limit)
}

func (tv *txMemoryView) DeleteAllInstances(ctx context.Context) error {
	return tv.parent.DeleteAllInstances(ctx)
}

func (tv *txMemoryView) ListDuplicateInstanceKeys(ctx context.Context) ([]migration.DuplicateInstanceKey, error) {
	return tv.parent.ListDuplicateInstanceKeys(ctx)
}

func (tv *txMemoryView) SnapshotLegacyPolicies(ctx context.Context, backupID string) error {
	return tv.parent.SnapshotLegacyPolicies(ctx, backupID)
}

func (tv *txMemoryView) BackupExists(ctx context.Context, backupID string) (bool, error) {
	return tv.parent.BackupExists(ctx, backupID)
}

func (tv *txMemoryView) ListBackups(ctx context.Context) ([]migration.BackupInfo, error) {
	return tv.parent.ListBackups(ctx)
}

func (tv *txMemoryView) CountBackupRecords(ctx context.Context, backupID string) (int, error) {
	return tv.parent.CountBackupRecords(ctx, backupID)
}

func (tv *txMemoryView) RestoreLegacyPolicies(ctx context.Context, backupID string) error {
	return tv.parent.RestoreLegacyPolicies(ctx, backupID)
}

func (tv *txMemoryView) CountOrphanedInstances(ctx context.Context) (int, int, error) {
	return tv.parent.CountOrphanedInstances(ctx)
}
