/*
engine.go - The batched transform-and-load algorithm

PURPOSE:
  Transforms the legacy denormalized policy table into the normalized
  template/instance model. This is a one-shot, high-stakes schema
  evolution: the engine validates first, snapshots the source, then
  walks the legacy table in fixed-size batches, deduplicating templates
  through a run-scoped memo map and tolerating per-record failures.

SEQUENCE:
  1. Validate; abort with zero mutation on any blocking error.
  2. Snapshot the legacy table (live runs, unless disabled).
  3. Iterate batches ordered by creation time, oldest first.
  4. Per record: resolve client -> resolve template (memoized) ->
     resolve instance -> count. A bad record is logged and skipped,
     never aborting the batch or the run.

DRY RUN:
  Every decision above runs except persistence: template/instance ids
  are synthesized in memory and counters accumulate exactly as a live
  run over the same input would, so a dry run predicts live counts.

CONCURRENCY:
  Single-writer, batch-sequential. The memo map is process-local; two
  simultaneous runs against one store could double-create templates.
  This is a documented operational constraint, not handled in code.

RE-RUNS:
  Template/instance writes are individually committed, so a terminated
  run can be re-invoked from Validate. With SkipDuplicates (the
  default), already-created templates and instances are detected and
  reused, making re-runs idempotent at the counting level.

SEE ALSO:
  - validator.go: The pre-flight gate
  - backup.go: The snapshot taken before mutation
  - verifier.go: Post-hoc integrity checks
*/
package migration

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// DefaultBatchSize is used when Options.BatchSize is not positive.
const DefaultBatchSize = 100

// Options is the configuration surface of one migration run.
type Options struct {
	DryRun         bool
	BatchSize      int
	SkipDuplicates bool
	CreateBackup   bool
}

// DefaultOptions returns the documented defaults: live run, batches of
// 100, duplicates reused, backup taken.
func DefaultOptions() Options {
	return Options{
		BatchSize:      DefaultBatchSize,
		SkipDuplicates: true,
		CreateBackup:   true,
	}
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	return o
}

// Engine is the migration engine. It composes the validator and backup
// manager and runs against an explicitly injected store handle, scoped
// to one migration run.
type Engine struct {
	store     Store
	validator *Validator
	backups   *BackupManager
	log       zerolog.Logger
}

func NewEngine(store Store, validator *Validator, backups *BackupManager, log zerolog.Logger) *Engine {
	return &Engine{
		store:     store,
		validator: validator,
		backups:   backups,
		log:       log.With().Str("component", "engine").Logger(),
	}
}

// templateRef is a memoized template resolution. One entry per dedup
// key per run, whether the template was created or found pre-existing.
type templateRef struct {
	id TemplateID
}

// instanceKey tracks pairings created within the current run, so a
// repeated pairing resolves the same way in dry and live mode.
type instanceKey struct {
	template TemplateID
	client   ClientID
}

// runState is the mutable per-run bookkeeping shared across batches.
type runState struct {
	memo map[TemplateKey]templateRef
	seen map[instanceKey]bool
}

// Migrate runs the full transform-and-load. The returned error is an
// unexpected infrastructure fault only; every expected outcome,
// including a blocked or partially failed run, lives in the result.
func (e *Engine) Migrate(ctx context.Context, opts Options) (MigrationResult, error) {
	opts = opts.withDefaults()
	result := MigrationResult{DryRun: opts.DryRun}

	validation, err := e.validator.Validate(ctx)
	if err != nil {
		return result, err
	}
	if !validation.Valid {
		result.Errors = append(result.Errors, validation.Errors...)
		e.log.Error().Int("errors", len(validation.Errors)).Msg("migration blocked by validation")
		return result, nil
	}

	if opts.CreateBackup && !opts.DryRun {
		backup, err := e.backups.Create(ctx)
		if err != nil {
			return result, err
		}
		if !backup.Success {
			result.Errors = append(result.Errors, fmt.Sprintf("migration aborted: %s", backup.Error))
			return result, nil
		}
		result.BackupID = backup.BackupID
	}

	// The memo lives for the whole run, not per batch: a template is
	// resolved at most once even though it may back many records.
	run := &runState{
		memo: make(map[TemplateKey]templateRef),
		seen: make(map[instanceKey]bool),
	}

	for offset := 0; ; offset += opts.BatchSize {
		batch, err := e.store.ListLegacyPolicies(ctx, offset, opts.BatchSize)
		if err != nil {
			return result, fmt.Errorf("failed to load batch at offset %d: %w", offset, err)
		}

		for _, rec := range batch {
			migrated, err := e.migrateRecord(ctx, rec, opts, run, &result)
			if err != nil {
				// A single bad record never aborts the run.
				result.Errors = append(result.Errors, (&RecordError{PolicyNumber: rec.PolicyNumber, Err: err}).Error())
				e.log.Warn().Err(err).Str("policy_number", rec.PolicyNumber).Msg("record failed")
				continue
			}
			if migrated {
				result.PoliciesMigrated++
			}
		}

		e.log.Debug().Int("offset", offset).Int("batch", len(batch)).Msg("batch processed")

		if len(batch) < opts.BatchSize {
			break
		}
	}

	// A run that moved at least one record reports success even with
	// per-record errors. The error list travels with the result either
	// way.
	result.Success = len(result.Errors) == 0 || result.PoliciesMigrated > 0

	e.log.Info().
		Bool("success", result.Success).
		Bool("dry_run", result.DryRun).
		Int("templates_created", result.TemplatesCreated).
		Int("instances_created", result.InstancesCreated).
		Int("migrated", result.PoliciesMigrated).
		Int("duplicate_templates", result.DuplicateTemplates).
		Int("duplicate_instances", result.DuplicateInstances).
		Int("skipped", result.SkippedPolicies).
		Int("errors", len(result.Errors)).
		Msg("migration complete")

	return result, nil
}

// migrateRecord processes one legacy record independently of its batch.
// It returns (true, nil) when the record's template and instance were
// created or reused, (false, nil) when the record was skipped for a
// business reason, and a non-nil error for unexpected store faults
// (which the caller collects without aborting).
func (e *Engine) migrateRecord(ctx context.Context, rec LegacyPolicyRecord, opts Options, run *runState, result *MigrationResult) (bool, error) {
	exists, err := e.store.ClientExists(ctx, rec.ClientID)
	if err != nil {
		return false, err
	}
	if !exists {
		result.SkippedPolicies++
		result.Errors = append(result.Errors, fmt.Sprintf("Skipped policy %s: Client not found", rec.PolicyNumber))
		return false, nil
	}

	ref, ok, err := e.resolveTemplate(ctx, rec, opts, run, result)
	if err != nil || !ok {
		return false, err
	}

	return e.resolveInstance(ctx, rec, ref, opts, run, result)
}

func (e *Engine) resolveTemplate(ctx context.Context, rec LegacyPolicyRecord, opts Options, run *runState, result *MigrationResult) (templateRef, bool, error) {
	key := KeyOf(rec)
	if ref, hit := run.memo[key]; hit {
		return ref, true, nil
	}

	existing, err := e.store.FindTemplateByKey(ctx, key)
	if err != nil {
		return templateRef{}, false, err
	}

	if existing != nil {
		if !opts.SkipDuplicates {
			result.SkippedPolicies++
			result.Errors = append(result.Errors, fmt.Sprintf(
				"Skipped policy %s: template %s already exists", rec.PolicyNumber, key))
			return templateRef{}, false, nil
		}
		result.DuplicateTemplates++
		ref := templateRef{id: existing.ID}
		run.memo[key] = ref
		return ref, true, nil
	}

	tpl := PolicyTemplate{
		ID:           NewTemplateID(),
		PolicyNumber: rec.PolicyNumber,
		PolicyType:   rec.PolicyType,
		Provider:     rec.Provider,
		// Original timestamps carry over for audit fidelity.
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if !opts.DryRun {
		if err := e.store.CreateTemplate(ctx, tpl); err != nil {
			return templateRef{}, false, err
		}
	}
	result.TemplatesCreated++
	ref := templateRef{id: tpl.ID}
	run.memo[key] = ref
	return ref, true, nil
}

func (e *Engine) resolveInstance(ctx context.Context, rec LegacyPolicyRecord, ref templateRef, opts Options, run *runState, result *MigrationResult) (bool, error) {
	ik := instanceKey{template: ref.id, client: rec.ClientID}

	duplicate := run.seen[ik]
	if !duplicate {
		existing, err := e.store.FindInstance(ctx, ref.id, rec.ClientID)
		if err != nil {
			return false, err
		}
		duplicate = existing != nil
	}

	if duplicate {
		if !opts.SkipDuplicates {
			result.SkippedPolicies++
			result.Errors = append(result.Errors, fmt.Sprintf(
				"Skipped policy %s: instance already exists for client %s", rec.PolicyNumber, rec.ClientID))
			return false, nil
		}
		result.DuplicateInstances++
		return true, nil
	}

	inst := PolicyInstance{
		ID:         NewInstanceID(),
		TemplateID: ref.id,
		ClientID:   rec.ClientID,
		Premium:    rec.Premium,
		Commission: rec.Commission,
		Status:     rec.Status,
		StartDate:  rec.StartDate,
		ExpiryDate: rec.ExpiryDate,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
	if !opts.DryRun {
		if err := e.store.CreateInstance(ctx, inst); err != nil {
			return false, err
		}
	}
	result.InstancesCreated++
	run.seen[ik] = true
	return true, nil
}
