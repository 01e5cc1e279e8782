/*
verifier.go - Post-migration integrity checks

PURPOSE:
  Read-only invariant checks against the store after a migration run.
  Violations are reported, never auto-remediated: the operator decides
  between a manual fix and a rollback.

CHECKS:
  count_parity        legacy row count == instance count
  no_orphans          every instance's template and client resolve
  template_uniqueness no two templates share a dedup key
  instance_uniqueness no two instances share (template, client)
  value_sanity        no negative amounts, no future start dates

SEE ALSO:
  - validator.go: The pre-flight counterpart
  - rollback.go: The remedy when a check fails
*/
package migration

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

const verifierScanBatch = 500

// Check names, stable for callers that inspect individual checks.
const (
	CheckCountParity        = "count_parity"
	CheckNoOrphans          = "no_orphans"
	CheckTemplateUniqueness = "template_uniqueness"
	CheckInstanceUniqueness = "instance_uniqueness"
	CheckValueSanity        = "value_sanity"
)

// VerifierStore is the read surface the verifier needs.
type VerifierStore interface {
	LegacyStore
	TemplateStore
	InstanceStore
	StoreAdmin
}

// Verifier runs the post-migration invariant checks.
type Verifier struct {
	store VerifierStore
	log   zerolog.Logger
	now   nowFunc
}

func NewVerifier(store VerifierStore, log zerolog.Logger) *Verifier {
	return &Verifier{store: store, log: log.With().Str("component", "verifier").Logger(), now: defaultNow}
}

// Verify runs every check and ANDs the outcomes. It never mutates the
// store.
func (v *Verifier) Verify(ctx context.Context) (IntegrityReport, error) {
	report := IntegrityReport{}

	checks := []func(context.Context) (IntegrityCheck, error){
		v.checkCountParity,
		v.checkNoOrphans,
		v.checkTemplateUniqueness,
		v.checkInstanceUniqueness,
		v.checkValueSanity,
	}

	report.Success = true
	for _, run := range checks {
		check, err := run(ctx)
		if err != nil {
			return report, err
		}
		report.Checks = append(report.Checks, check)
		if !check.Passed {
			report.Success = false
		}
	}

	v.log.Info().Bool("success", report.Success).Int("checks", len(report.Checks)).Msg("integrity verification complete")
	return report, nil
}

// checkCountParity is meaningful once migration has fully processed all
// records without skips: every legacy pairing maps to one instance.
func (v *Verifier) checkCountParity(ctx context.Context) (IntegrityCheck, error) {
	legacy, err := v.store.CountLegacyPolicies(ctx)
	if err != nil {
		return IntegrityCheck{}, fmt.Errorf("failed to count legacy policies: %w", err)
	}
	instances, err := v.store.CountInstances(ctx)
	if err != nil {
		return IntegrityCheck{}, fmt.Errorf("failed to count instances: %w", err)
	}

	check := IntegrityCheck{Name: CheckCountParity, Passed: legacy == instances}
	if check.Passed {
		check.Details = fmt.Sprintf("%d legacy records, %d instances", legacy, instances)
	} else {
		check.Details = fmt.Sprintf("legacy record count %d != instance count %d", legacy, instances)
	}
	return check, nil
}

func (v *Verifier) checkNoOrphans(ctx context.Context) (IntegrityCheck, error) {
	missingTemplates, missingClients, err := v.store.CountOrphanedInstances(ctx)
	if err != nil {
		return IntegrityCheck{}, fmt.Errorf("failed to count orphaned instances: %w", err)
	}

	check := IntegrityCheck{Name: CheckNoOrphans, Passed: missingTemplates == 0 && missingClients == 0}
	if check.Passed {
		check.Details = "every instance resolves to a template and a client"
	} else {
		check.Details = fmt.Sprintf("%d instances reference a missing template, %d a missing client",
			missingTemplates, missingClients)
	}
	return check, nil
}

func (v *Verifier) checkTemplateUniqueness(ctx context.Context) (IntegrityCheck, error) {
	dups, err := v.store.ListDuplicateTemplateKeys(ctx)
	if err != nil {
		return IntegrityCheck{}, fmt.Errorf("failed to query duplicate template keys: %w", err)
	}

	check := IntegrityCheck{Name: CheckTemplateUniqueness, Passed: len(dups) == 0}
	if check.Passed {
		check.Details = "no two templates share a (number, type, provider) tuple"
	} else {
		check.Details = fmt.Sprintf("%d dedup keys are shared, first: %s (%d templates)",
			len(dups), dups[0].Key, dups[0].Count)
	}
	return check, nil
}

func (v *Verifier) checkInstanceUniqueness(ctx context.Context) (IntegrityCheck, error) {
	dups, err := v.store.ListDuplicateInstanceKeys(ctx)
	if err != nil {
		return IntegrityCheck{}, fmt.Errorf("failed to query duplicate instance keys: %w", err)
	}

	check := IntegrityCheck{Name: CheckInstanceUniqueness, Passed: len(dups) == 0}
	if check.Passed {
		check.Details = "no two instances share (template, client)"
	} else {
		check.Details = fmt.Sprintf("%d (template, client) pairs are shared, first: template %s client %s (%d instances)",
			len(dups), dups[0].TemplateID, dups[0].ClientID, dups[0].Count)
	}
	return check, nil
}

func (v *Verifier) checkValueSanity(ctx context.Context) (IntegrityCheck, error) {
	var negatives, future int
	now := v.now()

	for offset := 0; ; offset += verifierScanBatch {
		batch, err := v.store.ListInstances(ctx, offset, verifierScanBatch)
		if err != nil {
			return IntegrityCheck{}, fmt.Errorf("failed to list instances: %w", err)
		}
		for _, inst := range batch {
			if inst.Premium.IsNegative() || inst.Commission.IsNegative() {
				negatives++
			}
			if inst.StartDate.After(now) {
				future++
			}
		}
		if len(batch) < verifierScanBatch {
			break
		}
	}

	check := IntegrityCheck{Name: CheckValueSanity, Passed: negatives == 0 && future == 0}
	if check.Passed {
		check.Details = "no negative amounts, no future start dates"
	} else {
		check.Details = fmt.Sprintf("%d instances with negative amounts, %d with future start dates", negatives, future)
	}
	return check, nil
}
