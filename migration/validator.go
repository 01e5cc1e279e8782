/*
validator.go - Read-only pre-flight data-quality scan

PURPOSE:
  Scans the legacy store without mutation and classifies findings into
  blocking errors (missing required fields, orphaned client refs) and
  advisory warnings (duplicate policy numbers across providers, future
  start dates, negative amounts). Migration refuses to start while any
  blocking error exists.

SEE ALSO:
  - engine.go: Runs Validate before any mutation
  - verifier.go: The post-migration counterpart
*/
package migration

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// validatorScanBatch bounds memory while scanning arbitrarily large
// legacy books. Independent of the engine's configurable batch size.
const validatorScanBatch = 500

// ValidatorStore is the read surface the validator needs.
type ValidatorStore interface {
	LegacyStore
	ClientStore
}

// Validator performs the pre-flight scan.
type Validator struct {
	store ValidatorStore
	log   zerolog.Logger
	now   nowFunc
}

func NewValidator(store ValidatorStore, log zerolog.Logger) *Validator {
	return &Validator{store: store, log: log.With().Str("component", "validator").Logger(), now: defaultNow}
}

// Validate scans every legacy row. The scan is read-only; it never
// mutates the store. An empty dataset is valid with an advisory note.
func (v *Validator) Validate(ctx context.Context) (ValidationResult, error) {
	result := ValidationResult{}

	total, err := v.store.CountLegacyPolicies(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to count legacy policies: %w", err)
	}
	result.TotalRecords = total

	if total == 0 {
		result.Valid = true
		result.Warnings = append(result.Warnings, "nothing to migrate: legacy policy table is empty")
		return result, nil
	}

	// clientSeen memoizes lookups: a book of thousands of rows usually
	// references a few hundred clients.
	clientSeen := map[ClientID]bool{}
	keys := map[TemplateKey]struct{}{}
	keysByNumber := map[string]map[TemplateKey]struct{}{}

	for offset := 0; ; offset += validatorScanBatch {
		batch, err := v.store.ListLegacyPolicies(ctx, offset, validatorScanBatch)
		if err != nil {
			return result, fmt.Errorf("failed to list legacy policies: %w", err)
		}

		for _, rec := range batch {
			if err := v.checkRecord(ctx, rec, clientSeen, &result); err != nil {
				return result, err
			}

			key := KeyOf(rec)
			if key.Complete() {
				keys[key] = struct{}{}
				if keysByNumber[key.PolicyNumber] == nil {
					keysByNumber[key.PolicyNumber] = map[TemplateKey]struct{}{}
				}
				keysByNumber[key.PolicyNumber][key] = struct{}{}
			}
		}

		if len(batch) < validatorScanBatch {
			break
		}
	}

	result.UniqueTemplates = len(keys)

	// Duplicate policy numbers across different (type, provider) tuples
	// are legitimate (the dedup key includes both), but worth flagging.
	var dupNumbers []string
	for number, tuples := range keysByNumber {
		if len(tuples) > 1 {
			dupNumbers = append(dupNumbers, number)
		}
	}
	sort.Strings(dupNumbers)
	for _, number := range dupNumbers {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"policy number %s appears under %d distinct type/provider tuples",
			number, len(keysByNumber[number])))
	}

	result.Valid = len(result.Errors) == 0

	v.log.Info().
		Bool("valid", result.Valid).
		Int("records", result.TotalRecords).
		Int("unique_templates", result.UniqueTemplates).
		Int("errors", len(result.Errors)).
		Int("warnings", len(result.Warnings)).
		Msg("validation complete")

	return result, nil
}

func (v *Validator) checkRecord(ctx context.Context, rec LegacyPolicyRecord, clientSeen map[ClientID]bool, result *ValidationResult) error {
	var missing []string
	if rec.PolicyNumber == "" {
		missing = append(missing, "policyNumber")
	}
	if rec.PolicyType == "" {
		missing = append(missing, "policyType")
	}
	if rec.Provider == "" {
		missing = append(missing, "provider")
	}
	if rec.ClientID == "" {
		missing = append(missing, "clientId")
	}
	if len(missing) > 0 {
		result.MissingFieldCount++
		result.Errors = append(result.Errors, fmt.Sprintf(
			"record %s: missing required fields: %s", rec.ID, strings.Join(missing, ", ")))
	}

	if rec.ClientID != "" {
		exists, ok := clientSeen[rec.ClientID]
		if !ok {
			var err error
			exists, err = v.store.ClientExists(ctx, rec.ClientID)
			if err != nil {
				return fmt.Errorf("failed to resolve client %s: %w", rec.ClientID, err)
			}
			clientSeen[rec.ClientID] = exists
		}
		if !exists {
			result.OrphanCount++
			result.Errors = append(result.Errors, fmt.Sprintf(
				"record %s: client %s not found", rec.ID, rec.ClientID))
		}
	}

	if rec.StartDate.After(v.now()) {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"policy %s: start date %s is in the future", rec.PolicyNumber, rec.StartDate.Format("2006-01-02")))
	}
	if rec.Premium.IsNegative() {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"policy %s: negative premium %s", rec.PolicyNumber, rec.Premium))
	}
	if rec.Commission.IsNegative() {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"policy %s: negative commission %s", rec.PolicyNumber, rec.Commission))
	}

	return nil
}
