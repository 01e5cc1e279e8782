/*
Package factory builds seed datasets for the migration engine.

PURPOSE:
  Produces ready-made books of clients and legacy policy records in the
  shapes the migration cares about: shared policies across clients,
  orphaned client references, records with missing fields, and large
  randomized books for soak-style runs. Tests and the seed command both
  build their fixtures here so the shapes stay consistent.

KEY FEATURES:
  - Deterministic: every builder takes explicit inputs, RandomBook
    takes a seed
  - Self-contained: a Dataset carries the clients its records refer to
    (except the deliberately orphaned ones)
  - Seed() loads a Dataset into any store in one call

USAGE:
  ds := factory.SharedPolicyBook()
  if err := ds.Seed(ctx, store); err != nil {
      log.Fatal(err)
  }

SEE ALSO:
  - migration/types.go: Record and client definitions
  - cmd/policyctl: The seed command
*/
package factory

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/policy-engine/migration"
)

// baseTime anchors every generated record so runs are reproducible.
var baseTime = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

// Dataset is a book of clients plus the legacy records that refer to
// them. Records may reference clients missing from Clients when the
// scenario calls for orphans.
type Dataset struct {
	Clients []migration.Client
	Legacy  []migration.LegacyPolicyRecord
}

// SeedStore is what a Dataset needs to load itself.
type SeedStore interface {
	migration.ClientStore
	migration.LegacyStore
}

// Seed loads the dataset into the store, clients first.
func (d Dataset) Seed(ctx context.Context, store SeedStore) error {
	for _, c := range d.Clients {
		if err := store.CreateClient(ctx, c); err != nil {
			return fmt.Errorf("failed to seed client %s: %w", c.ID, err)
		}
	}
	for _, rec := range d.Legacy {
		if err := store.CreateLegacyPolicy(ctx, rec); err != nil {
			return fmt.Errorf("failed to seed legacy policy %s: %w", rec.ID, err)
		}
	}
	return nil
}

// =============================================================================
// BUILDING BLOCKS
// =============================================================================

// NewClient builds a client with a derived email.
func NewClient(id migration.ClientID, name string) migration.Client {
	return migration.Client{
		ID:        id,
		Name:      name,
		Email:     fmt.Sprintf("%s@example.com", id),
		CreatedAt: baseTime,
	}
}

// NewLegacyRecord builds a complete active record. The seq offsets
// created_at so iteration order is stable across builders.
func NewLegacyRecord(seq int, policyNumber, policyType, provider string, clientID migration.ClientID) migration.LegacyPolicyRecord {
	created := baseTime.Add(time.Duration(seq) * time.Minute)
	return migration.LegacyPolicyRecord{
		ID:           migration.LegacyID(fmt.Sprintf("legacy-%04d", seq)),
		PolicyNumber: policyNumber,
		PolicyType:   policyType,
		Provider:     provider,
		Premium:      decimal.NewFromInt(1200),
		Commission:   decimal.NewFromInt(120),
		Status:       migration.StatusActive,
		StartDate:    baseTime.AddDate(0, -6, 0),
		ExpiryDate:   baseTime.AddDate(1, 0, 0),
		ClientID:     clientID,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

// =============================================================================
// SCENARIO BOOKS
// =============================================================================

// SharedPolicyBook models the common agency shape: one group policy
// held by two clients plus an individual policy. Migrating it yields
// two templates and three instances.
func SharedPolicyBook() Dataset {
	alice := NewClient("client-alice", "Alice Moreau")
	bob := NewClient("client-bob", "Bob Tanaka")
	carol := NewClient("client-carol", "Carol Osei")

	return Dataset{
		Clients: []migration.Client{alice, bob, carol},
		Legacy: []migration.LegacyPolicyRecord{
			NewLegacyRecord(1, "POL-1000", "Life", "Axion Mutual", alice.ID),
			NewLegacyRecord(2, "POL-1000", "Life", "Axion Mutual", bob.ID),
			NewLegacyRecord(3, "POL-2000", "Auto", "Northgate", carol.ID),
		},
	}
}

// OrphanedClientBook contains one valid record and one whose client
// does not exist. Validation reports the orphan; migration skips it.
func OrphanedClientBook() Dataset {
	alice := NewClient("client-alice", "Alice Moreau")

	orphan := NewLegacyRecord(2, "POL-3000", "Home", "Northgate", "client-ghost")

	return Dataset{
		Clients: []migration.Client{alice},
		Legacy: []migration.LegacyPolicyRecord{
			NewLegacyRecord(1, "POL-1000", "Life", "Axion Mutual", alice.ID),
			orphan,
		},
	}
}

// MessyBook mixes every defect validation knows about: missing
// required fields, an orphaned client, a negative premium, and a
// future start date, alongside two clean records.
func MessyBook() Dataset {
	alice := NewClient("client-alice", "Alice Moreau")
	bob := NewClient("client-bob", "Bob Tanaka")

	missing := NewLegacyRecord(3, "", "", "Axion Mutual", alice.ID)

	negative := NewLegacyRecord(4, "POL-4000", "Auto", "Northgate", bob.ID)
	negative.Premium = decimal.NewFromInt(-50)

	future := NewLegacyRecord(5, "POL-5000", "Home", "Northgate", alice.ID)
	future.StartDate = time.Now().UTC().AddDate(0, 1, 0)

	orphan := NewLegacyRecord(6, "POL-6000", "Life", "Axion Mutual", "client-ghost")

	return Dataset{
		Clients: []migration.Client{alice, bob},
		Legacy: []migration.LegacyPolicyRecord{
			NewLegacyRecord(1, "POL-1000", "Life", "Axion Mutual", alice.ID),
			NewLegacyRecord(2, "POL-2000", "Auto", "Northgate", bob.ID),
			missing,
			negative,
			future,
			orphan,
		},
	}
}

var (
	policyTypes = []string{"Life", "Auto", "Home", "Health", "Travel"}
	providers   = []string{"Axion Mutual", "Northgate", "Pacific Shield", "Meridian Re"}
	statuses    = []migration.PolicyStatus{
		migration.StatusActive,
		migration.StatusLapsed,
		migration.StatusCancelled,
		migration.StatusExpired,
	}
)

// RandomBook generates n valid records over a pool of clients, with
// roughly a third of the records sharing a policy with an earlier one.
// The same seed always produces the same book.
func RandomBook(n int, seed int64) Dataset {
	rng := rand.New(rand.NewSource(seed))

	clientCount := n/3 + 1
	clients := make([]migration.Client, 0, clientCount)
	for i := 0; i < clientCount; i++ {
		id := migration.ClientID("client-" + uuid.NewString())
		clients = append(clients, NewClient(id, fmt.Sprintf("Client %d", i+1)))
	}

	var legacy []migration.LegacyPolicyRecord
	for i := 0; i < n; i++ {
		var rec migration.LegacyPolicyRecord
		if i > 0 && rng.Intn(3) == 0 {
			// Shared policy: reuse an earlier dedup key with a
			// different client.
			prev := legacy[rng.Intn(len(legacy))]
			rec = NewLegacyRecord(i+1, prev.PolicyNumber, prev.PolicyType, prev.Provider,
				clients[rng.Intn(len(clients))].ID)
		} else {
			rec = NewLegacyRecord(i+1,
				fmt.Sprintf("POL-%05d", 10000+i),
				policyTypes[rng.Intn(len(policyTypes))],
				providers[rng.Intn(len(providers))],
				clients[rng.Intn(len(clients))].ID)
		}
		rec.Premium = decimal.NewFromInt(int64(500 + rng.Intn(4500)))
		rec.Commission = rec.Premium.Mul(decimal.NewFromFloat(0.1)).Round(2)
		rec.Status = statuses[rng.Intn(len(statuses))]
		legacy = append(legacy, rec)
	}

	return Dataset{Clients: clients, Legacy: legacy}
}
