/*
policyctl - Operator CLI for the policy migration engine

PURPOSE:
  Drives the migration lifecycle end to end from the command line:

    policyctl seed --scenario shared     Load a fixture book
    policyctl validate                   Pre-flight checks, no mutation
    policyctl migrate --dry-run          Predict counts without writing
    policyctl migrate                    Backup + transform + load
    policyctl verify                     Post-migration integrity checks
    policyctl status                     Table counts and backups
    policyctl rollback <backup-id>       Restore the pre-migration state
    policyctl cleanup                    Destroy the legacy table

  Destructive phases (live migrate, rollback, cleanup) print a
  countdown before acting; --yes skips it for scripted runs.

EXIT CODES:
  0  command succeeded
  1  infrastructure fault or the operation reported failure
*/
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/warp/policy-engine/config"
	"github.com/warp/policy-engine/factory"
	"github.com/warp/policy-engine/logging"
	"github.com/warp/policy-engine/migration"
	"github.com/warp/policy-engine/store/sqlite"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

var (
	flagConfig   string
	flagDB       string
	flagLogLevel string
	flagJSON     bool
	flagYes      bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "policyctl",
	Short: "Policyctl - Legacy policy table migration toolkit",
	Long: `Policyctl migrates the legacy denormalized policy table into
normalized policy templates and per-client policy instances.

The intended sequence is validate, migrate --dry-run, migrate, verify,
and only after the new model has proven itself, cleanup. Every live
migration snapshots the legacy table first so rollback can restore it.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("policyctl %s (%s)\n", Version, Commit))

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "policyctl.yaml", "path to the YAML config file")
	pf.StringVar(&flagDB, "db", "", "database path (overrides config)")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	pf.BoolVar(&flagJSON, "json", false, "log as JSON instead of console output")
	pf.BoolVar(&flagYes, "yes", false, "skip the countdown before destructive phases")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(statusCmd)
}

// =============================================================================
// WIRING
// =============================================================================

// app bundles the store and engine components behind one setup call.
type app struct {
	cfg   *config.Config
	store *sqlite.Store
}

func setup() (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDB != "" {
		cfg.Database.Path = flagDB
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}

	logging.Init(logging.Config{
		Level:      logging.Level(cfg.Log.Level),
		JSONOutput: flagJSON || cfg.Log.JSON,
	})

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, store: store}, nil
}

func (a *app) Close() { a.store.Close() }

func (a *app) validator() *migration.Validator {
	return migration.NewValidator(a.store, logging.WithComponent("validator"))
}

func (a *app) backups() *migration.BackupManager {
	return migration.NewBackupManager(a.store, logging.WithComponent("backup"))
}

func (a *app) engine() *migration.Engine {
	return migration.NewEngine(a.store, a.validator(), a.backups(), logging.WithComponent("engine"))
}

// countdown gives the operator a last chance to abort a destructive
// phase. Skipped with --yes.
func countdown(what string) {
	if flagYes {
		return
	}
	fmt.Printf("About to %s. Press Ctrl+C to abort.\n", what)
	for i := 5; i > 0; i-- {
		fmt.Printf("  %d...\n", i)
		time.Sleep(time.Second)
	}
}

func printErrors(label string, errs []string) {
	if len(errs) == 0 {
		return
	}
	fmt.Printf("%s (%d):\n", label, len(errs))
	for _, e := range errs {
		fmt.Printf("  - %s\n", e)
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run pre-migration checks without mutating anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.validator().Validate(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Records:          %d\n", result.TotalRecords)
		fmt.Printf("Unique templates: %d\n", result.UniqueTemplates)
		fmt.Printf("Missing fields:   %d\n", result.MissingFieldCount)
		fmt.Printf("Orphaned records: %d\n", result.OrphanCount)
		printErrors("Errors", result.Errors)
		printErrors("Warnings", result.Warnings)

		if !result.Valid {
			return fmt.Errorf("validation failed")
		}
		fmt.Println("✓ Validation passed")
		return nil
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the legacy policy table",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.backups().Create(cmd.Context())
		if err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("backup failed: %s", result.Error)
		}
		fmt.Printf("✓ Backup created: %s\n", result.BackupID)
		return nil
	},
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List existing backups",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		infos, err := a.backups().List(cmd.Context())
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("No backups found.")
			return nil
		}
		for _, info := range infos {
			created := "unknown time"
			if !info.CreatedAt.IsZero() {
				created = info.CreatedAt.Format(time.RFC3339)
			}
			fmt.Printf("%s  %s  (%d records)\n", info.ID, created, info.RecordCount)
		}
		return nil
	},
}

// registerMigrateFlags declares the migrate tuning flags. Split out so
// option resolution can be tested against a standalone flag set.
func registerMigrateFlags(f *pflag.FlagSet) {
	f.Bool("dry-run", false, "report what would happen without writing")
	f.Int("batch-size", 0, "records per batch (default from config)")
	f.Bool("no-backup", false, "skip the pre-migration backup")
	f.Bool("strict-duplicates", false, "treat existing templates and instances as skips instead of reusing them")
}

// migrateOptions seeds options from the config file, then lets flags
// the operator actually passed win. Untouched flags never clobber a
// config setting.
func migrateOptions(f *pflag.FlagSet, cfg *config.Config) migration.Options {
	opts := migration.Options{
		BatchSize:      cfg.Migration.BatchSize,
		SkipDuplicates: cfg.Migration.SkipDuplicates,
		CreateBackup:   cfg.Migration.CreateBackup,
	}
	opts.DryRun, _ = f.GetBool("dry-run")
	if f.Changed("batch-size") {
		opts.BatchSize, _ = f.GetInt("batch-size")
	}
	if f.Changed("strict-duplicates") {
		strict, _ := f.GetBool("strict-duplicates")
		opts.SkipDuplicates = !strict
	}
	if f.Changed("no-backup") {
		noBackup, _ := f.GetBool("no-backup")
		opts.CreateBackup = !noBackup
	}
	return opts
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Transform the legacy table into templates and instances",
	Long: `Migrate validates, snapshots the legacy table, then walks it in
batches creating policy templates and per-client instances. The legacy
table is left untouched; use cleanup once verify is green.

Run with --dry-run first: it reports the exact counts a live run over
the same data would produce, without writing anything.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		opts := migrateOptions(cmd.Flags(), a.cfg)

		if !opts.DryRun {
			countdown("migrate the legacy policy table")
		}

		result, err := a.engine().Migrate(cmd.Context(), opts)
		if err != nil {
			return err
		}

		mode := "live"
		if result.DryRun {
			mode = "dry-run"
		}
		fmt.Printf("Mode:                 %s\n", mode)
		if result.BackupID != "" {
			fmt.Printf("Backup:               %s\n", result.BackupID)
		}
		fmt.Printf("Templates created:    %d\n", result.TemplatesCreated)
		fmt.Printf("Instances created:    %d\n", result.InstancesCreated)
		fmt.Printf("Policies migrated:    %d\n", result.PoliciesMigrated)
		fmt.Printf("Duplicate templates:  %d\n", result.DuplicateTemplates)
		fmt.Printf("Duplicate instances:  %d\n", result.DuplicateInstances)
		fmt.Printf("Skipped:              %d\n", result.SkippedPolicies)
		printErrors("Errors", result.Errors)

		if !result.Success {
			return fmt.Errorf("migration failed")
		}
		fmt.Println("✓ Migration complete")
		return nil
	},
}

func init() {
	registerMigrateFlags(migrateCmd.Flags())
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run post-migration integrity checks",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := migration.NewVerifier(a.store, logging.WithComponent("verifier")).Verify(cmd.Context())
		if err != nil {
			return err
		}

		for _, check := range report.Checks {
			mark := "✓"
			if !check.Passed {
				mark = "✗"
			}
			fmt.Printf("%s %-22s %s\n", mark, check.Name, check.Details)
		}
		if !report.Success {
			return fmt.Errorf("integrity verification failed")
		}
		fmt.Println("✓ All checks passed")
		return nil
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <backup-id>",
	Short: "Restore the legacy table from a backup and drop migrated data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		countdown(fmt.Sprintf("roll back to %s, deleting all templates and instances", args[0]))

		result, err := migration.NewRollbackController(a.store, logging.WithComponent("rollback")).Rollback(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("rollback failed: %s", result.Error)
		}
		fmt.Printf("✓ Rolled back, %d legacy records restored\n", result.RestoredCount)
		return nil
	},
}

var flagNoFinalBackup bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Destroy the legacy policy table",
	Long: `Cleanup deletes every row from the legacy policy table. Run it only
after verify reports green. A final backup is taken first unless
--no-final-backup is set, so even this phase can be undone.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		countdown("permanently delete the legacy policy table contents")

		opts := migration.CleanupOptions{CreateFinalBackup: !flagNoFinalBackup && a.cfg.Cleanup.CreateFinalBackup}
		result, err := migration.NewCleanupController(a.store, a.backups(), logging.WithComponent("cleanup")).Cleanup(cmd.Context(), opts)
		if err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("cleanup failed: %s", result.Error)
		}
		if result.BackupID != "" {
			fmt.Printf("Final backup: %s\n", result.BackupID)
		}
		fmt.Printf("✓ Deleted %d legacy records\n", result.DeletedCount)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().BoolVar(&flagNoFinalBackup, "no-final-backup", false, "skip the final safety backup")
}

var (
	flagScenario string
	flagCount    int
	flagSeed     int64
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a fixture dataset into the store",
	Long: `Seed loads one of the built-in books of clients and legacy records:

  shared    one group policy held by two clients plus an individual one
  orphaned  a valid record plus one referencing a missing client
  messy     missing fields, orphans, negative amounts, future dates
  random    --count records over a generated client pool, --seed fixed`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		var ds factory.Dataset
		switch strings.ToLower(flagScenario) {
		case "shared":
			ds = factory.SharedPolicyBook()
		case "orphaned":
			ds = factory.OrphanedClientBook()
		case "messy":
			ds = factory.MessyBook()
		case "random":
			ds = factory.RandomBook(flagCount, flagSeed)
		default:
			return fmt.Errorf("unknown scenario %q (use shared, orphaned, messy or random)", flagScenario)
		}

		if err := ds.Seed(cmd.Context(), a.store); err != nil {
			return err
		}
		fmt.Printf("✓ Seeded %d clients and %d legacy records\n", len(ds.Clients), len(ds.Legacy))
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&flagScenario, "scenario", "shared", "which fixture book to load")
	seedCmd.Flags().IntVar(&flagCount, "count", 250, "record count for the random scenario")
	seedCmd.Flags().Int64Var(&flagSeed, "seed", 1, "RNG seed for the random scenario")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show table counts and backups",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		legacy, err := a.store.CountLegacyPolicies(ctx)
		if err != nil {
			return err
		}
		clients, err := a.store.CountClients(ctx)
		if err != nil {
			return err
		}
		templates, err := a.store.CountTemplates(ctx)
		if err != nil {
			return err
		}
		instances, err := a.store.CountInstances(ctx)
		if err != nil {
			return err
		}
		backups, err := a.store.ListBackups(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Legacy policies:  %d\n", legacy)
		fmt.Printf("Clients:          %d\n", clients)
		fmt.Printf("Templates:        %d\n", templates)
		fmt.Printf("Instances:        %d\n", instances)
		fmt.Printf("Backups:          %d\n", len(backups))
		for _, b := range backups {
			fmt.Printf("  %s  (%d records)\n", b.ID, b.RecordCount)
		}
		return nil
	},
}
