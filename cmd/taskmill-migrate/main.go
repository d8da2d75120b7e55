package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/emberhollow/taskmill/pkg/integrity"
	"github.com/emberhollow/taskmill/pkg/migration"
	"github.com/emberhollow/taskmill/pkg/persist"
	"github.com/emberhollow/taskmill/pkg/snapshot"
	"github.com/emberhollow/taskmill/pkg/storage"
	"github.com/emberhollow/taskmill/pkg/types"
)

var (
	dataDir    = flag.String("data-dir", "/var/lib/taskmill", "Taskmill data directory")
	fromVer    = flag.Int64("from", 0, "Schema version to migrate from")
	toVer      = flag.Int64("to", types.CurrentSchemaVersion, "Schema version to migrate to")
	dryRun     = flag.Bool("dry-run", false, "Show the migration plan without making changes")
	backupPath = flag.String("backup", "", "Path to backup the database before migration (default: <data-dir>/taskmill.db.backup)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Taskmill Schema Migration Tool")
	log.Println("==============================")

	dbPath := filepath.Join(*dataDir, "taskmill.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("Database not found at %s", dbPath)
	}

	log.Printf("Database: %s", dbPath)
	log.Printf("Schema: %d -> %d", *fromVer, *toVer)
	log.Printf("Dry run: %v", *dryRun)

	reg := migration.NewRegistry()
	reg.Register(migration.Baseline())

	plan, err := reg.Plan(*fromVer, *toVer)
	if err != nil {
		log.Fatalf("Cannot plan migration: %v", err)
	}
	if len(plan) == 0 {
		log.Println("✓ Nothing to do - queues are already at the target schema")
		return
	}

	log.Printf("Plan (%d steps):", len(plan))
	for i, def := range plan {
		log.Printf("  %d. %s (schema %d -> %d)", i+1, def.ID, def.FromVersion, def.ToVersion)
	}

	// Create backup unless in dry-run mode
	backupFile := *backupPath
	if backupFile == "" {
		backupFile = dbPath + ".backup"
	}
	if !*dryRun {
		log.Printf("Creating backup: %s", backupFile)
		if err := copyFile(dbPath, backupFile); err != nil {
			log.Fatalf("Failed to create backup: %v", err)
		}
		log.Println("✓ Backup created successfully")
	}

	// Open database. Fails fast if a running engine holds the lock.
	store, err := storage.NewBoltStore(*dataDir)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	if *dryRun {
		for _, def := range plan {
			n, err := countAtVersion(ctx, store, def.FromVersion)
			if err != nil {
				log.Fatalf("Failed to scan queues: %v", err)
			}
			log.Printf("[DRY RUN] %s would rewrite %d queue(s) at schema %d", def.ID, n, def.FromVersion)
		}
		log.Println("Dry run completed. No changes made.")
		log.Println("Run without --dry-run to perform the migration.")
		return
	}

	validator := integrity.NewValidator()
	ps := persist.New(store, validator, integrity.NewRepairer(validator))
	ps.SetSnapshotter(snapshot.New(store, ps))
	runner := migration.NewRunner(store, ps)

	results, err := runner.Run(ctx, reg, *fromVer, *toVer)
	for _, res := range results {
		rec := res.Record
		log.Printf("%s (%s): %s, %d queue(s) migrated, %d failed",
			rec.Definition, rec.ID, rec.Status, len(rec.AffectedPlayers), len(res.Failed))
		for player, ferr := range res.Failed {
			log.Printf("  ✗ %s: %v", player, ferr)
		}
	}
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Println("✓ Migration completed successfully!")
	log.Printf("Backup kept at %s; delete it after verifying the migration.", backupFile)
}

// countAtVersion mirrors the runner's selection: queues whose stored
// record still carries the given schema version.
func countAtVersion(ctx context.Context, store storage.Store, schemaVersion int64) (int, error) {
	count := 0
	err := store.Scan(ctx, storage.KeyspaceQueues, func(item *storage.Item) error {
		var q types.TaskQueue
		if err := json.Unmarshal(item.Blob, &q); err != nil {
			log.Printf("⚠ Warning: skipping undecodable queue %s: %v", item.Key, err)
			return nil
		}
		if q.SchemaVersion == schemaVersion {
			count++
		}
		return nil
	})
	return count, err
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0600)
}
