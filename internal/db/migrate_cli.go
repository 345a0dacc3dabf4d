package db

import (
	"fmt"
	"log"
	"os"
	"strconv"
)

// RunMigrateCommand dispatches the `migrate` subcommand for cmd/migrate.
func RunMigrateCommand(args []string, dbPath string) {
	if len(args) < 1 {
		PrintMigrateHelp()
		os.Exit(1)
	}

	migrationsFS, err := MigrationsFS()
	if err != nil {
		log.Fatalf("failed to get migrations filesystem: %v", err)
	}

	database, err := OpenDB(dbPath)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer database.Close()

	switch args[0] {
	case "up":
		log.Printf("[migrate] running migrations")
		if err := database.MigrateUp(migrationsFS); err != nil {
			log.Fatalf("migration up failed: %v", err)
		}
		version, dirty, _ := database.MigrateVersion(migrationsFS)
		log.Printf("[migrate] current version: %d (dirty: %v)", version, dirty)

	case "down":
		log.Printf("[migrate] rolling back one migration")
		if err := database.MigrateDown(migrationsFS); err != nil {
			log.Fatalf("migration down failed: %v", err)
		}
		version, dirty, _ := database.MigrateVersion(migrationsFS)
		log.Printf("[migrate] current version: %d (dirty: %v)", version, dirty)

	case "status":
		version, dirty, err := database.MigrateVersion(migrationsFS)
		if err != nil {
			log.Fatalf("failed to get migration status: %v", err)
		}
		fmt.Printf("current version: %d\ndirty: %v\n", version, dirty)

	case "force":
		if len(args) < 2 {
			log.Fatal("usage: migrate force <version>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatalf("invalid version %q: %v", args[1], err)
		}
		if err := database.MigrateForce(migrationsFS, version); err != nil {
			log.Fatalf("force migration failed: %v", err)
		}
		log.Printf("[migrate] forced version to %d", version)

	case "help":
		PrintMigrateHelp()

	default:
		fmt.Printf("unknown migrate action: %s\n\n", args[0])
		PrintMigrateHelp()
		os.Exit(1)
	}
}

// PrintMigrateHelp prints usage for the migrate subcommand.
func PrintMigrateHelp() {
	fmt.Println(`Usage: migrate <action> [args]

Actions:
  up              apply all pending migrations
  down            roll back the most recent migration
  status          show the current migration version
  force <version> set the recorded version without running SQL
  help            show this message`)
}
