// Command migrate applies or inspects schema migrations against the
// pipeline's sqlite database, and seeds its station catalog.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"

	_ "modernc.org/sqlite"

	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/catalog"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/config"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/db"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/httputil"
)

var (
	dbPathFlag = flag.String("db-path", "gmn_fireball_clustering.db", "path to sqlite DB file")
	configFile = flag.String("config", config.DefaultConfigPath, "path to JSON tuning configuration file")
	configDir  = flag.String("config-dir", "config", "directory the tuning config file is anchored under")
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		db.PrintMigrateHelp()
		os.Exit(1)
	}

	if args[0] == "seed-stations" {
		runSeedStations()
		return
	}

	log.SetFlags(0)
	db.RunMigrateCommand(args, *dbPathFlag)
}

// runSeedStations fetches the configured station catalog and persists its
// stations and neighborhoods. A fresh database has no rows in "stations"
// until this runs, so the Work Scheduler has nothing to find quorum over.
func runSeedStations() {
	tuningCfg, err := config.LoadTuningConfig(*configFile, *configDir)
	if err != nil {
		log.Fatalf("failed to load tuning config: %v", err)
	}
	catalogURL := tuningCfg.GetStationCatalogURL()
	if catalogURL == "" {
		log.Fatal("no station catalog configured: set \"station_catalog_url\" in the tuning config")
	}

	database, err := db.NewDB(*dbPathFlag)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer database.Close()

	client := httputil.NewStandardClient(&http.Client{})
	if err := catalog.Sync(client, catalogURL, tuningCfg.GetRadiusKM(), database); err != nil {
		log.Fatalf("failed to sync station catalog: %v", err)
	}
	log.Print("migrate: station catalog seeded")
}
