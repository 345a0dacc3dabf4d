// Command analysis runs the Work Scheduler: it watches AnalysisState for
// neighborhoods that have reached quorum, then runs Detection and
// Clustering against them.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/catalog"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/config"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/db"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/detect"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/httputil"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/scheduler"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/timeutil"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/version"
)

var (
	dbPathFlag = flag.String("db-path", "gmn_fireball_clustering.db", "path to sqlite DB file")
	configFile = flag.String("config", config.DefaultConfigPath, "path to JSON tuning configuration file")
	configDir  = flag.String("config-dir", "config", "directory the tuning config file is anchored under")
	skipSync   = flag.Bool("skip-catalog-sync", false, "skip fetching the station catalog at startup (reuse whatever is already persisted)")
)

func main() {
	flag.Parse()
	log.Printf("gmn-fireball-clustering analysis %s", version.Version)

	tuningCfg, err := config.LoadTuningConfig(*configFile, *configDir)
	if err != nil {
		log.Fatalf("failed to load tuning config: %v", err)
	}

	database, err := db.NewDB(*dbPathFlag)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer database.Close()

	if !*skipSync {
		catalogURL := tuningCfg.GetStationCatalogURL()
		if catalogURL == "" {
			log.Fatal("no station catalog configured: set \"station_catalog_url\" in the tuning config or pass -skip-catalog-sync")
		}
		client := httputil.NewStandardClient(&http.Client{})
		if err := catalog.Sync(client, catalogURL, tuningCfg.GetRadiusKM(), database); err != nil {
			log.Fatalf("failed to sync station catalog: %v", err)
		}
		log.Print("analysis: station catalog synced")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	detectConfig := detect.NewConfig(tuningCfg)
	sched := scheduler.NewScheduler(database, timeutil.RealClock{}, tuningCfg.GetMinCameras(), tuningCfg.GetMinObservers(), detectConfig)
	sched.Start()
	log.Printf("analysis: scheduling (scan period %s, min cameras %.2f, min observers %d)",
		sched.ScanPeriod, sched.MinCameras, sched.MinObservers)

	<-ctx.Done()
	log.Print("analysis: shutting down, draining in-flight work units")
	sched.Stop()
}
