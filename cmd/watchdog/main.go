// Command watchdog runs the Ingestion Engine: it polls an upload root for
// new station archives and durably persists them as RawNight rows.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/config"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/db"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/fsutil"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/ingest"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/timeutil"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/version"
)

var (
	dbPathFlag = flag.String("db-path", "gmn_fireball_clustering.db", "path to sqlite DB file")
	configFile = flag.String("config", config.DefaultConfigPath, "path to JSON tuning configuration file")
	configDir  = flag.String("config-dir", "config", "directory the tuning config file is anchored under")
	uploadRoot = flag.String("upload-root", "", "root directory to poll for station archives (overrides the tuning config's path)")
)

func main() {
	flag.Parse()
	log.Printf("gmn-fireball-clustering watchdog %s", version.Version)

	tuningCfg, err := config.LoadTuningConfig(*configFile, *configDir)
	if err != nil {
		log.Fatalf("failed to load tuning config: %v", err)
	}

	root := *uploadRoot
	if root == "" {
		root = tuningCfg.GetPath()
	}
	if root == "" {
		log.Fatal("no upload root configured: set -upload-root or the tuning config's \"path\"")
	}

	database, err := db.NewDB(*dbPathFlag)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := ingest.NewEngine(fsutil.OSFileSystem{}, timeutil.RealClock{}, database, root, tuningCfg.GetFPS())
	engine.Start()
	log.Printf("watchdog: ingesting from %s (poll period %s)", root, engine.PollPeriod)

	<-ctx.Done()
	log.Print("watchdog: shutting down, draining in-flight archives")
	engine.Stop()
}
