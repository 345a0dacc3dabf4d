// Package ingest implements the Ingestion Engine (spec.md §4.2): a
// producer that polls the upload root for new archives, and a consumer
// that decodes and durably persists them exactly once.
package ingest

import (
	"io/fs"
	"log"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/archive"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/db"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/fsutil"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/timeutil"
)

// DefaultPollPeriod is the producer's directory-scan interval (spec.md §4.2).
const DefaultPollPeriod = 5 * time.Second

// archiveNamePattern matches "<STATION>_<YYYYMMDD>_....tar.bz2" basenames,
// per §4.2 step 1's "<STATION>_<YYYYMMDD>_..." grammar.
var archiveNamePattern = regexp.MustCompile(`^([A-Za-z0-9]+)_(\d{8})_.*\.tar\.bz2$`)

// Engine runs the producer/consumer pair described in spec.md §4.2.
type Engine struct {
	FS         fsutil.FileSystem
	Clock      timeutil.Clock
	Store      *db.DB
	UploadRoot string
	PollPeriod time.Duration
	FPS        float64
	QueueSize  int

	queue     chan string
	stopCh    chan struct{}
	wg        sync.WaitGroup
	watermark time.Time
	mu        sync.Mutex
	started   bool
}

// NewEngine constructs an Engine with spec.md §4.2 defaults, ready for
// Start. The watermark is initialized to the process's start time, exactly
// as §4.2 specifies.
func NewEngine(fileSystem fsutil.FileSystem, clock timeutil.Clock, store *db.DB, uploadRoot string, fps float64) *Engine {
	return &Engine{
		FS:         fileSystem,
		Clock:      clock,
		Store:      store,
		UploadRoot: uploadRoot,
		PollPeriod: DefaultPollPeriod,
		FPS:        fps,
		QueueSize:  64,
		watermark:  clock.Now(),
	}
}

// Start launches the producer and consumer goroutines. Idempotent: a second
// call on an already-started Engine is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	if e.queue == nil {
		e.queue = make(chan string, e.QueueSize)
	}
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	e.wg.Add(2)
	go e.produce()
	go e.consume()
}

// Stop signals the producer to stop enqueuing, then waits for the consumer
// to drain in-flight ingestions before returning (spec.md §4.2's stop()).
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	close(e.stopCh)
	e.mu.Unlock()

	e.wg.Wait()
}

// produce periodically walks the upload root, enqueuing new archives whose
// mtime exceeds the watermark, then advances the watermark.
func (e *Engine) produce() {
	defer e.wg.Done()

	ticker := e.Clock.NewTicker(e.PollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			e.scanOnce()
		case <-e.stopCh:
			return
		}
	}
}

// scanOnce performs one pass over the upload root, per spec.md §4.2's
// producer algorithm.
func (e *Engine) scanOnce() {
	e.mu.Lock()
	watermark := e.watermark
	e.mu.Unlock()

	maxSeen := watermark

	err := e.FS.WalkDir(e.UploadRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".tar.bz2") {
			return nil
		}
		rel, relErr := filepath.Rel(e.UploadRoot, path)
		if relErr != nil {
			return nil
		}
		top, _, nested := strings.Cut(filepath.ToSlash(rel), "/")
		inStationDir := nested && isEligibleDir(top)
		if !inStationDir && !strings.EqualFold(filepath.Base(filepath.Dir(path)), "processed") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !info.ModTime().After(watermark) {
			return nil
		}
		if info.ModTime().After(maxSeen) {
			maxSeen = info.ModTime()
		}

		select {
		case e.queue <- path:
		case <-e.stopCh:
		}
		return nil
	})
	if err != nil {
		log.Printf("ingest: scan of %s failed: %v", e.UploadRoot, err)
		return
	}

	e.mu.Lock()
	if maxSeen.After(e.watermark) {
		e.watermark = maxSeen
	}
	e.mu.Unlock()
}

// isEligibleDir reports whether a top-level directory under the upload root
// holds archives the producer picks up: "processed" (any case) or a
// 6-character station code, per spec.md §4.2. scanOnce also picks up
// archives whose parent directory is named "processed", at any depth.
func isEligibleDir(name string) bool {
	if strings.EqualFold(name, "processed") {
		return true
	}
	return len(name) == 6
}

// consume dequeues archive paths and ingests each one (spec.md §4.2's
// consumer algorithm). It blocks until a path or the stop signal arrives;
// after stop is requested it drains the queue before returning.
func (e *Engine) consume() {
	defer e.wg.Done()

	for {
		select {
		case path := <-e.queue:
			e.ingestOne(path)
		case <-e.stopCh:
			e.drain()
			return
		}
	}
}

// drain processes any paths still buffered in the queue after stop is
// requested, so no archive the producer already enqueued is lost.
func (e *Engine) drain() {
	for {
		select {
		case path := <-e.queue:
			e.ingestOne(path)
		default:
			return
		}
	}
}

// ingestOne parses the station/night from the basename, decodes the
// archive, and persists a RawNight row. Any failure is logged and the file
// is dropped on the floor; per spec.md §4.2, the watermark is never rolled
// back, so a failed archive is simply skipped on future scans too (it is
// not re-enqueued once its mtime has fallen below the watermark).
func (e *Engine) ingestOne(path string) {
	runID := uuid.New().String()

	station, night, err := parseArchiveName(filepath.Base(path))
	if err != nil {
		log.Printf("ingest[%s]: %s: %v", runID, path, err)
		return
	}

	_, ok, err := e.Store.AnalysisStatus(station, night)
	if err != nil {
		log.Printf("ingest[%s]: %s: read analysis status: %v", runID, path, err)
		return
	}
	if ok {
		// Already ingested (or further along) for this (station, night):
		// the state row's existence precondition prevents double-ingestion.
		return
	}

	log.Printf("ingest[%s]: %s %s: decoding %s", runID, station, night.Format("2006-01-02"), path)

	result, err := archive.Read(path, e.UploadRoot, e.FPS)
	if err != nil {
		log.Printf("ingest[%s]: %s: decode failed: %v", runID, path, err)
		return
	}

	if err := e.Store.UpsertFieldsums(station, night, result.Samples); err != nil {
		log.Printf("ingest[%s]: %s: persist fieldsums: %v", runID, path, err)
		return
	}
	if err := e.Store.UpsertSidecarTimestamps(station, night, result.SidecarTimestamps); err != nil {
		log.Printf("ingest[%s]: %s: persist sidecar timestamps: %v", runID, path, err)
		return
	}
	// EnsureAnalysisRow creates the row at status "ingested" directly; it is
	// deliberately the last write so a crash mid-ingestion leaves no row
	// claiming data that was never durably written.
	if err := e.Store.EnsureAnalysisRow(station, night); err != nil {
		log.Printf("ingest[%s]: %s: ensure analysis row: %v", runID, path, err)
		return
	}
	log.Printf("ingest[%s]: %s %s: ingested", runID, station, night.Format("2006-01-02"))
}

// parseArchiveName extracts the station code and UTC night from an archive
// basename of the form "<STATION>_<YYYYMMDD>_....tar.bz2" (spec.md §4.2
// step 1).
func parseArchiveName(name string) (station string, night time.Time, err error) {
	m := archiveNamePattern.FindStringSubmatch(name)
	if m == nil {
		return "", time.Time{}, &NameError{Name: name}
	}
	t, parseErr := time.ParseInLocation("20060102", m[2], time.UTC)
	if parseErr != nil {
		return "", time.Time{}, &NameError{Name: name, Cause: parseErr}
	}
	return m[1], t, nil
}

// NameError reports a basename that does not match the expected archive
// naming grammar.
type NameError struct {
	Name  string
	Cause error
}

func (e *NameError) Error() string {
	if e.Cause != nil {
		return "ingest: unrecognized archive name " + e.Name + ": " + e.Cause.Error()
	}
	return "ingest: unrecognized archive name " + e.Name
}

func (e *NameError) Unwrap() error { return e.Cause }
