// Package scheduler implements the Work Scheduler (spec.md §4.5): a
// producer that periodically recomputes readiness across station
// neighborhoods, and a consumer that runs Detection and Clustering against
// each ready work unit.
package scheduler

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/cluster"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/db"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/detect"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/model"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/timeutil"
)

// DefaultScanPeriod is the producer's readiness-scan interval (spec.md §4.5).
const DefaultScanPeriod = 10 * time.Second

// unit is one dispatchable group of (station, night) rows: the ingested
// members of a neighborhood at the moment readiness was evaluated.
type unit []model.StationNight

// Scheduler runs the producer/consumer pair described in spec.md §4.5.
type Scheduler struct {
	Store        *db.DB
	Clock        timeutil.Clock
	ScanPeriod   time.Duration
	MinCameras   float64
	MinObservers int
	DetectConfig detect.Config

	queue   chan unit
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewScheduler constructs a Scheduler with spec.md §4.5 defaults.
func NewScheduler(store *db.DB, clock timeutil.Clock, minCameras float64, minObservers int, detectConfig detect.Config) *Scheduler {
	return &Scheduler{
		Store:        store,
		Clock:        clock,
		ScanPeriod:   DefaultScanPeriod,
		MinCameras:   minCameras,
		MinObservers: minObservers,
		DetectConfig: detectConfig,
	}
}

// Start launches the producer and consumer goroutines. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	if s.queue == nil {
		s.queue = make(chan unit, 16)
	}
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(2)
	go s.produce()
	go s.consume()
}

// Stop signals the producer to stop scanning, then waits for the consumer to
// drain any units already enqueued before returning.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) produce() {
	defer s.wg.Done()

	ticker := s.Clock.NewTicker(s.ScanPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			s.scanOnce()
		case <-s.stopCh:
			return
		}
	}
}

// scanOnce recomputes readiness from scratch across every station with a
// precomputed neighborhood, per spec.md §4.5's readiness predicate.
func (s *Scheduler) scanOnce() {
	stations, err := s.Store.Stations()
	if err != nil {
		log.Printf("scheduler: list stations: %v", err)
		return
	}

	ingested, err := s.Store.StationNightsWithStatus(model.StatusIngested)
	if err != nil {
		log.Printf("scheduler: list ingested station-nights: %v", err)
		return
	}
	ingestedByStation := make(map[string]model.StationNight, len(ingested))
	for _, sn := range ingested {
		ingestedByStation[sn.Station] = sn
	}

	emitted := 0
	for _, st := range stations {
		nb, err := s.Store.Neighborhood(st.ID)
		if err != nil {
			log.Printf("scheduler: neighborhood(%s): %v", st.ID, err)
			continue
		}
		if len(nb.Members) == 0 {
			continue
		}

		var ready unit
		for _, member := range nb.Members {
			if sn, ok := ingestedByStation[member]; ok {
				ready = append(ready, sn)
			}
		}

		threshold := int(math.Floor(float64(len(nb.Members)) * s.MinCameras))
		if len(ready) < threshold || len(ready) == 0 {
			continue
		}

		select {
		case s.queue <- ready:
			emitted++
		case <-s.stopCh:
			return
		}
	}

	if emitted > 0 {
		log.Printf("scheduler: emitted %d ready work unit(s)", emitted)
	}
}

func (s *Scheduler) consume() {
	defer s.wg.Done()

	for {
		select {
		case u := <-s.queue:
			s.dispatch(u)
		case <-s.stopCh:
			s.drain()
			return
		}
	}
}

func (s *Scheduler) drain() {
	for {
		select {
		case u := <-s.queue:
			s.dispatch(u)
		default:
			return
		}
	}
}

// dispatch runs the per-(station, night) Detection step for every member of
// a work unit, pools survivors, and invokes the Clusterer, per spec.md
// §4.5's consumer algorithm. A failure on one station is logged and does
// not abort the remaining stations in the unit.
func (s *Scheduler) dispatch(u unit) {
	var pooled []model.Candidate
	stationCoords := map[string]model.Station{}

	for _, sn := range u {
		candidates, err := s.processStationNight(sn)
		if err != nil {
			log.Printf("scheduler: %s: %v", sn, err)
			continue
		}
		pooled = append(pooled, candidates...)
	}

	if len(pooled) == 0 {
		return
	}

	allStations, err := s.Store.Stations()
	if err != nil {
		log.Printf("scheduler: list stations: %v", err)
		return
	}
	for _, st := range allStations {
		stationCoords[st.ID] = st
	}

	clusters, err := cluster.ClusterFireballs(pooled, stationCoords, s.MinObservers)
	if err != nil {
		log.Printf("scheduler: cluster: %v", err)
		return
	}
	for _, c := range clusters {
		if _, err := s.Store.InsertCluster(c); err != nil {
			log.Printf("scheduler: insert cluster: %v", err)
		}
	}
}

// processStationNight runs step 1 of spec.md §4.5's consumer algorithm for a
// single (station, night): transition ingested -> processing, run Detection,
// transition to processed. If the state was already processed, previously
// persisted candidates are reused instead of rerunning Detection.
func (s *Scheduler) processStationNight(sn model.StationNight) ([]model.Candidate, error) {
	status, ok, err := s.Store.AnalysisStatus(sn.Station, sn.Night)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	if status == model.StatusProcessed {
		rows, err := s.Store.CandidatesForNight(sn.Night, []string{sn.Station})
		if err != nil {
			return nil, err
		}
		out := make([]model.Candidate, len(rows))
		for i, r := range rows {
			out[i] = model.Candidate{ID: r.ID, Station: r.Station, Start: r.Start, End: r.End}
		}
		return out, nil
	}

	if ok, err := s.Store.AdvanceAnalysisStatus(sn.Station, sn.Night, model.StatusProcessing); err != nil {
		return nil, err
	} else if !ok {
		return nil, nil
	}

	samples, err := s.Store.Fieldsums(sn.Station, sn.Night)
	if err != nil {
		return nil, err
	}
	sidecars, err := s.Store.SidecarTimestamps(sn.Station, sn.Night)
	if err != nil {
		return nil, err
	}

	night := model.RawNight{
		Station:           sn.Station,
		Night:             sn.Night,
		Samples:           samples,
		SidecarTimestamps: sidecars,
	}

	confirmed, err := detect.Run(s.Store, night, s.DetectConfig)
	if err != nil {
		return nil, err
	}

	if _, err := s.Store.AdvanceAnalysisStatus(sn.Station, sn.Night, model.StatusProcessed); err != nil {
		return nil, err
	}

	return confirmed, nil
}
