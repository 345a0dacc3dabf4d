// Package db wraps the pipeline's SQLite store: connection setup, schema
// initialization, and the query/insert helpers used by ingestion, detection,
// clustering, and the scheduler.
package db

import (
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/fs"
	"time"

	_ "modernc.org/sqlite"

	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/model"
)

//go:embed schema.sql
var schemaSQL string

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationsFS returns the embedded migration source, rooted at "migrations".
func MigrationsFS() (fs.FS, error) {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create sub-filesystem for embedded migrations: %w", err)
	}
	return sub, nil
}

// DB wraps a *sql.DB with the pipeline's queries.
type DB struct {
	*sql.DB
}

func applyPragmas(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			return fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	return nil
}

// NewDB opens path, applying WAL pragmas, and initializes a fresh database
// from schema.sql if the stations table is absent. Existing databases are
// left untouched; run `cmd/migrate up` to apply newer migrations to them.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	wrapper := &DB{sqlDB}

	if err := applyPragmas(sqlDB); err != nil {
		return nil, fmt.Errorf("failed to apply PRAGMAs: %w", err)
	}

	initialized, err := wrapper.hasTable("stations")
	if err != nil {
		return nil, fmt.Errorf("failed to check for stations table: %w", err)
	}
	if !initialized {
		if _, err := sqlDB.Exec(schemaSQL); err != nil {
			return nil, fmt.Errorf("failed to initialize database schema: %w", err)
		}

		migrationsFS, err := MigrationsFS()
		if err != nil {
			return nil, err
		}
		latest, err := GetLatestMigrationVersion(migrationsFS)
		if err != nil {
			return nil, fmt.Errorf("failed to get latest migration version: %w", err)
		}
		if err := wrapper.MigrateForce(migrationsFS, int(latest)); err != nil {
			return nil, fmt.Errorf("failed to baseline fresh database at version %d: %w", latest, err)
		}
	}

	return wrapper, nil
}

// OpenDB opens path without running schema initialization. Used by
// cmd/migrate, which manages the schema explicitly via MigrateUp/MigrateDown.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := applyPragmas(sqlDB); err != nil {
		return nil, fmt.Errorf("failed to apply PRAGMAs: %w", err)
	}
	return &DB{sqlDB}, nil
}

func (db *DB) hasTable(name string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type = 'table' AND name = ?
	`, name).Scan(&exists)
	return exists, err
}

// --- stations / radius -----------------------------------------------------

// UpsertStation inserts or replaces a station's catalog entry.
func (db *DB) UpsertStation(s model.Station) error {
	_, err := db.Exec(`
		INSERT INTO stations (station_id, latitude, longitude)
		VALUES (?, ?, ?)
		ON CONFLICT(station_id) DO UPDATE SET latitude = excluded.latitude, longitude = excluded.longitude
	`, s.ID, s.Lat, s.Lon)
	return err
}

// Stations returns every station in the catalog.
func (db *DB) Stations() ([]model.Station, error) {
	rows, err := db.Query(`SELECT station_id, latitude, longitude FROM stations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Station
	for rows.Next() {
		var s model.Station
		if err := rows.Scan(&s.ID, &s.Lat, &s.Lon); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertNeighborhood persists the precomputed neighbor list for a station.
func (db *DB) UpsertNeighborhood(n model.Neighborhood) error {
	membersJSON, err := json.Marshal(n.Members)
	if err != nil {
		return fmt.Errorf("failed to marshal neighborhood members: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO radius (station_id, members)
		VALUES (?, ?)
		ON CONFLICT(station_id) DO UPDATE SET members = excluded.members
	`, n.StationID, string(membersJSON))
	return err
}

// Neighborhood returns the stored neighbor list for a station, or an empty
// Neighborhood if none has been computed yet.
func (db *DB) Neighborhood(stationID string) (model.Neighborhood, error) {
	var membersJSON string
	err := db.QueryRow(`SELECT members FROM radius WHERE station_id = ?`, stationID).Scan(&membersJSON)
	if err == sql.ErrNoRows {
		return model.Neighborhood{StationID: stationID}, nil
	}
	if err != nil {
		return model.Neighborhood{}, err
	}

	var members []string
	if err := json.Unmarshal([]byte(membersJSON), &members); err != nil {
		return model.Neighborhood{}, fmt.Errorf("failed to unmarshal neighborhood members: %w", err)
	}
	return model.Neighborhood{StationID: stationID, Members: members}, nil
}

// --- fieldsums / fr_files ---------------------------------------------------

// encodeTimestamps serializes a []time.Time as a length-prefixed array of
// little-endian unix-nanosecond int64s (DESIGN NOTE: explicit, portable
// encoding in place of the source's language-specific pickling).
func encodeTimestamps(ts []time.Time) []byte {
	buf := make([]byte, 4+8*len(ts))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(ts)))
	for i, t := range ts {
		binary.LittleEndian.PutUint64(buf[4+8*i:], uint64(t.UnixNano()))
	}
	return buf
}

func decodeTimestamps(buf []byte) ([]time.Time, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("timestamp blob too short: %d bytes", len(buf))
	}
	n := binary.LittleEndian.Uint32(buf[0:4])
	want := 4 + 8*int(n)
	if len(buf) != want {
		return nil, fmt.Errorf("timestamp blob length mismatch: have %d bytes, want %d for count %d", len(buf), want, n)
	}
	out := make([]time.Time, n)
	for i := range out {
		nanos := int64(binary.LittleEndian.Uint64(buf[4+8*i:]))
		out[i] = time.Unix(0, nanos).UTC()
	}
	return out, nil
}

// encodeIntensities serializes a []uint32 as a length-prefixed little-endian
// array.
func encodeIntensities(vals []uint32) []byte {
	buf := make([]byte, 4+4*len(vals))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(vals)))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[4+4*i:], v)
	}
	return buf
}

func decodeIntensities(buf []byte) ([]uint32, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("intensity blob too short: %d bytes", len(buf))
	}
	n := binary.LittleEndian.Uint32(buf[0:4])
	want := 4 + 4*int(n)
	if len(buf) != want {
		return nil, fmt.Errorf("intensity blob length mismatch: have %d bytes, want %d for count %d", len(buf), want, n)
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(buf[4+4*i:])
	}
	return out, nil
}

// nightKey renders night as the UTC date key used for fieldsums/fr_files/analysis.
func nightKey(night time.Time) string {
	return night.UTC().Format("2006-01-02")
}

// UpsertFieldsums stores the sample series for a (station, night).
func (db *DB) UpsertFieldsums(station string, night time.Time, samples []model.Sample) error {
	times := make([]time.Time, len(samples))
	intensities := make([]uint32, len(samples))
	for i, s := range samples {
		times[i] = s.Time
		intensities[i] = s.Intensity
	}

	_, err := db.Exec(`
		INSERT INTO fieldsums (station_id, night_date, timestamps, intensities)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(station_id, night_date) DO UPDATE SET timestamps = excluded.timestamps, intensities = excluded.intensities
	`, station, nightKey(night), encodeTimestamps(times), encodeIntensities(intensities))
	return err
}

// Fieldsums loads the sample series for a (station, night).
func (db *DB) Fieldsums(station string, night time.Time) ([]model.Sample, error) {
	var timestampsBlob, intensitiesBlob []byte
	err := db.QueryRow(`
		SELECT timestamps, intensities FROM fieldsums WHERE station_id = ? AND night_date = ?
	`, station, nightKey(night)).Scan(&timestampsBlob, &intensitiesBlob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	times, err := decodeTimestamps(timestampsBlob)
	if err != nil {
		return nil, fmt.Errorf("corrupt fieldsums timestamps for %s@%s: %w", station, nightKey(night), err)
	}
	intensities, err := decodeIntensities(intensitiesBlob)
	if err != nil {
		return nil, fmt.Errorf("corrupt fieldsums intensities for %s@%s: %w", station, nightKey(night), err)
	}
	if len(times) != len(intensities) {
		return nil, fmt.Errorf("fieldsums length mismatch for %s@%s: %d timestamps, %d intensities", station, nightKey(night), len(times), len(intensities))
	}

	samples := make([]model.Sample, len(times))
	for i := range times {
		samples[i] = model.Sample{Time: times[i], Intensity: intensities[i]}
	}
	return samples, nil
}

// UpsertSidecarTimestamps stores the FR sidecar event times for a (station, night).
func (db *DB) UpsertSidecarTimestamps(station string, night time.Time, timestamps []time.Time) error {
	_, err := db.Exec(`
		INSERT INTO fr_files (station_id, night_date, sidecar_timestamps)
		VALUES (?, ?, ?)
		ON CONFLICT(station_id, night_date) DO UPDATE SET sidecar_timestamps = excluded.sidecar_timestamps
	`, station, nightKey(night), encodeTimestamps(timestamps))
	return err
}

// SidecarTimestamps loads the FR sidecar event times for a (station, night).
func (db *DB) SidecarTimestamps(station string, night time.Time) ([]time.Time, error) {
	var blob []byte
	err := db.QueryRow(`
		SELECT sidecar_timestamps FROM fr_files WHERE station_id = ? AND night_date = ?
	`, station, nightKey(night)).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ts, err := decodeTimestamps(blob)
	if err != nil {
		return nil, fmt.Errorf("corrupt fr_files sidecar timestamps for %s@%s: %w", station, nightKey(night), err)
	}
	return ts, nil
}

// --- analysis status ---------------------------------------------------

// EnsureAnalysisRow creates an `ingested` row for (station, night) if absent.
// It never downgrades an existing row's status.
func (db *DB) EnsureAnalysisRow(station string, night time.Time) error {
	_, err := db.Exec(`
		INSERT INTO analysis (station_id, night_date, status)
		VALUES (?, ?, ?)
		ON CONFLICT(station_id, night_date) DO NOTHING
	`, station, nightKey(night), string(model.StatusIngested))
	return err
}

// AnalysisStatus returns the current status for (station, night), and
// whether a row exists at all.
func (db *DB) AnalysisStatus(station string, night time.Time) (model.AnalysisStatus, bool, error) {
	var status string
	err := db.QueryRow(`
		SELECT status FROM analysis WHERE station_id = ? AND night_date = ?
	`, station, nightKey(night)).Scan(&status)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return model.AnalysisStatus(status), true, nil
}

// AdvanceAnalysisStatus moves (station, night) to next iff the current
// status can legally advance to it (model.AnalysisStatus.CanAdvanceTo).
// Returns false, nil if the row does not exist or the transition is illegal;
// callers treat that as "skip, do not advance" per the error-handling design.
func (db *DB) AdvanceAnalysisStatus(station string, night time.Time, next model.AnalysisStatus) (bool, error) {
	cur, ok, err := db.AnalysisStatus(station, night)
	if err != nil {
		return false, err
	}
	if !ok || !cur.CanAdvanceTo(next) {
		return false, nil
	}

	res, err := db.Exec(`
		UPDATE analysis SET status = ? WHERE station_id = ? AND night_date = ? AND status = ?
	`, string(next), station, nightKey(night), string(cur))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// StationsWithStatus returns the set of station IDs whose (station, night)
// row for night matches any of the given statuses.
func (db *DB) StationsWithStatus(night time.Time, statuses ...model.AnalysisStatus) (map[string]bool, error) {
	if len(statuses) == 0 {
		return map[string]bool{}, nil
	}
	placeholders := make([]any, 0, len(statuses)+1)
	placeholders = append(placeholders, nightKey(night))
	q := `SELECT station_id FROM analysis WHERE night_date = ? AND status IN (`
	for i, s := range statuses {
		if i > 0 {
			q += ", "
		}
		q += "?"
		placeholders = append(placeholders, string(s))
	}
	q += ")"

	rows, err := db.Query(q, placeholders...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var station string
		if err := rows.Scan(&station); err != nil {
			return nil, err
		}
		out[station] = true
	}
	return out, rows.Err()
}

// --- fireballs / candidate_fireballs / clusters ------------------------

// StationNightsWithStatus returns every (station, night) pair currently at
// any of the given statuses, across all nights. The Work Scheduler uses this
// to find each station's current ingested night without assuming a shared
// night across a neighborhood.
func (db *DB) StationNightsWithStatus(statuses ...model.AnalysisStatus) ([]model.StationNight, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(statuses))
	q := `SELECT station_id, night_date FROM analysis WHERE status IN (`
	for i, s := range statuses {
		if i > 0 {
			q += ", "
		}
		q += "?"
		args = append(args, string(s))
	}
	q += ")"

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.StationNight
	for rows.Next() {
		var station, nightStr string
		if err := rows.Scan(&station, &nightStr); err != nil {
			return nil, err
		}
		night, err := time.Parse("2006-01-02", nightStr)
		if err != nil {
			return nil, fmt.Errorf("corrupt analysis.night_date %q: %w", nightStr, err)
		}
		out = append(out, model.StationNight{Station: station, Night: night})
	}
	return out, rows.Err()
}

// InsertFireball records a detected transient before sidecar confirmation.
func (db *DB) InsertFireball(station string, start, end time.Time) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO fireballs (station_id, start_time, end_time) VALUES (?, ?, ?)
	`, station, start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// InsertCandidateFireball records a fireball confirmed by sidecar matching.
// id is the fireballs.id this candidate shares, per §6's schema.
func (db *DB) InsertCandidateFireball(id int64, station string, start, end time.Time) error {
	_, err := db.Exec(`
		INSERT INTO candidate_fireballs (id, station_id, start_time, end_time) VALUES (?, ?, ?, ?)
	`, id, station, start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano))
	return err
}

// CandidateFireball is a confirmed per-station candidate as stored.
type CandidateFireball struct {
	ID      int64
	Station string
	Start   time.Time
	End     time.Time
}

// CandidatesForNight returns every candidate_fireballs row for stations in
// ids whose start_time falls on night (UTC date).
func (db *DB) CandidatesForNight(night time.Time, ids []string) ([]CandidateFireball, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+2)
	q := `SELECT id, station_id, start_time, end_time FROM candidate_fireballs WHERE station_id IN (`
	for i, id := range ids {
		if i > 0 {
			q += ", "
		}
		q += "?"
		args = append(args, id)
	}
	q += `) AND substr(start_time, 1, 10) = ?`
	args = append(args, nightKey(night))

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CandidateFireball
	for rows.Next() {
		var c CandidateFireball
		var start, end string
		if err := rows.Scan(&c.ID, &c.Station, &start, &end); err != nil {
			return nil, err
		}
		c.Start, err = time.Parse(time.RFC3339Nano, start)
		if err != nil {
			return nil, fmt.Errorf("corrupt candidate_fireballs.start_time %q: %w", start, err)
		}
		c.End, err = time.Parse(time.RFC3339Nano, end)
		if err != nil {
			return nil, fmt.Errorf("corrupt candidate_fireballs.end_time %q: %w", end, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertCluster records a confirmed multi-station cluster.
func (db *DB) InsertCluster(c model.ConfirmedCluster) (int64, error) {
	stationsJSON, err := json.Marshal(c.Stations)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal cluster station ids: %w", err)
	}
	res, err := db.Exec(`
		INSERT INTO clusters (station_ids, start_time, end_time) VALUES (?, ?, ?)
	`, string(stationsJSON), c.Start.UTC().Format(time.RFC3339Nano), c.End.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
