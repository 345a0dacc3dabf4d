// Package archive decodes the doubly-nested bzip2 tar archives produced by
// station upload clients into ordered intensity samples and sidecar
// timestamps (spec.md §4.1).
package archive

import (
	"archive/tar"
	"bufio"
	"compress/bzip2"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/model"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/security"
)

// ErrNotFound is returned when the archive file does not exist.
var ErrNotFound = errors.New("archive: file not found")

// ErrCorrupt is returned for any malformed inner archive, unparseable
// filename, or truncated binary payload. Per spec.md §4.1, corruption
// anywhere aborts the whole archive: no partial persistence.
var ErrCorrupt = errors.New("archive: corrupt")

// DefaultFPS is the half-frame sample rate assumed when a filename's FPS is
// not otherwise known.
const DefaultFPS = 25.0

// Result is the decoded content of one uploaded archive.
type Result struct {
	Samples           []model.Sample
	SidecarTimestamps []time.Time
}

// Read opens the outer tar.bz2 at path, validates it lies within uploadRoot,
// and decodes it per spec.md §4.1: one inner `FS*.tar.bz2` archive of binary
// intensity files, plus a set of `FR*` sidecar entries at the outer
// archive's top level.
func Read(path, uploadRoot string, fps float64) (Result, error) {
	if err := security.ValidatePathWithinDirectory(path, uploadRoot); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Result{}, fmt.Errorf("archive: open %s: %w", path, err)
	}
	defer f.Close()

	if fps <= 0 {
		fps = DefaultFPS
	}

	return decodeOuterTar(tar.NewReader(bzip2.NewReader(bufio.NewReader(f))), fps)
}

// decodeOuterTar walks an already bzip2-decompressed outer tar stream. Split
// out from Read so tests can supply the outer archive as a plain
// (uncompressed) tar; compress/bzip2 in the standard library is decode-only.
// Each FS member is still bzip2-decoded here, so a test's FS members must be
// real bzip2 streams.
func decodeOuterTar(outer *tar.Reader, fps float64) (Result, error) {
	var samples []model.Sample
	var sidecars []time.Time

	for {
		hdr, err := outer.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("%w: outer tar: %v", ErrCorrupt, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := baseMemberName(hdr.Name)
		switch {
		case strings.HasPrefix(name, "FS") && strings.HasSuffix(name, ".tar.bz2"):
			inner, err := decodeInnerArchive(outer, fps)
			if err != nil {
				return Result{}, err
			}
			samples = append(samples, inner...)

		case strings.HasPrefix(name, "FR"):
			ts, err := filenameToTime(name)
			if err != nil {
				return Result{}, fmt.Errorf("%w: sidecar %s: %v", ErrCorrupt, name, err)
			}
			sidecars = append(sidecars, ts)
		}
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].Time.Before(samples[j].Time) })

	return Result{Samples: samples, SidecarTimestamps: sidecars}, nil
}

// baseMemberName strips a leading "./" as produced by tar -C when archiving
// a directory's contents (matches local_fetcher.py's "./FS*"/"./FR*" checks).
func baseMemberName(name string) string {
	name = strings.TrimPrefix(name, "./")
	return filepath.Base(name)
}

// decodeInnerArchive decompresses and decodes one FS*.tar.bz2 member, read
// fully from r, into ordered samples.
func decodeInnerArchive(r io.Reader, fps float64) ([]model.Sample, error) {
	return decodeInnerTar(tar.NewReader(bzip2.NewReader(bufio.NewReader(r))), fps)
}

// decodeInnerTar walks an already-decompressed inner tar stream. Each
// member is a binary intensity file whose filename carries the base
// timestamp for its half-frame samples. Split out from decodeInnerArchive
// for the same testability reason as decodeOuterTar.
func decodeInnerTar(inner *tar.Reader, fps float64) ([]model.Sample, error) {
	var samples []model.Sample
	for {
		hdr, err := inner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: inner tar: %v", ErrCorrupt, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := baseMemberName(hdr.Name)
		base, err := filenameToTime(name)
		if err != nil {
			return nil, fmt.Errorf("%w: inner file %s: %v", ErrCorrupt, name, err)
		}

		intensities, err := decodeIntensityFile(inner)
		if err != nil {
			return nil, fmt.Errorf("%w: inner file %s: %v", ErrCorrupt, name, err)
		}

		step := time.Duration(float64(time.Second) / fps)
		for i, v := range intensities {
			samples = append(samples, model.Sample{
				Time:      base.Add(time.Duration(i) * step),
				Intensity: v,
			})
		}
	}
	return samples, nil
}

// decodeIntensityFile parses the little-endian binary intensity format:
// uint16 count, followed by that many uint32 values (fieldsum_handlers.py).
func decodeIntensityFile(r io.Reader) ([]uint32, error) {
	var count uint16
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("reading count: %w", err)
	}

	out := make([]uint32, count)
	if count > 0 {
		if err := binary.Read(r, binary.LittleEndian, &out); err != nil {
			return nil, fmt.Errorf("reading %d intensities: %w", count, err)
		}
	}
	return out, nil
}

// filenameToTime parses the grammar
// FF[_<station>]_<YYYYMMDD>_<HHMMSS>_<MS|US>_<framecount>.<ext>
// into a UTC instant. The "fits" variant carries an extra leading 2-char
// station segment, detected the same way filenameToDatetime() does: by
// checking whether the first underscore-delimited field has length 2.
func filenameToTime(name string) (time.Time, error) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	// Handle the common double extension ".tar.bz2" already stripped by
	// the caller for inner members; for FR files there's typically a
	// single extension or none, so TrimSuffix above is a no-op in that case.
	parts := strings.Split(stem, "_")
	if len(parts) < 2 {
		return time.Time{}, fmt.Errorf("unrecognized filename %q", name)
	}

	if len(parts[0]) == 2 {
		// fits-format variant: leading 2-char station segment before the
		// usual fields, so drop it and re-parse the remainder uniformly.
		parts = parts[1:]
	}

	if len(parts) < 3 {
		return time.Time{}, fmt.Errorf("unrecognized filename %q", name)
	}

	var dateField, timeField, fracField string
	// Fields may be [FF, station?, date, time, frac, framecount] or a
	// shorter [FF, date, time, frac, ...] form; locate date/time/frac by
	// scanning for the 8-digit date segment.
	dateIdx := -1
	for i, p := range parts {
		if len(p) == 8 {
			if _, err := strconv.Atoi(p); err == nil {
				dateIdx = i
				break
			}
		}
	}
	if dateIdx < 0 || dateIdx+2 >= len(parts) {
		return time.Time{}, fmt.Errorf("no date segment in filename %q", name)
	}
	dateField = parts[dateIdx]
	timeField = parts[dateIdx+1]
	fracField = parts[dateIdx+2]

	if len(timeField) != 6 {
		return time.Time{}, fmt.Errorf("malformed time segment %q in %q", timeField, name)
	}

	year, err := strconv.Atoi(dateField[0:4])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed date segment %q: %w", dateField, err)
	}
	month, err := strconv.Atoi(dateField[4:6])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed date segment %q: %w", dateField, err)
	}
	day, err := strconv.Atoi(dateField[6:8])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed date segment %q: %w", dateField, err)
	}
	hour, err := strconv.Atoi(timeField[0:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed time segment %q: %w", timeField, err)
	}
	minute, err := strconv.Atoi(timeField[2:4])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed time segment %q: %w", timeField, err)
	}
	second, err := strconv.Atoi(timeField[4:6])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed time segment %q: %w", timeField, err)
	}

	frac, err := strconv.Atoi(fracField)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed sub-second segment %q: %w", fracField, err)
	}

	// Auto-detect milliseconds vs microseconds from digit count, matching
	// filenameToDatetime(): a 6-digit field is microseconds, otherwise
	// (conventionally 3 digits) it's milliseconds.
	var nanos int
	if len(fracField) == 6 {
		nanos = frac * int(time.Microsecond)
	} else {
		nanos = frac * int(time.Millisecond)
	}

	return time.Date(year, time.Month(month), day, hour, minute, second, nanos, time.UTC), nil
}
