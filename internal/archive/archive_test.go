package archive

import (
	"archive/tar"
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"testing"
	"time"
)

func writeTarMember(t *testing.T, tw *tar.Writer, name string, body []byte) {
	t.Helper()
	if err := tw.WriteHeader(&tar.Header{
		Name: name,
		Mode: 0644,
		Size: int64(len(body)),
	}); err != nil {
		t.Fatalf("WriteHeader(%s): %v", name, err)
	}
	if _, err := tw.Write(body); err != nil {
		t.Fatalf("Write(%s): %v", name, err)
	}
}

func encodeIntensityFile(values []uint32) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint16(len(values)))
	binary.Write(buf, binary.LittleEndian, values)
	return buf.Bytes()
}

func TestFilenameToTime_Milliseconds(t *testing.T) {
	got, err := filenameToTime("FF_AB1234_20240301_235959_123_004096.bin")
	if err != nil {
		t.Fatalf("filenameToTime: %v", err)
	}
	want := time.Date(2024, 3, 1, 23, 59, 59, 123*int(time.Millisecond), time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestFilenameToTime_Microseconds(t *testing.T) {
	got, err := filenameToTime("FF_AB1234_20240301_000000_123456_004096.bin")
	if err != nil {
		t.Fatalf("filenameToTime: %v", err)
	}
	want := time.Date(2024, 3, 1, 0, 0, 0, 123456*int(time.Microsecond), time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestFilenameToTime_FitsVariant(t *testing.T) {
	// Leading 2-char segment before the usual fields signals the "fits"
	// filename variant (filenameToDatetime's len(file_name[0]) == 2 check).
	got, err := filenameToTime("FF_AB_20240301_120000_500_001000.fits")
	if err != nil {
		t.Fatalf("filenameToTime: %v", err)
	}
	want := time.Date(2024, 3, 1, 12, 0, 0, 500*int(time.Millisecond), time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestFilenameToTime_Malformed(t *testing.T) {
	if _, err := filenameToTime("not_a_valid_name.bin"); err == nil {
		t.Fatal("expected error for malformed filename")
	}
}

func TestDecodeIntensityFile(t *testing.T) {
	want := []uint32{10, 20, 30, 4294967295}
	r := bytes.NewReader(encodeIntensityFile(want))
	got, err := decodeIntensityFile(r)
	if err != nil {
		t.Fatalf("decodeIntensityFile: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d values, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("value %d: got %d want %d", i, got[i], want[i])
		}
	}
}

func TestDecodeIntensityFile_Empty(t *testing.T) {
	r := bytes.NewReader(encodeIntensityFile(nil))
	got, err := decodeIntensityFile(r)
	if err != nil {
		t.Fatalf("decodeIntensityFile: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no values, got %d", len(got))
	}
}

func TestDecodeIntensityFile_Truncated(t *testing.T) {
	full := encodeIntensityFile([]uint32{1, 2, 3})
	r := bytes.NewReader(full[:len(full)-2])
	if _, err := decodeIntensityFile(r); err == nil {
		t.Fatal("expected error decoding truncated intensity file")
	}
}

func buildInnerTar(t *testing.T, members map[string][]uint32) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	tw := tar.NewWriter(buf)
	for name, values := range members {
		writeTarMember(t, tw, name, encodeIntensityFile(values))
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tw.Close: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeInnerTar(t *testing.T) {
	data := buildInnerTar(t, map[string][]uint32{
		"FF_AB1234_20240301_000000_000_000003.bin": {1, 2, 3},
	})
	samples, err := decodeInnerTar(tar.NewReader(bytes.NewReader(data)), 25.0)
	if err != nil {
		t.Fatalf("decodeInnerTar: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("got %d samples, want 3", len(samples))
	}
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	step := time.Duration(float64(time.Second) / 25.0)
	for i, s := range samples {
		wantTime := base.Add(time.Duration(i) * step)
		if !s.Time.Equal(wantTime) {
			t.Errorf("sample %d time: got %v want %v", i, s.Time, wantTime)
		}
		if s.Intensity != uint32(i+1) {
			t.Errorf("sample %d intensity: got %d want %d", i, s.Intensity, i+1)
		}
	}
}

// mustDecodeHex decodes a hex-encoded fixture.
func mustDecodeHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("hex.DecodeString: %v", err)
	}
	return b
}

// The FS member of an outer archive is itself bzip2-compressed, and
// compress/bzip2 is decode-only, so the inner archives below are fixed
// bzip2 streams, each wrapping a tar with one intensity file.

// FF_AB1234_20240301_000000_000_000002.bin with intensities {100, 200}.
const innerBz2TwoSamples = "425a6839314159265359c845856a00007dff84fa80000840017f4031000000f4211e00004008082000741a98934c2000c41a6824a200d1a3400d00fa2e1a841ecaa2c4810feb07107d7416b00437e621a4d090021052b89840090f764169ac9063b38d08b9738a2f3806ca337c3482dbf747ed295ad580050fc5dc914e14243211615a80"

// FF_AB1234_20240301_010000_000_000001.bin with intensities {9}.
const innerBz2At0100 = "425a683931415926535904ee25d600007d7f80e9a00000c0017f4031000000f0211e00080820007511326936a3d2681ea62001249034000007a8fd5641082328211335fdb44caba6766010f0441617c8048c0e731d8c004c499a5098d4422842348a214de4ca17d69658494dfef1e7bebbbc5241f8bb9229c2848027712eb0"

// FF_AB1234_20240301_000000_000_000001.bin with intensities {1}.
const innerBz2At0000 = "425a6839314159265359d4b58cc100007c7f80f9800000c0017f4031000000f0211e000808200075114f2236a36a681ea6d2190125041a000007a8dd563d082310421cebbbc246564a81086789e638400838572d01c002e24547c98821910c0a66632bc96218b4e9146479fbd56d6f99a94907e2ee48a70a121a96b19820"

func TestDecodeOuterTar(t *testing.T) {
	innerData := mustDecodeHex(t, innerBz2TwoSamples)

	outerBuf := new(bytes.Buffer)
	ow := tar.NewWriter(outerBuf)
	writeTarMember(t, ow, "./FS0001.tar.bz2", innerData)
	writeTarMember(t, ow, "./FR_AB1234_20240301_000001_500_000001.bin", []byte{})
	if err := ow.Close(); err != nil {
		t.Fatalf("ow.Close: %v", err)
	}

	result, err := decodeOuterTar(tar.NewReader(outerBuf), 25.0)
	if err != nil {
		t.Fatalf("decodeOuterTar: %v", err)
	}
	if len(result.Samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(result.Samples))
	}
	if len(result.SidecarTimestamps) != 1 {
		t.Fatalf("got %d sidecars, want 1", len(result.SidecarTimestamps))
	}
	wantSidecar := time.Date(2024, 3, 1, 0, 0, 1, 500*int(time.Millisecond), time.UTC)
	if !result.SidecarTimestamps[0].Equal(wantSidecar) {
		t.Errorf("sidecar time: got %v want %v", result.SidecarTimestamps[0], wantSidecar)
	}
}

func TestDecodeOuterTar_SortsSamplesByTime(t *testing.T) {
	// Two inner FS members whose filename timestamps are out of order;
	// the decoded samples must come back sorted ascending regardless.
	inner1 := mustDecodeHex(t, innerBz2At0100)
	inner2 := mustDecodeHex(t, innerBz2At0000)

	outerBuf := new(bytes.Buffer)
	ow := tar.NewWriter(outerBuf)
	writeTarMember(t, ow, "./FS0001.tar.bz2", inner1)
	writeTarMember(t, ow, "./FS0002.tar.bz2", inner2)
	if err := ow.Close(); err != nil {
		t.Fatalf("ow.Close: %v", err)
	}

	result, err := decodeOuterTar(tar.NewReader(outerBuf), 25.0)
	if err != nil {
		t.Fatalf("decodeOuterTar: %v", err)
	}
	if len(result.Samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(result.Samples))
	}
	if !result.Samples[0].Time.Before(result.Samples[1].Time) {
		t.Errorf("samples not sorted ascending: %v then %v", result.Samples[0].Time, result.Samples[1].Time)
	}
	if result.Samples[0].Intensity != 1 || result.Samples[1].Intensity != 9 {
		t.Errorf("unexpected intensities after sort: %v", result.Samples)
	}
}

func TestRead_MissingFile(t *testing.T) {
	_, err := Read("/nonexistent/upload/root/station.tar.bz2", "/nonexistent/upload/root", 25.0)
	if err == nil {
		t.Fatal("expected error for missing archive")
	}
}

func TestRead_RejectsPathOutsideUploadRoot(t *testing.T) {
	tmp := t.TempDir()
	_, err := Read("/etc/passwd", tmp, 25.0)
	if err == nil {
		t.Fatal("expected error for path outside upload root")
	}
}
