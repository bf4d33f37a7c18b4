package dicom

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dcm "github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"ctslices/internal/models"
)

func testVolume() *models.Volume {
	v := models.NewVolume(5, 4, 3)
	v.Spacing = models.Spacing{X: 0.5, Y: 0.75, Z: 2.5}
	for i := range v.Data {
		v.Data[i] = int16(i*7 - 100)
	}
	return v
}

func testExporter() *Exporter {
	logger, _ := test.NewNullLogger()
	fixed := time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)
	return NewExporter(WithLogger(logger), WithClock(func() time.Time { return fixed }))
}

func TestExportRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "series")
	src := testVolume()
	before := src.Clone()

	var progress []float64
	job := ExportJob{Source: src, Prefix: filepath.Join(dir, "ct"), Template: DefaultMetadata()}
	paths, err := testExporter().Export(context.Background(), job, func(p float64) {
		progress = append(progress, p)
	})
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, filepath.Join(dir, "ct-0000.dcm"), paths[0])
	assert.Equal(t, filepath.Join(dir, "ct-0002.dcm"), paths[2])
	assert.InDeltaSlice(t, []float64{100.0 / 3, 200.0 / 3, 100}, progress, 1e-9)

	// the source is never modified
	assert.True(t, before.Equal(src))

	s, err := ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, 4, s.Rows)
	assert.Equal(t, 5, s.Columns)
	assert.Equal(t, 1, s.InstanceNumber)
	assert.Equal(t, "CT", s.Modality)
	assert.Equal(t, "Doe^John", s.PatientName)
	assert.Equal(t, "PID00001234M", s.PatientID)
	assert.Equal(t, ExplicitVRLittleEndian, s.TransferSyntaxUID)
	assert.Equal(t, -100.0, s.RescaleIntercept)
	assert.Equal(t, 1.0, s.RescaleSlope)
	assert.Equal(t, [2]float64{0.75, 0.5}, s.PixelSpacing)
	assert.Equal(t, 2.5, s.SliceThickness)

	// first stored row is the last y row, shifted by abs(min)
	for x := 0; x < 5; x++ {
		assert.Equal(t, int(src.At(x, 3, 0))+100, s.Pixels[x])
	}

	other, err := ReadFile(paths[1])
	require.NoError(t, err)
	assert.Equal(t, s.SeriesInstanceUID, other.SeriesInstanceUID)
	assert.Equal(t, s.StudyInstanceUID, other.StudyInstanceUID)
	assert.NotEqual(t, s.SOPInstanceUID, other.SOPInstanceUID)

	loaded, err := LoadSeries(context.Background(), dir)
	require.NoError(t, err)
	if diff := cmp.Diff(src, loaded); diff != "" {
		t.Errorf("Loaded volume differs (-want +got):\n%s", diff)
	}
}

func TestExportSeriesUIDsDifferPerRun(t *testing.T) {
	base := t.TempDir()
	e := testExporter()
	src := testVolume()

	_, err := e.Export(context.Background(), ExportJob{Source: src, Prefix: filepath.Join(base, "a", "ct")}, nil)
	require.NoError(t, err)
	_, err = e.Export(context.Background(), ExportJob{Source: src, Prefix: filepath.Join(base, "b", "ct")}, nil)
	require.NoError(t, err)

	a, err := ReadFile(filepath.Join(base, "a", "ct-0000.dcm"))
	require.NoError(t, err)
	b, err := ReadFile(filepath.Join(base, "b", "ct-0000.dcm"))
	require.NoError(t, err)
	assert.NotEqual(t, a.SeriesInstanceUID, b.SeriesInstanceUID)
	assert.NotEqual(t, a.StudyInstanceUID, b.StudyInstanceUID)
}

func TestExportCancelledKeepsWrittenFiles(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := ExportJob{Source: testVolume(), Prefix: filepath.Join(dir, "ct")}
	paths, err := testExporter().Export(ctx, job, func(p float64) {
		// stop after the first slice is complete
		cancel()
	})
	assert.ErrorIs(t, err, models.ErrCancelled)
	assert.Len(t, paths, 1)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	_, err = ReadFile(paths[0])
	assert.NoError(t, err)
}

func TestExportIOFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	job := ExportJob{Source: testVolume(), Prefix: filepath.Join(blocker, "sub", "ct")}
	paths, err := testExporter().Export(context.Background(), job, nil)
	assert.ErrorIs(t, err, models.ErrIOFailure)
	assert.Empty(t, paths)
}

func TestExportInvalidJob(t *testing.T) {
	e := testExporter()
	_, err := e.Export(context.Background(), ExportJob{Prefix: "x"}, nil)
	assert.ErrorIs(t, err, models.ErrInvalidParameters)

	_, err = e.Export(context.Background(), ExportJob{Source: testVolume()}, nil)
	assert.ErrorIs(t, err, models.ErrInvalidParameters)
}

func TestExportLogsSlices(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	e := NewExporter(WithLogger(logger))

	_, err := e.Export(context.Background(), ExportJob{Source: testVolume(), Prefix: filepath.Join(t.TempDir(), "ct")}, nil)
	require.NoError(t, err)

	var wrote int
	for _, entry := range hook.AllEntries() {
		if entry.Message == "Wrote slice to DICOM file" {
			wrote++
		}
	}
	assert.Equal(t, 3, wrote)
	assert.Equal(t, "Export finished", hook.LastEntry().Message)
}

func TestFileName(t *testing.T) {
	job := ExportJob{Prefix: "/tmp/out/head"}
	assert.Equal(t, "/tmp/out/head-0007.dcm", job.FileName(7))
	job.Extension = ".DCM"
	assert.Equal(t, "/tmp/out/head-0012.DCM", job.FileName(12))
}

func TestNewUID(t *testing.T) {
	a, b := NewUID(), NewUID()
	assert.NotEqual(t, a, b)
	for _, uid := range []string{a, b} {
		assert.True(t, strings.HasPrefix(uid, "2.25."))
		assert.LessOrEqual(t, len(uid), 64)
		assert.Equal(t, -1, strings.IndexFunc(uid, func(r rune) bool {
			return r != '.' && (r < '0' || r > '9')
		}))
	}
}

func TestReadSignedPixels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signed.dcm")
	uid := NewUID()

	elems := testExporter().seriesAttributes(DefaultMetadata())
	elems.str(tag.MediaStorageSOPInstanceUID, uid)
	elems.str(tag.SOPInstanceUID, uid)
	elems.str(tag.PhotometricInterpretation, "MONOCHROME2")
	elems.ints(tag.SamplesPerPixel, 1)
	elems.ints(tag.BitsAllocated, 16)
	elems.ints(tag.BitsStored, 16)
	elems.ints(tag.HighBit, 15)
	elems.ints(tag.PixelRepresentation, 1)
	elems.ints(tag.Rows, 1)
	elems.ints(tag.Columns, 2)
	elems.add(tag.PixelData, dcm.PixelDataInfo{
		Frames: []*frame.Frame{{
			NativeData: frame.NativeFrame{Data: [][]int{{65535}, {5}}, Rows: 1, Cols: 2, BitsPerSample: 16},
		}},
	})
	ds, err := elems.dataset()
	require.NoError(t, err)
	require.NoError(t, writeFile(path, ds))

	s, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []int{-1, 5}, s.Pixels)
}

// zeroRowsFile is a minimal Part 10 stream whose Rows element is empty
func zeroRowsFile() []byte {
	le := binary.LittleEndian
	b := make([]byte, 128)
	b = append(b, "DICM"...)

	syntax := ExplicitVRLittleEndian + "\x00"
	b = le.AppendUint16(b, 0x0002)
	b = le.AppendUint16(b, 0x0000)
	b = append(b, "UL"...)
	b = le.AppendUint16(b, 4)
	b = le.AppendUint32(b, uint32(8+len(syntax)))

	b = le.AppendUint16(b, 0x0002)
	b = le.AppendUint16(b, 0x0010)
	b = append(b, "UI"...)
	b = le.AppendUint16(b, uint16(len(syntax)))
	b = append(b, syntax...)

	b = le.AppendUint16(b, 0x0028)
	b = le.AppendUint16(b, 0x0010)
	b = append(b, "US"...)
	return le.AppendUint16(b, 0)
}

func TestReadRejectsMalformed(t *testing.T) {
	paths, err := testExporter().Export(context.Background(),
		ExportJob{Source: testVolume(), Prefix: filepath.Join(t.TempDir(), "ct")}, nil)
	require.NoError(t, err)
	valid, err := os.ReadFile(paths[0])
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		size int64
	}{
		{name: "zeros", data: make([]byte, 200)},
		{name: "preamble only", data: valid[:132]},
		{name: "truncated meta", data: valid[:160]},
		{name: "truncated body", data: valid[:len(valid)/2]},
		{name: "truncated pixels", data: valid[:len(valid)-7]},
		{name: "empty rows element", data: zeroRowsFile()},
		{name: "empty stream", data: nil},
		{name: "oversized", data: valid, size: maxFileSize + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size := tt.size
			if size == 0 {
				size = int64(len(tt.data))
			}
			var s *Slice
			var err error
			assert.NotPanics(t, func() { s, err = Read(bytes.NewReader(tt.data), size) })
			assert.Error(t, err)
			assert.Nil(t, s)
		})
	}

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.dcm"))
	assert.ErrorIs(t, err, models.ErrIOFailure)

	bad := filepath.Join(t.TempDir(), "bad.dcm")
	require.NoError(t, os.WriteFile(bad, zeroRowsFile(), 0644))
	_, err = ReadFile(bad)
	assert.ErrorIs(t, err, models.ErrIOFailure)
}

func TestLoadSeriesEmptyDir(t *testing.T) {
	_, err := LoadSeries(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, models.ErrIOFailure)
}
