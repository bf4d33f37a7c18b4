package dicom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	dcm "github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"ctslices/internal/models"
)

// maxFileSize bounds what Read will hand to the parser
const maxFileSize = 1 << 30

// Slice is one decoded DICOM image
type Slice struct {
	Rows           int
	Columns        int
	InstanceNumber int

	// Pixels holds the stored values in file order (top row first), sign
	// extended when the file declares signed samples
	Pixels []int

	RescaleIntercept float64
	RescaleSlope     float64
	PixelSpacing     [2]float64 // row spacing, column spacing
	SliceThickness   float64

	SOPInstanceUID    string
	SeriesInstanceUID string
	StudyInstanceUID  string
	TransferSyntaxUID string
	Modality          string
	PatientName       string
	PatientID         string
}

// Value returns the rescaled sample at column x of stored row r
func (s *Slice) Value(x, r int) float64 {
	return float64(s.Pixels[r*s.Columns+x])*s.RescaleSlope + s.RescaleIntercept
}

// ReadFile decodes the DICOM file at path. Files that cannot be opened or
// parsed are reported as ErrIOFailure.
func ReadFile(path string) (*Slice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIOFailure, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIOFailure, err)
	}

	s, err := Read(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %w", models.ErrIOFailure, path, err)
	}
	return s, nil
}

// Read decodes a Part 10 stream of size bytes holding one uncompressed
// grayscale image
func Read(r io.Reader, size int64) (s *Slice, err error) {
	if size <= 0 || size > maxFileSize {
		return nil, fmt.Errorf("stream size %d outside (0, %d]", size, maxFileSize)
	}

	// the parser trusts declared lengths; a malformed file must not take
	// the caller down
	defer func() {
		if rec := recover(); rec != nil {
			s, err = nil, fmt.Errorf("malformed DICOM data: %v", rec)
		}
	}()

	ds, err := dcm.Parse(io.LimitReader(r, size), size, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DICOM data: %w", err)
	}
	return decodeSlice(&ds)
}

func decodeSlice(ds *dcm.Dataset) (*Slice, error) {
	s := &Slice{
		RescaleSlope:      1,
		SOPInstanceUID:    text(ds, tag.SOPInstanceUID),
		SeriesInstanceUID: text(ds, tag.SeriesInstanceUID),
		StudyInstanceUID:  text(ds, tag.StudyInstanceUID),
		TransferSyntaxUID: text(ds, tag.TransferSyntaxUID),
		Modality:          text(ds, tag.Modality),
		PatientName:       text(ds, tag.PatientName),
		PatientID:         text(ds, tag.PatientID),
	}

	var ok bool
	if s.Rows, ok = integer(ds, tag.Rows); !ok || s.Rows <= 0 {
		return nil, errors.New("image has no rows")
	}
	if s.Columns, ok = integer(ds, tag.Columns); !ok || s.Columns <= 0 {
		return nil, errors.New("image has no columns")
	}
	if bits, ok := integer(ds, tag.BitsAllocated); ok && bits != 16 {
		return nil, fmt.Errorf("unsupported bits allocated %d", bits)
	}
	if spp, ok := integer(ds, tag.SamplesPerPixel); ok && spp != 1 {
		return nil, fmt.Errorf("unsupported samples per pixel %d", spp)
	}
	signed := false
	if rep, ok := integer(ds, tag.PixelRepresentation); ok {
		signed = rep == 1
	}

	var err error
	if v := text(ds, tag.InstanceNumber); v != "" {
		if s.InstanceNumber, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid instance number %q: %w", v, err)
		}
	}
	if v, err := decimals(ds, tag.RescaleIntercept); err != nil {
		return nil, err
	} else if len(v) > 0 {
		s.RescaleIntercept = v[0]
	}
	if v, err := decimals(ds, tag.RescaleSlope); err != nil {
		return nil, err
	} else if len(v) > 0 {
		s.RescaleSlope = v[0]
	}
	if v, err := decimals(ds, tag.PixelSpacing); err != nil {
		return nil, err
	} else if len(v) >= 2 {
		s.PixelSpacing = [2]float64{v[0], v[1]}
	}
	if v, err := decimals(ds, tag.SliceThickness); err != nil {
		return nil, err
	} else if len(v) > 0 {
		s.SliceThickness = v[0]
	}

	if s.Pixels, err = pixels(ds, s.Rows, s.Columns, signed); err != nil {
		return nil, err
	}
	return s, nil
}

// pixels extracts the single native frame of the data set
func pixels(ds *dcm.Dataset, rows, cols int, signed bool) ([]int, error) {
	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, errors.New("image has no pixel data")
	}
	info, ok := el.Value.GetValue().(dcm.PixelDataInfo)
	if !ok {
		return nil, errors.New("pixel data element holds no image")
	}
	if info.IsEncapsulated {
		return nil, errors.New("compressed pixel data is not supported")
	}
	if len(info.Frames) != 1 {
		return nil, fmt.Errorf("expected one frame, found %d", len(info.Frames))
	}
	native, err := info.Frames[0].GetNativeFrame()
	if err != nil {
		return nil, err
	}
	if native.Rows != rows || native.Cols != cols || len(native.Data) != rows*cols {
		return nil, fmt.Errorf("pixel data has %d samples, expected %dx%d", len(native.Data), cols, rows)
	}

	out := make([]int, len(native.Data))
	for i, px := range native.Data {
		if len(px) == 0 {
			return nil, fmt.Errorf("pixel %d has no sample", i)
		}
		v := px[0]
		if signed && v > math.MaxInt16 {
			v -= 1 << 16
		}
		out[i] = v
	}
	return out, nil
}

// LoadSeries reads every .dcm file in dir and stacks the slices by
// InstanceNumber into a volume. Rows are flipped back to bottom-up order and
// the rescale is applied, which inverts what Export writes.
func LoadSeries(ctx context.Context, dir string) (*models.Volume, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIOFailure, err)
	}

	var series []*Slice
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".dcm") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("loading stopped: %w", models.ErrCancelled)
		}
		s, err := ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		series = append(series, s)
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: no DICOM files in %s", models.ErrIOFailure, dir)
	}

	slices.SortStableFunc(series, func(a, b *Slice) int { return a.InstanceNumber - b.InstanceNumber })

	first := series[0]
	vol := models.NewVolume(first.Columns, first.Rows, len(series))
	if first.PixelSpacing[0] > 0 && first.PixelSpacing[1] > 0 {
		vol.Spacing.X, vol.Spacing.Y = first.PixelSpacing[1], first.PixelSpacing[0]
	}
	if first.SliceThickness > 0 {
		vol.Spacing.Z = first.SliceThickness
	}

	for z, s := range series {
		if s.Rows != first.Rows || s.Columns != first.Columns {
			return nil, fmt.Errorf("slice %d is %dx%d, series is %dx%d",
				s.InstanceNumber, s.Columns, s.Rows, first.Columns, first.Rows)
		}
		for r := 0; r < s.Rows; r++ {
			y := s.Rows - 1 - r
			for x := 0; x < s.Columns; x++ {
				vol.Set(x, y, z, models.ClampInt16(int(math.Round(s.Value(x, r)))))
			}
		}
	}
	return vol, nil
}

func element(ds *dcm.Dataset, t tag.Tag) any {
	el, err := ds.FindElementByTag(t)
	if err != nil || el.Value == nil {
		return nil
	}
	return el.Value.GetValue()
}

// text returns the first string value of t, or "" when absent
func text(ds *dcm.Dataset, t tag.Tag) string {
	values, _ := element(ds, t).([]string)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(values[0], "\x00"))
}

// integer returns the first value of a binary integer element
func integer(ds *dcm.Dataset, t tag.Tag) (int, bool) {
	values, _ := element(ds, t).([]int)
	if len(values) == 0 {
		return 0, false
	}
	return values[0], true
}

// decimals parses every value of a DS element
func decimals(ds *dcm.Dataset, t tag.Tag) ([]float64, error) {
	values, _ := element(ds, t).([]string)
	out := make([]float64, 0, len(values))
	for _, v := range values {
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimRight(v, "\x00")), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid decimal %q in %v: %w", v, t, err)
		}
		out = append(out, f)
	}
	return out, nil
}
