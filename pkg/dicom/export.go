package dicom

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	dcm "github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"ctslices/internal/models"
)

// Metadata holds the patient and study fields copied into every file of a
// series. Empty dates are filled with the export date.
type Metadata struct {
	PatientName         string `yaml:"patientName"`
	PatientID           string `yaml:"patientID"`
	PatientSex          string `yaml:"patientSex"`
	PatientBirthDate    string `yaml:"patientBirthDate"`
	ReferringPhysician  string `yaml:"referringPhysician"`
	PerformingPhysician string `yaml:"performingPhysician"`
	StudyID             string `yaml:"studyID"`
	AccessionNumber     string `yaml:"accessionNumber"`
	SeriesNumber        int    `yaml:"seriesNumber"`
}

// DefaultMetadata returns the dummy patient used when none is configured
func DefaultMetadata() Metadata {
	return Metadata{
		PatientName:         "Doe^John",
		PatientID:           "PID00001234M",
		PatientSex:          "M",
		ReferringPhysician:  "Mister^Physician",
		PerformingPhysician: "House",
		StudyID:             "123456789",
		AccessionNumber:     "0",
		SeriesNumber:        12345,
	}
}

// ExportJob describes one export run
type ExportJob struct {
	Source    *models.Volume
	Prefix    string
	Extension string
	Template  Metadata
}

// FileName returns the path of slice z
func (j ExportJob) FileName(z int) string {
	ext := strings.TrimPrefix(j.Extension, ".")
	if ext == "" {
		ext = "dcm"
	}
	return fmt.Sprintf("%s-%04d.%s", j.Prefix, z, ext)
}

// Exporter writes volumes as DICOM series
type Exporter struct {
	logger logrus.FieldLogger
	now    func() time.Time
}

// Option configures an Exporter
type Option func(*Exporter)

// WithLogger sets the exporter's logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Exporter) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source used for study and content dates
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		e.now = now
	}
}

// NewExporter creates an exporter
func NewExporter(opts ...Option) *Exporter {
	e := &Exporter{
		logger: logrus.StandardLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export writes one file per z index of job.Source and returns the paths
// written. Cancellation is checked before each slice; files already written
// are kept. The source volume is only read.
func (e *Exporter) Export(ctx context.Context, job ExportJob, progress func(percent float64)) ([]string, error) {
	src := job.Source
	if src == nil {
		return nil, fmt.Errorf("nothing to export: %w", models.ErrInvalidParameters)
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if job.Prefix == "" {
		return nil, fmt.Errorf("export prefix is empty: %w", models.ErrInvalidParameters)
	}
	w, h, d := src.Dimensions()
	if w > 0xFFFF || h > 0xFFFF {
		return nil, fmt.Errorf("slice size %dx%d exceeds DICOM limits: %w", w, h, models.ErrInvalidParameters)
	}

	if dir := filepath.Dir(job.Prefix); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: failed to create output directory: %w", models.ErrIOFailure, err)
		}
	}

	lo, hi := src.ScalarRange()
	offset := int(lo)
	if offset < 0 {
		offset = -offset
	}

	series := e.seriesAttributes(job.Template)
	written := make([]string, 0, d)
	log := e.logger.WithFields(logrus.Fields{"prefix": job.Prefix, "slices": d})

	for z := 0; z < d; z++ {
		select {
		case <-ctx.Done():
			log.WithField("written", len(written)).Info("Export cancelled")
			return written, fmt.Errorf("export stopped after %d of %d slices: %w", len(written), d, models.ErrCancelled)
		default:
		}

		path := job.FileName(z)
		elems := series.clone()
		sopInstance := NewUID()
		elems.str(tag.MediaStorageSOPInstanceUID, sopInstance)
		elems.str(tag.SOPInstanceUID, sopInstance)
		elems.integers(tag.InstanceNumber, z+1)
		elems.decimals(tag.ImagePositionPatient, 0, 0, float64(z)*src.Spacing.Z)
		pixelModule(elems, src, z, offset, lo, hi)

		ds, err := elems.dataset()
		if err != nil {
			return written, fmt.Errorf("failed to build slice %d: %w", z, err)
		}
		if err := writeFile(path, ds); err != nil {
			return written, fmt.Errorf("%w: failed to write slice %d: %w", models.ErrIOFailure, z, err)
		}
		written = append(written, path)

		log.WithField("slice", z+1).Debug("Wrote slice to DICOM file")
		if progress != nil {
			progress(float64(z+1) / float64(d) * 100)
		}
	}

	log.Info("Export finished")
	return written, nil
}

// seriesAttributes builds the elements shared by every file of one run:
// file meta, patient, study, series and equipment modules
func (e *Exporter) seriesAttributes(m Metadata) *elementList {
	now := e.now()
	date := now.Format("20060102")
	clock := now.Format("150405")

	birth := m.PatientBirthDate
	if birth == "" {
		birth = date
	}

	l := &elementList{}
	l.add(tag.FileMetaInformationVersion, []byte{0x00, 0x01})
	l.str(tag.MediaStorageSOPClassUID, CTImageStorage)
	l.str(tag.TransferSyntaxUID, ExplicitVRLittleEndian)
	l.str(tag.ImplementationClassUID, ImplementationClassUID)
	l.str(tag.ImplementationVersionName, ImplementationVersion)

	l.str(tag.SpecificCharacterSet, "ISO_IR 100")
	l.str(tag.SOPClassUID, CTImageStorage)

	// patient
	l.str(tag.PatientName, m.PatientName)
	l.str(tag.PatientID, m.PatientID)
	l.str(tag.PatientSex, m.PatientSex)
	l.str(tag.PatientBirthDate, birth)
	l.add(tag.ReferencedPatientSequence, [][]*dcm.Element{})

	// study
	l.str(tag.StudyInstanceUID, NewUID())
	l.str(tag.StudyDate, date)
	l.str(tag.StudyTime, clock)
	l.str(tag.ReferringPhysicianName, m.ReferringPhysician)
	l.str(tag.StudyID, m.StudyID)
	l.str(tag.AccessionNumber, m.AccessionNumber)

	// series
	l.str(tag.Modality, "CT")
	l.str(tag.SeriesInstanceUID, NewUID())
	l.integers(tag.SeriesNumber, m.SeriesNumber)
	l.str(tag.SeriesDate, date)
	l.str(tag.SeriesTime, clock)
	l.str(tag.PerformingPhysicianName, m.PerformingPhysician)

	// equipment and image
	l.str(tag.ConversionType, "WSD")
	l.str(tag.ContentDate, date)
	l.str(tag.ContentTime, clock)
	return l
}

// pixelModule adds the image pixel module and pixel data of slice z. Rows
// are stored bottom to top with every sample shifted by offset.
func pixelModule(l *elementList, v *models.Volume, z, offset int, lo, hi int16) {
	w, h, _ := v.Dimensions()

	l.str(tag.PhotometricInterpretation, "MONOCHROME2")
	l.ints(tag.PixelRepresentation, 0)
	l.ints(tag.SamplesPerPixel, 1)
	l.ints(tag.BitsAllocated, 16)
	l.ints(tag.BitsStored, 12)
	l.ints(tag.HighBit, 11)
	l.ints(tag.Columns, w)
	l.ints(tag.Rows, h)
	l.ints(tag.SmallestImagePixelValue, int(lo)+offset)
	l.ints(tag.LargestImagePixelValue, int(hi)+offset)
	l.decimals(tag.PixelSpacing, v.Spacing.Y, v.Spacing.X)
	l.decimals(tag.SliceThickness, v.Spacing.Z)
	l.decimals(tag.RescaleIntercept, float64(-offset))
	l.decimals(tag.RescaleSlope, 1)

	samples := make([]int, 0, w*h)
	for y := h - 1; y >= 0; y-- {
		for x := 0; x < w; x++ {
			samples = append(samples, int(v.At(x, y, z))+offset)
		}
	}
	// one sample per pixel, sharing a single backing array
	data := make([][]int, len(samples))
	for i := range samples {
		data[i] = samples[i : i+1 : i+1]
	}

	l.add(tag.PixelData, dcm.PixelDataInfo{
		Frames: []*frame.Frame{{
			NativeData: frame.NativeFrame{
				Data:          data,
				Rows:          h,
				Cols:          w,
				BitsPerSample: 16,
			},
		}},
	})
}

// writeFile writes preamble, file meta information and data set
func writeFile(path string, ds dcm.Dataset) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriter(f)
	if err := dcm.Write(bw, ds, dcm.SkipVRVerification()); err != nil {
		return err
	}
	return bw.Flush()
}
