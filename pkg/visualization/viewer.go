package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	"ctslices/internal/models"
)

// Viewer is a headless renderer for the three orthogonal views of a CT
// volume. It tracks the displayed volume and the current index of each
// view, and on every redraw can write the three views as 16-bit TIFF
// snapshots. A Viewer is driven from a single goroutine.
type Viewer struct {
	// volume is the grid currently displayed
	volume *models.Volume

	// lo and hi are the scalar range used for window-levelling
	lo, hi int16

	// planes is the current index of each view
	planes models.ActivePlanes

	// snapshotDir receives TIFF snapshots on Redraw when set
	snapshotDir string

	redraws int
	logger  logrus.FieldLogger
}

// Option configures a Viewer
type Option func(*Viewer)

// WithSnapshotDir writes the three views to dir on every Redraw
func WithSnapshotDir(dir string) Option {
	return func(v *Viewer) {
		v.snapshotDir = dir
	}
}

// WithLogger sets the viewer's logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(v *Viewer) {
		if l != nil {
			v.logger = l
		}
	}
}

// NewViewer creates a viewer with no volume attached
func NewViewer(opts ...Option) *Viewer {
	v := &Viewer{logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// SetVolume attaches the grid to display and recomputes the window. The
// first volume, and any volume the current indices fall outside of, resets
// the views to the centre planes.
func (v *Viewer) SetVolume(vol *models.Volume) {
	first := v.volume == nil
	v.volume = vol
	if vol == nil {
		return
	}
	v.lo, v.hi = vol.ScalarRange()
	if first || v.planes.Validate(vol) != nil {
		v.planes = models.CenterPlanes(vol)
	}
}

// SetSlice moves the view of the given axis to index
func (v *Viewer) SetSlice(axis models.Axis, index int) {
	v.planes = v.planes.With(axis, index)
}

// Planes returns the current view indices
func (v *Viewer) Planes() models.ActivePlanes {
	return v.planes
}

// Redraws returns how many times Redraw has been called
func (v *Viewer) Redraws() int {
	return v.redraws
}

// At returns the displayed sample at (x, y, z)
func (v *Viewer) At(x, y, z int) int16 {
	return v.volume.At(x, y, z)
}

// Dimensions returns the displayed grid's size
func (v *Viewer) Dimensions() (width, height, depth int) {
	if v.volume == nil {
		return 0, 0, 0
	}
	return v.volume.Dimensions()
}

// ScalarRange returns the window used for display
func (v *Viewer) ScalarRange() (lo, hi int16) {
	return v.lo, v.hi
}

// Redraw refreshes the three views. With a snapshot directory configured
// each view is written as slice_<axis>_<index>.tif.
func (v *Viewer) Redraw() error {
	if v.volume == nil {
		return fmt.Errorf("no volume to draw")
	}
	v.redraws++
	if v.snapshotDir == "" {
		return nil
	}

	if err := os.MkdirAll(v.snapshotDir, 0755); err != nil {
		return err
	}
	for _, axis := range models.Axes {
		pos := v.planes.Get(axis)
		img, err := v.Render(axis, pos)
		if err != nil {
			return err
		}
		filename := filepath.Join(v.snapshotDir, fmt.Sprintf("slice_%s_%03d.tif", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}
	v.logger.WithFields(logrus.Fields{
		"dir":    v.snapshotDir,
		"planes": v.planes.String(),
		"redraw": v.redraws,
	}).Debug("Wrote view snapshots")
	return nil
}

// ExtractSlice extracts a 2D view from the volume along the specified axis.
// Samples are window-levelled linearly from the volume's scalar range to
// the full 16-bit range. X views are laid out (z, y), Y views (x, z) and Z
// views (x, y).
func (v *Viewer) ExtractSlice(axis models.Axis, position int) (*image.Gray16, error) {
	if v.volume == nil {
		return nil, fmt.Errorf("no volume to draw")
	}
	s, err := v.volume.ExtractSlice(axis, position)
	if err != nil {
		return nil, err
	}

	img := image.NewGray16(image.Rect(0, 0, s.Width, s.Height))
	for row := 0; row < s.Height; row++ {
		for col := 0; col < s.Width; col++ {
			img.SetGray16(col, row, color.Gray16{Y: v.window(s.Data[row*s.Width+col])})
		}
	}
	return img, nil
}

// Render returns the view resampled to its physical aspect ratio, so that
// anisotropic voxels are not shown squashed
func (v *Viewer) Render(axis models.Axis, position int) (image.Image, error) {
	img, err := v.ExtractSlice(axis, position)
	if err != nil {
		return nil, err
	}

	su, sv := v.viewSpacing(axis)
	if su <= 0 || sv <= 0 || su == sv {
		return img, nil
	}
	unit := math.Min(su, sv)
	b := img.Bounds()
	w := max(1, int(math.Round(float64(b.Dx())*su/unit)))
	h := max(1, int(math.Round(float64(b.Dy())*sv/unit)))

	dst := image.NewGray16(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst, nil
}

// viewSpacing returns the voxel size along the image columns and rows
func (v *Viewer) viewSpacing(axis models.Axis) (float64, float64) {
	sp := v.volume.Spacing
	switch axis {
	case models.AxisX:
		return sp.Z, sp.Y
	case models.AxisY:
		return sp.X, sp.Z
	default:
		return sp.X, sp.Y
	}
}

func (v *Viewer) window(s int16) uint16 {
	if v.hi <= v.lo {
		return 0
	}
	f := float64(int(s)-int(v.lo)) / float64(int(v.hi)-int(v.lo))
	return uint16(math.Max(0, math.Min(65535, math.Round(f*65535))))
}

// SaveSlice saves an extracted view as a deflate-compressed TIFF image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true}); err != nil {
		return err
	}
	return file.Close()
}

// SaveSliceSequence extracts and saves every view along the specified axis
func (v *Viewer) SaveSliceSequence(axis models.Axis, outputDir string) error {
	if v.volume == nil {
		return fmt.Errorf("no volume to draw")
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < v.volume.Extent(axis); pos++ {
		img, err := v.Render(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.tif", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
