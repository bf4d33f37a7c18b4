package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Volume represents a CT scalar volume loaded for a viewing session
type Volume struct {
	// Data is the 3D volume data as a 1D array in row-major order
	// (index z*Width*Height + y*Width + x)
	Data []int16

	// Width is the number of voxels along x (Nx)
	Width int

	// Height is the number of voxels along y (Ny)
	Height int

	// Depth is the number of voxels along z (Nz)
	Depth int

	// Spacing is the physical size of each voxel in mm
	Spacing Spacing
}

// Spacing holds the physical voxel size along each axis in mm
type Spacing struct {
	X, Y, Z float64
}

// VolumeStats summarises the intensity distribution of a volume
type VolumeStats struct {
	Min, Max int16
	Mean     float64
	StdDev   float64
}

// NewVolume allocates a zero-filled volume with unit spacing
func NewVolume(width, height, depth int) *Volume {
	return &Volume{
		Data:    make([]int16, width*height*depth),
		Width:   width,
		Height:  height,
		Depth:   depth,
		Spacing: Spacing{X: 1, Y: 1, Z: 1},
	}
}

// Validate checks that the dimensions are positive and match the sample buffer
func (v *Volume) Validate() error {
	if v == nil {
		return fmt.Errorf("volume is nil")
	}
	if v.Width <= 0 || v.Height <= 0 || v.Depth <= 0 {
		return fmt.Errorf("invalid volume dimensions %dx%dx%d", v.Width, v.Height, v.Depth)
	}
	if len(v.Data) != v.Width*v.Height*v.Depth {
		return fmt.Errorf("volume data length %d does not match dimensions %dx%dx%d",
			len(v.Data), v.Width, v.Height, v.Depth)
	}
	return nil
}

// Index returns the offset of voxel (x, y, z) in Data
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// At returns the sample at (x, y, z)
func (v *Volume) At(x, y, z int) int16 {
	return v.Data[v.Index(x, y, z)]
}

// Set stores a sample at (x, y, z)
func (v *Volume) Set(x, y, z int, value int16) {
	v.Data[v.Index(x, y, z)] = value
}

// Dimensions returns (Nx, Ny, Nz)
func (v *Volume) Dimensions() (int, int, int) {
	return v.Width, v.Height, v.Depth
}

// Extent returns the number of voxels along the given axis
func (v *Volume) Extent(axis Axis) int {
	switch axis {
	case AxisX:
		return v.Width
	case AxisY:
		return v.Height
	default:
		return v.Depth
	}
}

// SameShape reports whether two volumes have identical dimensions
func (v *Volume) SameShape(o *Volume) bool {
	return v.Width == o.Width && v.Height == o.Height && v.Depth == o.Depth
}

// Clone returns a deep copy of the volume: structure, metadata and samples.
// Filters start from a clone so untouched voxels keep their source value.
func (v *Volume) Clone() *Volume {
	data := make([]int16, len(v.Data))
	copy(data, v.Data)
	return &Volume{
		Data:    data,
		Width:   v.Width,
		Height:  v.Height,
		Depth:   v.Depth,
		Spacing: v.Spacing,
	}
}

// Equal reports whether two volumes have the same shape and samples
func (v *Volume) Equal(o *Volume) bool {
	if v == o {
		return true
	}
	if v == nil || o == nil || !v.SameShape(o) {
		return false
	}
	for i := range v.Data {
		if v.Data[i] != o.Data[i] {
			return false
		}
	}
	return true
}

// ScalarRange returns the global minimum and maximum sample value
func (v *Volume) ScalarRange() (min, max int16) {
	if len(v.Data) == 0 {
		return 0, 0
	}
	min, max = v.Data[0], v.Data[0]
	for _, s := range v.Data[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return min, max
}

// Stats computes the intensity range, mean and standard deviation
func (v *Volume) Stats() VolumeStats {
	min, max := v.ScalarRange()
	if len(v.Data) == 0 {
		return VolumeStats{}
	}
	samples := make([]float64, len(v.Data))
	for i, s := range v.Data {
		samples[i] = float64(s)
	}
	mean, std := stat.MeanStdDev(samples, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return VolumeStats{Min: min, Max: max, Mean: mean, StdDev: std}
}

// ClampInt16 saturates an integer to the int16 range
func ClampInt16(value int) int16 {
	if value > math.MaxInt16 {
		return math.MaxInt16
	}
	if value < math.MinInt16 {
		return math.MinInt16
	}
	return int16(value)
}
