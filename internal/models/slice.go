package models

import (
	"fmt"
	"strings"
)

// Axis identifies one of the three orthogonal volume axes
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// Axes lists the axes in plane precedence order
var Axes = [3]Axis{AxisX, AxisY, AxisZ}

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	default:
		return "unknown"
	}
}

// ParseAxis accepts "x", "y" or "z" in either case
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x":
		return AxisX, nil
	case "y":
		return AxisY, nil
	case "z":
		return AxisZ, nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", s)
}

// Scope selects whether a filter runs over the entire volume or only
// the three displayed planes
type Scope int

const (
	AllSlices Scope = iota
	ActivePlanesOnly
)

func (s Scope) String() string {
	switch s {
	case AllSlices:
		return "all-slices"
	case ActivePlanesOnly:
		return "active-planes"
	default:
		return "unknown"
	}
}

// ParseScope accepts "all", "all-slices", "active" or "active-planes"
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all", "all-slices":
		return AllSlices, nil
	case "active", "active-planes":
		return ActivePlanesOnly, nil
	}
	return 0, fmt.Errorf("invalid scope: %s (must be all or active)", s)
}

// ActivePlanes holds the slice index currently displayed along each axis.
// It is a value type so a filter request can snapshot it.
type ActivePlanes struct {
	// X is the index of the YZ plane (voxels with x == X)
	X int

	// Y is the index of the XZ plane (voxels with y == Y)
	Y int

	// Z is the index of the XY plane (voxels with z == Z)
	Z int
}

// CenterPlanes returns the planes through the middle of the volume
func CenterPlanes(v *Volume) ActivePlanes {
	return ActivePlanes{X: v.Width / 2, Y: v.Height / 2, Z: v.Depth / 2}
}

// Get returns the index along the given axis
func (p ActivePlanes) Get(axis Axis) int {
	switch axis {
	case AxisX:
		return p.X
	case AxisY:
		return p.Y
	default:
		return p.Z
	}
}

// With returns a copy with the index along axis replaced
func (p ActivePlanes) With(axis Axis, index int) ActivePlanes {
	switch axis {
	case AxisX:
		p.X = index
	case AxisY:
		p.Y = index
	default:
		p.Z = index
	}
	return p
}

// PlaneOf classifies a voxel against the plane set. It returns the first
// plane in X, Y, Z order that contains the voxel, so a voxel shared by
// several planes is owned by exactly one of them.
func (p ActivePlanes) PlaneOf(x, y, z int) (Axis, bool) {
	switch {
	case x == p.X:
		return AxisX, true
	case y == p.Y:
		return AxisY, true
	case z == p.Z:
		return AxisZ, true
	}
	return 0, false
}

// Contains reports whether the voxel lies on any active plane
func (p ActivePlanes) Contains(x, y, z int) bool {
	_, ok := p.PlaneOf(x, y, z)
	return ok
}

// Validate checks every index against the volume extents
func (p ActivePlanes) Validate(v *Volume) error {
	for _, axis := range Axes {
		idx := p.Get(axis)
		if idx < 0 || idx >= v.Extent(axis) {
			return fmt.Errorf("%s plane index %d outside [0, %d)", axis, idx, v.Extent(axis))
		}
	}
	return nil
}

func (p ActivePlanes) String() string {
	return fmt.Sprintf("%d,%d,%d", p.X, p.Y, p.Z)
}

// ParsePlanes parses "x,y,z" slice indices
func ParsePlanes(s string) (ActivePlanes, error) {
	var p ActivePlanes
	if _, err := fmt.Sscanf(strings.ReplaceAll(s, " ", ""), "%d,%d,%d", &p.X, &p.Y, &p.Z); err != nil {
		return p, fmt.Errorf("invalid planes %q (want x,y,z): %w", s, err)
	}
	return p, nil
}

// Slice is a single 2D plane of samples taken from a volume
type Slice struct {
	// Data holds Width*Height samples, row-major
	Data []int16

	// Width and Height are the plane dimensions
	Width, Height int

	// Axis is the normal of the plane
	Axis Axis

	// Index is the position of the plane along Axis
	Index int
}

// ExtractSlice copies the plane normal to axis at index out of the volume.
// X planes are laid out (z, y), Y planes (x, z) and Z planes (x, y).
func (v *Volume) ExtractSlice(axis Axis, index int) (*Slice, error) {
	if index < 0 || index >= v.Extent(axis) {
		return nil, fmt.Errorf("position %d exceeds %s extent %d", index, axis, v.Extent(axis))
	}

	var s *Slice
	switch axis {
	case AxisX:
		s = &Slice{Data: make([]int16, v.Depth*v.Height), Width: v.Depth, Height: v.Height}
		for y := 0; y < v.Height; y++ {
			for z := 0; z < v.Depth; z++ {
				s.Data[y*s.Width+z] = v.At(index, y, z)
			}
		}
	case AxisY:
		s = &Slice{Data: make([]int16, v.Width*v.Depth), Width: v.Width, Height: v.Depth}
		for z := 0; z < v.Depth; z++ {
			for x := 0; x < v.Width; x++ {
				s.Data[z*s.Width+x] = v.At(x, index, z)
			}
		}
	default:
		s = &Slice{Data: make([]int16, v.Width*v.Height), Width: v.Width, Height: v.Height}
		copy(s.Data, v.Data[index*v.Width*v.Height:(index+1)*v.Width*v.Height])
	}
	s.Axis = axis
	s.Index = index
	return s, nil
}
