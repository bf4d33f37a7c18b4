// Package filters implements the volumetric filters applied to a CT volume:
// median noise reduction, gradient edge detection, thresholding and maximum
// intensity projection. Every filter reads a source volume and builds a new
// one; the source is never modified.
package filters

import (
	"fmt"
	"strings"

	"ctslices/internal/models"
)

// Kind selects the filter algorithm
type Kind int

const (
	Median Kind = iota
	Gradient
	Threshold
	MIP
)

func (k Kind) String() string {
	switch k {
	case Median:
		return "Median"
	case Gradient:
		return "Gradient"
	case Threshold:
		return "Threshold"
	case MIP:
		return "Maximum Intensity Projection"
	default:
		return "Unknown"
	}
}

// Variant selects the gradient kernel
type Variant int

const (
	GradientXY Variant = iota
	Roberts
	Sobel
)

func (v Variant) String() string {
	switch v {
	case GradientXY:
		return "Gradient XY"
	case Roberts:
		return "Roberts"
	case Sobel:
		return "Sobel"
	default:
		return "Unknown"
	}
}

// norm is the divisor applied to the summed kernel responses
func (v Variant) norm() float64 {
	if v == Sobel {
		return 18
	}
	return 8
}

// ParseFilter maps a filter name to its kind and gradient variant.
// Accepted names: median, threshold, mip, gradient (or gradient-xy), roberts, sobel.
func ParseFilter(name string) (Kind, Variant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "median":
		return Median, GradientXY, nil
	case "threshold":
		return Threshold, GradientXY, nil
	case "mip":
		return MIP, GradientXY, nil
	case "gradient", "gradient-xy", "gradientxy":
		return Gradient, GradientXY, nil
	case "roberts":
		return Gradient, Roberts, nil
	case "sobel":
		return Gradient, Sobel, nil
	}
	return 0, 0, fmt.Errorf("unknown filter %q: %w", name, models.ErrInvalidParameters)
}

// Kernel is the median neighbourhood extent along x, y and z
type Kernel struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	Depth  int `yaml:"depth"`
}

// Size returns the number of voxels gathered per output voxel
func (k Kernel) Size() int {
	return k.Width * k.Height * k.Depth
}

// Request describes one filter invocation. It is passed by value so the
// plane snapshot cannot change while the filter runs.
type Request struct {
	Kind  Kind
	Scope models.Scope

	// Kernel is used by Median
	Kernel Kernel

	// Variant is used by Gradient
	Variant Variant

	// Lower and Upper are the inclusive Threshold bounds
	Lower, Upper int16

	// Planes is the active plane snapshot taken at submission time
	Planes models.ActivePlanes
}

// Sparse reports whether only the active planes are recomputed
func (r Request) Sparse() bool {
	return r.Scope == models.ActivePlanesOnly
}

func (r Request) String() string {
	name := r.Kind.String()
	if r.Kind == Gradient {
		name = r.Variant.String()
	}
	return fmt.Sprintf("%s (%s, planes %s)", name, r.Scope, r.Planes)
}

// Validate checks the request against the source volume
func (r Request) Validate(src *models.Volume) error {
	if err := src.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, models.ErrInvalidParameters)
	}
	if r.Scope != models.AllSlices && r.Scope != models.ActivePlanesOnly {
		return fmt.Errorf("scope %d: %w", r.Scope, models.ErrInvalidParameters)
	}

	switch r.Kind {
	case Median:
		if r.Kernel.Width <= 0 || r.Kernel.Height <= 0 || r.Kernel.Depth <= 0 {
			return fmt.Errorf("median kernel %dx%dx%d must be positive: %w",
				r.Kernel.Width, r.Kernel.Height, r.Kernel.Depth, models.ErrInvalidParameters)
		}
	case Gradient:
		if r.Scope == models.AllSlices {
			return fmt.Errorf("%s is only available for the active planes: %w", r.Variant, models.ErrUnsupportedScope)
		}
		if r.Variant < GradientXY || r.Variant > Sobel {
			return fmt.Errorf("unknown gradient variant %d: %w", r.Variant, models.ErrInvalidParameters)
		}
	case Threshold:
		if r.Lower > r.Upper {
			return fmt.Errorf("threshold lower %d exceeds upper %d: %w", r.Lower, r.Upper, models.ErrInvalidParameters)
		}
	case MIP:
		if r.Scope == models.AllSlices {
			return fmt.Errorf("%s is only available for the active planes: %w", r.Kind, models.ErrUnsupportedScope)
		}
	default:
		return fmt.Errorf("unknown filter kind %d: %w", r.Kind, models.ErrInvalidParameters)
	}

	if r.Sparse() {
		if err := r.Planes.Validate(src); err != nil {
			return fmt.Errorf("%v: %w", err, models.ErrInvalidParameters)
		}
	}
	return nil
}

// Result is the outcome of a successful filter run
type Result struct {
	// Volume is the newly built grid, exclusively owned by the receiver
	Volume *models.Volume

	// Sparse is true when only the active planes were recomputed
	Sparse bool

	// Request is the request that produced this result
	Request Request
}
