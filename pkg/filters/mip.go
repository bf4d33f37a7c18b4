package filters

import (
	"context"
	"math"

	"ctslices/internal/models"
)

// mip writes a maximum intensity projection of the whole volume into each
// active plane: the X plane receives the maximum along x for every (y, z),
// and likewise for Y and Z. A voxel where planes intersect receives the
// maximum over every scan line through it.
func mip(ctx context.Context, req Request, src, out *models.Volume, progress ProgressFunc) error {
	w, h, d := src.Dimensions()

	// One pass over the volume fills all three projections, a second pass
	// over the plane voxels writes them.
	projX := filled(h*d, math.MinInt16) // indexed z*h + y
	projY := filled(w*d, math.MinInt16) // indexed z*w + x
	projZ := filled(w*h, math.MinInt16) // indexed y*w + x

	t := newTracker(2*d, progress)
	for z := 0; z < d; z++ {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				s := src.At(x, y, z)
				projX[z*h+y] = max(projX[z*h+y], s)
				projY[z*w+x] = max(projY[z*w+x], s)
				projZ[y*w+x] = max(projZ[y*w+x], s)
			}
		}
		t.step(1)
	}

	p := req.Planes
	return forEachPlaneVoxel(ctx, src, p, t, func(x, y, z int, _ models.Axis) {
		value := int16(math.MinInt16)
		if x == p.X {
			value = max(value, projX[z*h+y])
		}
		if y == p.Y {
			value = max(value, projY[z*w+x])
		}
		if z == p.Z {
			value = max(value, projZ[y*w+x])
		}
		out.Set(x, y, z, value)
	})
}

func filled(n int, value int16) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = value
	}
	return s
}
