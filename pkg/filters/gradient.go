package filters

import (
	"context"
	"math"

	"ctslices/internal/models"
)

// gradient applies the selected edge kernel inside each active plane. Each
// plane voxel gets round((|Gu| + |Gv|) / norm), where Gu and Gv are the two
// directional kernel responses over the plane's in-plane axes.
func gradient(ctx context.Context, req Request, src, out *models.Volume, progress ProgressFunc) error {
	t := newTracker(src.Depth, progress)
	return forEachPlaneVoxel(ctx, src, req.Planes, t, func(x, y, z int, axis models.Axis) {
		s := planeSampler{src: src, axis: axis, x: x, y: y, z: z}
		gu, gv := s.responses(req.Variant)
		value := math.Round((math.Abs(float64(gu)) + math.Abs(float64(gv))) / req.Variant.norm())
		out.Set(x, y, z, models.ClampInt16(int(value)))
	})
}

// planeSampler reads neighbours of a voxel within one plane. The in-plane
// axes (u, v) are (y, z) for an X plane, (x, z) for a Y plane and (x, y)
// for a Z plane. Offsets past the volume edge are clamped.
type planeSampler struct {
	src     *models.Volume
	axis    models.Axis
	x, y, z int
}

func (s planeSampler) at(du, dv int) int {
	x, y, z := s.x, s.y, s.z
	switch s.axis {
	case models.AxisX:
		y, z = y+du, z+dv
	case models.AxisY:
		x, z = x+du, z+dv
	default:
		x, y = x+du, y+dv
	}
	return int(s.src.At(clamp(x, s.src.Width), clamp(y, s.src.Height), clamp(z, s.src.Depth)))
}

// responses returns the two kernel responses for the variant
func (s planeSampler) responses(variant Variant) (gu, gv int) {
	switch variant {
	case Roberts:
		//  1  0 |  0  1
		//  0 -1 | -1  0
		gu = s.at(0, 0) - s.at(1, 1)
		gv = s.at(1, 0) - s.at(0, 1)
	case Sobel:
		//  1  0 -1 |  1  2  1
		//  2  0 -2 |  0  0  0
		//  1  0 -1 | -1 -2 -1
		gu = s.at(-1, -1) + 2*s.at(-1, 0) + s.at(-1, 1) -
			s.at(1, -1) - 2*s.at(1, 0) - s.at(1, 1)
		gv = s.at(-1, -1) + 2*s.at(0, -1) + s.at(1, -1) -
			s.at(-1, 1) - 2*s.at(0, 1) - s.at(1, 1)
	default:
		// 1 -1 |  1  1
		// 1 -1 | -1 -1
		a, b := s.at(0, 0), s.at(1, 0)
		c, d := s.at(0, 1), s.at(1, 1)
		gu = a - b + c - d
		gv = a + b - c - d
	}
	return gu, gv
}
