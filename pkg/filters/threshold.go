package filters

import (
	"context"

	"ctslices/internal/models"
)

// threshold keeps samples inside [Lower, Upper] and zeroes the rest
func threshold(ctx context.Context, req Request, src, out *models.Volume, progress ProgressFunc) error {
	t := newTracker(src.Depth, progress)
	pass := func(v int16) int16 {
		if v >= req.Lower && v <= req.Upper {
			return v
		}
		return 0
	}

	if req.Sparse() {
		return forEachPlaneVoxel(ctx, src, req.Planes, t, func(x, y, z int, _ models.Axis) {
			out.Set(x, y, z, pass(src.At(x, y, z)))
		})
	}

	plane := src.Width * src.Height
	for z := 0; z < src.Depth; z++ {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		for i := z * plane; i < (z+1)*plane; i++ {
			out.Data[i] = pass(src.Data[i])
		}
		t.step(1)
	}
	return nil
}
