package filters

import (
	"context"
	"slices"

	"golang.org/x/sync/errgroup"

	"ctslices/internal/models"
)

// median replaces each target voxel with the median of its kernel-shaped
// neighbourhood. Neighbour coordinates outside the volume are clamped to the
// nearest edge voxel, so every voxel, including the border, is recomputed.
func (e *Engine) median(ctx context.Context, req Request, src, out *models.Volume, progress ProgressFunc) error {
	t := newTracker(src.Depth, progress)

	if req.Sparse() {
		buf := make([]int16, req.Kernel.Size())
		return forEachPlaneVoxel(ctx, src, req.Planes, t, func(x, y, z int, _ models.Axis) {
			out.Set(x, y, z, medianAt(src, req.Kernel, x, y, z, buf))
		})
	}

	// Full volume: each z-slice is independent, so slices are fanned out
	// over the configured number of workers.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.numCores)
	for z := 0; z < src.Depth; z++ {
		g.Go(func() error {
			if err := checkCancelled(gctx); err != nil {
				return err
			}
			buf := make([]int16, req.Kernel.Size())
			for y := 0; y < src.Height; y++ {
				for x := 0; x < src.Width; x++ {
					out.Set(x, y, z, medianAt(src, req.Kernel, x, y, z, buf))
				}
			}
			t.step(1)
			return nil
		})
	}
	return g.Wait()
}

// medianAt gathers the neighbourhood of (x, y, z) into buf and returns its
// median. For an extent k the window spans offsets [-k/2, k-1-k/2].
func medianAt(src *models.Volume, k Kernel, x, y, z int, buf []int16) int16 {
	n := 0
	for dz := -k.Depth / 2; dz < k.Depth-k.Depth/2; dz++ {
		zz := clamp(z+dz, src.Depth)
		for dy := -k.Height / 2; dy < k.Height-k.Height/2; dy++ {
			yy := clamp(y+dy, src.Height)
			for dx := -k.Width / 2; dx < k.Width-k.Width/2; dx++ {
				buf[n] = src.At(clamp(x+dx, src.Width), yy, zz)
				n++
			}
		}
	}
	return medianOf(buf[:n])
}

// medianOf sorts values in place and returns the middle value, or the mean
// of the two central values (truncated toward zero) for an even count
func medianOf(values []int16) int16 {
	n := len(values)
	if n == 0 {
		return 0
	}
	slices.Sort(values)
	if n%2 == 0 {
		return int16((int(values[n/2-1]) + int(values[n/2])) / 2)
	}
	return values[n/2]
}
