package models

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// Hounsfield values used by the phantom
const (
	HUAir    = -1000
	HUTissue = 40
	HUBone   = 1000
	HULesion = 80
)

// ellipsoid is a region of constant value in normalised [-1, 1] coordinates
type ellipsoid struct {
	cx, cy, cz float64
	rx, ry, rz float64
	value      int16
}

func (e ellipsoid) contains(x, y, z float64) bool {
	dx, dy, dz := (x-e.cx)/e.rx, (y-e.cy)/e.ry, (z-e.cz)/e.rz
	return dx*dx+dy*dy+dz*dz <= 1
}

// phantomShapes are painted in order, later shapes overwrite earlier ones
var phantomShapes = []ellipsoid{
	{0, 0, 0, 0.85, 0.75, 0.9, HUBone},
	{0, 0, 0, 0.78, 0.68, 0.85, HUTissue},
	{-0.3, 0.1, 0.1, 0.15, 0.25, 0.3, HULesion},
	{0.35, -0.2, -0.2, 0.12, 0.12, 0.2, HUAir},
	{0.1, 0.35, 0.3, 0.08, 0.08, 0.1, HUBone},
}

// NewPhantom builds a synthetic CT head: a bone shell filled with soft
// tissue, a few inclusions and additive noise of the given amplitude. The
// same seed always yields the same volume.
func NewPhantom(width, height, depth int, noise int, seed uint64) *Volume {
	v := NewVolume(width, height, depth)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	norm := func(i, n int) float64 {
		if n == 1 {
			return 0
		}
		return 2*float64(i)/float64(n-1) - 1
	}

	for z := 0; z < depth; z++ {
		nz := norm(z, depth)
		for y := 0; y < height; y++ {
			ny := norm(y, height)
			for x := 0; x < width; x++ {
				nx := norm(x, width)
				value := int(HUAir)
				for _, e := range phantomShapes {
					if e.contains(nx, ny, nz) {
						value = int(e.value)
					}
				}
				if noise > 0 {
					value += rng.IntN(2*noise+1) - noise
				}
				v.Set(x, y, z, ClampInt16(value))
			}
		}
	}
	return v
}

// ParseDimensions parses "WxHxD" into positive extents
func ParseDimensions(s string) (width, height, depth int, err error) {
	if _, err = fmt.Sscanf(strings.ToLower(strings.TrimSpace(s)), "%dx%dx%d", &width, &height, &depth); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid dimensions %q (want WxHxD): %w", s, err)
	}
	if width <= 0 || height <= 0 || depth <= 0 {
		return 0, 0, 0, fmt.Errorf("dimensions must be positive, got %q", s)
	}
	return width, height, depth, nil
}
