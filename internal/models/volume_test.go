package models

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
)

// rampVolume fills a volume with its linear voxel index
func rampVolume(width, height, depth int) *Volume {
	v := NewVolume(width, height, depth)
	for i := range v.Data {
		v.Data[i] = int16(i)
	}
	return v
}

func TestVolumeIndexing(t *testing.T) {
	v := rampVolume(4, 3, 2)

	if err := v.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if got := v.At(1, 2, 1); got != int16(1*12+2*4+1) {
		t.Errorf("Expected sample %d, got %d", 1*12+2*4+1, got)
	}

	v.Set(3, 0, 0, -7)
	if v.Data[3] != -7 {
		t.Errorf("Set did not write the expected offset, got %d", v.Data[3])
	}
}

func TestVolumeValidate(t *testing.T) {
	v := &Volume{Data: make([]int16, 5), Width: 2, Height: 2, Depth: 2}
	if err := v.Validate(); err == nil {
		t.Error("Expected error for mismatched data length")
	}

	v = &Volume{Width: 0, Height: 2, Depth: 2}
	if err := v.Validate(); err == nil {
		t.Error("Expected error for zero width")
	}
}

func TestCloneIsDeep(t *testing.T) {
	v := rampVolume(3, 3, 3)
	v.Spacing = Spacing{X: 0.5, Y: 0.5, Z: 2}

	c := v.Clone()
	if !c.Equal(v) {
		t.Fatal("Clone is not equal to source")
	}
	if c.Spacing != v.Spacing {
		t.Errorf("Expected spacing %+v, got %+v", v.Spacing, c.Spacing)
	}

	c.Set(0, 0, 0, 99)
	if v.At(0, 0, 0) == 99 {
		t.Error("Mutating the clone changed the source")
	}
}

func TestScalarRangeAndStats(t *testing.T) {
	v := NewVolume(2, 2, 1)
	copy(v.Data, []int16{-1024, 0, 1000, 3072})

	min, max := v.ScalarRange()
	if min != -1024 || max != 3072 {
		t.Errorf("Expected range [-1024, 3072], got [%d, %d]", min, max)
	}

	s := v.Stats()
	if math.Abs(s.Mean-762) > 1e-9 {
		t.Errorf("Expected mean 762, got %f", s.Mean)
	}
	if s.StdDev <= 0 {
		t.Errorf("Expected positive standard deviation, got %f", s.StdDev)
	}
}

func TestClampInt16(t *testing.T) {
	tests := []struct {
		in   int
		want int16
	}{
		{0, 0},
		{40000, math.MaxInt16},
		{-40000, math.MinInt16},
		{-5, -5},
	}
	for _, tt := range tests {
		if got := ClampInt16(tt.in); got != tt.want {
			t.Errorf("ClampInt16(%d) = %d; want %d", tt.in, got, tt.want)
		}
	}
}

func TestPlaneOfPrecedence(t *testing.T) {
	p := ActivePlanes{X: 1, Y: 2, Z: 3}

	tests := []struct {
		x, y, z int
		axis    Axis
		ok      bool
	}{
		{1, 2, 3, AxisX, true},
		{0, 2, 3, AxisY, true},
		{0, 0, 3, AxisZ, true},
		{0, 0, 0, 0, false},
	}
	for _, tt := range tests {
		axis, ok := p.PlaneOf(tt.x, tt.y, tt.z)
		if ok != tt.ok || (ok && axis != tt.axis) {
			t.Errorf("PlaneOf(%d,%d,%d) = %v,%v; want %v,%v", tt.x, tt.y, tt.z, axis, ok, tt.axis, tt.ok)
		}
	}
}

func TestActivePlanesValidate(t *testing.T) {
	v := NewVolume(4, 4, 2)
	if err := (ActivePlanes{X: 3, Y: 0, Z: 1}).Validate(v); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := (ActivePlanes{X: 0, Y: 0, Z: 2}).Validate(v); err == nil {
		t.Error("Expected error for z index outside the volume")
	}
}

func TestParseHelpers(t *testing.T) {
	p, err := ParsePlanes("1, 2, 3")
	if err != nil {
		t.Fatalf("ParsePlanes failed: %v", err)
	}
	if p != (ActivePlanes{X: 1, Y: 2, Z: 3}) {
		t.Errorf("Expected 1,2,3, got %v", p)
	}

	if _, err := ParseAxis("w"); err == nil {
		t.Error("Expected error for invalid axis")
	}
	if a, _ := ParseAxis("Z"); a != AxisZ {
		t.Errorf("Expected z axis, got %v", a)
	}
	if s, _ := ParseScope("active"); s != ActivePlanesOnly {
		t.Errorf("Expected active scope, got %v", s)
	}
}

func TestExtractSlice(t *testing.T) {
	v := rampVolume(4, 3, 2)

	tests := []struct {
		axis          Axis
		index         int
		width, height int
	}{
		{AxisX, 2, 2, 3},
		{AxisY, 1, 4, 2},
		{AxisZ, 1, 4, 3},
	}
	for _, tt := range tests {
		s, err := v.ExtractSlice(tt.axis, tt.index)
		if err != nil {
			t.Fatalf("ExtractSlice(%v, %d) failed: %v", tt.axis, tt.index, err)
		}
		if s.Width != tt.width || s.Height != tt.height {
			t.Errorf("Expected %v slice %dx%d, got %dx%d", tt.axis, tt.width, tt.height, s.Width, s.Height)
		}
	}

	s, _ := v.ExtractSlice(AxisX, 2)
	// row y=1, column z=1
	if got, want := s.Data[1*s.Width+1], v.At(2, 1, 1); got != want {
		t.Errorf("Expected %d, got %d", want, got)
	}

	if _, err := v.ExtractSlice(AxisZ, 2); err == nil {
		t.Error("Expected error for out of range position")
	}
}

func TestNewPhantom(t *testing.T) {
	a := NewPhantom(16, 16, 8, 20, 7)
	b := NewPhantom(16, 16, 8, 20, 7)
	if !a.Equal(b) {
		t.Error("Expected the same seed to give the same phantom")
	}

	// corners are air, the centre is soft tissue
	if got := a.At(0, 0, 0); got < HUAir-20 || got > HUAir+20 {
		t.Errorf("Expected air near %d at the corner, got %d", HUAir, got)
	}
	clean := NewPhantom(16, 16, 8, 0, 7)
	if got := clean.At(8, 8, 4); got != HUTissue {
		t.Errorf("Expected tissue %d at the centre, got %d", HUTissue, got)
	}
	lo, hi := clean.ScalarRange()
	if lo != HUAir || hi != HUBone {
		t.Errorf("Expected range [%d, %d], got [%d, %d]", HUAir, HUBone, lo, hi)
	}
}

func TestParseDimensions(t *testing.T) {
	w, h, d, err := ParseDimensions("64x48X32")
	if err != nil {
		t.Fatalf("Failed to parse dimensions: %v", err)
	}
	if w != 64 || h != 48 || d != 32 {
		t.Errorf("Expected 64x48x32, got %dx%dx%d", w, h, d)
	}
	for _, bad := range []string{"", "64x48", "0x4x4", "axbxc"} {
		if _, _, _, err := ParseDimensions(bad); err == nil {
			t.Errorf("Expected error for %q, got nil", bad)
		}
	}
}

// TestKindOf verifies the user-facing classification of wrapped errors
func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{fmt.Errorf("gradient over all slices: %w", ErrUnsupportedScope), KindUnsupportedScope},
		{fmt.Errorf("kernel 0x3x3: %w", ErrInvalidParameters), KindInvalidParameters},
		{fmt.Errorf("%w: disk full", ErrIOFailure), KindIOFailure},
		{fmt.Errorf("slice 3: %w", ErrCancelled), KindCancelled},
		{context.Canceled, KindCancelled},
		{errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
