package session

import "ctslices/internal/models"

// OverlayState tells whether the working grid carries a sparse overlay
type OverlayState int

const (
	// Clean means working and backup hold the same grid
	Clean OverlayState = iota

	// Overlaid means the working grid holds a sparse result that must be
	// dropped before the user navigates or starts another filter
	Overlaid
)

func (s OverlayState) String() string {
	switch s {
	case Clean:
		return "Clean"
	case Overlaid:
		return "Overlaid"
	default:
		return "Unknown"
	}
}

// Snapshot holds the backup and working grid handles. Grids are never
// mutated in place; every transition replaces a handle.
type Snapshot struct {
	backup  *models.Volume
	working *models.Volume
}

// Reset installs v as both backup and working grid. The snapshot takes
// ownership of v.
func (s *Snapshot) Reset(v *models.Volume) {
	s.backup, s.working = v, v
}

// Swap replaces the working grid
func (s *Snapshot) Swap(v *models.Volume) {
	s.working = v
}

// Promote makes the working grid the new backup
func (s *Snapshot) Promote() {
	s.backup = s.working
}

// Restore drops the working grid in favour of the backup
func (s *Snapshot) Restore() {
	s.working = s.backup
}

// Working returns the displayed grid
func (s *Snapshot) Working() *models.Volume {
	return s.working
}

// Backup returns the last full-volume grid
func (s *Snapshot) Backup() *models.Volume {
	return s.backup
}
