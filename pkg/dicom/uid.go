package dicom

import (
	"math/big"

	"github.com/google/uuid"
)

// NewUID returns a globally unique DICOM UID derived from a random UUID
// (ISO/IEC 9834-8, the "2.25" root)
func NewUID() string {
	id := uuid.New()
	return "2.25." + new(big.Int).SetBytes(id[:]).String()
}
