package engine

import "fmt"

const (
	// valveRatio is the source/destination ratio below which a pass is
	// assumed to be looking at a truncated or failed fetch.
	valveRatio = 0.10

	// valveFloor is the minimum destination population before the ratio
	// check applies. Small collections legitimately shrink to nothing.
	valveFloor = 5
)

// CheckValve guards deletion propagation against catastrophic source
// collapse. When the source suddenly reports under 10% of what the
// destination holds, the far more likely explanation is a bad fetch than
// a mass deletion, so the pass must not mirror the absence.
//
// A tripped valve blocks deletions only; creates and updates proceed.
func CheckValve(sourceCount, destCount int) error {
	if destCount < valveFloor {
		return nil
	}
	if float64(sourceCount) < float64(destCount)*valveRatio {
		return fmt.Errorf("safety valve tripped: source has %d records but destination has %d; refusing to propagate deletions", sourceCount, destCount)
	}
	return nil
}
