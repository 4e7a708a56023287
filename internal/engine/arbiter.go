package engine

import "time"

// DefaultTolerance absorbs clock skew and write-echo between systems.
// Two timestamps within this window are treated as the same edit.
const DefaultTolerance = 5 * time.Second

// Verdict is the arbiter's decision for one paired record.
type Verdict int

const (
	// Equivalent means the two sides are within tolerance; no write.
	Equivalent Verdict = iota
	// ANewer means side A wins and should overwrite B.
	ANewer
	// BNewer means side B wins and should overwrite A.
	BNewer
)

func (v Verdict) String() string {
	switch v {
	case ANewer:
		return "a-newer"
	case BNewer:
		return "b-newer"
	default:
		return "equivalent"
	}
}

// Arbitrate decides which side of a pairing is authoritative by comparing
// last-modified timestamps with a tolerance window.
//
// A zero timestamp means "never modified" and loses to any real
// timestamp; two zero timestamps are equivalent. Exactly at the
// tolerance boundary the sides are still equivalent; the difference must
// exceed the window to force a write.
func Arbitrate(a, b time.Time, tolerance time.Duration) Verdict {
	switch {
	case a.IsZero() && b.IsZero():
		return Equivalent
	case a.IsZero():
		return BNewer
	case b.IsZero():
		return ANewer
	}

	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	if diff <= tolerance {
		return Equivalent
	}
	if a.After(b) {
		return ANewer
	}
	return BNewer
}
