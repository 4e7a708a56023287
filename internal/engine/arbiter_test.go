package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestArbitrate(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		a, b time.Time
		want Verdict
	}{
		{"equal timestamps", base, base, Equivalent},
		{"within tolerance", base.Add(3 * time.Second), base, Equivalent},
		{"exactly at tolerance boundary", base.Add(DefaultTolerance), base, Equivalent},
		{"just past tolerance", base.Add(DefaultTolerance + time.Millisecond), base, ANewer},
		{"a much newer", base.Add(time.Hour), base, ANewer},
		{"b much newer", base, base.Add(time.Hour), BNewer},
		{"zero a loses", time.Time{}, base, BNewer},
		{"zero b loses", base, time.Time{}, ANewer},
		{"both zero equivalent", time.Time{}, time.Time{}, Equivalent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Arbitrate(tt.a, tt.b, DefaultTolerance))
		})
	}
}

func TestArbitrateSymmetry(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	other := base.Add(time.Minute)

	assert.Equal(t, ANewer, Arbitrate(other, base, DefaultTolerance))
	assert.Equal(t, BNewer, Arbitrate(base, other, DefaultTolerance))
}
