package rtsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTargetFrame(t *testing.T) {
	t.Parallel()
	tests := []struct {
		position float64
		total    int
		want     int
	}{
		{position: 37.5, total: 1000, want: 375},
		{position: 0, total: 1000, want: 0},
		{position: 80, total: 500, want: 400},
		{position: 100, total: 500, want: 500},
		{position: 33.33, total: 10, want: 3},
		{position: 50, total: 0, want: 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TargetFrame(tt.position, tt.total), "%v%% of %d", tt.position, tt.total)
	}
}

func TestReconcilerScrubWindow(t *testing.T) {
	t.Parallel()

	r := newReconciler()
	r.last = 120
	r.scrubbing = true
	r.expected = 375

	assert.False(t, r.accept(121), "frame from before the scrub")
	assert.False(t, r.accept(390))
	assert.False(t, r.accept(365))
	assert.True(t, r.scrubbing)

	assert.True(t, r.accept(380))
	assert.False(t, r.scrubbing, "first accepted frame ends the scrub")
	assert.Equal(t, 380, r.last)

	assert.False(t, r.accept(379))
	assert.True(t, r.accept(381))
}

func TestReconcilerFreshness(t *testing.T) {
	t.Parallel()

	r := newReconciler()
	assert.True(t, r.accept(0))
	assert.True(t, r.accept(2))
	assert.False(t, r.accept(1))
	assert.False(t, r.accept(2))
	assert.True(t, r.accept(3))
	assert.Equal(t, 3, r.last)
}

func TestReconcilerUnwrap(t *testing.T) {
	t.Parallel()

	r := newReconciler()
	r.last = 65534
	assert.Equal(t, 65536, r.unwrap(0))

	r.scrubbing = true
	r.expected = 70000
	assert.Equal(t, 70002, r.unwrap(uint16(70002%65536)))
}
