package rtsp

import (
	"math"

	"github.com/bilbercode/scrubcast/internal/packet"
)

// ScrubTolerance is how far (exclusive) the first frame after a scrub may be
// from the target and still be shown. Frames already in flight when the
// server repositioned fall outside it.
const ScrubTolerance = 10

// TargetFrame converts a scrub position in percent into a frame number. Client
// and server both use it so they agree on the target without exchanging it.
func TargetFrame(position float64, totalFrames int) int {
	return int(math.Round(position / 100 * float64(totalFrames)))
}

// reconciler decides which data-plane frames a client displays.
type reconciler struct {
	scrubbing bool
	expected  int
	last      int
}

func newReconciler() reconciler {
	return reconciler{last: -1}
}

// reference is the frame number incoming 16 bit sequence numbers are unwrapped
// against.
func (r *reconciler) reference() int {
	if r.scrubbing {
		return r.expected
	}
	return r.last
}

func (r *reconciler) unwrap(seq uint16) int {
	return packet.Unwrap(seq, r.reference())
}

// accept reports whether frame should be displayed and records it if so.
// While scrubbing only frames near the target pass, and the first one ends the
// scrub. Otherwise only frames newer than the last one shown pass.
func (r *reconciler) accept(frame int) bool {
	if r.scrubbing {
		d := frame - r.expected
		if d < 0 {
			d = -d
		}
		if d >= ScrubTolerance {
			return false
		}
		r.scrubbing = false
		r.last = frame
		return true
	}
	if frame <= r.last {
		return false
	}
	r.last = frame
	return true
}
