package task

import (
	"fmt"
	"math"

	"github.com/book-expert/align-service/internal/core"
)

// intervalEpsilon absorbs float rounding when comparing against the audio duration.
const intervalEpsilon = 1e-9

// CheckIntervals verifies that intervals are ordered, non-overlapping, have
// end >= start and finish within duration. Any violation is an internal invariant
// failure rather than a user error.
func CheckIntervals(intervals []core.Interval, duration float64) error {
	previousEnd := 0.0

	for k, interval := range intervals {
		switch {
		case math.IsNaN(interval.Start) || math.IsNaN(interval.End):
			return fmt.Errorf("%w: fragment %s has a NaN bound", core.ErrInternalInvariant, interval.FragmentID)
		case interval.Start < 0:
			return fmt.Errorf("%w: fragment %s starts before zero", core.ErrInternalInvariant, interval.FragmentID)
		case interval.End < interval.Start:
			return fmt.Errorf("%w: fragment %s ends at %.6f before its start %.6f",
				core.ErrInternalInvariant, interval.FragmentID, interval.End, interval.Start)
		case k > 0 && interval.Start < previousEnd-intervalEpsilon:
			return fmt.Errorf("%w: fragment %s starts at %.6f inside the previous fragment ending at %.6f",
				core.ErrInternalInvariant, interval.FragmentID, interval.Start, previousEnd)
		case interval.End > duration+intervalEpsilon:
			return fmt.Errorf("%w: fragment %s ends at %.6f after the audio end %.6f",
				core.ErrInternalInvariant, interval.FragmentID, interval.End, duration)
		}

		previousEnd = interval.End
	}

	return nil
}

// buildIntervals converts real-frame boundaries to clamped intervals.
func buildIntervals(fragments []Fragment, boundaries []int, step, duration float64) []core.Interval {
	intervals := make([]core.Interval, len(fragments))

	for k, fragment := range fragments {
		intervals[k] = core.Interval{
			FragmentID: fragment.ID,
			Text:       fragment.Text,
			Start:      math.Min(float64(boundaries[k])*step, duration),
			End:        math.Min(float64(boundaries[k+1])*step, duration),
		}
	}

	return intervals
}

// zeroIntervals gives every fragment a zero-width interval at time 0.
func zeroIntervals(fragments []Fragment) []core.Interval {
	intervals := make([]core.Interval, len(fragments))

	for k, fragment := range fragments {
		intervals[k] = core.Interval{FragmentID: fragment.ID, Text: fragment.Text, Start: 0, End: 0}
	}

	return intervals
}
