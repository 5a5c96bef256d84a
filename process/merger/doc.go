// Package merger time-aligns the two per-leg sample streams into merged
// six-channel frames. Right-leg timestamps are shifted by the sync clock
// offset, then samples are paired within a tolerance window. When one leg
// goes quiet the other keeps flowing: missing channels carry their last
// known value flagged invalid. Silence on both legs past the stall
// threshold raises a stream-stalled status until data returns.
package merger
