// Package classify turns the merged frame stream into activity labels. It
// keeps a sliding window of frames, runs the canonical feature extractor
// on each full window, feeds the vector through the loaded forest artifact
// and publishes the smoothed result. The window starts cold: nothing is
// emitted until the first full window, and a session stop or stream stall
// clears both the window and the smoothing history.
package classify
