// Package csvrecord writes merged frames to per-session CSV files for
// training data collection. A START command on the control subject opens
// a new session file named <subject>_<activity>_<timestamp>.csv; STOP
// closes it and announces the saved file on the status subject. Frames
// arriving outside a session are dropped.
package csvrecord
