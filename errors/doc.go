// Package errors provides standardized error handling patterns for the
// sensor pipeline.
//
// # Overview
//
// The package implements a three-class error classification: Transient
// (temporary, retryable), Invalid (bad input, non-retryable), and Fatal
// (unrecoverable, stop processing). Classification lets components make
// informed retry and degradation decisions without error string matching
// at call sites.
//
// Transport failures (serial disconnect, BLE link drop, HTTP timeout) are
// Transient: adapters retry with backoff and surface a status event. Bad
// sensor data (out-of-range ADC values, unparseable lines) is Invalid: the
// affected channel is flagged, the pipeline keeps running. Schema mismatches
// between the feature extractor and the classifier artifact are Fatal:
// inference must not start on misaligned feature columns.
//
// # Usage
//
// Return standard error variables for known conditions:
//
//	if v > maxADC {
//	    return errors.ErrValueRange
//	}
//
// Wrap third-party errors with component context:
//
//	if err := port.Open(); err != nil {
//	    return errors.WrapTransient(err, "serialline", "connect", "open port")
//	}
//
// Check classification for retry logic:
//
//	if errors.IsTransient(err) {
//	    // schedule reconnect
//	}
//
// The classification system supports errors.Is, errors.As, and wrapping
// chains throughout.
package errors
