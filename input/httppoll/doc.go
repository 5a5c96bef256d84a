// Package httppoll reads samples from a node's Wi-Fi HTTP API. The node
// serves its latest reading on GET /api/sensors and accepts recording
// control on POST /api/start and /api/stop. Polling at the sample rate
// costs more latency jitter than serial or BLE but needs no pairing, so
// it doubles as the fallback transport.
package httppoll
