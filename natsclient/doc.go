// Package natsclient wraps the NATS connection used as the message bus
// between pipeline components. It adds connection status tracking, failure
// accounting with backoff, health callbacks and context-aware subscribe and
// publish helpers on top of nats.go.
package natsclient
