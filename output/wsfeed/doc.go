// Package wsfeed serves a WebSocket endpoint that broadcasts live
// classification results, sync state, and status events to dashboard
// clients. Each message is wrapped in an envelope carrying its source
// subject so one socket can feed every dashboard panel. New clients
// immediately receive the latest activity and sync snapshots so the UI
// does not start blank.
package wsfeed
