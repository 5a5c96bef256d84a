// Package peersync coordinates recording between the two leg nodes over a
// UDP JSON exchange. One side runs as master and broadcasts heartbeats and
// start/stop triggers; the slave estimates the clock offset from heartbeat
// timestamps and executes triggers at the compensated local time. Either
// side falls back to independent operation when the peer goes quiet.
package peersync
